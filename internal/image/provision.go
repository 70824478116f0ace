package image

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/filesystem"
	"github.com/osbuild/device-image-builder/internal/util"
)

// UserSpec describes the initial user created inside the image.
type UserSpec struct {
	Name     string
	Password string
}

// CreateUser adds the user to the target tree and sets its password, all
// through the -R/--root flags so nothing on the host is touched.
func CreateUser(root string, user UserSpec) error {
	logrus.Infof("Creating user %q", user.Name)
	if err := util.RunCmdSync("useradd", "--root", root,
		"--create-home", "--user-group", "--groups", "wheel", user.Name); err != nil {
		return fmt.Errorf("cannot create user %q: %w", user.Name, err)
	}
	cmd := exec.Command("chpasswd", "-R", root)
	cmd.Stdin = strings.NewReader(fmt.Sprintf("%s:%s\n", user.Name, user.Password))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cannot set password for %q: %w (%s)",
			user.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SetLocale writes the system locale into the target tree.
func SetLocale(root, locale string) error {
	conf := fmt.Sprintf("LANG=%s\n", locale)
	return os.WriteFile(filepath.Join(root, "etc", "locale.conf"), []byte(conf), 0644)
}

// WriteFstab renders /etc/fstab from the partition mount points, referring
// to filesystems by UUID so device naming never matters at boot.
func WriteFstab(spec *device.DeviceSpec, loop *LoopDev, root string) error {
	var b strings.Builder
	b.WriteString("# generated by device-image-builder\n")
	for i := range spec.Partitions {
		p := &spec.Partitions[i]
		if p.MountPoint == "" || p.Filesystem == filesystem.None {
			continue
		}
		fsUUID, err := filesystem.UUID(loop.Partition(p.Num))
		if err != nil {
			return err
		}
		passno := 2
		if p.MountPoint == "/" {
			passno = 1
		}
		fmt.Fprintf(&b, "UUID=%s\t%s\t%s\tdefaults\t0\t%d\n",
			fsUUID, p.MountPoint, fsTypeArg(p.Filesystem), passno)
	}
	return os.WriteFile(filepath.Join(root, "etc", "fstab"), []byte(b.String()), 0644)
}

// ScriptEnv is the environment handed to device provisioning scripts.
type ScriptEnv struct {
	Spec    *device.DeviceSpec
	Loop    *LoopDev
	MapData *device.PartitionMapData
	// RootFSUUID is the filesystem UUID of the formatted root partition.
	RootFSUUID string
}

func (e *ScriptEnv) environ() []string {
	return append(os.Environ(),
		"DEVICE_ID="+e.Spec.ID,
		"DEVICE_COMPATIBLE="+e.Spec.Compatible,
		"LOOPDEV="+e.Loop.Path,
		fmt.Sprintf("NUM_PARTITIONS=%d", e.Spec.NumPartitions),
		"ROOT_PARTUUID="+e.MapData.RootPartUUID,
		"ROOT_FSUUID="+e.RootFSUUID,
	)
}

// RunScript executes a provisioning script from the device spec directory,
// chrooted into the target tree with the device identity in the
// environment. Scripts run with CWD / inside the chroot.
func RunScript(root, scriptPath string, env *ScriptEnv) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("cannot read provisioning script: %w", err)
	}
	staged := filepath.Join(root, "tmp", filepath.Base(scriptPath))
	if err := os.WriteFile(staged, script, 0755); err != nil {
		return err
	}
	defer os.Remove(staged)

	logrus.Infof("Running provisioning script %s", filepath.Base(scriptPath))
	cmd := exec.Command("chroot", root, filepath.Join("/tmp", filepath.Base(scriptPath)))
	cmd.Env = env.environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("provisioning script %q failed: %w", filepath.Base(scriptPath), err)
	}
	return nil
}
