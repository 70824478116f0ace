// Package setup validates the build host before any image work starts:
// builds need root for loop devices and chroots, a few external tools, and
// binfmt_misc emulation when targeting a foreign architecture.
package setup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/platform"
)

const binfmtDir = "/proc/sys/fs/binfmt_misc"

// requiredTools must be in PATH for a build to get anywhere.
var requiredTools = []string{
	"losetup",
	"partprobe",
	"blkid",
	"rsync",
	"chroot",
}

// mockable in tests
var isPrivileged = platform.EffectiveUserIsPrivileged

// Validate checks that the host can build an image for the target
// architecture. It reports the first missing requirement with a hint on how
// to fix it.
func Validate(targetArch device.Arch) error {
	if !isPrivileged() {
		return fmt.Errorf("this command requires root, try again with sudo")
	}
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("required tool %q not found in PATH", tool)
		}
	}
	if err := validateCanRunTargetArch(targetArch); err != nil {
		return fmt.Errorf("cannot run binaries for %s: %w", targetArch, err)
	}
	return nil
}

func validateCanRunTargetArch(targetArch device.Arch) error {
	if targetArch.IsNative() {
		return nil
	}
	name := targetArch.QEMUBinfmtName()
	if name == "" {
		return fmt.Errorf("no emulator known for architecture %q", string(targetArch))
	}
	content, err := os.ReadFile(filepath.Join(binfmtDir, name))
	if os.IsNotExist(err) {
		return fmt.Errorf("no binfmt_misc handler %q registered, is qemu-user-static installed?", name)
	}
	if err != nil {
		// binfmt_misc not mounted at all; qemu may still work through
		// a wrapper, so warn instead of refusing
		logrus.Warningf("cannot check binfmt_misc handlers: %v", err)
		return nil
	}
	if !strings.HasPrefix(string(content), "enabled") {
		return fmt.Errorf("binfmt_misc handler %q is registered but disabled", name)
	}
	return nil
}
