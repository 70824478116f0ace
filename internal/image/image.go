// Package image drives a full raw image build for one device: size the
// image, write the partition map, format and mount the filesystems, deploy
// and provision the rootfs, install the bootloaders, and compress the
// result.
package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/disk"
	"github.com/osbuild/device-image-builder/internal/filesystem"
	"github.com/osbuild/device-image-builder/internal/platform"
)

// Options holds everything a build needs beyond the device spec itself.
type Options struct {
	// Variant selects the image flavor (base, desktop, server).
	Variant string
	// WorkDir holds staging trees and mount points during the build.
	WorkDir string
	// OutputDir receives the finished images.
	OutputDir string
	// Revision tags the output filename, e.g. a date stamp.
	Revision string
	// Compression of the finished image.
	Compression Compression
	// Provider stages the rootfs.
	Provider Provider
	// Packages to install, already merged with the device BSP packages.
	Packages []string
	// User optionally creates an initial user in the image.
	User *UserSpec
	// Locale written to the image, empty keeps the image default.
	Locale string
	// KeepRaw retains the uncompressed image next to the compressed one.
	KeepRaw bool
}

// OutputName derives the image filename for a device and variant.
func (o *Options) OutputName(spec *device.DeviceSpec) string {
	name := fmt.Sprintf("aosc-os_%s_%s_%s", o.Variant, o.Revision, spec.ID)
	return name + ".img"
}

// Build produces one image for one device. The spec must already be
// validated; host requirements are the caller's business (see setup).
func Build(spec *device.DeviceSpec, opts *Options) (err error) {
	sizeMiB, err := spec.Size.SizeMiB(opts.Variant)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return err
	}
	rawPath := filepath.Join(opts.OutputDir, opts.OutputName(spec))
	if err := CreateSparseFile(rawPath, sizeMiB*disk.Mebibyte); err != nil {
		return err
	}
	// a half-written image is worse than no image
	defer func() {
		if err != nil {
			os.Remove(rawPath)
		}
	}()

	mapData, err := Partition(spec, rawPath)
	if err != nil {
		return err
	}

	loop, err := AttachLoopDev(rawPath)
	if err != nil {
		return err
	}
	defer func() {
		if dErr := loop.Detach(); dErr != nil && err == nil {
			err = dErr
		}
	}()
	// --partscan already reads the table at attach time, but a second scan
	// through partprobe catches kernels that raced the attach
	if err := loop.Rescan(); err != nil {
		return err
	}
	if err := loop.WaitForPartitions(spec.NumPartitions); err != nil {
		return err
	}

	rootFSUUID, err := makeFilesystems(spec, loop)
	if err != nil {
		return err
	}

	root := filepath.Join(opts.WorkDir, "root-"+spec.ID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	tree, err := Mount(spec, loop, root)
	if err != nil {
		return err
	}
	defer func() {
		if uErr := tree.Unmount(); uErr != nil && err == nil {
			err = uErr
		}
	}()

	if err := deployRootfs(spec, opts, root); err != nil {
		return err
	}
	if err := provision(spec, opts, loop, mapData, rootFSUUID, root); err != nil {
		return err
	}

	logrus.Debugf("Flushing filesystems under %s", root)
	if err := platform.SyncFilesystem(root); err != nil {
		return err
	}
	return nil
}

// Finalize compresses the raw image if requested. It runs after the loop
// device is gone, so it is separate from Build.
func Finalize(spec *device.DeviceSpec, opts *Options) (string, error) {
	rawPath := filepath.Join(opts.OutputDir, opts.OutputName(spec))
	if opts.Compression == CompressNone || opts.Compression == "" {
		return rawPath, nil
	}
	dst := rawPath + opts.Compression.Ext()
	if err := opts.Compression.Compress(rawPath, dst); err != nil {
		return "", err
	}
	if !opts.KeepRaw {
		if err := os.Remove(rawPath); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// makeFilesystems formats every partition that wants one and returns the
// filesystem UUID of the root partition.
func makeFilesystems(spec *device.DeviceSpec, loop *LoopDev) (string, error) {
	var rootFSUUID string
	for i := range spec.Partitions {
		p := &spec.Partitions[i]
		if p.Filesystem == "" || p.Filesystem == filesystem.None {
			continue
		}
		devpath := loop.Partition(p.Num)
		logrus.Infof("Formatting %s as %s", devpath, p.Filesystem)
		if err := p.Filesystem.Mkfs(devpath, p.FSLabel); err != nil {
			return "", fmt.Errorf("cannot format partition %d: %w", p.Num, err)
		}
		if p.Usage == device.UsageRootfs {
			fsUUID, err := filesystem.UUID(devpath)
			if err != nil {
				return "", err
			}
			rootFSUUID = fsUUID
		}
	}
	return rootFSUUID, nil
}

func deployRootfs(spec *device.DeviceSpec, opts *Options, root string) error {
	staging := filepath.Join(opts.WorkDir, fmt.Sprintf("rootfs-%s-%s", spec.Arch, opts.Variant))
	if _, err := os.Stat(staging); os.IsNotExist(err) {
		if err := os.MkdirAll(staging, 0755); err != nil {
			return err
		}
		if err := opts.Provider.Stage(staging, spec, opts.Packages); err != nil {
			return fmt.Errorf("rootfs staging with %s failed: %w", opts.Provider.Name(), err)
		}
	} else {
		logrus.Infof("Reusing staged rootfs at %s", staging)
	}
	return Deploy(staging, root)
}

func provision(spec *device.DeviceSpec, opts *Options, loop *LoopDev, mapData *device.PartitionMapData, rootFSUUID, root string) error {
	if err := WriteFstab(spec, loop, root); err != nil {
		return err
	}
	if opts.Locale != "" {
		if err := SetLocale(root, opts.Locale); err != nil {
			return err
		}
	}
	if opts.User != nil {
		if err := CreateUser(root, *opts.User); err != nil {
			return err
		}
	}

	env := &ScriptEnv{Spec: spec, Loop: loop, MapData: mapData, RootFSUUID: rootFSUUID}
	specDir := filepath.Dir(spec.Path)
	for i := range spec.Bootloaders {
		b := &spec.Bootloaders[i]
		if err := b.Apply(root, loop.Path, loop.Partition); err != nil {
			return fmt.Errorf("bootloader action %d failed: %w", i+1, err)
		}
	}

	// device-specific post-install hooks next to device.toml
	for _, hook := range []string{"postinst.sh"} {
		script := filepath.Join(specDir, hook)
		if _, err := os.Stat(script); err != nil {
			continue
		}
		if err := RunScript(root, script, env); err != nil {
			return err
		}
	}
	return nil
}

// Job is one device/variant pair queued for building.
type Job struct {
	Spec *device.DeviceSpec
	Opts Options
}

// RunQueue builds every job in order. A failing job kills neither the queue
// nor its siblings; the error summarizes every failed device at the end.
func RunQueue(jobs []Job) error {
	var failed []string
	for i := range jobs {
		job := &jobs[i]
		logrus.Infof("Building %s (%s) [%d/%d]", job.Spec.ID, job.Opts.Variant, i+1, len(jobs))
		if err := buildOne(job); err != nil {
			logrus.Errorf("Build of %s (%s) failed: %v", job.Spec.ID, job.Opts.Variant, err)
			failed = append(failed, fmt.Sprintf("%s/%s", job.Spec.ID, job.Opts.Variant))
			continue
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d builds failed: %s", len(failed), len(jobs), strings.Join(failed, ", "))
	}
	return nil
}

func buildOne(job *Job) error {
	if err := Build(job.Spec, &job.Opts); err != nil {
		return err
	}
	out, err := Finalize(job.Spec, &job.Opts)
	if err != nil {
		return err
	}
	logrus.Infof("Image ready: %s", out)
	return nil
}
