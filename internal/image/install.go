package image

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/util"
)

// Provider stages a root filesystem for a device under a working directory.
// The staged tree is deployed into the mounted image afterwards, so a
// provider never needs to know about partitions or loop devices.
type Provider interface {
	Name() string
	Stage(stagingDir string, spec *device.DeviceSpec, packages []string) error
}

// CommandProvider stages the rootfs by invoking the system bootstrap tool.
type CommandProvider struct {
	// Mirror overrides the default package repository.
	Mirror string
}

func (p *CommandProvider) Name() string { return "bootstrap" }

func (p *CommandProvider) Stage(stagingDir string, spec *device.DeviceSpec, packages []string) error {
	argv := []string{"--arch", string(spec.Arch), "--target", stagingDir}
	if p.Mirror != "" {
		argv = append(argv, "--mirror", p.Mirror)
	}
	for _, pkg := range packages {
		argv = append(argv, "--include", pkg)
	}
	logrus.Infof("Bootstrapping %d packages for %s into %s", len(packages), spec.Arch, stagingDir)
	return util.RunCmdSync("aoscbootstrap", argv...)
}

// StubProvider stages a minimal fake tree instead of running the real
// bootstrap. It exists so the partitioning and deployment paths can be
// exercised end to end without network access or hours of package installs.
type StubProvider struct{}

func (p *StubProvider) Name() string { return "stub" }

func (p *StubProvider) Stage(stagingDir string, spec *device.DeviceSpec, packages []string) error {
	logrus.Warnf("Staging a stub rootfs, the resulting image will not boot")
	for _, dir := range []string{"etc", "usr/bin", "usr/lib", "var"} {
		if err := os.MkdirAll(filepath.Join(stagingDir, dir), 0755); err != nil {
			return err
		}
	}
	manifest := fmt.Sprintf("device: %s\npackages: %d\n", spec.ID, len(packages))
	return os.WriteFile(filepath.Join(stagingDir, "etc", "stub-image-manifest"), []byte(manifest), 0644)
}

// Deploy copies the staged rootfs into the mounted target tree, preserving
// hardlinks, ACLs, xattrs and sparse blocks.
func Deploy(stagingDir, targetRoot string) error {
	logrus.Infof("Deploying rootfs from %s to %s", stagingDir, targetRoot)
	return util.RunCmdSync("rsync", "-axAHXSW", "--numeric-ids",
		stagingDir+"/", targetRoot+"/")
}
