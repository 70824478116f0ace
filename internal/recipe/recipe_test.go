package recipe_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/recipe"
)

const commonRecipes = `
base:
  packages: [systemd, util-base]
desktop:
  packages: [systemd, util-base, plasma-desktop]
  groups: [desktop-fonts]
`

const arm64Recipes = `
base:
  packages: [systemd, util-base, arm-trusted-firmware]
`

func makeRecipeDirs(t *testing.T, files map[string]string) []string {
	t.Helper()
	tmp := t.TempDir()
	var dirs []string
	for name, content := range files {
		p := filepath.Join(tmp, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		dir := filepath.Dir(p)
		if len(dirs) == 0 || dirs[len(dirs)-1] != dir {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func TestLoadArchOverride(t *testing.T) {
	dirs := makeRecipeDirs(t, map[string]string{
		"a/arm64.yaml":  arm64Recipes,
		"a/common.yaml": commonRecipes,
	})

	r, err := recipe.Load(dirs, device.Arm64, "base")
	require.NoError(t, err)
	assert.Contains(t, r.Packages, "arm-trusted-firmware")

	// riscv64 has no override, common.yaml wins
	r, err = recipe.Load(dirs, device.Riscv64, "desktop")
	require.NoError(t, err)
	assert.Contains(t, r.Packages, "plasma-desktop")
	assert.Equal(t, []string{"desktop-fonts"}, r.Groups)
}

func TestLoadUnhappy(t *testing.T) {
	dirs := makeRecipeDirs(t, map[string]string{
		"a/common.yaml": commonRecipes,
	})

	_, err := recipe.Load([]string{t.TempDir()}, device.Arm64, "base")
	assert.ErrorContains(t, err, "could not find a recipe file for arm64")

	_, err = recipe.Load(dirs, device.Arm64, "server")
	assert.ErrorContains(t, err, `no "server" variant`)
	assert.ErrorContains(t, err, "available variants: base, desktop")
}

func TestPackageList(t *testing.T) {
	r := &recipe.Recipe{Packages: []string{"systemd", "util-base"}}
	spec := &device.DeviceSpec{BSPPackages: []string{"rpi-firmware-boot", "systemd"}}
	assert.Equal(t, []string{"rpi-firmware-boot", "systemd", "util-base"}, r.PackageList(spec))
}
