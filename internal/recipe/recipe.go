// Package recipe loads the package recipes that turn a bare rootfs into a
// base, desktop or server system. Recipes live in YAML files per target
// architecture, with common.yaml as the fallback for architectures without
// their own overrides.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/osbuild/device-image-builder/internal/device"
)

// Recipe lists what gets installed for one image variant.
type Recipe struct {
	// Packages are installed on top of the bootstrapped base system.
	Packages []string `yaml:"packages"`
	// Groups name package groups expanded by the package manager.
	Groups []string `yaml:"groups"`
}

func loadFile(recipeDirs []string, arch device.Arch) ([]byte, string, error) {
	names := []string{fmt.Sprintf("%s.yaml", arch), "common.yaml"}
	for _, loc := range recipeDirs {
		for _, name := range names {
			p := filepath.Join(loc, name)
			content, err := os.ReadFile(p)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, "", fmt.Errorf("could not read recipe file %s: %w", p, err)
			}
			return content, p, nil
		}
	}
	return nil, "", fmt.Errorf("could not find a recipe file for %s in %s",
		arch, strings.Join(recipeDirs, ", "))
}

// Load finds the recipe for the given architecture and image variant.
func Load(recipeDirs []string, arch device.Arch, variant string) (*Recipe, error) {
	data, path, err := loadFile(recipeDirs, arch)
	if err != nil {
		return nil, err
	}
	var recipes map[string]Recipe
	if err := yaml.Unmarshal(data, &recipes); err != nil {
		return nil, fmt.Errorf("could not unmarshal recipe file %s: %w", path, err)
	}
	r, ok := recipes[variant]
	if !ok {
		available := maps.Keys(recipes)
		slices.Sort(available)
		return nil, fmt.Errorf("no %q variant in %s, available variants: %s",
			variant, path, strings.Join(available, ", "))
	}
	return &r, nil
}

// PackageList merges the recipe packages with the board support packages of
// the target device, deduplicated and sorted for stable install ordering.
func (r *Recipe) PackageList(spec *device.DeviceSpec) []string {
	pkgs := append([]string{}, r.Packages...)
	pkgs = append(pkgs, spec.BSPPackages...)
	slices.Sort(pkgs)
	return slices.Compact(pkgs)
}
