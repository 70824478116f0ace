// Package registry discovers and indexes device specifications under a
// directory tree, so that devices can be addressed by their id or any of
// their aliases.
package registry

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/osbuild/device-image-builder/internal/device"
)

// Registry is an index of device specs keyed by id and alias.
type Registry struct {
	// Dir is the root the registry was scanned from.
	Dir string

	devices []*device.DeviceSpec
	byName  map[string]*device.DeviceSpec
}

// Scan walks dir for device.toml files and indexes every spec found. Specs
// are only parsed here, not validated; CheckValidity covers the whole tree
// when that is wanted. Scan fails when two specs claim the same id or alias.
func Scan(dir string) (*Registry, error) {
	reg := &Registry{
		Dir:    dir,
		byName: make(map[string]*device.DeviceSpec),
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != device.SpecFilename {
			return nil
		}
		spec, err := device.FromPath(path)
		if err != nil {
			return err
		}
		logrus.Debugf("registry: found device %q at %s", spec.ID, path)
		return reg.add(spec)
	})
	if err != nil {
		return nil, fmt.Errorf("cannot scan device registry %q: %w", dir, err)
	}
	if len(reg.devices) == 0 {
		return nil, fmt.Errorf("no devices found in registry %q", dir)
	}
	slices.SortFunc(reg.devices, func(a, b *device.DeviceSpec) int {
		return strings.Compare(a.ID, b.ID)
	})
	return reg, nil
}

func (r *Registry) add(spec *device.DeviceSpec) error {
	names := append([]string{spec.ID}, spec.Aliases...)
	for _, name := range names {
		if prev, ok := r.byName[name]; ok {
			return fmt.Errorf("device name %q defined by both %s and %s",
				name, prev.Path, spec.Path)
		}
	}
	for _, name := range names {
		r.byName[name] = spec
	}
	r.devices = append(r.devices, spec)
	return nil
}

// Get looks a device up by id or alias.
func (r *Registry) Get(name string) (*device.DeviceSpec, error) {
	spec, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("no device with id or alias %q in registry %q", name, r.Dir)
	}
	return spec, nil
}

// All returns every indexed device, sorted by id.
func (r *Registry) All() []*device.DeviceSpec {
	return r.devices
}

// CheckValidity validates every spec in the registry and reports all
// offenders, not just the first one.
func (r *Registry) CheckValidity() error {
	var bad []string
	for _, spec := range r.devices {
		if err := spec.Validate(); err != nil {
			logrus.Errorf("device %q: %v", spec.ID, err)
			bad = append(bad, spec.ID)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%d invalid device specs: %s", len(bad), strings.Join(bad, ", "))
	}
	return nil
}

// List writes the registry contents to w. The "pretty" format renders an
// aligned table for humans, "simple" emits tab-separated lines for scripts.
func (r *Registry) List(w io.Writer, format string) error {
	switch format {
	case "pretty":
		tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tARCH\tVENDOR\tNAME")
		for _, spec := range r.devices {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", spec.ID, spec.Arch, spec.Vendor, spec.Name)
		}
		return tw.Flush()
	case "simple":
		for _, spec := range r.devices {
			names := append([]string{spec.ID}, spec.Aliases...)
			fmt.Fprintf(w, "%s\t%s\t%s\n", strings.Join(names, ","), spec.Arch, spec.Name)
		}
		return nil
	}
	return fmt.Errorf("unknown list format %q", format)
}
