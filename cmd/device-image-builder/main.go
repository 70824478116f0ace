package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/image"
	"github.com/osbuild/device-image-builder/internal/recipe"
	"github.com/osbuild/device-image-builder/internal/registry"
	"github.com/osbuild/device-image-builder/internal/setup"
)

// all possible locations for the package recipes; ./data/recipes is for
// development checkouts
var recipePaths = []string{
	"./data/recipes",
	"/usr/share/device-image-builder/recipes",
}

const registryDefault = "/usr/share/device-image-builder/devices"

func resolveDevice(reg *registry.Registry, name string) (*device.DeviceSpec, error) {
	// a path wins over a registry lookup so local specs can be built
	// without installing them
	if strings.Contains(name, "/") {
		spec, err := device.FromPath(name)
		if err != nil {
			return nil, err
		}
		return spec, nil
	}
	return reg.Get(name)
}

func scanRegistry(flags *pflag.FlagSet) (*registry.Registry, error) {
	dir, _ := flags.GetString("registry")
	return registry.Scan(dir)
}

func optionsFromCobra(cmd *cobra.Command, spec *device.DeviceSpec, variant string) (*image.Options, error) {
	workDir, _ := cmd.Flags().GetString("workdir")
	outputDir, _ := cmd.Flags().GetString("output")
	revision, _ := cmd.Flags().GetString("revision")
	compression, _ := cmd.Flags().GetString("compression")
	mirror, _ := cmd.Flags().GetString("mirror")
	user, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")
	locale, _ := cmd.Flags().GetString("locale")
	keepRaw, _ := cmd.Flags().GetBool("keep-raw")
	stub, _ := cmd.Flags().GetBool("stub-install")

	if !image.ValidCompression(image.Compression(compression)) {
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
	if revision == "" {
		revision = time.Now().Format("20060102")
	}

	var provider image.Provider = &image.CommandProvider{Mirror: mirror}
	if stub {
		provider = &image.StubProvider{}
	}

	r, err := recipe.Load(recipePaths, spec.Arch, variant)
	if err != nil {
		return nil, err
	}

	opts := &image.Options{
		Variant:     variant,
		WorkDir:     workDir,
		OutputDir:   outputDir,
		Revision:    revision,
		Compression: image.Compression(compression),
		Provider:    provider,
		Packages:    r.PackageList(spec),
		Locale:      locale,
		KeepRaw:     keepRaw,
	}
	if user != "" {
		opts.User = &image.UserSpec{Name: user, Password: password}
	}
	return opts, nil
}

func jobsFromCobra(cmd *cobra.Command, specs []*device.DeviceSpec) ([]image.Job, error) {
	variants, _ := cmd.Flags().GetStringArray("variants")

	var jobs []image.Job
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("device %q: %w", spec.ID, err)
		}
		for _, variant := range variants {
			opts, err := optionsFromCobra(cmd, spec, variant)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, image.Job{Spec: spec, Opts: *opts})
		}
	}
	return jobs, nil
}

func cmdBuild(cmd *cobra.Command, args []string) error {
	reg, err := scanRegistry(cmd.Flags())
	if err != nil {
		return err
	}
	spec, err := resolveDevice(reg, args[0])
	if err != nil {
		return err
	}
	jobs, err := jobsFromCobra(cmd, []*device.DeviceSpec{spec})
	if err != nil {
		return err
	}
	if err := setup.Validate(spec.Arch); err != nil {
		return err
	}
	return image.RunQueue(jobs)
}

func cmdBuildAll(cmd *cobra.Command, args []string) error {
	reg, err := scanRegistry(cmd.Flags())
	if err != nil {
		return err
	}
	jobs, err := jobsFromCobra(cmd, reg.All())
	if err != nil {
		return err
	}
	for _, spec := range reg.All() {
		if err := setup.Validate(spec.Arch); err != nil {
			return fmt.Errorf("device %q: %w", spec.ID, err)
		}
	}
	return image.RunQueue(jobs)
}

func cmdCheck(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if strings.Contains(args[0], "/") {
			spec, err := device.FromPath(args[0])
			if err != nil {
				return err
			}
			return spec.Validate()
		}
		reg, err := scanRegistry(cmd.Flags())
		if err != nil {
			return err
		}
		spec, err := reg.Get(args[0])
		if err != nil {
			return err
		}
		return spec.Validate()
	}
	reg, err := scanRegistry(cmd.Flags())
	if err != nil {
		return err
	}
	return reg.CheckValidity()
}

func cmdList(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	reg, err := scanRegistry(cmd.Flags())
	if err != nil {
		return err
	}
	return reg.List(os.Stdout, format)
}

func run() error {
	rootCmd := &cobra.Command{
		Use:  "device-image-builder",
		Long: "build bootable raw disk images for supported devices",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().String("registry", registryDefault, "device spec registry directory")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	buildCmd := &cobra.Command{
		Use:                   "build DEVICE",
		Long:                  rootCmd.Long,
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		RunE:                  cmdBuild,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(buildCmd)

	buildAllCmd := &cobra.Command{
		Use:                   "build-all",
		Long:                  "build images for every device in the registry",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		RunE:                  cmdBuildAll,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(buildAllCmd)

	checkCmd := &cobra.Command{
		Use:                   "check [DEVICE]",
		Long:                  "validate one device spec, or the whole registry",
		Args:                  cobra.MaximumNArgs(1),
		DisableFlagsInUseLine: true,
		RunE:                  cmdCheck,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(checkCmd)

	listCmd := &cobra.Command{
		Use:                   "list",
		Long:                  "list the devices in the registry",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		RunE:                  cmdList,
		SilenceUsage:          true,
	}
	listCmd.Flags().String("format", "pretty", "output format [pretty, simple]")
	rootCmd.AddCommand(listCmd)

	buildCmd.Flags().StringArray("variants", []string{"base"}, "image variants to build [base, desktop, server]")
	buildCmd.Flags().String("workdir", filepath.Join(os.TempDir(), "device-image-builder"), "working directory for staging and mounts")
	buildCmd.Flags().String("output", ".", "artifact output directory")
	buildCmd.Flags().String("revision", "", "image revision tag, defaults to today's date")
	buildCmd.Flags().String("compression", "xz", "output compression [none, xz, zstd]")
	buildCmd.Flags().String("mirror", "", "package repository mirror")
	buildCmd.Flags().String("user", "", "create this user in the image")
	buildCmd.Flags().String("password", "", "password for the created user")
	buildCmd.Flags().String("locale", "", "system locale written to the image")
	buildCmd.Flags().Bool("keep-raw", false, "keep the uncompressed image")
	buildCmd.Flags().Bool("stub-install", false, "stage a stub rootfs instead of bootstrapping (for testing)")

	buildAllCmd.Flags().AddFlagSet(buildCmd.Flags())

	// flag rules
	for _, cmd := range []*cobra.Command{buildCmd, buildAllCmd} {
		for _, dname := range []string{"workdir", "output"} {
			if err := cmd.MarkFlagDirname(dname); err != nil {
				return err
			}
		}
	}
	if err := rootCmd.MarkPersistentFlagDirname("registry"); err != nil {
		return err
	}
	buildCmd.MarkFlagsRequiredTogether("user", "password")
	buildAllCmd.MarkFlagsRequiredTogether("user", "password")

	return rootCmd.Execute()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %s", err)
	}
}
