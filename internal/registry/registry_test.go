package registry_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/device-image-builder/internal/registry"
)

func deviceToml(id, alias, arch string) string {
	return fmt.Sprintf(`
id = %q
aliases = [%q]
vendor = "acme"
arch = %q
name = "Acme %s"
partition_map = "gpt"
num_partitions = 1

[[partition]]
num = 1
size = 0
type = "linux"
usage = "rootfs"
mount_point = "/"
filesystem = "ext4"
`, id, alias, arch, id)
}

func writeRegistry(t *testing.T, specs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for subdir, content := range specs {
		full := filepath.Join(dir, subdir)
		require.NoError(t, os.MkdirAll(full, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(full, "device.toml"), []byte(content), 0644))
	}
	return dir
}

func TestScanAndGet(t *testing.T) {
	dir := writeRegistry(t, map[string]string{
		"arm64/boardb": deviceToml("board-b", "bee", "arm64"),
		"arm64/boarda": deviceToml("board-a", "aye", "arm64"),
	})
	reg, err := registry.Scan(dir)
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 2)
	// sorted by id regardless of walk order
	assert.Equal(t, "board-a", all[0].ID)
	assert.Equal(t, "board-b", all[1].ID)

	byID, err := reg.Get("board-a")
	require.NoError(t, err)
	byAlias, err := reg.Get("aye")
	require.NoError(t, err)
	assert.Same(t, byID, byAlias)

	_, err = reg.Get("board-z")
	assert.ErrorContains(t, err, `no device with id or alias "board-z"`)
}

func TestScanRejectsDuplicateNames(t *testing.T) {
	dir := writeRegistry(t, map[string]string{
		"one": deviceToml("board-a", "aye", "arm64"),
		"two": deviceToml("board-b", "aye", "arm64"),
	})
	_, err := registry.Scan(dir)
	assert.ErrorContains(t, err, `device name "aye" defined by both`)
}

func TestScanEmpty(t *testing.T) {
	_, err := registry.Scan(t.TempDir())
	assert.ErrorContains(t, err, "no devices found")
}

func TestScanBadSpec(t *testing.T) {
	dir := writeRegistry(t, map[string]string{
		"bad": "id = \"x\"\nunknown_key = 1\n",
	})
	_, err := registry.Scan(dir)
	assert.ErrorContains(t, err, "unknown keys")
}

func TestCheckValidity(t *testing.T) {
	dir := writeRegistry(t, map[string]string{
		"good": deviceToml("board-a", "aye", "arm64"),
		"bad":  deviceToml("board-b", "bee", "sparc64"),
	})
	reg, err := registry.Scan(dir)
	require.NoError(t, err)
	err = reg.CheckValidity()
	require.Error(t, err)
	assert.ErrorContains(t, err, "1 invalid device specs: board-b")
}

func TestList(t *testing.T) {
	dir := writeRegistry(t, map[string]string{
		"a": deviceToml("board-a", "aye", "arm64"),
	})
	reg, err := registry.Scan(dir)
	require.NoError(t, err)

	var pretty bytes.Buffer
	require.NoError(t, reg.List(&pretty, "pretty"))
	assert.Contains(t, pretty.String(), "ID")
	assert.Contains(t, pretty.String(), "board-a")

	var simple bytes.Buffer
	require.NoError(t, reg.List(&simple, "simple"))
	assert.Contains(t, simple.String(), "board-a,aye\tarm64\tAcme board-a\n")

	assert.ErrorContains(t, reg.List(&pretty, "yaml"), `unknown list format "yaml"`)
}
