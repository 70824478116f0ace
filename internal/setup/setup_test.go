package setup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/setup"
)

func TestValidateNeedsRoot(t *testing.T) {
	restore := setup.MockIsPrivileged(func() bool { return false })
	defer restore()

	err := setup.Validate(device.Arm64)
	assert.ErrorContains(t, err, "requires root")
}

func TestValidateNativeArchSkipsBinfmt(t *testing.T) {
	native, ok := device.NativeArch()
	if !ok {
		t.Skipf("no device architecture matches %s", "this host")
	}
	restore := setup.MockIsPrivileged(func() bool { return true })
	defer restore()

	// native builds never consult binfmt_misc; only the tool check can
	// fail here and the builders below are expected on any dev box
	err := setup.Validate(native)
	if err != nil {
		assert.ErrorContains(t, err, "not found in PATH")
	}
}
