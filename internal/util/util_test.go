package util_test

import (
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osbuild/device-image-builder/internal/util"
)

func TestOutputErrPassthrough(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.Equal(t, util.OutputErr(err), err)
}

func TestOutputErrExecError(t *testing.T) {
	_, err := exec.Command("bash", "-c", ">&2 echo some-stderr; exit 1").Output()
	assert.Equal(t, "exit status 1, stderr:\nsome-stderr\n", util.OutputErr(err).Error())
}

func TestRunCmdCapture(t *testing.T) {
	out, err := util.RunCmdCapture("echo", "hello")
	assert.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestRunCmdCaptureFailure(t *testing.T) {
	_, err := util.RunCmdCapture("bash", "-c", ">&2 echo broken; exit 3")
	assert.ErrorContains(t, err, "stderr:\nbroken")
}
