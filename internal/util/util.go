package util

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// RunCmdSync synchronously invokes a command, propagating stdout and stderr
// to the current process's stdout and stderr.
func RunCmdSync(cmdName string, args ...string) error {
	logrus.Debugf("Running: %s %s", cmdName, strings.Join(args, " "))
	cmd := exec.Command(cmdName, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("error running %s %s: %w", cmdName, strings.Join(args, " "), err)
	}
	return nil
}

// RunCmdCapture synchronously invokes a command and returns its trimmed
// stdout, with stderr folded into the error on failure.
func RunCmdCapture(cmdName string, args ...string) (string, error) {
	logrus.Debugf("Running: %s %s", cmdName, strings.Join(args, " "))
	out, err := exec.Command(cmdName, args...).Output()
	if err != nil {
		return "", fmt.Errorf("error running %s %s: %w", cmdName, strings.Join(args, " "), OutputErr(err))
	}
	return strings.TrimSpace(string(out)), nil
}

// OutputErr takes an error from exec.Command().Output() and tries
// generate an error with stderr details
func OutputErr(err error) error {
	if err, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("%w, stderr:\n%s", err, err.Stderr)
	}
	return err
}
