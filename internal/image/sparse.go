package image

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// CreateSparseFile creates (or truncates) a sparse raw image of the given
// size at path. The blocks materialize lazily as the build writes to them.
func CreateSparseFile(path string, size uint64) error {
	logrus.Infof("Creating a %s sparse image at %s", humanize.IBytes(size), path)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create image file %q: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("cannot extend image file %q to %s: %w", path, humanize.IBytes(size), err)
	}
	return f.Sync()
}
