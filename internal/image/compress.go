package image

import (
	"fmt"
	"io"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// Compression selects the output compression of the finished image.
type Compression string

const (
	CompressNone Compression = "none"
	CompressXZ   Compression = "xz"
	CompressZstd Compression = "zstd"
)

// ValidCompression reports whether c names a supported compression.
func ValidCompression(c Compression) bool {
	switch c {
	case CompressNone, CompressXZ, CompressZstd:
		return true
	}
	return false
}

// Ext returns the filename suffix the compression appends, if any.
func (c Compression) Ext() string {
	switch c {
	case CompressXZ:
		return ".xz"
	case CompressZstd:
		return ".zst"
	}
	return ""
}

// Compress writes the raw image at src to dst through the selected
// compressor, with a byte progress bar on the read side. CompressNone is
// not a valid input here; the caller keeps the raw file instead.
func (c Compression) Compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cannot open image for compression: %w", err)
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("cannot create compressed image: %w", err)
	}
	defer out.Close()

	var w io.WriteCloser
	switch c {
	case CompressXZ:
		if w, err = xz.NewWriter(out); err != nil {
			return fmt.Errorf("cannot initialize xz writer: %w", err)
		}
	case CompressZstd:
		if w, err = zstd.NewWriter(out); err != nil {
			return fmt.Errorf("cannot initialize zstd writer: %w", err)
		}
	default:
		return fmt.Errorf("unknown compression %q", string(c))
	}

	logrus.Infof("Compressing %s with %s", src, c)
	bar := pb.New64(st.Size()).Set(pb.Bytes, true)
	bar.Start()
	defer bar.Finish()

	if _, err := io.Copy(w, bar.NewProxyReader(in)); err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cannot finalize compressed image: %w", err)
	}
	return out.Sync()
}
