// Package cube persists scan cubes as NumPy .npy or FITS files.
package cube

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hsiscan/hsiscan/internal/debug"
	"github.com/hsiscan/hsiscan/internal/frame"
)

var (
	// ErrEmptyCube is returned when saving a cube with no positions.
	ErrEmptyCube = errors.New("cube has no positions")

	// ErrUnknownFormat is returned for file extensions other than .npy and .fits.
	ErrUnknownFormat = errors.New("unknown cube file format")
)

// Meta describes how a cube was acquired.
type Meta struct {
	ScanID           string
	Started          time.Time
	IntegrationUs    float64
	PixelFormat      string
	ImagesPerStep    int
	RawStepsPerImage int
	MinFOR           float64
	MaxFOR           float64
	Dark             bool
}

// Save writes c to path, choosing the format from the extension. Parent
// directories are created as needed.
func Save(path string, c *frame.Cube, m Meta) error {
	if c == nil || c.Depth == 0 {
		return fmt.Errorf("save %s: %w", path, ErrEmptyCube)
	}
	var write func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		write = func(w io.Writer) error { return WriteNPY(w, c) }
	case ".fits", ".fit", ".fts":
		write = func(w io.Writer) error { return WriteFITS(w, c, m) }
	default:
		return fmt.Errorf("save %s: %w", path, ErrUnknownFormat)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	s := c.Shape()
	debug.Info("Saved %dx%dx%d cube to %s", s[0], s[1], s[2], path)
	return nil
}

// WithSuffix inserts suffix before the extension: scene.npy -> scene_dark.npy.
func WithSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + suffix + ext
}

// ResolvePath joins name onto dir unless name is already absolute.
func ResolvePath(dir, name string) string {
	if dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
