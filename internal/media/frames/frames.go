// Package frames inspects and manages enhanced frame images.
package frames

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"upres/internal/fileutil"
)

// CheckPolicy controls how an enhancer output is judged usable.
type CheckPolicy struct {
	// PixelCheck decodes the image and requires at least one pixel with
	// nonzero luminance. When false, or when decoding fails, only the byte
	// size threshold applies.
	PixelCheck bool
	// MinBytes is the minimum file size accepted when pixel inspection is
	// disabled or unavailable.
	MinBytes int64
}

// DefaultCheckPolicy matches realistic enhancer output: decoded pixel
// inspection with a 1000 byte fallback threshold.
func DefaultCheckPolicy() CheckPolicy {
	return CheckPolicy{PixelCheck: true, MinBytes: 1000}
}

// Usable reports whether the frame at path is a plausible enhancement result.
// A missing, empty, or fully black image is rejected.
func (p CheckPolicy) Usable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	if !p.PixelCheck {
		return info.Size() > p.MinBytes
	}

	file, err := os.Open(path)
	if err != nil {
		return info.Size() > p.MinBytes
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		// Not decodable as an image; fall back to the size heuristic.
		return info.Size() > p.MinBytes
	}
	return hasNonzeroPixel(img)
}

func hasNonzeroPixel(img image.Image) bool {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r != 0 || g != 0 || b != 0 {
				return true
			}
		}
	}
	return false
}

// Name returns the canonical zero-padded frame filename for an index.
func Name(index int) string {
	return fmt.Sprintf("frames_%06d.png", index)
}

// List returns the sorted frame filenames present in dir.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".png") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Copy duplicates a frame file, creating the destination directory if needed.
func Copy(src, dst string) error {
	return fileutil.CopyFile(src, dst)
}

// WritePNG encodes img to path. Used by tests and by tooling that needs a
// synthetic frame on disk.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create frame directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame file: %w", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}
