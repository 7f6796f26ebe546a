// Package grid tiles generated and ground-truth image batches into a single
// PNG for eyeballing training progress.
package grid

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/tsawler/gantrain/internal/fsx"
	"github.com/tsawler/gantrain/tensor"
)

// Padding is the gap in pixels between and around tiles.
const Padding = 2

// SaveGrid writes generated above groundTruth as one PNG at path. Both
// batches are NCHW with identical CHW; each row holds len(generated) tiles.
// Pixel values are min-max normalized over the whole grid. The file is
// replaced atomically.
func SaveGrid(generated, groundTruth *tensor.Tensor, path string) error {
	img, err := Render(generated, groundTruth)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode sample grid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create sample directory: %w", err)
	}
	if err := fsx.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save sample grid: %w", err)
	}
	return nil
}

// Render builds the grid image without writing it.
func Render(generated, groundTruth *tensor.Tensor) (image.Image, error) {
	if generated == nil || groundTruth == nil {
		return nil, fmt.Errorf("sample grid needs both generated and ground truth images")
	}
	if generated.Dim() != 4 || groundTruth.Dim() != 4 {
		return nil, fmt.Errorf("sample grid expects NCHW batches, got %v and %v", generated.Shape, groundTruth.Shape)
	}
	if !tensor.SameShape(generated.Shape[1:], groundTruth.Shape[1:]) {
		return nil, fmt.Errorf("sample grid image shapes differ: %v vs %v", generated.Shape[1:], groundTruth.Shape[1:])
	}

	vis, err := tensor.Concat(generated, groundTruth)
	if err != nil {
		return nil, err
	}

	n, c, h, w := vis.Shape[0], vis.Shape[1], vis.Shape[2], vis.Shape[3]
	if c != 1 && c != 3 {
		return nil, fmt.Errorf("sample grid supports 1 or 3 channels, got %d", c)
	}

	nrow := min(generated.Shape[0], n)
	if nrow == 0 {
		return nil, fmt.Errorf("sample grid has no images")
	}
	ncol := (n + nrow - 1) / nrow

	cellH, cellW := h+Padding, w+Padding
	bounds := image.Rect(0, 0, nrow*cellW+Padding, ncol*cellH+Padding)

	lo, hi := vis.MinMax()
	scale := hi - lo
	if scale < 1e-5 {
		scale = 1e-5
	}
	level := func(v float32) uint8 {
		v = (min(max(v, lo), hi) - lo) / scale
		return uint8(v * 255)
	}

	plane := h * w
	var out image.Image
	switch c {
	case 1:
		gray := image.NewGray(bounds)
		for i := 0; i < n; i++ {
			x0, y0 := (i%nrow)*cellW+Padding, (i/nrow)*cellH+Padding
			data := vis.Data[i*plane : (i+1)*plane]
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					gray.SetGray(x0+x, y0+y, color.Gray{Y: level(data[y*w+x])})
				}
			}
		}
		out = gray
	default:
		rgba := image.NewNRGBA(bounds)
		for i := range rgba.Pix {
			if i%4 == 3 {
				rgba.Pix[i] = 0xff
			}
		}
		for i := 0; i < n; i++ {
			x0, y0 := (i%nrow)*cellW+Padding, (i/nrow)*cellH+Padding
			data := vis.Data[i*3*plane : (i+1)*3*plane]
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					idx := y*w + x
					rgba.SetNRGBA(x0+x, y0+y, color.NRGBA{
						R: level(data[idx]),
						G: level(data[plane+idx]),
						B: level(data[2*plane+idx]),
						A: 0xff,
					})
				}
			}
		}
		out = rgba
	}
	return out, nil
}
