// Package preprocessing decodes images into CHW float32 data in [-1, 1],
// the range the generators' tanh outputs live in.
package preprocessing

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// ImageProcessor resizes decoded images to a square target size.
type ImageProcessor struct {
	targetSize int
	channels   int
}

// NewImageProcessor creates a processor producing channels x size x size
// data. channels must be 1 (grayscale) or 3 (RGB).
func NewImageProcessor(targetSize, channels int) (*ImageProcessor, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("target size must be > 0, got %d", targetSize)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("channels must be 1 or 3, got %d", channels)
	}
	return &ImageProcessor{
		targetSize: targetSize,
		channels:   channels,
	}, nil
}

// ItemSize is the number of float32 values in one processed image.
func (p *ImageProcessor) ItemSize() int {
	return p.channels * p.targetSize * p.targetSize
}

// ProcessedImage is one image in CHW layout.
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes a JPEG or PNG image, resizes it with nearest
// neighbour sampling and maps every channel to [-1, 1].
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty image")
	}

	size := p.targetSize
	plane := size * size
	data := make([]float32, p.channels*plane)

	scaleX := float64(width) / float64(size)
	scaleY := float64(height) / float64(size)

	for y := 0; y < size; y++ {
		srcY := min(int(float64(y)*scaleY), height-1)
		for x := 0; x < size; x++ {
			srcX := min(int(float64(x)*scaleX), width-1)
			c := img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY)
			idx := y*size + x

			if p.channels == 1 {
				g := color.Gray16Model.Convert(c).(color.Gray16)
				data[idx] = scale(uint32(g.Y))
				continue
			}
			r, g, b, _ := c.RGBA()
			data[idx] = scale(r)
			data[plane+idx] = scale(g)
			data[2*plane+idx] = scale(b)
		}
	}

	return &ProcessedImage{
		Data:     data,
		Width:    size,
		Height:   size,
		Channels: p.channels,
	}, nil
}

// DecodeFile opens and processes the image at path.
func (p *ImageProcessor) DecodeFile(path string) (*ProcessedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := p.DecodeAndPreprocess(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// scale maps a 16-bit channel value to [-1, 1].
func scale(v uint32) float32 {
	return float32(v)/65535*2 - 1
}

// PreprocessBatch processes imagePaths concurrently with at most maxWorkers
// decodes in flight. Results keep the input order; the first failure
// cancels the rest.
func PreprocessBatch(ctx context.Context, p *ImageProcessor, imagePaths []string, maxWorkers int) ([]*ProcessedImage, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*ProcessedImage, len(imagePaths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i, path := range imagePaths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := p.DecodeFile(path)
			if err != nil {
				return fmt.Errorf("failed to process image %d: %w", i, err)
			}
			results[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
