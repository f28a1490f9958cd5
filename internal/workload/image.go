package workload

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"poolbench/internal/runner"
)

const thumbnailSize = 100

// ImageInput names a source image and the per-task thumbnail path.
type ImageInput struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// ImageResult is the thumbnail geometry plus a dominant-channel label.
type ImageResult struct {
	Class  string `json:"class"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Image decodes, resizes, saves and classifies prepared noise images.
type Image struct{}

func (Image) Name() string { return "image" }

func (Image) Task() runner.Task {
	return runner.Task{
		Name:   "image",
		Run:    processImage,
		Decode: decodeAs[ImageInput](),
	}
}

func (Image) Generate(count int, p Params) ([]any, error) {
	if p.Dir == "" {
		return nil, errors.New("image workload needs a fixture directory")
	}
	out := make([]any, count)
	for i := range out {
		out[i] = ImageInput{
			Src: filepath.Join(p.Dir, fmt.Sprintf("white_noise_%d.png", i)),
			Dst: filepath.Join(p.Dir, fmt.Sprintf("resized_%d.png", i)),
		}
	}
	return out, nil
}

func (Image) Prepare(_ context.Context, p Params, inputs []any) error {
	size := p.ImageSize
	if size <= 0 {
		return fmt.Errorf("image size must be positive, got %d", size)
	}
	for i, in := range inputs {
		ii, err := inputAs[ImageInput](in)
		if err != nil {
			return err
		}
		if err := writeNoiseImage(ii.Src, size, p.Seed+int64(i)); err != nil {
			return err
		}
	}
	return nil
}

func writeNoiseImage(path string, size int, seed int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create fixture dir: %w", err)
	}

	rng := newRand(seed)
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func processImage(_ context.Context, input any) (any, error) {
	in, err := inputAs[ImageInput](input)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(in.Src)
	if err != nil {
		return nil, err
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", in.Src, err)
	}

	thumb := resize(src, thumbnailSize, thumbnailSize)

	out, err := os.Create(in.Dst)
	if err != nil {
		return nil, err
	}
	if err := png.Encode(out, thumb); err != nil {
		out.Close()
		return nil, fmt.Errorf("encode %s: %w", in.Dst, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	b := thumb.Bounds()
	return ImageResult{Class: classify(thumb), Width: b.Dx(), Height: b.Dy()}, nil
}

// resize is nearest-neighbour scaling.
func resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sb.Dy()/h
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sb.Dx()/w
			dst.Set(x, y, color.RGBAModel.Convert(src.At(sx, sy)))
		}
	}
	return dst
}

// classify labels an image by its strongest average channel.
func classify(img *image.RGBA) string {
	var r, g, b uint64
	for i := 0; i+2 < len(img.Pix); i += 4 {
		r += uint64(img.Pix[i])
		g += uint64(img.Pix[i+1])
		b += uint64(img.Pix[i+2])
	}
	switch {
	case r >= g && r >= b:
		return "red"
	case g >= b:
		return "green"
	default:
		return "blue"
	}
}
