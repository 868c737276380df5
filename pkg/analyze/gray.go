package analyze

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// errEmptyRaster signals a decoded image with no pixels.
var errEmptyRaster = errors.New("empty raster")

// decodeImage decodes the full raster. imaging registers decoders for the
// formats PhotoGate accepts except HEIC/HEIF, which surface as an
// "unsupported format" error and classify as format_validation_failed
// downstream.
func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unsupported or corrupt image format: %w", err)
	}
	return img, nil
}

// decodeBounds reads only the image header for dimensions and format.
func decodeBounds(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("unsupported or corrupt image format: %w", err)
	}
	return cfg.Width, cfg.Height, format, nil
}

// grayValues converts the image to a flat row-major luma buffer in [0,255].
func grayValues(img image.Image) ([]float64, int, int) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	vals := make([]float64, w*h)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled to 8-bit.
			vals[i] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			i++
		}
	}
	return vals, w, h
}

// meanStd computes mean and population standard deviation.
func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return mean, math.Sqrt(variance)
}

// Convolution kernels shared by the blur and face stages.
var (
	kernelSharpen = [9]float64{
		0, -1, 0,
		-1, 5, -1,
		0, -1, 0,
	}
	kernelLaplacian = [9]float64{
		-1, -1, -1,
		-1, 8, -1,
		-1, -1, -1,
	}
	kernelSobelX = [9]float64{
		-1, 0, 1,
		-2, 0, 2,
		-1, 0, 1,
	}
	kernelSobelY = [9]float64{
		-1, -2, -1,
		0, 0, 0,
		1, 2, 1,
	}
)

// convolve3x3 applies a 3x3 kernel over the luma buffer with edge clamping.
func convolve3x3(gray []float64, w, h int, k [9]float64) []float64 {
	out := make([]float64, len(gray))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			ki := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sx := clampInt(x+dx, 0, w-1)
					sy := clampInt(y+dy, 0, h-1)
					sum += gray[sy*w+sx] * k[ki]
					ki++
				}
			}
			out[y*w+x] = sum
		}
	}
	return out
}

// channelSigmas computes the per-channel standard deviation over RGB.
func channelSigmas(img image.Image) (float64, float64, float64) {
	bounds := img.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0, 0, 0
	}

	rs := make([]float64, 0, n)
	gs := make([]float64, 0, n)
	bs := make([]float64, 0, n)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			rs = append(rs, float64(r)/257.0)
			gs = append(gs, float64(g)/257.0)
			bs = append(bs, float64(b)/257.0)
		}
	}

	_, sr := meanStd(rs)
	_, sg := meanStd(gs)
	_, sb := meanStd(bs)
	return sr, sg, sb
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fitDownscale bounds the image to maxW x maxH without enlargement.
func fitDownscale(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}
