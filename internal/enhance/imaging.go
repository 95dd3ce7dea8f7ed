package enhance

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"photoner/internal/failures"
)

// luminanceSampleWidth bounds the work spent estimating mean luminance.
const luminanceSampleWidth = 256

// ImagingEnhancer applies a profile using the imaging library: brightness
// toward a target mean luminance, then contrast, saturation, gamma and an
// optional sharpen pass.
type ImagingEnhancer struct{}

// NewImagingEnhancer returns the default enhancer.
func NewImagingEnhancer() *ImagingEnhancer { return &ImagingEnhancer{} }

// Enhance implements Enhancer.
func (e *ImagingEnhancer) Enhance(ctx context.Context, img image.Image, profile Profile) (image.Image, Adjustments, error) {
	if img == nil {
		return nil, Adjustments{}, failures.Wrap(failures.ErrTransform, "enhance", "enhance", "nil image", nil)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, Adjustments{}, failures.Wrap(failures.ErrTransform, "enhance", "enhance", "image has no pixels", nil)
	}
	p := profile.Params
	adj := Adjustments{
		Profile:         profile.Name,
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
		LuminanceBefore: round3(MeanLuminance(img)),
	}

	// Clone so every later step works on an NRGBA copy and img stays untouched.
	out := imaging.Clone(img)

	if p.TargetLuminance > 0 && p.BrightnessStrength > 0 {
		delta := (p.TargetLuminance - adj.LuminanceBefore) * p.BrightnessStrength * 100
		delta = math.Max(-100, math.Min(100, delta))
		if math.Abs(delta) >= 0.5 {
			out = imaging.AdjustBrightness(out, delta)
			adj.Brightness = round3(delta)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, Adjustments{}, err
	}
	if p.Contrast != 0 {
		out = imaging.AdjustContrast(out, p.Contrast)
		adj.Contrast = p.Contrast
	}
	if p.Saturation != 0 {
		out = imaging.AdjustSaturation(out, p.Saturation)
		adj.Saturation = p.Saturation
	}
	if p.Gamma > 0 && p.Gamma != 1 {
		out = imaging.AdjustGamma(out, p.Gamma)
		adj.Gamma = p.Gamma
	}
	if err := ctx.Err(); err != nil {
		return nil, Adjustments{}, err
	}
	if p.SharpenSigma > 0 {
		out = imaging.Sharpen(out, p.SharpenSigma)
		adj.SharpenSigma = p.SharpenSigma
	}

	if got := out.Bounds(); got.Dx() != bounds.Dx() || got.Dy() != bounds.Dy() {
		return nil, Adjustments{}, failures.Wrap(failures.ErrTransform, "enhance", "enhance",
			fmt.Sprintf("dimensions changed from %dx%d to %dx%d", bounds.Dx(), bounds.Dy(), got.Dx(), got.Dy()), nil)
	}
	adj.LuminanceAfter = round3(MeanLuminance(out))
	return out, adj, nil
}

// MeanLuminance returns the Rec. 601 mean luminance of img in [0, 1],
// estimated on a downscaled copy for large images.
func MeanLuminance(img image.Image) float64 {
	src := img
	if img.Bounds().Dx() > luminanceSampleWidth {
		src = imaging.Resize(img, luminanceSampleWidth, 0, imaging.Box)
	}
	nrgba := imaging.Clone(src)
	pix := nrgba.Pix
	if len(pix) == 0 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+3 < len(pix); i += 4 {
		sum += 0.299*float64(pix[i]) + 0.587*float64(pix[i+1]) + 0.114*float64(pix[i+2])
		n++
	}
	return sum / float64(n) / 255
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
