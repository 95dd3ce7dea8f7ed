// Package enhance holds the collaborators the processing engine treats as
// black boxes: the pixel transform, metadata copy-through, and the codec.
//
// The engine only depends on the Enhancer and MetadataCopier interfaces.
// ImagingEnhancer and ExiftoolCopier are the implementations wired by default.
package enhance

import (
	"context"
	"encoding/json"
	"image"

	"photoner/internal/config"
)

// Profile is a named set of enhancement parameters.
type Profile struct {
	Name   string
	Params config.EnhancementProfile
}

// ProfileFromConfig returns the active enhancement profile.
func ProfileFromConfig(cfg *config.Config) Profile {
	name, params := cfg.ActiveProfile()
	return Profile{Name: name, Params: params}
}

// Adjustments summarizes what a transform applied to one image. It is stored
// verbatim on the processing record.
type Adjustments struct {
	Profile         string  `json:"profile"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	LuminanceBefore float64 `json:"luminance_before"`
	LuminanceAfter  float64 `json:"luminance_after"`
	Brightness      float64 `json:"brightness,omitempty"`
	Contrast        float64 `json:"contrast,omitempty"`
	Saturation      float64 `json:"saturation,omitempty"`
	Gamma           float64 `json:"gamma,omitempty"`
	SharpenSigma    float64 `json:"sharpen_sigma,omitempty"`
}

// JSON renders the summary for storage. Marshal cannot fail for this type.
func (a Adjustments) JSON() string {
	data, err := json.Marshal(a)
	if err != nil {
		return ""
	}
	return string(data)
}

// Enhancer transforms decoded pixels. Implementations must not mutate the
// input image and must preserve its dimensions.
type Enhancer interface {
	Enhance(ctx context.Context, img image.Image, profile Profile) (image.Image, Adjustments, error)
}

// MetadataCopier copies metadata from src onto dst in place. Conditions that
// leave the output usable without metadata are reported as a warning; err is
// reserved for failures that should fail the item.
type MetadataCopier interface {
	Copy(ctx context.Context, src, dst string) (warning string, err error)
}

// NoopCopier skips metadata copy-through.
type NoopCopier struct{}

// Copy implements MetadataCopier.
func (NoopCopier) Copy(context.Context, string, string) (string, error) { return "", nil }
