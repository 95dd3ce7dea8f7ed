package enhance_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"photoner/internal/config"
	"photoner/internal/enhance"
	"photoner/internal/failures"
	"photoner/internal/logging"
	"photoner/internal/testsupport"
)

func uniform(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestImagingEnhancerBrightensDarkImage(t *testing.T) {
	src := uniform(40, 30, 40)
	before := append([]byte(nil), src.Pix...)
	profile := enhance.Profile{Name: "test", Params: config.EnhancementProfile{
		TargetLuminance:    0.5,
		BrightnessStrength: 1,
		Gamma:              1,
	}}

	out, adj, err := enhance.NewImagingEnhancer().Enhance(context.Background(), src, profile)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if !bytes.Equal(before, src.Pix) {
		t.Fatal("input image was mutated")
	}
	if out.Bounds().Dx() != 40 || out.Bounds().Dy() != 30 {
		t.Fatalf("dimensions changed: %v", out.Bounds())
	}
	if adj.Brightness <= 0 || adj.LuminanceAfter <= adj.LuminanceBefore {
		t.Fatalf("expected brighter output, got %+v", adj)
	}
	if adj.Profile != "test" || adj.Width != 40 || adj.Height != 30 {
		t.Fatalf("unexpected adjustment metadata %+v", adj)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(adj.JSON()), &decoded); err != nil {
		t.Fatalf("adjustments JSON invalid: %v", err)
	}
	if _, ok := decoded["brightness"]; !ok {
		t.Fatalf("expected brightness in %s", adj.JSON())
	}
	if _, ok := decoded["contrast"]; ok {
		t.Fatalf("unused steps should be omitted: %s", adj.JSON())
	}
}

func TestImagingEnhancerAppliesDefaultProfiles(t *testing.T) {
	cfg := config.Default()
	for name := range cfg.Enhancement.Profiles {
		cfg.Enhancement.Profile = name
		profile := enhance.ProfileFromConfig(&cfg)
		out, adj, err := enhance.NewImagingEnhancer().Enhance(context.Background(), uniform(300, 10, 120), profile)
		if err != nil {
			t.Fatalf("%s: Enhance: %v", name, err)
		}
		if out.Bounds().Dx() != 300 || adj.Profile != name {
			t.Fatalf("%s: unexpected result %v %+v", name, out.Bounds(), adj)
		}
	}
}

func TestImagingEnhancerRejectsEmptyImage(t *testing.T) {
	_, _, err := enhance.NewImagingEnhancer().Enhance(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)), enhance.Profile{})
	if !errors.Is(err, failures.ErrTransform) {
		t.Fatalf("expected ErrTransform, got %v", err)
	}
}

func TestImagingEnhancerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := enhance.NewImagingEnhancer().Enhance(ctx, uniform(4, 4, 10), enhance.Profile{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]string{"jpg": "jpg", "JPEG": "jpg", ".png": "png", "tiff": "tif"}
	for in, want := range cases {
		f, err := enhance.ParseFormat(in, 90)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", in, err)
		}
		if f.Extension != want {
			t.Fatalf("ParseFormat(%q) = %q, want %q", in, f.Extension, want)
		}
	}
	if _, err := enhance.ParseFormat("webp", 90); !errors.Is(err, failures.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDecodeEncode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	testsupport.WriteImage(t, src, 12, 8)

	img, err := enhance.Decode(src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	format, err := enhance.ParseFormat("jpg", 85)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := enhance.Encode(&buf, img, format); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xFF, 0xD8}) {
		t.Fatal("expected JPEG output")
	}

	garbage := filepath.Join(dir, "broken.jpg")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := enhance.Decode(garbage); !errors.Is(err, failures.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := enhance.Decode(filepath.Join(dir, "missing.jpg")); !errors.Is(err, failures.ErrDecode) {
		t.Fatalf("expected ErrDecode for missing file, got %v", err)
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExiftoolCopier(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	missing := enhance.NewExiftoolCopier(filepath.Join(dir, "nope"), logging.NewNop())
	warning, err := missing.Copy(ctx, "a", "b")
	if err != nil || !strings.Contains(warning, "unavailable") {
		t.Fatalf("expected unavailable warning, got %q %v", warning, err)
	}

	ok := enhance.NewExiftoolCopier(writeScript(t, dir, "exif-ok", "exit 0"), logging.NewNop())
	if warning, err := ok.Copy(ctx, "a", "b"); err != nil || warning != "" {
		t.Fatalf("expected clean copy, got %q %v", warning, err)
	}

	failing := enhance.NewExiftoolCopier(writeScript(t, dir, "exif-bad", "echo 'Error: bad tags' >&2\nexit 1"), logging.NewNop())
	warning, err = failing.Copy(ctx, "a", "b")
	if err != nil || !strings.Contains(warning, "bad tags") {
		t.Fatalf("expected warning carrying stderr, got %q %v", warning, err)
	}
}
