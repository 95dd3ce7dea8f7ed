package enhance

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"photoner/internal/failures"
)

// Format is an output encoding.
type Format struct {
	Extension string
	format    imaging.Format
	quality   int
}

// ParseFormat maps processing.output_format to an encoder. Quality only
// applies to JPEG.
func ParseFormat(name string, jpegQuality int) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".")
	f := Format{Extension: ext, quality: jpegQuality}
	switch ext {
	case "jpg", "jpeg":
		f.Extension = "jpg"
		f.format = imaging.JPEG
	case "png":
		f.format = imaging.PNG
	case "tif", "tiff":
		f.Extension = "tif"
		f.format = imaging.TIFF
	default:
		return Format{}, failures.Wrap(failures.ErrConfiguration, "enhance", "parse format", fmt.Sprintf("unsupported output format %q", name), nil)
	}
	if f.quality <= 0 || f.quality > 100 {
		f.quality = 92
	}
	return f, nil
}

// Decode reads the image at path. Orientation tags are left alone because
// metadata, including orientation, is copied onto the output unchanged.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failures.Wrap(failures.ErrDecode, "enhance", "decode", "open "+filepath.Base(path), err)
	}
	defer f.Close()
	img, err := imaging.Decode(f)
	if err != nil {
		return nil, failures.Wrap(failures.ErrDecode, "enhance", "decode", filepath.Base(path), err)
	}
	return img, nil
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img image.Image, f Format) error {
	if err := imaging.Encode(w, img, f.format, imaging.JPEGQuality(f.quality)); err != nil {
		return failures.Wrap(failures.ErrOutputIO, "enhance", "encode", f.Extension, err)
	}
	return nil
}
