// Package decode turns raw file bytes into a decoded image plus the
// metadata spec §3/§4.1 asks for: width, height, a lowercase format
// string, and a recognized subset of EXIF tags. Stdlib covers jpeg/png/gif;
// golang.org/x/image adds webp/bmp/tiff so a wider range of camera/export
// formats decode instead of failing outright.
package decode

import (
	"bytes"
	stdimage "image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/hejijunhao/photon/internal/perr"
	"github.com/rwcarlsen/goexif/exif"
	exiftiff "github.com/rwcarlsen/goexif/tiff"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// recognizedEXIFFields is the fixed allowlist of EXIF tags Photon surfaces
// (spec §12) — chosen for being cheap to stringify and broadly useful,
// not an exhaustive EXIF dump.
var recognizedEXIFFields = []exif.FieldName{
	exif.DateTimeOriginal,
	exif.Make,
	exif.Model,
	exif.Orientation,
	exif.ExposureTime,
	exif.FNumber,
	exif.ISOSpeedRatings,
	exif.FocalLength,
	exif.GPSLatitude,
	exif.GPSLongitude,
}

// Result is the output of a successful decode.
type Result struct {
	Image  stdimage.Image
	Width  int
	Height int
	Format string // lowercase, e.g. "jpeg"
	EXIF   map[string]string
}

// Decode decodes data (the raw file bytes) into an Image, its dimensions,
// its format, and whatever recognized EXIF tags are present. EXIF
// extraction failure is not fatal — EXIF is simply absent.
func Decode(data []byte) (Result, error) {
	decoded, format, decErr := decodeFull(data)
	if decErr != nil {
		return Result{}, perr.New(perr.KindDecode, "the file may be corrupt or an unsupported format", decErr)
	}

	bounds := decoded.Bounds()
	res := Result{
		Image:  decoded,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: strings.ToLower(format),
		EXIF:   extractEXIF(data),
	}
	return res, nil
}

// decodeFull performs the actual pixel decode. Importing the stdlib
// jpeg/png/gif packages and the x/image webp/bmp/tiff packages registers
// each of them with image.Decode's format dispatch, so image.Decode is
// tried first for every supported format.
func decodeFull(data []byte) (stdimage.Image, string, error) {
	r := bytes.NewReader(data)
	if img, format, err := stdimage.Decode(r); err == nil {
		return img, format, nil
	}

	// image.Decode picks a decoder by sniffing the header. If that failed,
	// try each decoder directly in turn.
	if img, err := tryWebP(data); err == nil {
		return img, "webp", nil
	}
	if img, err := tryBMP(data); err == nil {
		return img, "bmp", nil
	}
	if img, err := tryTIFF(data); err == nil {
		return img, "tiff", nil
	}
	if img, err := tryJPEG(data); err == nil {
		return img, "jpeg", nil
	}
	if img, err := tryPNG(data); err == nil {
		return img, "png", nil
	}
	if img, err := tryGIF(data); err == nil {
		return img, "gif", nil
	}
	return nil, "", errUnsupported
}

var errUnsupported = &unsupportedFormatError{}

type unsupportedFormatError struct{}

func (e *unsupportedFormatError) Error() string { return "unsupported or corrupt image data" }

func tryWebP(data []byte) (stdimage.Image, error) { return webp.Decode(bytes.NewReader(data)) }
func tryBMP(data []byte) (stdimage.Image, error)  { return bmp.Decode(bytes.NewReader(data)) }
func tryTIFF(data []byte) (stdimage.Image, error) { return tiff.Decode(bytes.NewReader(data)) }
func tryJPEG(data []byte) (stdimage.Image, error) { return jpeg.Decode(bytes.NewReader(data)) }
func tryPNG(data []byte) (stdimage.Image, error)  { return png.Decode(bytes.NewReader(data)) }
func tryGIF(data []byte) (stdimage.Image, error)  { return gif.Decode(bytes.NewReader(data)) }

// extractEXIF returns the recognized EXIF fields present in data, stringified.
// Any error (no EXIF segment, corrupt EXIF) yields an empty map, not an error —
// EXIF is optional per spec §3.
func extractEXIF(data []byte) map[string]string {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return map[string]string{}
	}
	out := make(map[string]string)
	for _, field := range recognizedEXIFFields {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		out[string(field)] = stringifyTag(tag)
	}
	return out
}

func stringifyTag(tag *exiftiff.Tag) string {
	s := tag.String()
	// goexif quotes string-typed tags (e.g. `"Canon"`); strip for a clean value.
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}
