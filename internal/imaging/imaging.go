// Package imaging holds the raster boundary shared with the host: generated
// images travel through the gateway as plain RGB byte buffers with explicit
// dimensions. Conversion to the host's tensor representation happens outside
// this module.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoder for provider-returned images
	"image/png"
	"strings"
)

// Image is an in-memory RGB raster, 3 bytes per pixel, row-major.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// NewImage allocates a zeroed RGB raster with the given dimensions.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// Decode parses PNG or JPEG bytes into an RGB raster.
func Decode(data []byte) (*Image, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	img := NewImage(bounds.Dx(), bounds.Dy())

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			img.Pix[i] = byte(r >> 8)
			img.Pix[i+1] = byte(g >> 8)
			img.Pix[i+2] = byte(b >> 8)
			i += 3
		}
	}

	return img, nil
}

// EncodePNG serializes an RGB raster as PNG bytes.
func EncodePNG(img *Image) ([]byte, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("encode png: empty image")
	}
	if len(img.Pix) < img.Width*img.Height*3 {
		return nil, fmt.Errorf("encode png: pixel buffer too short for %dx%d", img.Width, img.Height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	i := 0
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			dst.SetRGBA(x, y, color.RGBA{
				R: img.Pix[i],
				G: img.Pix[i+1],
				B: img.Pix[i+2],
				A: 0xff,
			})
			i += 3
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI wraps PNG bytes as a base64 data URI suitable for provider payloads.
func DataURI(pngData []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
}

// FromDataURI extracts the raw bytes from a base64 data URI.
func FromDataURI(uri string) ([]byte, error) {
	idx := strings.Index(uri, ";base64,")
	if idx < 0 || !strings.HasPrefix(uri, "data:") {
		return nil, fmt.Errorf("not a base64 data URI")
	}
	data, err := base64.StdEncoding.DecodeString(uri[idx+len(";base64,"):])
	if err != nil {
		return nil, fmt.Errorf("decode data URI: %w", err)
	}
	return data, nil
}
