// Package thumbnail extracts and optionally letterboxes a project's PNG
// thumbnail, embedded by the client inside a role's code XML as
// <thumbnail>data:image/png;base64,...</thumbnail> (get_thumbnail).
package thumbnail

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/draw"
	"image/png"
	"strings"

	"github.com/netsblox/cloud/internal/usererr"
)

const (
	openTag  = "<thumbnail>data:image/png;base64,"
	closeTag = "</thumbnail>"
)

// Extract pulls the base64 PNG block out of a role's code blob.
func Extract(code []byte) ([]byte, error) {
	s := string(code)
	start := strings.Index(s, openTag)
	if start == -1 {
		return nil, usererr.New(usererr.ThumbnailNotFound, "no thumbnail in role code")
	}
	start += len(openTag)
	end := strings.Index(s[start:], closeTag)
	if end == -1 {
		return nil, usererr.New(usererr.ThumbnailNotFound, "unterminated thumbnail block")
	}
	encoded := s[start : start+end]

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, usererr.Wrap(usererr.Base64Decode, err)
	}
	return data, nil
}

// Decode parses PNG bytes into an image.
func Decode(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, usererr.Wrap(usererr.ThumbnailDecode, err)
	}
	return img, nil
}

// Letterbox composites img onto a transparent RGBA canvas sized to match
// the given aspect ratio (width/height), centering the source image and
// re-encodes as PNG.
func Letterbox(img image.Image, aspectRatio float64) ([]byte, error) {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 || aspectRatio <= 0 {
		return Encode(img)
	}

	var canvasW, canvasH int
	if float64(srcW)/float64(srcH) > aspectRatio {
		canvasW = srcW
		canvasH = int(float64(srcW) / aspectRatio)
	} else {
		canvasH = srcH
		canvasW = int(float64(srcH) * aspectRatio)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	offsetX := (canvasW - srcW) / 2
	offsetY := (canvasH - srcH) / 2
	draw.Draw(canvas, image.Rect(offsetX, offsetY, offsetX+srcW, offsetY+srcH), img, bounds.Min, draw.Over)

	return Encode(canvas)
}

// Encode re-encodes an image as PNG bytes.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, usererr.Wrap(usererr.ThumbnailEncode, err)
	}
	return buf.Bytes(), nil
}

// FromRoleCode implements the full get_thumbnail pipeline:
// extract -> decode -> (optional letterbox + re-encode). Without an
// aspect ratio the extracted PNG bytes are returned as they were stored.
func FromRoleCode(code []byte, aspectRatio *float64) ([]byte, error) {
	raw, err := Extract(code)
	if err != nil {
		return nil, err
	}
	img, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if aspectRatio == nil {
		return raw, nil
	}
	return Letterbox(img, *aspectRatio)
}
