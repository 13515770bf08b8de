package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TransformError reports a failed decode, resize, rotate or re-encode of one
// file. Batch intake isolates these per file instead of aborting.
type TransformError struct {
	Op   string
	Name string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// processPhoto decodes with EXIF auto-orientation applied, fits the image
// within maxEdge on its longer side, optionally stamps text in the corner
// and re-encodes as JPEG. Images already within bounds are still re-encoded
// so output is uniformly JPEG.
func processPhoto(data []byte, name string, maxEdge, quality int, stamp string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &TransformError{Op: "decode", Name: name, Err: err}
	}
	b := img.Bounds()
	if b.Dx() > maxEdge || b.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}
	if stamp != "" {
		img = stampTimestamp(img, stamp)
	}
	return encodeJPEG(img, name, quality)
}

// rotateJPEG rotates the stored pixels by the given clockwise quarter turns.
func rotateJPEG(data []byte, name string, degrees, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &TransformError{Op: "decode", Name: name, Err: err}
	}
	switch ((degrees % 360) + 360) % 360 {
	case 0:
	case 90:
		img = imaging.Rotate270(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate90(img)
	default:
		return nil, &TransformError{Op: "rotate", Name: name, Err: fmt.Errorf("angle %d is not a quarter turn", degrees)}
	}
	return encodeJPEG(img, name, quality)
}

// stampTimestamp draws the timestamp text in the bottom-right corner, with a
// one-pixel shadow for legibility on light snow.
func stampTimestamp(img image.Image, text string) image.Image {
	canvas := imaging.Clone(img)
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	b := canvas.Bounds()
	x := b.Max.X - w - 8
	y := b.Max.Y - 8
	shadow := &font.Drawer{Dst: canvas, Src: image.NewUniform(color.Black), Face: face, Dot: fixed.P(x+1, y+1)}
	shadow.DrawString(text)
	d := &font.Drawer{Dst: canvas, Src: image.NewUniform(color.White), Face: face, Dot: fixed.P(x, y)}
	d.DrawString(text)
	return canvas
}

func encodeJPEG(img image.Image, name string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, &TransformError{Op: "encode", Name: name, Err: err}
	}
	return buf.Bytes(), nil
}
