package report

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// pointsPerPixel converts between screen pixels and row height points.
const pointsPerPixel = 72.0 / 96.0

// embeddable maps a decoded format to the picture extension the workbook
// accepts as is. Anything else is transcoded to PNG.
var embeddable = map[string]string{
	"png":  ".png",
	"jpeg": ".jpg",
	"gif":  ".gif",
}

type preparedImage struct {
	data   []byte
	ext    string
	width  int
	height int
}

// prepareImage sniffs the real format of data and returns bytes the
// workbook can embed together with the pixel size.
func prepareImage(data []byte) (*preparedImage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	if ext, ok := embeddable[format]; ok {
		return &preparedImage{data: data, ext: ext, width: cfg.Width, height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to transcode %s image: %w", format, err)
	}
	return &preparedImage{data: buf.Bytes(), ext: ".png", width: cfg.Width, height: cfg.Height}, nil
}

// colWidthToPixels is the usual spreadsheet approximation of a column
// width (in characters) to pixels.
func colWidthToPixels(width float64) float64 {
	return math.Trunc(((256*width + math.Trunc(128.0/7)) / 256) * 7)
}

// fitScale returns the factor that shrinks an image of width w to fit
// colPx pixels. Images are never enlarged.
func fitScale(colPx float64, w int) float64 {
	if w <= 0 {
		return 1
	}
	return math.Min(1, colPx/float64(w))
}

func pixelsToPoints(px float64) float64 {
	return px * pointsPerPixel
}
