package imagesvc

import (
	"errors"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// ErrUnknownInterpolator is returned when an unsupported interpolation method is specified.
var ErrUnknownInterpolator = errors.New("unknown interpolator")

// resizer scales src to width, keeping the aspect ratio.
type resizer func(src image.Image, width int) image.Image

//nolint:gochecknoglobals
var (
	// interpolMap maps interpolator names to their implementations.
	// Supported values: "nearestneighbor", "catmullrom", "bilinear", "approxbilinear".
	interpolMap = map[string]draw.Interpolator{
		"nearestneighbor": draw.NearestNeighbor,
		"catmullrom":      draw.CatmullRom,
		"bilinear":        draw.BiLinear,
		"approxbilinear":  draw.ApproxBiLinear,
	}
)

func getResizerByName(name string) (resizer, error) {
	name = strings.ToLower(name)

	if name == "lanczos" {
		return func(src image.Image, width int) image.Image {
			return imaging.Resize(src, width, 0, imaging.Lanczos)
		}, nil
	}

	interpol, ok := interpolMap[name]
	if !ok {
		return nil, ErrUnknownInterpolator
	}

	return func(src image.Image, width int) image.Image {
		bitmap := image.NewRGBA(image.Rect(0, 0, width, scaledHeight(src.Bounds(), width)))
		interpol.Scale(bitmap, bitmap.Bounds(), src, src.Bounds(), draw.Over, nil)

		return bitmap
	}, nil
}

// resizeImage scales original down to width. Images that are already narrower
// are returned unchanged; thumbnails never upscale.
func resizeImage(original image.Image, width int, resize resizer) image.Image {
	if original.Bounds().Dx() <= width {
		return original
	}

	return resize(original, width)
}

func scaledHeight(bounds image.Rectangle, width int) int {
	ratio := float64(width) / float64(bounds.Dx())

	return max(1, int(float64(bounds.Dy())*ratio))
}
