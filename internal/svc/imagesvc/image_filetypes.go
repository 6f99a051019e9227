package imagesvc

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeGIF  = "image/gif"
	MIMETypeTIFF = "image/tiff"
	MIMETypeBMP  = "image/bmp"
	MIMETypeWebP = "image/webp"
)

// ErrUnknownThumbFormat is returned for thumbnail formats other than jpeg and png.
var ErrUnknownThumbFormat = errors.New("unknown thumb format")

type imageCodec struct {
	decode       func(io.Reader) (image.Image, error)
	decodeConfig func(io.Reader) (image.Config, error)
}

//nolint:gochecknoglobals
var imageDecoders = map[string]imageCodec{
	MIMETypeJPEG: {jpeg.Decode, jpeg.DecodeConfig},
	MIMETypePNG:  {png.Decode, png.DecodeConfig},
	MIMETypeGIF:  {gif.Decode, gif.DecodeConfig},
	MIMETypeTIFF: {tiff.Decode, tiff.DecodeConfig},
	MIMETypeBMP:  {bmp.Decode, bmp.DecodeConfig},
	MIMETypeWebP: {webp.Decode, webp.DecodeConfig},
}

// thumbEncoder writes thumbnails in the configured output format.
type thumbEncoder struct {
	mimeType string
	ext      string
	encode   func(io.Writer, image.Image) error
}

func getDecoderByType(mimeType string) (imageCodec, bool) {
	codec, ok := imageDecoders[mimeType]

	return codec, ok
}

func getThumbEncoder(format string, quality int) (thumbEncoder, error) {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return thumbEncoder{
			mimeType: MIMETypeJPEG,
			ext:      "jpg",
			encode: func(w io.Writer, i image.Image) error {
				return jpeg.Encode(w, i, &jpeg.Options{Quality: quality})
			},
		}, nil
	case "png":
		return thumbEncoder{mimeType: MIMETypePNG, ext: "png", encode: png.Encode}, nil
	default:
		return thumbEncoder{}, fmt.Errorf("%w: %q", ErrUnknownThumbFormat, format)
	}
}
