package describe

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"net/http"
	"os"

	"github.com/dgnsrekt/narrate/internal/cache"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// Image is a photo prepared for upload.
type Image struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
	// Digest identifies the original file content.
	Digest string
	// OriginalSize is the size of the file on disk.
	OriginalSize int
}

// DataURI returns the image as a base64 data URI.
func (i Image) DataURI() string {
	return "data:" + i.MIME + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// LoadImage reads the photo at path. Images whose longest side exceeds
// maxDim, and formats other than JPEG and PNG, are re-encoded as JPEG.
// A maxDim of zero keeps the original size.
func LoadImage(path string, maxDim int) (Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("unable to read image: %w", err)
	}
	return PrepareImage(raw, maxDim)
}

// PrepareImage is LoadImage for bytes already in memory.
func PrepareImage(raw []byte, maxDim int) (Image, error) {
	mime := http.DetectContentType(raw)
	switch mime {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
	default:
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, mime)
	}

	img := Image{Digest: cache.Digest(raw), OriginalSize: len(raw)}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	img.Width, img.Height = cfg.Width, cfg.Height

	tooBig := maxDim > 0 && (cfg.Width > maxDim || cfg.Height > maxDim)
	if !tooBig && (mime == "image/jpeg" || mime == "image/png") {
		img.Data, img.MIME = raw, mime
		return img, nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if tooBig {
		src = scaleDown(src, maxDim)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: DefaultJPEGQuality}); err != nil {
		return Image{}, fmt.Errorf("unable to encode image: %w", err)
	}
	b := src.Bounds()
	img.Data, img.MIME = buf.Bytes(), "image/jpeg"
	img.Width, img.Height = b.Dx(), b.Dy()
	return img, nil
}

// scaleDown fits src inside a maxDim square, keeping its aspect ratio.
func scaleDown(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = max(1, h*maxDim/w)
		w = maxDim
	} else {
		w = max(1, w*maxDim/h)
		h = maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
