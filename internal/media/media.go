package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned when a candidate cannot be converted into
// an encoding the analyzer and storage layer accept.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Image is an in-memory encoded image with its declared name and MIME type.
type Image struct {
	Data []byte
	Name string
	MIME string
}

// acceptedExts are formats the analyzer and storage accept as-is.
var acceptedExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// convertExts are camera-native and container formats that must be
// re-encoded before any other stage touches them.
var convertExts = map[string]bool{
	".heic": true, ".heif": true, ".avif": true,
	".cr2": true, ".nef": true, ".arw": true, ".dng": true,
	".orf": true, ".rw2": true, ".raf": true,
}

// ContentType returns the MIME content type for a filename based on its
// extension. Returns "application/octet-stream" for unknown types; callers
// must not rely on it for format decisions (see Normalize).
func ContentType(name string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// NeedsConversion reports whether a candidate with the given name and
// declared MIME type must pass through format conversion. The declared MIME
// may be empty or wrong for camera formats, so the extension is checked
// first.
func NeedsConversion(name, declaredMIME string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if convertExts[ext] {
		return true
	}
	if acceptedExts[ext] {
		return false
	}
	switch declaredMIME {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return false
	}
	return true
}

// Normalize converts img into a universally accepted encoding. Images
// already in an accepted format pass through unchanged. Convertible formats
// are decoded and re-encoded as JPEG; some files carrying camera extensions
// are really JPEG/PNG containers and decode fine. Anything the registered
// decoders cannot handle fails with ErrUnsupportedFormat.
func Normalize(img Image, quality int) (Image, error) {
	if !NeedsConversion(img.Name, img.MIME) {
		return img, nil
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, img.Name)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return Image{}, fmt.Errorf("re-encode %s: %w", img.Name, err)
	}

	base := strings.TrimSuffix(img.Name, filepath.Ext(img.Name))
	return Image{
		Data: buf.Bytes(),
		Name: base + ".jpg",
		MIME: "image/jpeg",
	}, nil
}

// Recompress re-encodes img as JPEG, downscaling so neither dimension
// exceeds maxDim. Images that already fit and are smaller than the
// re-encoded output are returned unchanged. Decode failures also return the
// input unchanged; the analyzer gets to make the final call on such bytes.
func Recompress(img Image, maxDim, quality int) Image {
	src, err := decode(img)
	if err != nil {
		return img
	}

	b := src.Bounds()
	fits := b.Dx() <= maxDim && b.Dy() <= maxDim
	if !fits {
		src = resizeFit(src, maxDim, maxDim)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return img
	}
	if fits && buf.Len() >= len(img.Data) {
		return img
	}

	base := strings.TrimSuffix(img.Name, filepath.Ext(img.Name))
	return Image{Data: buf.Bytes(), Name: base + ".jpg", MIME: "image/jpeg"}
}

// Thumbnail produces a JPEG thumbnail of img resized to fit within
// width x height while preserving the aspect ratio. The output is always
// JPEG at quality 75. Returns nil, nil when img cannot be decoded.
func Thumbnail(img Image, width, height int) ([]byte, error) {
	src, err := decode(img)
	if err != nil {
		return nil, nil
	}

	thumb := resizeFit(src, width, height)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode decodes img.Data using the decoder matching its extension, falling
// back to sniffing via image.Decode.
func decode(img Image) (image.Image, error) {
	r := bytes.NewReader(img.Data)
	switch strings.ToLower(filepath.Ext(img.Name)) {
	case ".jpg", ".jpeg":
		return jpeg.Decode(r)
	case ".png":
		return png.Decode(r)
	case ".gif":
		return gif.Decode(r)
	case ".webp":
		return webp.Decode(r)
	default:
		m, _, err := image.Decode(r)
		return m, err
	}
}

// resizeFit scales src to fit within the dstW x dstH bounding box,
// preserving the aspect ratio, using BiLinear interpolation.
// No upscaling — if the image already fits, it is returned as-is.
func resizeFit(src image.Image, dstW, dstH int) image.Image {
	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()

	if srcW == 0 || srcH == 0 {
		return src
	}

	scaleW := float64(dstW) / float64(srcW)
	scaleH := float64(dstH) / float64(srcH)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	if scale >= 1.0 {
		return src
	}

	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, srcBounds, draw.Over, nil)
	return dst
}

// Ingestible reports whether a filename looks like a photo the pipeline can
// attempt: either directly accepted or convertible.
func Ingestible(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return acceptedExts[ext] || convertExts[ext]
}
