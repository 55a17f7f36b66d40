package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"
)

// Meta holds the declared metadata recorded alongside an ingested photo.
type Meta struct {
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Orientation string     `json:"orientation,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
}

// ExtractMeta reads pixel dimensions and EXIF orientation/capture time from
// encoded image bytes. Returns an empty struct (no error) for images that
// have no EXIF data.
func ExtractMeta(data []byte) Meta {
	var meta Meta

	// Header-only decode for dimensions — no full pixel decode.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return meta // no EXIF — not an error
	}

	if v := exifString(x, exif.Orientation); v != "" {
		meta.Orientation = orientationLabel(v)
	}
	if t, err := x.DateTime(); err == nil {
		meta.TakenAt = &t
	}

	return meta
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		// Orientation is a short, not an ASCII string; fall back to the
		// raw tag representation ("6" etc).
		return strings.Trim(tag.String(), "\"")
	}
	return strings.TrimSpace(s)
}

func orientationLabel(v string) string {
	switch v {
	case "1":
		return "Normal"
	case "2":
		return "Mirrored horizontal"
	case "3":
		return "Rotated 180°"
	case "4":
		return "Mirrored vertical"
	case "5":
		return "Mirrored horizontal, rotated 90° CCW"
	case "6":
		return "Rotated 90° CW"
	case "7":
		return "Mirrored horizontal, rotated 90° CW"
	case "8":
		return "Rotated 90° CCW"
	default:
		return v
	}
}
