package metadata

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	_ "golang.org/x/image/webp"
)

// Keys of the flat field set produced by the Extractor.
const (
	FieldWidth        = "width"
	FieldHeight       = "height"
	FieldFormat       = "format"
	FieldSize         = "size"
	FieldMake         = "make"
	FieldModel        = "model"
	FieldLens         = "lens"
	FieldFocalLength  = "focalLength"
	FieldAperture     = "aperture"
	FieldExposureTime = "exposureTime"
	FieldISO          = "iso"
	FieldCaptureDate  = "captureDate"
	FieldGPSLatitude  = "gpsLatitude"
	FieldGPSLongitude = "gpsLongitude"
)

// Fields is the flat, best-effort result of an extraction. Missing tags are
// absent rather than zero.
type Fields map[string]any

// Extraction is the result of Extract. Degraded is set when embedded
// metadata was present but could only be partially decoded, or when the
// container itself could not be parsed.
type Extraction struct {
	Fields   Fields
	Degraded bool
}

// Extractor parses embedded metadata out of raw image bytes.
type Extractor struct {
	log zerolog.Logger
}

// NewExtractor creates an extractor logging through log.
func NewExtractor(log zerolog.Logger) *Extractor {
	return &Extractor{log: log.With().Str("component", "extractor").Logger()}
}

// Extract never fails: whatever could be decoded is returned.
func (e *Extractor) Extract(raw []byte) (result Extraction) {
	result.Fields = Fields{FieldSize: float64(len(raw))}

	defer func() {
		if r := recover(); r != nil {
			e.log.Warn().Interface("panic", r).Msg("metadata decoder panicked")
			result.Degraded = true
		}
	}()

	if !e.containerFacts(raw, result.Fields) {
		result.Degraded = true
	}
	if !e.embeddedTags(raw, result.Fields) {
		result.Degraded = true
	}
	return result
}

func (e *Extractor) containerFacts(raw []byte, fields Fields) bool {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err == nil {
		fields[FieldWidth] = float64(cfg.Width)
		fields[FieldHeight] = float64(cfg.Height)
		fields[FieldFormat] = format
		return true
	}

	e.log.Debug().Err(err).Int("bytes", len(raw)).Msg("container decode failed")
	if len(raw) == 0 {
		return false
	}
	mimeType := http.DetectContentType(raw)
	if strings.HasPrefix(mimeType, "image/") {
		fields[FieldFormat] = strings.TrimPrefix(mimeType, "image/")
	}
	return false
}

// embeddedTags reports false only when EXIF data was found but could not
// be decoded completely. Absence of EXIF is not a degradation.
func (e *Extractor) embeddedTags(raw []byte, fields Fields) bool {
	x, err := exif.Decode(bytes.NewReader(raw))
	if x == nil {
		if err != nil && isCorruptExif(err) {
			e.log.Debug().Err(err).Msg("exif decode failed")
			return false
		}
		return true
	}
	healthy := err == nil || !exif.IsCriticalError(err)

	if s, ok := stringTag(x, exif.Make); ok {
		fields[FieldMake] = s
	}
	if s, ok := stringTag(x, exif.Model); ok {
		fields[FieldModel] = s
	}
	if s, ok := stringTag(x, exif.LensModel); ok {
		fields[FieldLens] = s
	}
	if f, ok := ratTag(x, exif.FocalLength); ok {
		fields[FieldFocalLength] = round(f, 2)
	}
	if f, ok := ratTag(x, exif.FNumber); ok {
		fields[FieldAperture] = round(f, 2)
	}
	if f, ok := ratTag(x, exif.ExposureTime); ok && f > 0 {
		fields[FieldExposureTime] = FormatExposure(f)
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil {
			fields[FieldISO] = float64(iso)
		}
	}
	if t, err := x.DateTime(); err == nil {
		fields[FieldCaptureDate] = FormatTime(wallClock(t))
	}
	if lat, long, err := x.LatLong(); err == nil && !math.IsNaN(lat) && !math.IsNaN(long) {
		fields[FieldGPSLatitude] = round(lat, 6)
		fields[FieldGPSLongitude] = round(long, 6)
	}
	return healthy
}

// wallClock keeps the recorded wall time of a zone-less EXIF timestamp,
// which the decoder places in the process-local zone.
func wallClock(t time.Time) time.Time {
	if t.Location() != time.Local {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// isCorruptExif separates a located-but-undecodable EXIF block from a
// container that simply carries none.
func isCorruptExif(err error) bool {
	return strings.Contains(err.Error(), "decode failed")
}

func stringTag(x *exif.Exif, name exif.FieldName) (string, bool) {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.StringVal {
		return "", false
	}
	s, err := tag.StringVal()
	if err != nil {
		return "", false
	}
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	return s, s != ""
}

func ratTag(x *exif.Exif, name exif.FieldName) (float64, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0, false
	}
	return float64(num) / float64(den), true
}

// FormatExposure renders an exposure time in seconds. Sub-second values
// become a 1/N fraction (0.004 -> "1/250").
func FormatExposure(seconds float64) string {
	if seconds <= 0 {
		return "0"
	}
	if seconds < 1 {
		return fmt.Sprintf("1/%d", int64(math.Round(1/seconds)))
	}
	return strconv.FormatFloat(round(seconds, 2), 'f', -1, 64)
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
