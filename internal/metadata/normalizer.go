package metadata

import (
	"fmt"

	"github.com/synesthesie/imagemeta/internal/apperr"
	"github.com/synesthesie/imagemeta/pkg/validation"
)

// Keys of the basic section.
const (
	BasicTitle       = "title"
	BasicDescription = "description"
	BasicTags        = "tags"
)

// Keys of the camera section that are not copied one-to-one from Fields.
const (
	CameraLocation  = "location"
	CameraLatitude  = "latitude"
	CameraLongitude = "longitude"
)

// containerKeys are extractor fields that land in the basic section.
var containerKeys = []string{FieldWidth, FieldHeight, FieldFormat, FieldSize}

// cameraKeys are extractor fields that land in the camera section under the
// same name. GPS coordinates are handled separately.
var cameraKeys = []string{
	FieldMake, FieldModel, FieldLens, FieldFocalLength, FieldAperture,
	FieldExposureTime, FieldISO, FieldCaptureDate,
}

// UserFields are the caller-supplied parts of a document.
type UserFields struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// Normalize maps extracted fields and user fields into a canonical
// Document. It is pure: neither argument is modified or retained.
func Normalize(extracted Fields, user UserFields) Document {
	basic := map[string]any{
		BasicTitle:       validation.SanitizeString(user.Title),
		BasicDescription: validation.SanitizeString(user.Description),
		BasicTags:        Canonicalize(validation.NormalizeTags(user.Tags)),
	}
	for _, k := range containerKeys {
		if v, ok := extracted[k]; ok {
			basic[k] = Canonicalize(v)
		}
	}
	doc := Document{SectionBasic: basic}

	camera := map[string]any{}
	for _, k := range cameraKeys {
		if v, ok := extracted[k]; ok {
			camera[k] = Canonicalize(v)
		}
	}
	lat, hasLat := extracted[FieldGPSLatitude]
	long, hasLong := extracted[FieldGPSLongitude]
	if hasLat && hasLong {
		camera[CameraLocation] = map[string]any{
			CameraLatitude:  Canonicalize(lat),
			CameraLongitude: Canonicalize(long),
		}
	}
	if len(camera) > 0 {
		doc[SectionCamera] = camera
	}

	if len(user.Custom) > 0 {
		doc[SectionCustom] = Canonicalize(user.Custom)
	}
	return doc
}

// Strip discards the camera and custom sections, keeping basic.
func Strip(doc Document) Document {
	basic, _ := cloneValue(doc.Section(SectionBasic)).(map[string]any)
	if basic == nil {
		basic = map[string]any{}
	}
	return Document{SectionBasic: basic}
}

// Decompose splits a normalized document back into the inputs of
// Normalize, so that Normalize(Decompose(d)) equals d for any d produced by
// Normalize. Keys of basic and camera that Normalize does not produce are
// not carried over, and an empty custom section is dropped.
func Decompose(doc Document) (Fields, UserFields) {
	fields := Fields{}
	var user UserFields

	basic := doc.Section(SectionBasic)
	user.Title, _ = basic[BasicTitle].(string)
	user.Description, _ = basic[BasicDescription].(string)
	user.Tags = stringList(basic[BasicTags])
	for _, k := range containerKeys {
		if v, ok := basic[k]; ok {
			fields[k] = v
		}
	}

	camera := doc.Section(SectionCamera)
	for _, k := range cameraKeys {
		if v, ok := camera[k]; ok {
			fields[k] = v
		}
	}
	if loc, ok := camera[CameraLocation].(map[string]any); ok {
		lat, hasLat := loc[CameraLatitude]
		long, hasLong := loc[CameraLongitude]
		if hasLat && hasLong {
			fields[FieldGPSLatitude] = lat
			fields[FieldGPSLongitude] = long
		}
	}

	if custom := doc.Section(SectionCustom); len(custom) > 0 {
		user.Custom, _ = cloneValue(custom).(map[string]any)
	}
	return fields, user
}

// Conform restores the invariants Normalize guarantees on a document that
// was produced by other means, e.g. a merge patch: values are canonical,
// basic exists with title, description and a normalized tag list, and the
// capture date uses the canonical time layout. A title or description that
// is not a string, or a capture date that does not parse, is an
// InvalidRequest.
func Conform(doc Document) (Document, error) {
	out := CanonicalDocument(map[string]any(doc))
	basic := out.Basic()
	for _, key := range []string{BasicTitle, BasicDescription} {
		s, err := optionalString(basic, key)
		if err != nil {
			return nil, apperr.InvalidRequest.New("basic.%s: %v", key, err)
		}
		basic[key] = validation.SanitizeString(s)
	}
	basic[BasicTags] = Canonicalize(validation.NormalizeTags(stringList(basic[BasicTags])))

	if camera, ok := out[SectionCamera].(map[string]any); ok {
		if v, present := camera[FieldCaptureDate]; present {
			s, isString := v.(string)
			if !isString {
				return nil, apperr.InvalidRequest.New("camera.%s: must be a string", FieldCaptureDate)
			}
			t, err := ParseTime(s)
			if err != nil {
				return nil, apperr.InvalidRequest.New("camera.%s: %v", FieldCaptureDate, err)
			}
			camera[FieldCaptureDate] = FormatTime(t)
		}
	}

	for _, section := range []string{SectionCamera, SectionCustom} {
		if s, ok := out[section]; ok {
			if m, isObj := s.(map[string]any); !isObj || len(m) == 0 {
				delete(out, section)
			}
		}
	}
	return out, nil
}

// optionalString returns m[key] when it is a string and "" when it is
// absent.
func optionalString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, isString := v.(string)
	if !isString {
		return "", fmt.Errorf("must be a string, got %T", v)
	}
	return s, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case string:
		return []string{t}
	}
	return nil
}
