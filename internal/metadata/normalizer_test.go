package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synesthesie/imagemeta/internal/apperr"
)

func TestNormalize_Sections(t *testing.T) {
	extracted := Fields{
		FieldWidth:        4000,
		FieldHeight:       3000,
		FieldFormat:       "jpeg",
		FieldSize:         int64(123456),
		FieldMake:         "Canon",
		FieldModel:        "EOS R5",
		FieldGPSLatitude:  52.5,
		FieldGPSLongitude: 13.4,
	}
	user := UserFields{
		Title:       "  Sunset\x00 ",
		Description: "over the lake",
		Tags:        []string{" beach", "sunset", "beach", ""},
		Custom:      map[string]any{"album": "summer", "rating": 5},
	}

	doc := Normalize(extracted, user)

	assert.Equal(t, map[string]any{
		"title":       "Sunset",
		"description": "over the lake",
		"tags":        []any{"beach", "sunset"},
		"width":       float64(4000),
		"height":      float64(3000),
		"format":      "jpeg",
		"size":        float64(123456),
	}, doc.Section(SectionBasic))
	assert.Equal(t, map[string]any{
		"make":  "Canon",
		"model": "EOS R5",
		"location": map[string]any{
			"latitude":  52.5,
			"longitude": 13.4,
		},
	}, doc.Section(SectionCamera))
	assert.Equal(t, map[string]any{"album": "summer", "rating": float64(5)}, doc.Section(SectionCustom))

	// inputs are left alone
	assert.Equal(t, 4000, extracted[FieldWidth])
	assert.Equal(t, 5, user.Custom["rating"])
}

func TestNormalize_CameraAbsentWithoutCameraFields(t *testing.T) {
	doc := Normalize(Fields{FieldWidth: 1.0, FieldHeight: 1.0, FieldFormat: "png", FieldSize: 10.0}, UserFields{})

	require.NotNil(t, doc.Section(SectionBasic))
	assert.NotContains(t, doc, SectionCamera)
	assert.NotContains(t, doc, SectionCustom)
	assert.Equal(t, []any{}, doc.Section(SectionBasic)[BasicTags])
}

func TestNormalize_HalfGPSIsDropped(t *testing.T) {
	doc := Normalize(Fields{FieldGPSLatitude: 1.0}, UserFields{})
	assert.NotContains(t, doc, SectionCamera)
}

func TestNormalize_Idempotent(t *testing.T) {
	tests := []struct {
		name      string
		extracted Fields
		user      UserFields
	}{
		{name: "empty"},
		{
			name:      "container only",
			extracted: Fields{FieldWidth: 5.0, FieldHeight: 7.0, FieldFormat: "png", FieldSize: 99.0},
		},
		{
			name: "full",
			extracted: Fields{
				FieldWidth: 10.0, FieldHeight: 20.0, FieldFormat: "jpeg", FieldSize: 1.0,
				FieldMake: "Nikon", FieldModel: "Z6", FieldLens: "24-70", FieldFocalLength: 35.0,
				FieldAperture: 4.0, FieldExposureTime: "1/125", FieldISO: 200.0,
				FieldCaptureDate: "2024-05-01T12:00:00Z", FieldGPSLatitude: 1.5, FieldGPSLongitude: -2.5,
			},
			user: UserFields{
				Title: "t", Description: "d", Tags: []string{"a", "b"},
				Custom: map[string]any{"nested": map[string]any{"k": []any{1.0, "x"}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Normalize(tt.extracted, tt.user)
			again := Normalize(Decompose(doc))
			assert.True(t, doc.Equal(again), "normalize(decompose(d)) = %v, want %v", again, doc)
		})
	}
}

func TestStrip(t *testing.T) {
	doc := Normalize(
		Fields{FieldFormat: "jpeg", FieldMake: "Canon"},
		UserFields{Title: "kept", Custom: map[string]any{"k": "v"}},
	)

	stripped := Strip(doc)

	assert.Equal(t, []string{SectionBasic}, keys(stripped))
	assert.Equal(t, "kept", stripped.Section(SectionBasic)[BasicTitle])
	stripped.Basic()[BasicTitle] = "changed"
	assert.Equal(t, "kept", doc.Section(SectionBasic)[BasicTitle])
}

func TestConform(t *testing.T) {
	doc, err := Conform(Document{
		SectionCamera: map[string]any{},
		SectionCustom: "not an object",
		"extra":       1,
	})
	require.NoError(t, err)

	assert.Equal(t, Document{
		SectionBasic: map[string]any{
			BasicTitle:       "",
			BasicDescription: "",
			BasicTags:        []any{},
		},
		"extra": float64(1),
	}, doc)
}

func TestConform_CaptureDate(t *testing.T) {
	for input, want := range map[string]string{
		"2024-01-01":                "2024-01-01T00:00:00Z",
		"2024-01-02T00:00:00.5Z":    "2024-01-02T00:00:00Z",
		"2024-01-01T23:30:00-05:00": "2024-01-02T04:30:00Z",
		"2024-01-01T10:30:00":       "2024-01-01T10:30:00Z",
	} {
		doc, err := Conform(Document{SectionCamera: map[string]any{FieldCaptureDate: input}})
		require.NoError(t, err, input)
		assert.Equal(t, want, doc.Section(SectionCamera)[FieldCaptureDate], input)
	}
}

func TestConform_InvalidValues(t *testing.T) {
	for name, doc := range map[string]Document{
		"numeric title":        {SectionBasic: map[string]any{BasicTitle: 5}},
		"object description":   {SectionBasic: map[string]any{BasicDescription: map[string]any{"a": 1}}},
		"unparseable date":     {SectionCamera: map[string]any{FieldCaptureDate: "last tuesday"}},
		"numeric capture date": {SectionCamera: map[string]any{FieldCaptureDate: 20240101}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Conform(doc)
			require.Error(t, err)
			assert.True(t, apperr.InvalidRequest.Has(err))
		})
	}
}

func keys(d Document) []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	return out
}
