package metadata

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// ifdEntry is one little-endian TIFF directory entry.
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: 2, count: uint32(len(b)), data: b}
}

func shortEntry(tag uint16, v uint16) ifdEntry {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return ifdEntry{tag: tag, typ: 3, count: 1, data: b}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return ifdEntry{tag: tag, typ: 4, count: 1, data: b}
}

func ratEntry(tag uint16, pairs ...uint32) ifdEntry {
	b := make([]byte, 4*len(pairs))
	for i, v := range pairs {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return ifdEntry{tag: tag, typ: 5, count: uint32(len(pairs) / 2), data: b}
}

// encodeIFD lays out a directory starting at offset, followed by the values
// that do not fit into an entry.
func encodeIFD(offset uint32, entries []ifdEntry) []byte {
	head := 2 + 12*len(entries) + 4
	var dir, extra bytes.Buffer
	_ = binary.Write(&dir, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&dir, binary.LittleEndian, e.tag)
		_ = binary.Write(&dir, binary.LittleEndian, e.typ)
		_ = binary.Write(&dir, binary.LittleEndian, e.count)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			dir.Write(v)
			continue
		}
		_ = binary.Write(&dir, binary.LittleEndian, offset+uint32(head+extra.Len()))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	_ = binary.Write(&dir, binary.LittleEndian, uint32(0))
	return append(dir.Bytes(), extra.Bytes()...)
}

// exifSegment builds a JPEG APP1 segment carrying camera, exposure and GPS tags.
func exifSegment() []byte {
	exifIFD := []ifdEntry{
		ratEntry(0x829A, 1, 250), // ExposureTime
		ratEntry(0x829D, 28, 10), // FNumber
		shortEntry(0x8827, 400),  // ISOSpeedRatings
		asciiEntry(0x9003, "2024:01:01 10:30:00"),
		ratEntry(0x920A, 50, 1), // FocalLength
	}
	gpsIFD := []ifdEntry{
		asciiEntry(0x0001, "N"),
		ratEntry(0x0002, 52, 1, 30, 1, 0, 1),
		asciiEntry(0x0003, "E"),
		ratEntry(0x0004, 13, 1, 24, 1, 0, 1),
	}
	ifd0 := func(exifAt, gpsAt uint32) []ifdEntry {
		return []ifdEntry{
			asciiEntry(0x010F, "Canon"),
			asciiEntry(0x0110, "EOS R5"),
			longEntry(0x8769, exifAt),
			longEntry(0x8825, gpsAt),
		}
	}

	ifd0Len := uint32(len(encodeIFD(8, ifd0(0, 0))))
	exifAt := 8 + ifd0Len
	exifBytes := encodeIFD(exifAt, exifIFD)
	gpsAt := exifAt + uint32(len(exifBytes))

	var tiffData bytes.Buffer
	tiffData.WriteString("II")
	_ = binary.Write(&tiffData, binary.LittleEndian, uint16(42))
	_ = binary.Write(&tiffData, binary.LittleEndian, uint32(8))
	tiffData.Write(encodeIFD(8, ifd0(exifAt, gpsAt)))
	tiffData.Write(exifBytes)
	tiffData.Write(encodeIFD(gpsAt, gpsIFD))

	payload := append([]byte("Exif\x00\x00"), tiffData.Bytes()...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

func withExif(jpg, segment []byte) []byte {
	out := append([]byte{}, jpg[:2]...)
	out = append(out, segment...)
	return append(out, jpg[2:]...)
}

func TestExtract_PNGWithoutEmbeddedTags(t *testing.T) {
	raw := testPNG(t, 5, 7)

	got := NewExtractor(zerolog.Nop()).Extract(raw)

	assert.False(t, got.Degraded)
	assert.Equal(t, Fields{
		FieldWidth:  float64(5),
		FieldHeight: float64(7),
		FieldFormat: "png",
		FieldSize:   float64(len(raw)),
	}, got.Fields)

	doc := Normalize(got.Fields, UserFields{})
	assert.Nil(t, doc.Section(SectionCamera))
}

func TestExtract_JPEGWithExif(t *testing.T) {
	raw := withExif(testJPEG(t, 16, 8), exifSegment())

	got := NewExtractor(zerolog.Nop()).Extract(raw)

	require.False(t, got.Degraded)
	f := got.Fields
	assert.Equal(t, float64(16), f[FieldWidth])
	assert.Equal(t, float64(8), f[FieldHeight])
	assert.Equal(t, "jpeg", f[FieldFormat])
	assert.Equal(t, "Canon", f[FieldMake])
	assert.Equal(t, "EOS R5", f[FieldModel])
	assert.Equal(t, "1/250", f[FieldExposureTime])
	assert.Equal(t, 2.8, f[FieldAperture])
	assert.Equal(t, float64(50), f[FieldFocalLength])
	assert.Equal(t, float64(400), f[FieldISO])
	assert.Equal(t, "2024-01-01T10:30:00Z", f[FieldCaptureDate])
	assert.Equal(t, 52.5, f[FieldGPSLatitude])
	assert.Equal(t, 13.4, f[FieldGPSLongitude])
	assert.NotContains(t, f, FieldLens)
}

func TestExtract_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "text", raw: []byte("definitely not an image")},
		{name: "truncated png", raw: testPNG(t, 4, 4)[:20]},
		{name: "jpeg header only", raw: []byte{0xFF, 0xD8, 0xFF, 0xE1, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Extraction
			require.NotPanics(t, func() {
				got = NewExtractor(zerolog.Nop()).Extract(tt.raw)
			})
			assert.True(t, got.Degraded)
			assert.Equal(t, float64(len(tt.raw)), got.Fields[FieldSize])
			assert.NotContains(t, got.Fields, FieldWidth)
		})
	}
}

func TestExtract_CorruptExifKeepsContainerFacts(t *testing.T) {
	seg := exifSegment()
	// Break the TIFF byte order marker.
	copy(seg[10:12], "XX")
	raw := withExif(testJPEG(t, 3, 3), seg)

	got := NewExtractor(zerolog.Nop()).Extract(raw)

	assert.True(t, got.Degraded)
	assert.Equal(t, float64(3), got.Fields[FieldWidth])
	assert.NotContains(t, got.Fields, FieldMake)
}

func TestFormatExposure(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0.004, "1/250"},
		{1.0 / 60, "1/60"},
		{0.5, "1/2"},
		{1, "1"},
		{2.5, "2.5"},
		{0, "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatExposure(tt.seconds), "seconds=%v", tt.seconds)
	}
}
