package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Section names of a Document.
const (
	SectionBasic  = "basic"
	SectionCamera = "camera"
	SectionCustom = "custom"
)

// TimeLayout is the canonical string form of every timestamp stored in a
// document. All values are UTC, so lexical and chronological order agree.
const TimeLayout = "2006-01-02T15:04:05Z"

// Document is the canonical sectioned metadata tree of an asset.
// Values are restricted to string, float64, bool, nil, []any and
// map[string]any; use Canonicalize to bring foreign values into that shape.
type Document map[string]any

// NewDocument returns a document with an empty basic section.
func NewDocument() Document {
	return Document{SectionBasic: map[string]any{}}
}

// Section returns the named section, or nil when it is absent or not an object.
func (d Document) Section(name string) map[string]any {
	s, _ := d[name].(map[string]any)
	return s
}

// Basic returns the basic section, creating it when missing.
func (d Document) Basic() map[string]any {
	if s := d.Section(SectionBasic); s != nil {
		return s
	}
	s := map[string]any{}
	d[SectionBasic] = s
	return s
}

// Lookup resolves a path against the document tree.
func (d Document) Lookup(p Path) (any, bool) {
	return lookup(map[string]any(d), p)
}

func lookup(node any, p Path) (any, bool) {
	for _, seg := range p {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return t
	}
}

// Equal reports deep value equality of two documents.
func (d Document) Equal(other Document) bool {
	return ValuesEqual(map[string]any(d), map[string]any(other))
}

// ValuesEqual compares two canonical values. Key order is irrelevant.
func ValuesEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !ValuesEqual(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64:
		bv, ok := b.(float64)
		return ok && (av == bv || (math.IsNaN(av) && math.IsNaN(bv)))
	default:
		return a == b
	}
}

// Canonicalize converts v into the canonical value shape. Integers become
// float64, times become TimeLayout strings, typed slices and maps become
// []any and map[string]any. Unsupported kinds are rendered with fmt.
func Canonicalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case Document:
		return Canonicalize(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Canonicalize(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Canonicalize(child)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case time.Time:
		return FormatTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return FormatTime(*t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Canonicalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Canonicalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Canonicalize(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

// CanonicalDocument canonicalizes every value of m into a new Document.
func CanonicalDocument(m map[string]any) Document {
	if m == nil {
		return NewDocument()
	}
	return Document(Canonicalize(m).(map[string]any))
}

// FormatTime renders t in the canonical document layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses the canonical layout, RFC 3339 and plain dates.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

// MergePatch applies an RFC 7386 merge patch to a copy of doc. Objects are
// merged recursively, null removes a key, any other value replaces.
func MergePatch(doc Document, patch map[string]any) Document {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	if patch == nil {
		return out
	}
	mergeInto(map[string]any(out), Canonicalize(patch).(map[string]any))
	return out
}

func mergeInto(target, patch map[string]any) {
	for k, pv := range patch {
		if pv == nil {
			delete(target, k)
			continue
		}
		pm, isObj := pv.(map[string]any)
		if !isObj {
			target[k] = pv
			continue
		}
		tm, ok := target[k].(map[string]any)
		if !ok {
			tm = map[string]any{}
			target[k] = tm
		}
		mergeInto(tm, pm)
	}
}

// Path is a parsed dotted field path such as camera.model.
type Path []string

// ParsePath splits a dotted path, dropping empty segments.
func ParsePath(s string) Path {
	var p Path
	for _, seg := range strings.Split(s, ".") {
		if seg = strings.TrimSpace(seg); seg != "" {
			p = append(p, seg)
		}
	}
	return p
}

// String joins the path with dots.
func (p Path) String() string { return strings.Join(p, ".") }
