package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/synesthesie/imagemeta/internal/apperr"
	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/pkg/validation"
)

// TagsField is the reserved filter key addressing basic.tags.
const TagsField = "tags"

const dateLayout = "2006-01-02"

var (
	// TagsPath is the document path of the tag list.
	TagsPath = metadata.Path{metadata.SectionBasic, metadata.BasicTags}
	// CaptureDatePath is the document path bounded by a date range.
	CaptureDatePath = metadata.Path{metadata.SectionCamera, metadata.FieldCaptureDate}
	// TextPaths are searched by the free text clause. Tags are matched
	// element-wise.
	TextPaths = []metadata.Path{
		{metadata.SectionBasic, metadata.BasicTitle},
		{metadata.SectionBasic, metadata.BasicDescription},
	}
)

// DateRange bounds camera.captureDate. Both ends are inclusive days.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Scope restricts which assets a search may see. With an OwnerID the
// caller sees their own assets and every public one, otherwise only public
// assets.
type Scope struct {
	OwnerID  string `json:"ownerId,omitempty"`
	IsPublic bool   `json:"isPublic,omitempty"`
}

// Request is a structured search request.
type Request struct {
	Text      string         `json:"text,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	DateRange *DateRange     `json:"dateRange,omitempty"`
	Scope     Scope          `json:"scope"`
}

// Op is the kind of a Clause.
type Op string

const (
	OpEqual Op = "eq"
	OpIn    Op = "in"
	OpRange Op = "range"
	OpText  Op = "text"
)

// Clause is one predicate of a Filter. Which fields are set depends on Op:
//
//	eq:    Path, Value
//	in:    Path, Values (matches when the value, or any element of a list
//	       value, equals one of Values)
//	range: Path, Gte and/or Lt (string bounds, Gte inclusive, Lt exclusive)
//	text:  Text (lower-cased)
type Clause struct {
	Op     Op            `json:"op"`
	Path   metadata.Path `json:"path,omitempty"`
	Value  any           `json:"value,omitempty"`
	Values []any         `json:"values,omitempty"`
	Gte    string        `json:"gte,omitempty"`
	Lt     string        `json:"lt,omitempty"`
	Text   string        `json:"text,omitempty"`
}

// Filter is a compiled request. All clauses must hold and Scope is always
// applied.
type Filter struct {
	Clauses []Clause    `json:"clauses"`
	Scope   FilterScope `json:"scope"`
}

// FilterScope is the compiled form of Scope.
type FilterScope struct {
	OwnerID string `json:"ownerId,omitempty"`
}

// PublicOnly reports whether only public assets are visible.
func (s FilterScope) PublicOnly() bool { return s.OwnerID == "" }

// Build compiles req. Clauses are ordered text first, then field clauses
// sorted by path, then the date range, so equal requests compile to equal
// filters.
func Build(req Request) (Filter, error) {
	f := Filter{
		Clauses: []Clause{},
		Scope:   FilterScope{OwnerID: strings.TrimSpace(req.Scope.OwnerID)},
	}

	if text := strings.TrimSpace(req.Text); text != "" {
		f.Clauses = append(f.Clauses, Clause{Op: OpText, Text: strings.ToLower(text)})
	}

	keys := make([]string, 0, len(req.Fields))
	for key := range req.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fieldClauses := make([]Clause, 0, len(keys))
	for _, key := range keys {
		c, err := fieldClause(key, req.Fields[key])
		if err != nil {
			return Filter{}, err
		}
		fieldClauses = append(fieldClauses, c)
	}
	sort.SliceStable(fieldClauses, func(i, j int) bool {
		return fieldClauses[i].Path.String() < fieldClauses[j].Path.String()
	})
	f.Clauses = append(f.Clauses, fieldClauses...)

	if req.DateRange != nil {
		c, ok, err := dateClause(*req.DateRange)
		if err != nil {
			return Filter{}, err
		}
		if ok {
			f.Clauses = append(f.Clauses, c)
		}
	}
	return f, nil
}

// fieldClause rejects malformed keys. A well-formed key naming a field no
// document has is valid and simply matches nothing.
func fieldClause(key string, raw any) (Clause, error) {
	if !validation.ValidateFieldPath(key) {
		return Clause{}, apperr.InvalidRequest.New("field %q: malformed path", key)
	}
	path := metadata.ParsePath(key)

	value := metadata.Canonicalize(raw)
	if key == TagsField {
		if list, ok := value.([]any); ok {
			return Clause{Op: OpIn, Path: TagsPath, Values: list}, nil
		}
		return Clause{Op: OpIn, Path: TagsPath, Values: []any{value}}, nil
	}

	switch path[0] {
	case metadata.SectionBasic, metadata.SectionCamera, metadata.SectionCustom:
	default:
		path = append(metadata.Path{metadata.SectionCustom}, path...)
	}

	switch v := value.(type) {
	case []any:
		return Clause{Op: OpIn, Path: path, Values: v}, nil
	case map[string]any:
		return Clause{}, apperr.InvalidRequest.New("field %q: object values are not supported", key)
	default:
		return Clause{Op: OpEqual, Path: path, Value: v}, nil
	}
}

// dateClause turns an inclusive day range into [from, to+1day). An empty
// range yields no clause.
func dateClause(r DateRange) (Clause, bool, error) {
	c := Clause{Op: OpRange, Path: CaptureDatePath}
	var from, to time.Time
	var err error

	if strings.TrimSpace(r.From) != "" {
		if from, err = parseBound(r.From); err != nil {
			return Clause{}, false, apperr.InvalidRequest.New("dateRange.from: %v", err)
		}
		c.Gte = metadata.FormatTime(from)
	}
	if strings.TrimSpace(r.To) != "" {
		if to, err = parseBound(r.To); err != nil {
			return Clause{}, false, apperr.InvalidRequest.New("dateRange.to: %v", err)
		}
		c.Lt = metadata.FormatTime(to.AddDate(0, 0, 1))
	}
	if c.Gte == "" && c.Lt == "" {
		return Clause{}, false, nil
	}
	if c.Gte != "" && c.Lt != "" && from.After(to) {
		return Clause{}, false, apperr.InvalidRequest.New("dateRange.from is after dateRange.to")
	}
	return c, true, nil
}

// parseBound accepts a plain date or an RFC 3339 timestamp and truncates it
// to the start of its UTC day.
func parseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// CacheKey derives the cache key of a filter queried for one page. The
// filter's canonical JSON is hashed so keys stay short.
func CacheKey(kind string, f Filter, page Page) string {
	b, err := json.Marshal(struct {
		Filter Filter `json:"f"`
		Page   Page   `json:"p"`
	}{f, page})
	if err != nil {
		b = []byte(fmt.Sprintf("%#v|%#v", f, page))
	}
	sum := sha256.Sum256(b)
	return kind + ":" + hex.EncodeToString(sum[:])
}
