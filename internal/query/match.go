package query

import (
	"strings"

	"github.com/synesthesie/imagemeta/internal/metadata"
)

// Target is what a Filter is evaluated against in memory.
type Target struct {
	OwnerID  string
	IsPublic bool
	Document metadata.Document
}

// Matches evaluates the filter against one asset.
func (f Filter) Matches(t Target) bool {
	if !f.Scope.Allows(t.OwnerID, t.IsPublic) {
		return false
	}
	for _, c := range f.Clauses {
		if !c.Matches(t.Document) {
			return false
		}
	}
	return true
}

// Allows reports whether an asset with the given owner and visibility is
// inside the scope.
func (s FilterScope) Allows(ownerID string, isPublic bool) bool {
	if isPublic {
		return true
	}
	return s.OwnerID != "" && s.OwnerID == ownerID
}

// Matches evaluates a single clause. Paths that do not resolve never match.
func (c Clause) Matches(doc metadata.Document) bool {
	switch c.Op {
	case OpText:
		return matchText(doc, c.Text)
	case OpEqual:
		v, ok := doc.Lookup(c.Path)
		return ok && isScalar(v) && metadata.ValuesEqual(v, c.Value)
	case OpIn:
		v, ok := doc.Lookup(c.Path)
		if !ok {
			return false
		}
		if list, isList := v.([]any); isList {
			for _, item := range list {
				if isScalar(item) && contains(c.Values, item) {
					return true
				}
			}
			return false
		}
		return isScalar(v) && contains(c.Values, v)
	case OpRange:
		v, ok := doc.Lookup(c.Path)
		s, isString := v.(string)
		if !ok || !isString {
			return false
		}
		if c.Gte != "" && s < c.Gte {
			return false
		}
		if c.Lt != "" && s >= c.Lt {
			return false
		}
		return true
	}
	return false
}

func matchText(doc metadata.Document, needle string) bool {
	needle = strings.ToLower(needle)
	for _, p := range TextPaths {
		if s, ok := lookupString(doc, p); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	tags, _ := doc.Lookup(TagsPath)
	list, _ := tags.([]any)
	for _, item := range list {
		if s, ok := item.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func lookupString(doc metadata.Document, p metadata.Path) (string, bool) {
	v, ok := doc.Lookup(p)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func contains(values []any, v any) bool {
	for _, candidate := range values {
		if metadata.ValuesEqual(candidate, v) {
			return true
		}
	}
	return false
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return true
}
