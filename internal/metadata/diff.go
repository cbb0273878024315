package metadata

import (
	"sort"
)

// ChangeKind classifies one entry of a Delta.
type ChangeKind string

const (
	Added     ChangeKind = "added"
	Removed   ChangeKind = "removed"
	Changed   ChangeKind = "changed"
	Unchanged ChangeKind = "unchanged"
)

// Change describes how the value at Path differs between two documents.
// From is nil for Added, To is nil for Removed. A stored null is also nil,
// so Kind tells the two apart.
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	From any        `json:"from"`
	To   any        `json:"to"`
}

// Delta is a list of changes ordered by path.
type Delta []Change

// DiffOptions tunes Diff.
type DiffOptions struct {
	IncludeUnchanged bool
}

// Diff walks both trees key by key. Objects present on both sides are
// descended into; any other pair is compared by deep value equality, so
// lists are compared as a whole.
func Diff(a, b Document, opts DiffOptions) Delta {
	delta := Delta{}
	diffNode(nil, map[string]any(a), map[string]any(b), opts, &delta)
	sort.SliceStable(delta, func(i, j int) bool { return delta[i].Path < delta[j].Path })
	return delta
}

func diffNode(prefix Path, a, b map[string]any, opts DiffOptions, out *Delta) {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	for k := range keys {
		p := append(append(Path{}, prefix...), k)
		av, inA := a[k]
		bv, inB := b[k]
		switch {
		case !inA:
			*out = append(*out, Change{Path: p.String(), Kind: Added, To: bv})
		case !inB:
			*out = append(*out, Change{Path: p.String(), Kind: Removed, From: av})
		default:
			am, aObj := av.(map[string]any)
			bm, bObj := bv.(map[string]any)
			if aObj && bObj {
				diffNode(p, am, bm, opts, out)
				continue
			}
			if ValuesEqual(av, bv) {
				if opts.IncludeUnchanged {
					*out = append(*out, Change{Path: p.String(), Kind: Unchanged, From: av, To: bv})
				}
				continue
			}
			*out = append(*out, Change{Path: p.String(), Kind: Changed, From: av, To: bv})
		}
	}
}

// Count returns the number of changes of the given kind.
func (d Delta) Count(kind ChangeKind) int {
	n := 0
	for _, c := range d {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Empty reports whether the delta holds no differences.
func (d Delta) Empty() bool {
	for _, c := range d {
		if c.Kind != Unchanged {
			return false
		}
	}
	return true
}
