package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/query"
)

func TestFilterSQL_PlaceholdersMatchArgs(t *testing.T) {
	req := query.Request{
		Text: "sun",
		Fields: map[string]any{
			"camera.make": "Canon",
			"tags":        []any{"a", "b"},
			"rating":      5,
		},
		DateRange: &query.DateRange{From: "2024-01-01", To: "2024-01-31"},
		Scope:     query.Scope{OwnerID: "u1"},
	}
	f, err := query.Build(req)
	require.NoError(t, err)

	for _, dialect := range []string{dialectPostgres, dialectSQLite} {
		t.Run(dialect, func(t *testing.T) {
			cond := filterSQL(dialect, f)
			assert.Equal(t, strings.Count(cond.sql, "?"), len(cond.args))
			assert.True(t, strings.HasPrefix(cond.sql, "(owner_id = ? OR visibility = ?)"))
			assert.Equal(t, []any{"u1", models.AssetVisibilityPublic}, cond.args[:2])
		})
	}
}

func TestScopeSQL_PublicOnly(t *testing.T) {
	cond := scopeSQL(query.FilterScope{})
	assert.Equal(t, "visibility = ?", cond.sql)
	assert.Equal(t, []any{models.AssetVisibilityPublic}, cond.args)
}

func TestPostgresClause_Containment(t *testing.T) {
	eq := postgresClause(query.Clause{Op: query.OpEqual, Path: metadata.Path{"camera", "make"}, Value: "Canon"})
	assert.Equal(t, "document @> ?::jsonb", eq.sql)
	assert.Equal(t, []any{`{"camera":{"make":"Canon"}}`}, eq.args)

	in := postgresClause(query.Clause{Op: query.OpIn, Path: query.TagsPath, Values: []any{"x"}})
	assert.Equal(t, "document @> ?::jsonb OR document @> ?::jsonb", in.sql)
	assert.Equal(t, []any{`{"basic":{"tags":"x"}}`, `{"basic":{"tags":["x"]}}`}, in.args)

	empty := postgresClause(query.Clause{Op: query.OpIn, Path: query.TagsPath})
	assert.Equal(t, matchNothing, empty.sql)
}

func TestPostgresClause_Range(t *testing.T) {
	c := postgresClause(query.Clause{Op: query.OpRange, Path: query.CaptureDatePath, Gte: "2024-01-01T00:00:00Z"})
	assert.Contains(t, c.sql, "jsonb_typeof(jsonb_extract_path(document, ?, ?)) = 'string'")
	assert.Contains(t, c.sql, "jsonb_extract_path_text(document, ?, ?) >= ?")
	assert.NotContains(t, c.sql, "<")
	assert.Equal(t, []any{"camera", "captureDate", "camera", "captureDate", "2024-01-01T00:00:00Z"}, c.args)
}

func TestSQLitePath(t *testing.T) {
	p, ok := sqlitePath(metadata.Path{"custom", "a.b", "c d"})
	require.True(t, ok)
	assert.Equal(t, `$."custom"."a.b"."c d"`, p)

	_, ok = sqlitePath(metadata.Path{"custom", `x"y`})
	assert.False(t, ok)

	c := sqliteClause(query.Clause{Op: query.OpEqual, Path: metadata.Path{"custom", `x"y`}, Value: "v"})
	assert.Equal(t, matchNothing, c.sql)
}

func TestSQLiteTyped(t *testing.T) {
	tests := []struct {
		value any
		sql   string
		args  int
	}{
		{nil, "t = 'null'", 0},
		{true, "t = 'true'", 0},
		{false, "t = 'false'", 0},
		{5.0, "t IN ('integer', 'real') AND v = ?", 1},
		{"x", "t = 'text' AND v = ?", 1},
		{map[string]any{}, matchNothing, 0},
	}
	for _, tt := range tests {
		c := sqliteTyped("t", "v", tt.value)
		assert.Equal(t, tt.sql, c.sql)
		assert.Len(t, c.args, tt.args)
	}
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%a\%b\_c\\d%`, likePattern(`a%b_c\d`))
	assert.Equal(t, "%sun%", likePattern("sun"))
}
