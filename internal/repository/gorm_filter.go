package repository

import (
	"encoding/json"
	"strings"

	"gorm.io/gorm"

	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/query"
)

// Dialect names as reported by gorm.Dialector.Name().
const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// matchNothing is used for clauses a dialect cannot express; such a clause
// cannot match in memory either.
const matchNothing = "1 = 0"

// condition is a SQL fragment with its bind arguments.
type condition struct {
	sql  string
	args []any
}

// filterSQL compiles f into one WHERE condition for dialect. The clauses
// are ANDed together with the scope.
func filterSQL(dialect string, f query.Filter) condition {
	parts := []string{}
	args := []any{}

	scope := scopeSQL(f.Scope)
	parts = append(parts, scope.sql)
	args = append(args, scope.args...)

	for _, c := range f.Clauses {
		var cond condition
		if dialect == dialectPostgres {
			cond = postgresClause(c)
		} else {
			cond = sqliteClause(c)
		}
		parts = append(parts, "("+cond.sql+")")
		args = append(args, cond.args...)
	}
	return condition{sql: strings.Join(parts, " AND "), args: args}
}

func scopeSQL(s query.FilterScope) condition {
	if s.PublicOnly() {
		return condition{sql: "visibility = ?", args: []any{models.AssetVisibilityPublic}}
	}
	return condition{
		sql:  "(owner_id = ? OR visibility = ?)",
		args: []any{s.OwnerID, models.AssetVisibilityPublic},
	}
}

// applyFilter narrows db to the assets matching f.
func applyFilter(db *gorm.DB, dialect string, f query.Filter) *gorm.DB {
	cond := filterSQL(dialect, f)
	return db.Where(cond.sql, cond.args...)
}

// applySort orders by the requested column and breaks ties by id.
func applySort(db *gorm.DB, s query.Sort) *gorm.DB {
	column := "created_at"
	if s.Field == query.SortUpdatedAt {
		column = "updated_at"
	}
	direction := " ASC"
	if s.Desc {
		direction = " DESC"
	}
	return db.Order(column + direction).Order("id ASC")
}

// likePattern builds a substring LIKE pattern with wildcards escaped by
// backslash.
func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(text) + "%"
}

// --- postgres: jsonb containment and path extraction ---

// nest wraps v into objects along p: nest(["a","b"], 1) = {"a":{"b":1}}.
func nest(p metadata.Path, v any) string {
	var out any = v
	for i := len(p) - 1; i >= 0; i-- {
		out = map[string]any{p[i]: out}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "null"
	}
	return string(b)
}

// pathArgs renders the variadic path arguments of the jsonb_extract_path
// functions.
func pathArgs(p metadata.Path) (string, []any) {
	marks := make([]string, len(p))
	args := make([]any, len(p))
	for i, seg := range p {
		marks[i] = "?"
		args[i] = seg
	}
	return strings.Join(marks, ", "), args
}

func postgresClause(c query.Clause) condition {
	switch c.Op {
	case query.OpEqual:
		return condition{sql: "document @> ?::jsonb", args: []any{nest(c.Path, c.Value)}}

	case query.OpIn:
		if len(c.Values) == 0 {
			return condition{sql: matchNothing}
		}
		parts := make([]string, 0, 2*len(c.Values))
		args := make([]any, 0, 2*len(c.Values))
		for _, v := range c.Values {
			parts = append(parts, "document @> ?::jsonb", "document @> ?::jsonb")
			args = append(args, nest(c.Path, v), nest(c.Path, []any{v}))
		}
		return condition{sql: strings.Join(parts, " OR "), args: args}

	case query.OpRange:
		marks, pargs := pathArgs(c.Path)
		parts := []string{"jsonb_typeof(jsonb_extract_path(document, " + marks + ")) = 'string'"}
		args := append([]any{}, pargs...)
		if c.Gte != "" {
			parts = append(parts, "jsonb_extract_path_text(document, "+marks+") >= ?")
			args = append(append(args, pargs...), c.Gte)
		}
		if c.Lt != "" {
			parts = append(parts, "jsonb_extract_path_text(document, "+marks+") < ?")
			args = append(append(args, pargs...), c.Lt)
		}
		return condition{sql: strings.Join(parts, " AND "), args: args}

	case query.OpText:
		pattern := likePattern(c.Text)
		parts := []string{}
		args := []any{}
		for _, p := range query.TextPaths {
			marks, pargs := pathArgs(p)
			parts = append(parts, "jsonb_extract_path_text(document, "+marks+`) ILIKE ? ESCAPE '\'`)
			args = append(append(args, pargs...), pattern)
		}
		marks, pargs := pathArgs(query.TagsPath)
		parts = append(parts, "EXISTS (SELECT 1 FROM jsonb_array_elements_text("+
			"CASE WHEN jsonb_typeof(jsonb_extract_path(document, "+marks+")) = 'array' "+
			"THEN jsonb_extract_path(document, "+marks+") ELSE '[]'::jsonb END"+
			`) AS t(tag) WHERE t.tag ILIKE ? ESCAPE '\')`)
		args = append(append(append(args, pargs...), pargs...), pattern)
		return condition{sql: strings.Join(parts, " OR "), args: args}
	}
	return condition{sql: matchNothing}
}

// --- sqlite: JSON1 functions ---

// sqlitePath renders p as a JSON path with every label quoted. Labels that
// contain a double quote cannot be expressed.
func sqlitePath(p metadata.Path) (string, bool) {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range p {
		if strings.Contains(seg, `"`) {
			return "", false
		}
		b.WriteString(`."`)
		b.WriteString(seg)
		b.WriteString(`"`)
	}
	return b.String(), true
}

// sqliteTyped compares the JSON value described by typeExpr/valueExpr with
// v, honouring the JSON type so that 5 never equals "5" or true.
func sqliteTyped(typeExpr, valueExpr string, v any) condition {
	switch t := v.(type) {
	case nil:
		return condition{sql: typeExpr + " = 'null'"}
	case bool:
		if t {
			return condition{sql: typeExpr + " = 'true'"}
		}
		return condition{sql: typeExpr + " = 'false'"}
	case float64:
		return condition{sql: typeExpr + " IN ('integer', 'real') AND " + valueExpr + " = ?", args: []any{t}}
	case string:
		return condition{sql: typeExpr + " = 'text' AND " + valueExpr + " = ?", args: []any{t}}
	}
	return condition{sql: matchNothing}
}

func sqliteClause(c query.Clause) condition {
	switch c.Op {
	case query.OpEqual:
		path, ok := sqlitePath(c.Path)
		if !ok {
			return condition{sql: matchNothing}
		}
		cond := sqliteTyped("json_type(document, ?)", "json_extract(document, ?)", c.Value)
		args := []any{path}
		if len(cond.args) > 0 {
			args = append(args, path)
		}
		return condition{sql: cond.sql, args: append(args, cond.args...)}

	case query.OpIn:
		path, ok := sqlitePath(c.Path)
		if !ok || len(c.Values) == 0 {
			return condition{sql: matchNothing}
		}
		parts := make([]string, 0, len(c.Values))
		args := []any{path, path}
		for _, v := range c.Values {
			cond := sqliteTyped("e.type", "e.value", v)
			parts = append(parts, "("+cond.sql+")")
			args = append(args, cond.args...)
		}
		return condition{
			sql: "json_type(document, ?) <> 'object' AND EXISTS (SELECT 1 FROM json_each(document, ?) AS e WHERE " +
				strings.Join(parts, " OR ") + ")",
			args: args,
		}

	case query.OpRange:
		path, ok := sqlitePath(c.Path)
		if !ok {
			return condition{sql: matchNothing}
		}
		parts := []string{"json_type(document, ?) = 'text'"}
		args := []any{path}
		if c.Gte != "" {
			parts = append(parts, "json_extract(document, ?) >= ?")
			args = append(args, path, c.Gte)
		}
		if c.Lt != "" {
			parts = append(parts, "json_extract(document, ?) < ?")
			args = append(args, path, c.Lt)
		}
		return condition{sql: strings.Join(parts, " AND "), args: args}

	case query.OpText:
		pattern := likePattern(c.Text)
		parts := []string{}
		args := []any{}
		for _, p := range query.TextPaths {
			path, _ := sqlitePath(p)
			parts = append(parts, `unicode_lower(json_extract(document, ?)) LIKE ? ESCAPE '\'`)
			args = append(args, path, pattern)
		}
		tags, _ := sqlitePath(query.TagsPath)
		parts = append(parts, `EXISTS (SELECT 1 FROM json_each(document, ?) AS e WHERE e.type = 'text' AND unicode_lower(e.value) LIKE ? ESCAPE '\')`)
		args = append(args, tags, pattern)
		return condition{sql: strings.Join(parts, " OR "), args: args}
	}
	return condition{sql: matchNothing}
}
