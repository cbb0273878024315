package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtpkg "github.com/synesthesie/imagemeta/pkg/jwt"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestExtractCommand(t *testing.T) {
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 5, 2))))
	path := writeFile(t, "a.png", img.Bytes())

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(run(t, "extract", path, "--title", "Dunes", "--tags", "desert,sand")), &doc))

	basic := doc["basic"].(map[string]any)
	assert.Equal(t, "Dunes", basic["title"])
	assert.Equal(t, []any{"desert", "sand"}, basic["tags"])
	assert.Equal(t, float64(5), basic["width"])
	assert.Equal(t, "png", basic["format"])
}

func TestDiffCommand(t *testing.T) {
	a := writeFile(t, "a.json", []byte(`{"basic":{"title":"x"},"custom":{"b":2}}`))
	b := writeFile(t, "b.json", []byte(`{"basic":{"title":"x"},"custom":{"b":3,"c":4}}`))

	var delta []map[string]any
	require.NoError(t, json.Unmarshal([]byte(run(t, "diff", a, b)), &delta))
	require.Len(t, delta, 2)
	assert.Equal(t, "custom.b", delta[0]["path"])
	assert.Equal(t, "changed", delta[0]["kind"])
	assert.Equal(t, "custom.c", delta[1]["path"])
	assert.Equal(t, "added", delta[1]["kind"])
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	token := string(bytes.TrimSpace([]byte(run(t, "token", "alice"))))
	claims, err := jwtpkg.ValidateToken(token, "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, jwtpkg.AccessToken, claims.TokenType)
}
