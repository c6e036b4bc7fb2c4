package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadScriptBundle_Empty(t *testing.T) {
	scripts, err := LoadScriptBundle("")
	require.NoError(t, err)
	assert.Nil(t, scripts)
}

func TestLoadScriptBundle_SingleFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "stealth.js", "delete navigator.__proto__.webdriver;")

	scripts, err := LoadScriptBundle(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"delete navigator.__proto__.webdriver;"}, scripts)
}

func TestLoadScriptBundle_Manifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "webgl.js", "/* webgl vendor */")
	manifest := writeFile(t, dir, "bundle.yaml", `
scripts:
  - path: webgl.js
  - inline: "window.chrome = {runtime: {}}"
`)

	scripts, err := LoadScriptBundle(manifest)
	require.NoError(t, err)
	assert.Equal(t, []string{"/* webgl vendor */", "window.chrome = {runtime: {}}"}, scripts)
}

func TestLoadScriptBundle_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		path     string
		contains string
	}{
		{"missing file", filepath.Join(dir, "nope.js"), "reading script bundle"},
		{"blank script", writeFile(t, dir, "blank.js", "  \n"), "is empty"},
		{"bad yaml", writeFile(t, dir, "bad.yml", "scripts: [unterminated"), "parsing script manifest"},
		{"no scripts", writeFile(t, dir, "none.yaml", "scripts: []"), "lists no scripts"},
		{"both set", writeFile(t, dir, "both.yaml", "scripts:\n  - path: a.js\n    inline: x\n"), "mutually exclusive"},
		{"neither set", writeFile(t, dir, "neither.yaml", "scripts:\n  - {}\n"), "one of path or inline"},
		{"missing script", writeFile(t, dir, "dangling.yaml", "scripts:\n  - path: missing.js\n"), "script 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScriptBundle(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
