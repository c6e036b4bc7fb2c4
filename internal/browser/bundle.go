package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// bundleManifest lists the scripts of an anti-detection bundle. Paths are
// relative to the manifest.
//
//	scripts:
//	  - path: navigator.js
//	  - inline: "Object.defineProperty(navigator, 'webdriver', {get: () => undefined})"
type bundleManifest struct {
	Scripts []struct {
		Path   string `yaml:"path"`
		Inline string `yaml:"inline"`
	} `yaml:"scripts"`
}

// LoadScriptBundle reads the scripts injected into every new session. path
// is either a single JavaScript file or a YAML manifest (.yaml or .yml). An
// empty path yields no scripts.
func LoadScriptBundle(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script bundle: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadManifest(filepath.Dir(path), data)
	default:
		if strings.TrimSpace(string(data)) == "" {
			return nil, fmt.Errorf("script bundle %s is empty", path)
		}
		return []string{string(data)}, nil
	}
}

func loadManifest(dir string, data []byte) ([]string, error) {
	var manifest bundleManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing script manifest: %w", err)
	}

	scripts := make([]string, 0, len(manifest.Scripts))
	for i, entry := range manifest.Scripts {
		switch {
		case entry.Path != "" && entry.Inline != "":
			return nil, fmt.Errorf("script %d: path and inline are mutually exclusive", i)
		case entry.Inline != "":
			scripts = append(scripts, entry.Inline)
		case entry.Path != "":
			p := entry.Path
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			content, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("script %d: %w", i, err)
			}
			scripts = append(scripts, string(content))
		default:
			return nil, fmt.Errorf("script %d: one of path or inline is required", i)
		}
	}

	if len(scripts) == 0 {
		return nil, fmt.Errorf("script manifest lists no scripts")
	}

	return scripts, nil
}
