package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codr1/themecore/internal/models"
)

// Manifest is the built-in theme index served next to the theme stylesheets.
type Manifest struct {
	Version     string                   `json:"version"`
	LastUpdated string                   `json:"lastUpdated"`
	Themes      []models.ThemeDescriptor `json:"themes"`
}

// ParseManifest decodes and validates a manifest document. Entries are
// returned in manifest order with their category forced to built-in.
func ParseManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(manifest.Themes))
	for i := range manifest.Themes {
		theme := &manifest.Themes[i]
		theme.ID = strings.TrimSpace(theme.ID)
		if theme.ID == "" {
			return Manifest{}, fmt.Errorf("theme %d: id is required", i)
		}
		if _, ok := seen[theme.ID]; ok {
			return Manifest{}, fmt.Errorf("theme %q: duplicate id", theme.ID)
		}
		seen[theme.ID] = struct{}{}

		if theme.Modes.Light == "" || theme.Modes.Dark == "" {
			return Manifest{}, fmt.Errorf("theme %q: both light and dark stylesheets are required", theme.ID)
		}
		for _, color := range []string{theme.Preview.Primary, theme.Preview.Background, theme.Preview.Accent} {
			if color != "" && !models.IsHexColor(color) {
				return Manifest{}, fmt.Errorf("theme %q: preview color %q must be #RRGGBB", theme.ID, color)
			}
		}

		if theme.Name == "" {
			theme.Name = theme.ID
		}
		if theme.Label == "" {
			theme.Label = theme.Name
		}
		if theme.Source == "" {
			theme.Source = models.SourceLocal
		}
		theme.Category = models.CategoryBuiltIn
	}
	return manifest, nil
}
