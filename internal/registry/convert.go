package registry

import (
	"strings"

	"github.com/codr1/themecore/internal/cssvars"
	"github.com/codr1/themecore/internal/models"
	"github.com/codr1/themecore/internal/resources"
)

// descriptorFromRecord turns an installed record into a descriptor whose mode
// refs are blob handles of synthesized stylesheets owned by the theme id.
func descriptorFromRecord(record models.CachedThemeRecord, blobs *resources.Registry) models.ThemeDescriptor {
	light := record.Payload.CSSVars.ForMode(models.ModeLight)
	dark := record.Payload.CSSVars.ForMode(models.ModeDark)

	source := models.SourceURL
	if record.SourceURL == "" {
		source = models.SourceCustom
	}

	return models.ThemeDescriptor{
		ID:       record.Name,
		Name:     record.Name,
		Label:    record.Payload.Name,
		Source:   source,
		Category: models.CategoryInstalled,
		Modes: models.ModeRefs{
			Light: blobs.Create(record.Name, []byte(cssvars.Stylesheet(light))),
			Dark:  blobs.Create(record.Name, []byte(cssvars.Stylesheet(dark))),
		},
		Fonts: models.ThemeFonts{
			Sans:  primaryFamily(light["--font-sans"]),
			Serif: primaryFamily(light["--font-serif"]),
			Mono:  primaryFamily(light["--font-mono"]),
		},
		Preview: models.ThemePreview{
			Primary:    light["--primary"],
			Background: light["--background"],
			Accent:     light["--accent"],
		},
		Config:      models.ThemeConfig{Radius: light["--radius"]},
		InstalledAt: record.Timestamp,
	}
}

var genericFamilies = map[string]struct{}{
	"serif": {}, "sans-serif": {}, "monospace": {}, "cursive": {}, "fantasy": {},
	"system-ui": {}, "ui-serif": {}, "ui-sans-serif": {}, "ui-monospace": {},
	"ui-rounded": {}, "math": {}, "emoji": {}, "fangsong": {},
}

// primaryFamily returns the first family of a font-family stack without
// quotes. Generic families yield "" since there is nothing to load.
func primaryFamily(stack string) string {
	first, _, _ := strings.Cut(stack, ",")
	family := strings.Trim(strings.TrimSpace(first), `'"`)
	if _, ok := genericFamilies[strings.ToLower(family)]; ok {
		return ""
	}
	return family
}
