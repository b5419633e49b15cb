// internal/models/themes.go
package models

import (
	"fmt"
	"regexp"
	"strings"
)

const maxThemeNameLength = 100

// DefaultThemeID is the theme every lookup falls back to.
const DefaultThemeID = "default"

var hexColorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
var themeNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._ ()-]*$`)
var cssVariableRegex = regexp.MustCompile(`^--[A-Za-z0-9_-]+$`)

func IsHexColor(value string) bool {
	return hexColorRegex.MatchString(strings.TrimSpace(value))
}

// IsCSSVariableName reports whether name is a custom property name like --primary.
func IsCSSVariableName(name string) bool {
	return cssVariableRegex.MatchString(name)
}

// Mode is the user-selected color mode.
type Mode string

const (
	ModeLight Mode = "light"
	ModeDark  Mode = "dark"
	ModeAuto  Mode = "auto"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeLight, ModeDark, ModeAuto:
		return true
	}
	return false
}

// ParseMode converts a user supplied string into a Mode.
func ParseMode(value string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(value)))
	if !m.Valid() {
		return "", fmt.Errorf("invalid mode %q: must be light, dark or auto", value)
	}
	return m, nil
}

// CSSVariables maps a custom property name to its value.
type CSSVariables map[string]string

// CSSVariablesByMode holds the variable sets of a theme. Theme applies to both
// modes and is overridden by the mode specific sets.
type CSSVariablesByMode struct {
	Light CSSVariables `json:"light,omitempty"`
	Dark  CSSVariables `json:"dark,omitempty"`
	Theme CSSVariables `json:"theme,omitempty"`
}

// ThemePayload is the installable definition of a theme.
type ThemePayload struct {
	Name    string             `json:"name"`
	CSSVars CSSVariablesByMode `json:"cssVars"`
}

// Validate reports whether the payload can be installed.
func (p ThemePayload) Validate() error {
	trimmedName := strings.TrimSpace(p.Name)
	if trimmedName == "" {
		return fmt.Errorf("name is required")
	}
	if trimmedName != p.Name {
		return fmt.Errorf("name must not have leading or trailing whitespace")
	}
	if len(trimmedName) > maxThemeNameLength {
		return fmt.Errorf("name must be %d characters or fewer", maxThemeNameLength)
	}
	if !themeNameRegex.MatchString(trimmedName) {
		return fmt.Errorf("name may only contain letters, numbers, spaces, dots, underscores, hyphens, and parentheses")
	}
	if strings.HasPrefix(trimmedName, "__") {
		return fmt.Errorf("name must not start with a double underscore")
	}

	sets := map[string]CSSVariables{
		"light": p.CSSVars.Light,
		"dark":  p.CSSVars.Dark,
		"theme": p.CSSVars.Theme,
	}
	total := 0
	for setName, vars := range sets {
		for name, value := range vars {
			if !IsCSSVariableName(name) {
				return fmt.Errorf("cssVars.%s: %q is not a custom property name", setName, name)
			}
			if strings.ContainsAny(value, ";{}") {
				return fmt.Errorf("cssVars.%s: value of %s must not contain ';', '{' or '}'", setName, name)
			}
		}
		total += len(vars)
	}
	if total == 0 {
		return fmt.Errorf("cssVars must define at least one variable")
	}
	return nil
}

// ForMode returns the variables applied for mode. The shared theme set is the
// base; when a mode has no set of its own the other mode's set is used.
func (v CSSVariablesByMode) ForMode(mode Mode) CSSVariables {
	primary, secondary := v.Light, v.Dark
	if mode == ModeDark {
		primary, secondary = v.Dark, v.Light
	}
	result := make(CSSVariables, len(v.Theme)+len(primary))
	for k, val := range v.Theme {
		result[k] = val
	}
	overlay := primary
	if len(overlay) == 0 && len(v.Theme) == 0 {
		overlay = secondary
	}
	for k, val := range overlay {
		result[k] = val
	}
	return result
}

// CachedThemeRecord is a theme persisted in the durable store.
type CachedThemeRecord struct {
	Name      string       `json:"name"`
	SourceURL string       `json:"sourceUrl"`
	Payload   ThemePayload `json:"payload"`
	Installed bool         `json:"installed"`
	Timestamp int64        `json:"timestamp"`
}

// ModePointer records the active theme and mode.
type ModePointer struct {
	CurrentTheme string `json:"currentTheme"`
	CurrentMode  Mode   `json:"currentMode"`
	Timestamp    int64  `json:"timestamp"`
}

type ThemeSource string

const (
	SourceLocal  ThemeSource = "local"
	SourceURL    ThemeSource = "url"
	SourceCustom ThemeSource = "custom"
)

type ThemeCategory string

const (
	CategoryBuiltIn   ThemeCategory = "built-in"
	CategoryInstalled ThemeCategory = "installed"
	CategoryCustom    ThemeCategory = "custom"
)

// ModeRefs points at the stylesheet of each mode. A ref is a static path, an
// absolute URL or a blob: handle.
type ModeRefs struct {
	Light string `json:"light"`
	Dark  string `json:"dark"`
}

// Ref returns the stylesheet reference for a resolved mode.
func (r ModeRefs) Ref(mode Mode) string {
	if mode == ModeDark {
		return r.Dark
	}
	return r.Light
}

type ThemeFonts struct {
	Sans  string `json:"sans,omitempty"`
	Serif string `json:"serif,omitempty"`
	Mono  string `json:"mono,omitempty"`
}

// Families lists the declared families in sans, serif, mono order.
func (f ThemeFonts) Families() []string {
	families := make([]string, 0, 3)
	for _, family := range []string{f.Sans, f.Serif, f.Mono} {
		if family != "" {
			families = append(families, family)
		}
	}
	return families
}

type ThemePreview struct {
	Primary    string `json:"primary,omitempty"`
	Background string `json:"background,omitempty"`
	Accent     string `json:"accent,omitempty"`
}

type ThemeConfig struct {
	Radius string `json:"radius,omitempty"`
}

// ThemeDescriptor is the registry view of a theme.
type ThemeDescriptor struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Label       string        `json:"label"`
	Source      ThemeSource   `json:"source"`
	Category    ThemeCategory `json:"category"`
	Modes       ModeRefs      `json:"modes"`
	Fonts       ThemeFonts    `json:"fonts"`
	Preview     ThemePreview  `json:"preview"`
	Config      ThemeConfig   `json:"config"`
	InstalledAt int64         `json:"installedAt,omitempty"`
}

// FontCategory is one of the overridable font slots.
type FontCategory string

const (
	FontSans  FontCategory = "sans"
	FontSerif FontCategory = "serif"
	FontMono  FontCategory = "mono"
)

// FontCategories lists every category in application order.
var FontCategories = []FontCategory{FontSans, FontSerif, FontMono}

func (c FontCategory) Valid() bool {
	switch c {
	case FontSans, FontSerif, FontMono:
		return true
	}
	return false
}

// FontOverrideConfig is the persisted font override state.
type FontOverrideConfig struct {
	Enabled   bool                    `json:"enabled"`
	Fonts     map[FontCategory]string `json:"fonts"`
	Timestamp int64                   `json:"timestamp"`
}

// DefaultFontOverrideConfig returns the disabled, empty configuration.
func DefaultFontOverrideConfig() FontOverrideConfig {
	return FontOverrideConfig{Enabled: false, Fonts: map[FontCategory]string{}}
}

// Clone returns a copy that shares no map with c.
func (c FontOverrideConfig) Clone() FontOverrideConfig {
	fonts := make(map[FontCategory]string, len(c.Fonts))
	for k, v := range c.Fonts {
		fonts[k] = v
	}
	c.Fonts = fonts
	return c
}
