// Package fonts manages font-family overrides for the sans, serif and mono
// slots and loads remote font stylesheets in batches.
package fonts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/codr1/themecore/assets"
	"github.com/codr1/themecore/internal/models"
)

type Source string

const (
	SourceSystem Source = "system"
	SourceGoogle Source = "google"
)

// Font is one entry of the static font catalog.
type Font struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Family   string              `json:"family"`
	Category models.FontCategory `json:"category"`
	Source   Source              `json:"source"`
	Weights  []int               `json:"weights,omitempty"`
	Fallback string              `json:"fallback"`
}

// IsRemote reports whether the font needs a stylesheet from the font service.
func (f Font) IsRemote() bool {
	return f.Source == SourceGoogle
}

// Stack returns the font-family value with the fallback chain.
func (f Font) Stack() string {
	family := f.Family
	if strings.ContainsAny(family, " -") {
		family = "'" + family + "'"
	}
	if f.Fallback == "" {
		return family
	}
	return family + ", " + f.Fallback
}

// requestKey identifies a family and weight set for the loader.
func (f Font) requestKey() string {
	weights := make([]string, len(f.Weights))
	for i, w := range f.Weights {
		weights[i] = strconv.Itoa(w)
	}
	return f.Family + "-" + strings.Join(weights, ",")
}

// Catalog is the immutable list of selectable fonts.
type Catalog struct {
	fonts    []Font
	byID     map[string]Font
	byFamily map[string]Font
}

// LoadCatalog reads a {"fonts": [...]} document from fsys.
func LoadCatalog(fsys fs.FS, name string) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read font catalog: %w", err)
	}
	var doc struct {
		Fonts []Font `json:"fonts"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode font catalog: %w", err)
	}
	return NewCatalog(doc.Fonts)
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(assets.StaticFS, assets.FontsPath)
}

func NewCatalog(fonts []Font) (*Catalog, error) {
	c := &Catalog{
		fonts:    make([]Font, 0, len(fonts)),
		byID:     make(map[string]Font, len(fonts)),
		byFamily: make(map[string]Font, len(fonts)),
	}
	for _, font := range fonts {
		if font.ID == "" || font.Family == "" {
			return nil, fmt.Errorf("font %q: id and family are required", font.ID)
		}
		if !font.Category.Valid() {
			return nil, fmt.Errorf("font %q: invalid category %q", font.ID, font.Category)
		}
		if font.Source != SourceSystem && font.Source != SourceGoogle {
			return nil, fmt.Errorf("font %q: invalid source %q", font.ID, font.Source)
		}
		if _, ok := c.byID[font.ID]; ok {
			return nil, fmt.Errorf("font %q: duplicate id", font.ID)
		}
		sort.Ints(font.Weights)
		c.fonts = append(c.fonts, font)
		c.byID[font.ID] = font
		if _, ok := c.byFamily[strings.ToLower(font.Family)]; !ok {
			c.byFamily[strings.ToLower(font.Family)] = font
		}
	}
	return c, nil
}

func (c *Catalog) Get(id string) (Font, bool) {
	font, ok := c.byID[id]
	return font, ok
}

// ByFamily looks a font up by family name, case-insensitively.
func (c *Catalog) ByFamily(family string) (Font, bool) {
	font, ok := c.byFamily[strings.ToLower(strings.Trim(strings.TrimSpace(family), `'"`))]
	return font, ok
}

// List returns the fonts of category, or every font when category is empty.
func (c *Catalog) List(category models.FontCategory) []Font {
	fonts := make([]Font, 0, len(c.fonts))
	for _, font := range c.fonts {
		if category == "" || font.Category == category {
			fonts = append(fonts, font)
		}
	}
	return fonts
}
