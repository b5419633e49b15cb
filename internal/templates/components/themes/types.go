package themes

import "github.com/codr1/themecore/internal/models"

type Theme struct {
	models.ThemeDescriptor
	IsActive bool
}

type PickerData struct {
	Themes []Theme
	Mode   models.Mode
	// Removable lists installed themes, which get an uninstall button.
	Removable map[string]bool
}

func NewTheme(theme models.ThemeDescriptor, activeThemeID string) Theme {
	return Theme{
		ThemeDescriptor: theme,
		IsActive:        theme.ID != "" && theme.ID == activeThemeID,
	}
}

func NewThemes(rows []models.ThemeDescriptor, activeThemeID string) []Theme {
	themes := make([]Theme, len(rows))
	for i, row := range rows {
		themes[i] = NewTheme(row, activeThemeID)
	}
	return themes
}

// NewPickerData builds the picker view of rows with activeThemeID selected.
func NewPickerData(rows []models.ThemeDescriptor, activeThemeID string, mode models.Mode) PickerData {
	data := PickerData{
		Themes:    NewThemes(rows, activeThemeID),
		Mode:      mode,
		Removable: make(map[string]bool),
	}
	for _, row := range rows {
		if row.Category == models.CategoryInstalled {
			data.Removable[row.ID] = true
		}
	}
	return data
}
