// Package installer installs themes from remote JSON documents and lists the
// themes offered by a remote theme index.
package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codr1/themecore/internal/models"
)

var (
	ErrInvalidURL   = errors.New("theme url must be an absolute http(s) url")
	ErrInvalidTheme = errors.New("theme document is not valid json")
)

// Fetcher loads remote documents.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// ThemeInstaller registers a validated payload.
type ThemeInstaller interface {
	InstallTheme(ctx context.Context, payload models.ThemePayload, sourceURL string) (models.ThemeDescriptor, error)
}

// InstalledChecker reports whether a theme from a URL is stored.
type InstalledChecker interface {
	ThemeExistsByURL(ctx context.Context, url string) (bool, error)
}

type Installer struct {
	fetcher   Fetcher
	themes    ThemeInstaller
	installed InstalledChecker
}

func New(fetcher Fetcher, themes ThemeInstaller, installed InstalledChecker) *Installer {
	return &Installer{fetcher: fetcher, themes: themes, installed: installed}
}

// InstallFromURL downloads the theme document at rawURL and installs it.
func (i *Installer) InstallFromURL(ctx context.Context, rawURL string) (models.ThemeDescriptor, error) {
	themeURL, err := validateURL(rawURL)
	if err != nil {
		return models.ThemeDescriptor{}, err
	}

	data, err := i.fetcher.Fetch(ctx, themeURL)
	if err != nil {
		return models.ThemeDescriptor{}, fmt.Errorf("download theme: %w", err)
	}
	var payload models.ThemePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.ThemeDescriptor{}, fmt.Errorf("%w: decode theme %s: %v", ErrInvalidTheme, themeURL, err)
	}

	descriptor, err := i.themes.InstallTheme(ctx, payload, themeURL)
	if err != nil {
		return models.ThemeDescriptor{}, err
	}
	log.Info().Str("theme", descriptor.ID).Str("url", themeURL).Msg("Theme installed from url")
	return descriptor, nil
}

// IsInstalled reports whether a theme was installed from rawURL.
func (i *Installer) IsInstalled(ctx context.Context, rawURL string) (bool, error) {
	themeURL, err := validateURL(rawURL)
	if err != nil {
		return false, err
	}
	return i.installed.ThemeExistsByURL(ctx, themeURL)
}

func validateURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return u.String(), nil
}
