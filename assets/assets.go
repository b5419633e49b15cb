// Package assets embeds the static theme files, the built-in theme manifest
// and the font catalog.
package assets

import "embed"

//go:embed themes/*.json themes/*.css fonts.json
var StaticFS embed.FS

const (
	// ManifestPath is the document path of the built-in theme manifest.
	ManifestPath = "/themes/registry.json"
	// FontsPath is the embedded font catalog.
	FontsPath = "fonts.json"
)
