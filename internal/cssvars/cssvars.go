// Package cssvars reads and writes CSS custom property declarations.
//
// Extraction is a regex scan, not a CSS parser: only the first :root block of
// a stylesheet is honored. Declarations in later :root blocks, in media
// queries or under other selectors are ignored.
package cssvars

import (
	"regexp"
	"sort"
	"strings"
)

var (
	rootBlockRegex   = regexp.MustCompile(`:root\s*\{([^}]*)\}`)
	declarationRegex = regexp.MustCompile(`(--[A-Za-z0-9_-]+)\s*:\s*([^;]+);`)
)

// Declaration is one custom property.
type Declaration struct {
	Name  string
	Value string
}

// ExtractRoot returns the custom property declarations of the first :root
// block in cssText, in source order. A later declaration of the same name
// replaces the earlier value but keeps its position.
func ExtractRoot(cssText string) []Declaration {
	match := rootBlockRegex.FindStringSubmatch(cssText)
	if match == nil {
		return nil
	}
	found := declarationRegex.FindAllStringSubmatch(match[1], -1)
	decls := make([]Declaration, 0, len(found))
	index := make(map[string]int, len(found))
	for _, m := range found {
		name := m[1]
		value := strings.TrimSpace(m[2])
		if i, ok := index[name]; ok {
			decls[i].Value = value
			continue
		}
		index[name] = len(decls)
		decls = append(decls, Declaration{Name: name, Value: value})
	}
	return decls
}

// ExtractRootMap is ExtractRoot as a map.
func ExtractRootMap(cssText string) map[string]string {
	decls := ExtractRoot(cssText)
	vars := make(map[string]string, len(decls))
	for _, d := range decls {
		vars[d.Name] = d.Value
	}
	return vars
}

// Stylesheet renders vars as a single :root block with names sorted.
func Stylesheet(vars map[string]string) string {
	return block(":root", vars, false)
}

// ImportantStylesheet renders vars under a selector that outranks :root and
// marks every declaration !important.
func ImportantStylesheet(vars map[string]string) string {
	return block("html:root", vars, true)
}

// SortedNames returns the keys of vars in lexical order.
func SortedNames(vars map[string]string) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func block(selector string, vars map[string]string, important bool) string {
	var b strings.Builder
	b.WriteString(selector)
	b.WriteString(" {\n")
	for _, name := range SortedNames(vars) {
		b.WriteString("  ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(vars[name])
		if important {
			b.WriteString(" !important")
		}
		b.WriteString(";\n")
	}
	b.WriteString("}\n")
	return b.String()
}
