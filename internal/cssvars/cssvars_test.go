package cssvars

import (
	"strings"
	"testing"
)

func TestExtractRootFirstBlockOnly(t *testing.T) {
	css := `
/* comment */
body { --ignored: 1px; }
:root {
  --background: #ffffff;
  --border: color-mix(in srgb, #111827 15%, #ffffff);
  --primary:#1f2937;
  color: black;
}
@media (prefers-color-scheme: dark) {
  :root { --background: #000000; }
}
:root { --second: 2; }
`
	decls := ExtractRoot(css)
	want := []Declaration{
		{Name: "--background", Value: "#ffffff"},
		{Name: "--border", Value: "color-mix(in srgb, #111827 15%, #ffffff)"},
		{Name: "--primary", Value: "#1f2937"},
	}
	if len(decls) != len(want) {
		t.Fatalf("ExtractRoot() = %v, want %v", decls, want)
	}
	for i := range want {
		if decls[i] != want[i] {
			t.Fatalf("ExtractRoot()[%d] = %v, want %v", i, decls[i], want[i])
		}
	}
}

func TestExtractRootNoBlock(t *testing.T) {
	if decls := ExtractRoot("body { --a: 1; }"); decls != nil {
		t.Fatalf("ExtractRoot() = %v, want nil", decls)
	}
}

func TestExtractRootDuplicateKeepsLastValue(t *testing.T) {
	vars := ExtractRootMap(":root { --a: 1; --b: 2; --a: 3; }")
	if vars["--a"] != "3" || vars["--b"] != "2" {
		t.Fatalf("ExtractRootMap() = %v", vars)
	}
}

func TestStylesheetRoundTrip(t *testing.T) {
	vars := map[string]string{"--primary": "#111", "--accent": "#222"}
	css := Stylesheet(vars)
	if !strings.HasPrefix(css, ":root {") {
		t.Fatalf("Stylesheet() = %q", css)
	}
	if strings.Index(css, "--accent") > strings.Index(css, "--primary") {
		t.Fatalf("Stylesheet() not sorted: %q", css)
	}
	got := ExtractRootMap(css)
	if len(got) != 2 || got["--primary"] != "#111" || got["--accent"] != "#222" {
		t.Fatalf("round trip = %v", got)
	}
}

func TestImportantStylesheet(t *testing.T) {
	css := ImportantStylesheet(map[string]string{"--primary": "#111"})
	if !strings.Contains(css, "html:root {") || !strings.Contains(css, "--primary: #111 !important;") {
		t.Fatalf("ImportantStylesheet() = %q", css)
	}
}
