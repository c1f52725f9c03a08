package export

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kitbay/kitbay/internal/model"
)

// Slug returns the URL-safe file stem for a component: "Cool Button" becomes
// "cool-button". Names with nothing usable fall back to the stored slug and
// then to "component".
func Slug(c model.Component) string {
	for _, candidate := range []string{c.Name, c.Slug} {
		if s := inflect.Parameterize(candidate); s != "" {
			return strings.ReplaceAll(s, "_", "-")
		}
	}
	return "component"
}

// TypeName returns an exported identifier for generated source:
// "cool button" becomes "CoolButton".
func TypeName(name string) string {
	stem := inflect.Parameterize(name)
	if stem == "" {
		return "Component"
	}
	out := inflect.Camelize(stem)
	if r := []rune(out); len(r) == 0 || !unicode.IsLetter(r[0]) {
		out = "Component" + out
	}
	return out
}

// Title returns name in title case for headings.
func Title(name string) string {
	return cases.Title(language.English).String(name)
}

// headerLines are the facts written into comment headers, most important
// first. The minified header keeps only the first line.
func headerLines(in *Input) []string {
	c := in.Source.Component
	lines := []string{fmt.Sprintf("%s v%s", c.Name, in.Version())}
	if d := in.Description(); d != "" {
		lines = append(lines, d)
	}
	if in.Metadata.Author != "" {
		lines = append(lines, "Author: "+in.Metadata.Author)
	}
	if in.Metadata.License != "" {
		lines = append(lines, "License: "+in.Metadata.License)
	}
	lines = append(lines, "Exported by kitbay at "+in.ExportedAt.Format("2006-01-02T15:04:05Z"))
	return lines
}

// blockComment renders header lines between open and close markers. The
// minified form is a single line and always shorter than the full one.
func blockComment(in *Input, open, end string) string {
	lines := headerLines(in)
	if in.Options.Minify {
		return open + " " + lines[0] + " " + end
	}
	return open + "\n  " + strings.Join(lines, "\n  ") + "\n" + end + "\n"
}

// lineComment renders header lines as "//" comments for script sources.
func lineComment(in *Input) string {
	var b strings.Builder
	for _, l := range headerLines(in) {
		b.WriteString("// ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}
