package export

import (
	"regexp"
	"strings"
)

// Class names appended to every class attribute by the style flags.
const (
	responsiveClasses = "responsive"
	darkModeClasses   = "dark:bg-gray-900 dark:text-white"
)

var (
	classAttr     = regexp.MustCompile(`(\bclass(?:Name)?=")([^"]*)(")`)
	styleBlock    = regexp.MustCompile(`(?is)<style[^>]*>(.*?)</style>`)
	betweenTags   = regexp.MustCompile(`>\s+<`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	cssComment    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	cssPunct      = regexp.MustCompile(`\s*([{};:,>])\s*`)
)

// injectClasses appends the classes selected by the options to every class
// attribute. It is a text substitution, not a CSS transform.
func injectClasses(code string, opts Options) string {
	var extra []string
	if opts.Responsive {
		extra = append(extra, strings.Fields(responsiveClasses)...)
	}
	if opts.DarkMode {
		extra = append(extra, strings.Fields(darkModeClasses)...)
	}
	if len(extra) == 0 {
		return code
	}

	return classAttr.ReplaceAllStringFunc(code, func(m string) string {
		parts := classAttr.FindStringSubmatch(m)
		classes := strings.Fields(parts[2])
		seen := make(map[string]bool, len(classes))
		for _, c := range classes {
			seen[c] = true
		}
		for _, c := range extra {
			if !seen[c] {
				classes = append(classes, c)
				seen[c] = true
			}
		}
		return parts[1] + strings.Join(classes, " ") + parts[3]
	})
}

// minifyMarkup removes whitespace between tags and collapses the rest. It
// only ever deletes characters.
func minifyMarkup(s string) string {
	s = betweenTags.ReplaceAllString(s, "><")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// minifyCSS strips comments and the whitespace around punctuation.
func minifyCSS(s string) string {
	s = cssComment.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = cssPunct.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

func serializeHTML(in *Input) ([]byte, error) {
	code := injectClasses(in.Source.Component.Code, in.Options)
	if in.Options.Minify {
		code = minifyMarkup(code)
	}
	if !in.Options.Comments() {
		return []byte(code), nil
	}
	return []byte(blockComment(in, "<!--", "-->") + code), nil
}

// stylesheet returns the component's styles, falling back to any <style>
// blocks embedded in its code.
func stylesheet(in *Input) string {
	c := in.Source.Component
	if strings.TrimSpace(c.Styles) != "" {
		return c.Styles
	}
	var blocks []string
	for _, m := range styleBlock.FindAllStringSubmatch(c.Code, -1) {
		if b := strings.TrimSpace(m[1]); b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func serializeCSS(in *Input) ([]byte, error) {
	var b strings.Builder
	if in.Options.Comments() && !in.Options.Minify {
		b.WriteString(blockComment(in, "/*", "*/"))
		b.WriteByte('\n')
	}

	b.WriteString(ensureNewline(stylesheet(in)))

	selector := "." + in.Slug
	if in.Options.Responsive {
		b.WriteString("\n@media (max-width: 640px) {\n  " + selector + " {\n    /* responsive overrides */\n  }\n}\n")
	}
	if in.Options.DarkMode {
		b.WriteString("\n@media (prefers-color-scheme: dark) {\n  " + selector + " {\n    /* dark mode overrides */\n  }\n}\n")
	}

	out := b.String()
	if in.Options.Minify {
		out = minifyCSS(out)
		if in.Options.Comments() {
			out = blockComment(in, "/*", "*/") + out
		}
	}
	return []byte(out), nil
}
