package export

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kitbay/kitbay/internal/model"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestDispatcher() *Dispatcher {
	d := NewDispatcher()
	d.now = func() time.Time { return fixedNow }
	return d
}

func boolPtr(b bool) *bool { return &b }

func coolButton() *Source {
	return &Source{
		Component: model.Component{
			ID:          "c1",
			Name:        "Cool Button",
			Description: "A button that is cool",
			Framework:   "html",
			Code:        "<button>Hi</button>",
			Version:     "1.2.0",
		},
	}
}

func richSource() *Source {
	src := coolButton()
	src.Component.Code = "<div class=\"wrapper\">\n  <button class=\"btn primary\">Hi</button>\n</div>"
	src.Component.Styles = ".btn {\n  color: red;\n}\n"
	src.Component.Props = map[string]interface{}{"label": "Hi", "disabled": false, "aria-label": "cool"}
	src.Component.Tags = []string{"button", "form"}
	src.Variants = []model.ComponentVariant{
		{ID: "v1", Name: "Primary", Code: "<button class=\"primary\">Hi</button>", IsDefault: true},
	}
	src.Dependencies = []model.ComponentDependency{
		{PackageName: "clsx", Type: model.DependencyRuntime, VersionRange: "^2.0.0"},
		{PackageName: "tailwindcss", Type: model.DependencyBuild, VersionRange: "^3.4.0"},
		{PackageName: "react-icons", Type: model.DependencyPeer},
		{DependsOnID: "c2", Type: model.DependencyRuntime, VersionRange: "1.x"},
	}
	return src
}

func TestContentTypePerFormat(t *testing.T) {
	tests := []struct {
		format      Format
		contentType string
		filename    string
	}{
		{FormatJSON, "application/json", "cool-button.json"},
		{FormatReact, "application/json", "cool-button-react.json"},
		{FormatVue, "application/json", "cool-button-vue.json"},
		{FormatAngular, "application/json", "cool-button-angular.json"},
		{FormatHTML, "text/html", "cool-button.html"},
		{FormatCSS, "text/css", "cool-button.css"},
		{FormatFigma, "application/json", "cool-button.figma.json"},
		{FormatSVG, "image/svg+xml", "cool-button.svg"},
	}

	d := newTestDispatcher()
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			art, err := d.Export(richSource(), Request{Format: tt.format})
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if art.ContentType != tt.contentType {
				t.Errorf("ContentType = %q, want %q", art.ContentType, tt.contentType)
			}
			if art.Filename != tt.filename {
				t.Errorf("Filename = %q, want %q", art.Filename, tt.filename)
			}
			if art.Size != len(art.Content) || art.Size == 0 {
				t.Errorf("Size = %d, len(Content) = %d", art.Size, len(art.Content))
			}
			if tt.contentType == ContentTypeJSON && !json.Valid(art.Content) {
				t.Errorf("%s output is not valid JSON", tt.format)
			}
		})
	}

	if len(d.Supported()) != len(Formats()) {
		t.Errorf("Supported() = %v, want all built-in formats", d.Supported())
	}
}

func TestUnsupportedFormat(t *testing.T) {
	d := newTestDispatcher()
	for _, f := range []Format{"pdf", "", "HTML"} {
		art, err := d.Export(coolButton(), Request{Format: f})
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Export(%q) error = %v, want ErrUnsupportedFormat", f, err)
		}
		if art != nil {
			t.Errorf("Export(%q) returned a partial artifact", f)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("  HTML "); err != nil || f != FormatHTML {
		t.Errorf("ParseFormat(HTML) = %q, %v", f, err)
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ParseFormat(pdf) error = %v, want ErrUnsupportedFormat", err)
	}
	if diff := cmp.Diff([]string{"json", "react", "vue", "angular", "html", "css", "figma", "svg"}, FormatNames()); diff != "" {
		t.Errorf("FormatNames mismatch (-want +got):\n%s", diff)
	}
}

func TestHTMLWithoutCommentsIsRawCode(t *testing.T) {
	d := newTestDispatcher()
	art, err := d.Export(coolButton(), Request{
		Format:  FormatHTML,
		Options: Options{AddComments: boolPtr(false)},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if string(art.Content) != "<button>Hi</button>" {
		t.Errorf("Content = %q, want raw code", art.Content)
	}
	if art.ContentType != "text/html" || art.Filename != "cool-button.html" || art.Size != 19 {
		t.Errorf("artifact = %+v", art)
	}
}

func TestHTMLCommentHeader(t *testing.T) {
	d := newTestDispatcher()
	art, err := d.Export(coolButton(), Request{
		Format:   FormatHTML,
		Metadata: Metadata{Author: "Ada", License: "MIT"},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	want := "<!--\n  Cool Button v1.2.0\n  A button that is cool\n  Author: Ada\n  License: MIT\n" +
		"  Exported by kitbay at 2026-01-02T03:04:05Z\n-->\n<button>Hi</button>"
	if got := string(art.Content); got != want {
		t.Errorf("Content =\n%s\nwant\n%s", got, want)
	}
}

func TestMinifyNeverGrows(t *testing.T) {
	d := newTestDispatcher()
	variants := []Options{
		{},
		{AddComments: boolPtr(false)},
		{IncludeVariants: true, IncludeDependencies: true},
		{Responsive: true, DarkMode: true},
		{TypeScript: true, IncludeVariants: true},
	}

	for _, f := range Formats() {
		for i, opts := range variants {
			full, err := d.Export(richSource(), Request{Format: f, Options: opts})
			if err != nil {
				t.Fatalf("%s/%d: %v", f, i, err)
			}
			opts.Minify = true
			small, err := d.Export(richSource(), Request{Format: f, Options: opts})
			if err != nil {
				t.Fatalf("%s/%d minified: %v", f, i, err)
			}
			if small.Size > full.Size {
				t.Errorf("%s/%d: minified size %d > full size %d", f, i, small.Size, full.Size)
			}
		}
	}
}

func TestInjectClasses(t *testing.T) {
	tests := []struct {
		name string
		code string
		opts Options
		want string
	}{
		{"no flags", `<div class="a">x</div>`, Options{}, `<div class="a">x</div>`},
		{"responsive", `<div class="a">x</div>`, Options{Responsive: true}, `<div class="a responsive">x</div>`},
		{
			"dark mode on every attribute",
			`<div class="a"><span class="">y</span></div>`,
			Options{DarkMode: true},
			`<div class="a dark:bg-gray-900 dark:text-white"><span class="dark:bg-gray-900 dark:text-white">y</span></div>`,
		},
		{"no duplicate classes", `<p class="responsive">z</p>`, Options{Responsive: true}, `<p class="responsive">z</p>`},
		{"jsx className", `<p className="t">z</p>`, Options{Responsive: true}, `<p className="t responsive">z</p>`},
		{"no class attribute", `<p>z</p>`, Options{Responsive: true, DarkMode: true}, `<p>z</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := injectClasses(tt.code, tt.opts); got != tt.want {
				t.Errorf("injectClasses = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSlugAndTypeName(t *testing.T) {
	tests := []struct {
		name, slug   string
		wantSlug     string
		wantTypeName string
	}{
		{"Cool Button", "", "cool-button", "CoolButton"},
		{"  Fancy   Card!! ", "", "fancy-card", "FancyCard"},
		{"dino_party", "", "dino-party", "DinoParty"},
		{"3D Card", "", "3d-card", "Component3dCard"},
		{"", "stored-slug", "stored-slug", "Component"},
		{"!!!", "", "component", "Component"},
	}
	for _, tt := range tests {
		t.Run(tt.wantSlug, func(t *testing.T) {
			c := model.Component{Name: tt.name, Slug: tt.slug}
			if got := Slug(c); got != tt.wantSlug {
				t.Errorf("Slug(%q) = %q, want %q", tt.name, got, tt.wantSlug)
			}
			if got := TypeName(tt.name); got != tt.wantTypeName {
				t.Errorf("TypeName(%q) = %q, want %q", tt.name, got, tt.wantTypeName)
			}
		})
	}
}

func decodeBundle(t *testing.T, content []byte) bundle {
	t.Helper()
	var b bundle
	if err := json.Unmarshal(content, &b); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	return b
}

func filePaths(b bundle) []string {
	paths := make([]string, len(b.Files))
	for i, f := range b.Files {
		paths[i] = f.Path
	}
	return paths
}

func fileContent(t *testing.T, b bundle, path string) string {
	t.Helper()
	for _, f := range b.Files {
		if f.Path == path {
			return f.Content
		}
	}
	t.Fatalf("bundle has no file %s", path)
	return ""
}

func TestReactBundle(t *testing.T) {
	d := newTestDispatcher()
	art, err := d.Export(richSource(), Request{
		Format:  FormatReact,
		Options: Options{TypeScript: true, IncludeVariants: true, IncludeDependencies: true},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	b := decodeBundle(t, art.Content)

	wantPaths := []string{
		"src/CoolButton.tsx",
		"src/CoolButton.css",
		"src/variants/CoolButtonPrimary.tsx",
		"src/index.ts",
		"package.json",
		"README.md",
	}
	if diff := cmp.Diff(wantPaths, filePaths(b)); diff != "" {
		t.Errorf("file paths mismatch (-want +got):\n%s", diff)
	}

	wantManifest := packageManifest{
		Name:        "cool-button",
		Version:     "1.2.0",
		Description: "A button that is cool",
		Main:        "src/index.ts",
		Types:       "src/index.ts",
		Keywords:    []string{"button", "form"},
		PeerDependencies: map[string]string{
			"react": "^18.2.0", "react-dom": "^18.2.0", "react-icons": "*",
		},
		Dependencies:    map[string]string{"clsx": "^2.0.0"},
		DevDependencies: map[string]string{"typescript": "^5.0.0", "tailwindcss": "^3.4.0"},
	}
	if diff := cmp.Diff(wantManifest, b.Manifest); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}

	src := fileContent(t, b, "src/CoolButton.tsx")
	for _, want := range []string{
		"export interface CoolButtonProps {",
		`"aria-label"?: string;`,
		"  disabled?: boolean;",
		"export default function CoolButton(props: CoolButtonProps) {",
		`<div className="wrapper">`,
		"import './CoolButton.css';",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("React source missing %q:\n%s", want, src)
		}
	}

	readme := fileContent(t, b, "README.md")
	for _, want := range []string{"# Cool Button", "## Variants", "- Primary (default)", "- c2 1.x (runtime)"} {
		if !strings.Contains(readme, want) {
			t.Errorf("README missing %q", want)
		}
	}
}

func TestReactBundleKeepsModuleCode(t *testing.T) {
	src := coolButton()
	src.Component.Code = "export default function Hi() {\n  return <b>hi</b>;\n}"
	art, err := newTestDispatcher().Export(src, Request{Format: FormatReact, Options: Options{AddComments: boolPtr(false)}})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	b := decodeBundle(t, art.Content)
	if got := fileContent(t, b, "src/CoolButton.jsx"); got != src.Component.Code+"\n" {
		t.Errorf("module source rewritten:\n%s", got)
	}
}

func TestVueBundle(t *testing.T) {
	art, err := newTestDispatcher().Export(richSource(), Request{Format: FormatVue})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	b := decodeBundle(t, art.Content)
	if diff := cmp.Diff([]string{"src/CoolButton.vue", "src/index.js", "package.json", "README.md"}, filePaths(b)); diff != "" {
		t.Errorf("file paths mismatch (-want +got):\n%s", diff)
	}
	if b.Framework != "vue" || b.Name != "cool-button" {
		t.Errorf("bundle = %s/%s", b.Framework, b.Name)
	}

	sfc := fileContent(t, b, "src/CoolButton.vue")
	for _, want := range []string{
		"<template>\n  <div class=\"wrapper\">",
		"<script setup>\n",
		`"label": { default: "Hi" },`,
		"<style scoped>\n.btn {",
	} {
		if !strings.Contains(sfc, want) {
			t.Errorf("SFC missing %q:\n%s", want, sfc)
		}
	}
	if b.Manifest.PeerDependencies["vue"] != "^3.3.0" {
		t.Errorf("peer deps = %v", b.Manifest.PeerDependencies)
	}
	if b.Manifest.Dependencies != nil {
		t.Errorf("dependencies included without include_dependencies: %v", b.Manifest.Dependencies)
	}
}

func TestAngularBundle(t *testing.T) {
	src := richSource()
	src.Component.Code = "<button>`${label}`</button>"
	art, err := newTestDispatcher().Export(src, Request{Format: FormatAngular})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	b := decodeBundle(t, art.Content)
	if diff := cmp.Diff([]string{"src/cool-button.component.ts", "src/index.ts", "package.json", "README.md"}, filePaths(b)); diff != "" {
		t.Errorf("file paths mismatch (-want +got):\n%s", diff)
	}

	ts := fileContent(t, b, "src/cool-button.component.ts")
	for _, want := range []string{
		"import { Component, Input } from '@angular/core';",
		"selector: 'kb-cool-button',",
		"<button>\\`\\${label}\\`</button>",
		"@Input() label: string = \"Hi\";",
		"@Input('aria-label') ariaLabel: string = \"cool\";",
		"export class CoolButtonComponent {",
	} {
		if !strings.Contains(ts, want) {
			t.Errorf("Angular source missing %q:\n%s", want, ts)
		}
	}
	if got := fileContent(t, b, "src/index.ts"); got != "export * from './cool-button.component';\n" {
		t.Errorf("index = %q", got)
	}
}

func TestJSONEnvelope(t *testing.T) {
	d := newTestDispatcher()

	art, err := d.Export(richSource(), Request{
		Format:   FormatJSON,
		Metadata: Metadata{Author: "Ada", Extras: map[string]interface{}{"team": "ui"}},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	var env jsonEnvelope
	if err := json.Unmarshal(art.Content, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Variants != nil || env.Dependencies != nil {
		t.Error("variants/dependencies included without options")
	}
	want := exportInfo{
		Format:      FormatJSON,
		ExportedAt:  fixedNow,
		Version:     "1.2.0",
		Author:      "Ada",
		Description: "A button that is cool",
		Extras:      map[string]interface{}{"team": "ui"},
	}
	if diff := cmp.Diff(want, env.Export); diff != "" {
		t.Errorf("export info mismatch (-want +got):\n%s", diff)
	}

	art, err = d.Export(richSource(), Request{
		Format:  FormatJSON,
		Options: Options{IncludeVariants: true, IncludeDependencies: true, Minify: true},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if strings.Contains(string(art.Content), "\n") {
		t.Error("minified JSON contains newlines")
	}
	env = jsonEnvelope{}
	if err := json.Unmarshal(art.Content, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Variants) != 1 || len(env.Dependencies) != 4 {
		t.Errorf("got %d variants, %d dependencies", len(env.Variants), len(env.Dependencies))
	}
}

func TestCSS(t *testing.T) {
	src := coolButton()
	src.Component.Code = "<style>\n.btn { color: red; }\n</style><button class=\"btn\">Hi</button>"

	art, err := newTestDispatcher().Export(src, Request{
		Format:  FormatCSS,
		Options: Options{AddComments: boolPtr(false), DarkMode: true},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	want := ".btn { color: red; }\n\n@media (prefers-color-scheme: dark) {\n  .cool-button {\n    /* dark mode overrides */\n  }\n}\n"
	if got := string(art.Content); got != want {
		t.Errorf("Content =\n%s\nwant\n%s", got, want)
	}

	art, err = newTestDispatcher().Export(src, Request{
		Format:  FormatCSS,
		Options: Options{AddComments: boolPtr(false), DarkMode: true, Minify: true},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if got := string(art.Content); got != ".btn{color:red;}@media (prefers-color-scheme:dark){.cool-button{}}" {
		t.Errorf("minified = %q", got)
	}
}

func TestStubs(t *testing.T) {
	src := coolButton()
	src.Component.Name = "<Evil> & Co"
	d := newTestDispatcher()

	svg, err := d.Export(src, Request{Format: FormatSVG})
	if err != nil {
		t.Fatalf("Export svg: %v", err)
	}
	body := string(svg.Content)
	if !strings.Contains(body, "&lt;Evil&gt; &amp; Co") || strings.Contains(body, "<Evil>") {
		t.Errorf("SVG does not escape the name:\n%s", body)
	}
	if !strings.Contains(body, svgPlaceholder) {
		t.Error("SVG missing placeholder comment")
	}
	if svg.Filename != "evil-co.svg" {
		t.Errorf("Filename = %q", svg.Filename)
	}

	fig, err := d.Export(src, Request{Format: FormatFigma})
	if err != nil {
		t.Fatalf("Export figma: %v", err)
	}
	var stub figmaStub
	if err := json.Unmarshal(fig.Content, &stub); err != nil {
		t.Fatalf("decode figma: %v", err)
	}
	if stub.Comment != figmaPlaceholder || stub.Document.Children[0].Type != "COMPONENT" {
		t.Errorf("figma stub = %+v", stub)
	}
}

func TestMetadataUnmarshal(t *testing.T) {
	var m Metadata
	raw := `{"version":"2.0.0","author":"Ada","team":"ui","extras":{"tier":1}}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := Metadata{
		Version: "2.0.0",
		Author:  "Ada",
		Extras:  map[string]interface{}{"team": "ui", "tier": float64(1)},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("Metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterCustomFormat(t *testing.T) {
	d := newTestDispatcher()
	d.Register("txt", "text/plain", ".txt", SerializerFunc(func(in *Input) ([]byte, error) {
		return []byte(in.Source.Component.Name), nil
	}))
	art, err := d.Export(coolButton(), Request{Format: "txt"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if string(art.Content) != "Cool Button" || art.Filename != "cool-button.txt" {
		t.Errorf("artifact = %+v", art)
	}

	boom := errors.New("boom")
	d.Register("bad", "text/plain", ".bad", SerializerFunc(func(*Input) ([]byte, error) { return nil, boom }))
	if art, err := d.Export(coolButton(), Request{Format: "bad"}); !errors.Is(err, boom) || art != nil {
		t.Errorf("Export(bad) = %v, %v", art, err)
	}
}

func TestArtifactMarshalJSON(t *testing.T) {
	a := &Artifact{Content: []byte("<b>x</b>"), ContentType: "text/html", Filename: "x.html", Size: 8}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"content":"\u003cb\u003ex\u003c/b\u003e","content_type":"text/html","filename":"x.html","size":8}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}
