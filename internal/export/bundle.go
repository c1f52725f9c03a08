package export

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/kitbay/kitbay/internal/model"
)

// Bundles are descriptive JSON trees of a small package: the files a
// developer would create, plus the manifest. They are never archives.

type bundleFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type bundle struct {
	Name      string          `json:"name"`
	Framework string          `json:"framework"`
	Files     []bundleFile    `json:"files"`
	Manifest  packageManifest `json:"manifest"`
	Export    exportInfo      `json:"export"`
}

type packageManifest struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Description          string            `json:"description,omitempty"`
	Author               string            `json:"author,omitempty"`
	License              string            `json:"license,omitempty"`
	Main                 string            `json:"main"`
	Types                string            `json:"types,omitempty"`
	Keywords             []string          `json:"keywords,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
}

// frameworkKit describes how one framework lays out its bundle.
type frameworkKit struct {
	name       string
	peers      map[string]string
	typescript func(in *Input) bool
	main       func(in *Input) string
	source     func(in *Input, typeName, code, styles string, props map[string]interface{}) bundleFile
	variant    func(in *Input, v model.ComponentVariant) bundleFile
	index      func(in *Input) bundleFile
	usage      func(in *Input) (lang, snippet string)
}

var (
	reactKit = frameworkKit{
		name:       "react",
		peers:      map[string]string{"react": "^18.2.0", "react-dom": "^18.2.0"},
		typescript: func(in *Input) bool { return in.Options.TypeScript },
		main: func(in *Input) string {
			return "src/index." + scriptExt(in.Options.TypeScript, "js", "ts")
		},
		source: reactSource,
		variant: func(in *Input, v model.ComponentVariant) bundleFile {
			f := reactSource(in, in.TypeName+TypeName(v.Name), v.Code, "", v.Props)
			f.Path = "src/variants/" + strings.TrimPrefix(f.Path, "src/")
			return f
		},
		index: func(in *Input) bundleFile {
			return bundleFile{
				Path:    "src/index." + scriptExt(in.Options.TypeScript, "js", "ts"),
				Content: fmt.Sprintf("export { default } from './%s';\n", in.TypeName),
			}
		},
		usage: func(in *Input) (string, string) {
			return "jsx", fmt.Sprintf("import %s from '%s';\n\n<%s />", in.TypeName, in.Slug, in.TypeName)
		},
	}

	vueKit = frameworkKit{
		name:       "vue",
		peers:      map[string]string{"vue": "^3.3.0"},
		typescript: func(in *Input) bool { return in.Options.TypeScript },
		main: func(in *Input) string {
			return "src/index." + scriptExt(in.Options.TypeScript, "js", "ts")
		},
		source: vueSource,
		variant: func(in *Input, v model.ComponentVariant) bundleFile {
			f := vueSource(in, in.TypeName+TypeName(v.Name), v.Code, v.Styles, v.Props)
			f.Path = "src/variants/" + strings.TrimPrefix(f.Path, "src/")
			return f
		},
		index: func(in *Input) bundleFile {
			return bundleFile{
				Path:    "src/index." + scriptExt(in.Options.TypeScript, "js", "ts"),
				Content: fmt.Sprintf("export { default } from './%s.vue';\n", in.TypeName),
			}
		},
		usage: func(in *Input) (string, string) {
			return "vue", fmt.Sprintf("<script setup>\nimport %s from '%s';\n</script>\n\n<template>\n  <%s />\n</template>",
				in.TypeName, in.Slug, in.TypeName)
		},
	}

	angularKit = frameworkKit{
		name: "angular",
		peers: map[string]string{
			"@angular/common": "^17.0.0",
			"@angular/core":   "^17.0.0",
		},
		typescript: func(*Input) bool { return true },
		main:       func(*Input) string { return "src/index.ts" },
		source:     angularSource,
		variant: func(in *Input, v model.ComponentVariant) bundleFile {
			f := angularSource(in, in.TypeName+TypeName(v.Name), v.Code, v.Styles, v.Props)
			f.Path = "src/variants/" + strings.TrimPrefix(f.Path, "src/")
			return f
		},
		index: func(in *Input) bundleFile {
			return bundleFile{
				Path:    "src/index.ts",
				Content: fmt.Sprintf("export * from './%s.component';\n", angularStem(in.TypeName)),
			}
		},
		usage: func(in *Input) (string, string) {
			sel := angularSelector(angularStem(in.TypeName))
			return "html", fmt.Sprintf("<%s></%s>", sel, sel)
		},
	}
)

func serializeReact(in *Input) ([]byte, error)   { return buildBundle(in, reactKit) }
func serializeVue(in *Input) ([]byte, error)     { return buildBundle(in, vueKit) }
func serializeAngular(in *Input) ([]byte, error) { return buildBundle(in, angularKit) }

func buildBundle(in *Input, kit frameworkKit) ([]byte, error) {
	c := in.Source.Component
	manifest := newManifest(in, kit)

	files := []bundleFile{kit.source(in, in.TypeName, c.Code, c.Styles, c.Props)}
	if kit.name == "react" && strings.TrimSpace(c.Styles) != "" {
		files = append(files, bundleFile{Path: "src/" + in.TypeName + ".css", Content: ensureNewline(c.Styles)})
	}
	for _, v := range in.Variants() {
		files = append(files, kit.variant(in, v))
	}
	files = append(files, kit.index(in))

	pkg, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	files = append(files,
		bundleFile{Path: "package.json", Content: string(pkg) + "\n"},
		bundleFile{Path: "README.md", Content: readme(in, kit)},
	)

	return marshal(bundle{
		Name:      in.Slug,
		Framework: kit.name,
		Files:     files,
		Manifest:  manifest,
		Export:    newExportInfo(in),
	}, in.Options.Minify)
}

func newManifest(in *Input, kit frameworkKit) packageManifest {
	c := in.Source.Component
	m := packageManifest{
		Name:             in.Slug,
		Version:          in.Version(),
		Description:      in.Description(),
		Author:           in.Metadata.Author,
		License:          in.Metadata.License,
		Main:             kit.main(in),
		Keywords:         c.Tags,
		PeerDependencies: copyStrings(kit.peers),
	}
	if kit.typescript(in) {
		m.Types = m.Main
		m.DevDependencies = map[string]string{"typescript": "^5.0.0"}
	}

	for _, d := range in.Dependencies() {
		if d.PackageName == "" {
			continue
		}
		rng := d.VersionRange
		if rng == "" {
			rng = "*"
		}
		switch d.Type {
		case model.DependencyPeer:
			m.PeerDependencies[d.PackageName] = rng
		case model.DependencyBuild:
			if m.DevDependencies == nil {
				m.DevDependencies = make(map[string]string)
			}
			m.DevDependencies[d.PackageName] = rng
		case model.DependencyOptional:
			if m.OptionalDependencies == nil {
				m.OptionalDependencies = make(map[string]string)
			}
			m.OptionalDependencies[d.PackageName] = rng
		default:
			if m.Dependencies == nil {
				m.Dependencies = make(map[string]string)
			}
			m.Dependencies[d.PackageName] = rng
		}
	}
	return m
}

// ---------------------------------------------------------------------------
// React
// ---------------------------------------------------------------------------

var (
	moduleSyntax = regexp.MustCompile(`(?m)^\s*(export|import)\s`)
	htmlClass    = regexp.MustCompile(`(\s)class="`)
)

func reactSource(in *Input, typeName, code, styles string, props map[string]interface{}) bundleFile {
	ts := in.Options.TypeScript
	path := "src/" + typeName + "." + scriptExt(ts, "jsx", "tsx")

	var b strings.Builder
	if in.Options.Comments() {
		b.WriteString(lineComment(in))
	}

	// Code that is already a module is shipped as written.
	if moduleSyntax.MatchString(code) {
		b.WriteString(ensureNewline(code))
		return bundleFile{Path: path, Content: b.String()}
	}

	b.WriteString("import React from 'react';\n")
	if strings.TrimSpace(styles) != "" {
		fmt.Fprintf(&b, "import './%s.css';\n", typeName)
	}
	b.WriteByte('\n')

	param := "props"
	if ts {
		b.WriteString(tsInterface(typeName+"Props", props))
		b.WriteByte('\n')
		param = "props: " + typeName + "Props"
	}

	jsx := htmlClass.ReplaceAllString(code, `${1}className="`)
	fmt.Fprintf(&b, "export default function %s(%s) {\n", typeName, param)
	b.WriteString("  return (\n    <>\n")
	b.WriteString(indent(jsx, "      "))
	b.WriteString("    </>\n  );\n}\n")

	if defaults := propDefaults(props); defaults != "" {
		fmt.Fprintf(&b, "\n%s.defaultProps = %s;\n", typeName, defaults)
	}
	return bundleFile{Path: path, Content: b.String()}
}

// ---------------------------------------------------------------------------
// Vue
// ---------------------------------------------------------------------------

func vueSource(in *Input, typeName, code, styles string, props map[string]interface{}) bundleFile {
	var b strings.Builder
	if in.Options.Comments() {
		b.WriteString(blockComment(in, "<!--", "-->"))
		if in.Options.Minify {
			b.WriteByte('\n')
		}
	}

	b.WriteString("<template>\n")
	b.WriteString(indent(code, "  "))
	b.WriteString("</template>\n\n")

	if in.Options.TypeScript {
		b.WriteString("<script setup lang=\"ts\">\n")
		if len(props) > 0 {
			b.WriteString("defineProps<{\n")
			for _, name := range sortedKeys(props) {
				fmt.Fprintf(&b, "  %s?: %s\n", tsKey(name), tsType(props[name]))
			}
			b.WriteString("}>()\n")
		}
	} else {
		b.WriteString("<script setup>\n")
		if len(props) > 0 {
			b.WriteString("defineProps({\n")
			for _, name := range sortedKeys(props) {
				fmt.Fprintf(&b, "  %s: { default: %s },\n", jsonString(name), vueDefault(props[name]))
			}
			b.WriteString("})\n")
		}
	}
	b.WriteString("</script>\n")

	if strings.TrimSpace(styles) != "" {
		b.WriteString("\n<style scoped>\n")
		b.WriteString(ensureNewline(styles))
		b.WriteString("</style>\n")
	}
	return bundleFile{Path: "src/" + typeName + ".vue", Content: b.String()}
}

// Object and array defaults must be factories in Vue.
func vueDefault(v interface{}) string {
	lit := jsonLiteral(v)
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return "() => (" + lit + ")"
	}
	return lit
}

// ---------------------------------------------------------------------------
// Angular
// ---------------------------------------------------------------------------

var templateUnsafe = strings.NewReplacer("\\", "\\\\", "`", "\\`", "${", "\\${")

func angularSelector(stem string) string {
	return "kb-" + stem
}

// angularStem is the kebab-case file and selector stem: CoolButton becomes
// cool-button.
func angularStem(typeName string) string {
	return inflect.Dasherize(typeName)
}

func angularSource(in *Input, typeName, code, styles string, props map[string]interface{}) bundleFile {
	fileStem := angularStem(typeName)
	var b strings.Builder
	if in.Options.Comments() {
		b.WriteString(lineComment(in))
	}

	imports := "Component"
	if len(props) > 0 {
		imports = "Component, Input"
	}
	fmt.Fprintf(&b, "import { %s } from '@angular/core';\n\n", imports)
	b.WriteString("@Component({\n")
	fmt.Fprintf(&b, "  selector: '%s',\n", angularSelector(fileStem))
	b.WriteString("  standalone: true,\n")
	b.WriteString("  template: `\n")
	b.WriteString(indent(templateUnsafe.Replace(code), "    "))
	b.WriteString("  `,\n")
	if strings.TrimSpace(styles) != "" {
		b.WriteString("  styles: [`\n")
		b.WriteString(indent(templateUnsafe.Replace(styles), "    "))
		b.WriteString("  `],\n")
	}
	b.WriteString("})\n")

	fmt.Fprintf(&b, "export class %sComponent {\n", typeName)
	for _, name := range sortedKeys(props) {
		field := propIdent(name)
		if field == "" {
			continue
		}
		if field == name {
			fmt.Fprintf(&b, "  @Input() %s: %s = %s;\n", field, tsType(props[name]), jsonLiteral(props[name]))
		} else {
			fmt.Fprintf(&b, "  @Input('%s') %s: %s = %s;\n", name, field, tsType(props[name]), jsonLiteral(props[name]))
		}
	}
	b.WriteString("}\n")

	return bundleFile{Path: "src/" + fileStem + ".component.ts", Content: b.String()}
}

// ---------------------------------------------------------------------------
// README
// ---------------------------------------------------------------------------

func readme(in *Input, kit frameworkKit) string {
	c := in.Source.Component
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", Title(c.Name))
	if d := in.Description(); d != "" {
		b.WriteString(d + "\n\n")
	}
	fmt.Fprintf(&b, "Version %s", in.Version())
	if in.Metadata.License != "" {
		fmt.Fprintf(&b, ", %s license", in.Metadata.License)
	}
	b.WriteString(".\n\n")

	b.WriteString("## Installation\n\n```sh\nnpm install ./" + in.Slug + "\n```\n\n")

	lang, snippet := kit.usage(in)
	fmt.Fprintf(&b, "## Usage\n\n```%s\n%s\n```\n", lang, snippet)

	if len(c.Props) > 0 {
		b.WriteString("\n## Props\n\n| Name | Type | Default |\n|---|---|---|\n")
		for _, name := range sortedKeys(c.Props) {
			fmt.Fprintf(&b, "| %s | %s | `%s` |\n", name, tsType(c.Props[name]), jsonLiteral(c.Props[name]))
		}
	}

	if variants := in.Variants(); len(variants) > 0 {
		b.WriteString("\n## Variants\n\n")
		for _, v := range variants {
			line := "- " + v.Name
			if v.IsDefault {
				line += " (default)"
			}
			if v.Description != "" {
				line += ": " + v.Description
			}
			b.WriteString(line + "\n")
		}
	}

	if deps := in.Dependencies(); len(deps) > 0 {
		b.WriteString("\n## Dependencies\n\n")
		for _, d := range deps {
			rng := d.VersionRange
			if rng == "" {
				rng = "*"
			}
			fmt.Fprintf(&b, "- %s %s (%s)\n", d.Target(), rng, d.Type)
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var jsIdent = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func scriptExt(ts bool, js, tsExt string) string {
	if ts {
		return tsExt
	}
	return js
}

// tsType infers a TypeScript type from a decoded JSON default value.
func tsType(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "unknown[]"
	case map[string]interface{}:
		return "Record<string, unknown>"
	}
	return "unknown"
}

func tsKey(name string) string {
	if jsIdent.MatchString(name) {
		return name
	}
	return jsonString(name)
}

func tsInterface(name string, props map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "export interface %s {\n", name)
	for _, key := range sortedKeys(props) {
		fmt.Fprintf(&b, "  %s?: %s;\n", tsKey(key), tsType(props[key]))
	}
	b.WriteString("}\n")
	return b.String()
}

// propIdent returns a field name for a prop, or "" when none can be made.
func propIdent(name string) string {
	if jsIdent.MatchString(name) {
		return name
	}
	stem := inflect.Parameterize(name)
	if stem == "" {
		return ""
	}
	ident := inflect.CamelizeDownFirst(stem)
	if !jsIdent.MatchString(ident) {
		return ""
	}
	return ident
}

func propDefaults(props map[string]interface{}) string {
	if len(props) == 0 {
		return ""
	}
	b, err := json.Marshal(props)
	if err != nil {
		return ""
	}
	return string(b)
}

func jsonLiteral(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// indent prefixes every non-blank line of s and guarantees a trailing newline.
func indent(s, prefix string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
