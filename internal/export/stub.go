package export

import (
	"fmt"
	"html"
	"strings"
)

// Figma and SVG exports are placeholders. Neither format has a real design
// tool or vector integration behind it.

const (
	figmaPlaceholder = "Figma export is a placeholder. Import the HTML export with a Figma HTML-to-design plugin to get editable layers."
	svgPlaceholder   = "SVG export is a placeholder preview, not a rendering of the component."
)

type figmaNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Children []figmaNode `json:"children"`
}

type figmaStub struct {
	Name        string            `json:"name"`
	Comment     string            `json:"comment"`
	Document    figmaNode         `json:"document"`
	Description string            `json:"description,omitempty"`
	Source      map[string]string `json:"source"`
	Export      exportInfo        `json:"export"`
}

func serializeFigma(in *Input) ([]byte, error) {
	c := in.Source.Component
	doc := figmaNode{
		ID:   "0:0",
		Name: "Document",
		Type: "DOCUMENT",
		Children: []figmaNode{{
			ID:       "1:1",
			Name:     c.Name,
			Type:     "COMPONENT",
			Children: []figmaNode{},
		}},
	}
	for i, v := range in.Variants() {
		doc.Children = append(doc.Children, figmaNode{
			ID:       fmt.Sprintf("1:%d", i+2),
			Name:     c.Name + "/" + v.Name,
			Type:     "COMPONENT",
			Children: []figmaNode{},
		})
	}

	return marshal(figmaStub{
		Name:        c.Name,
		Comment:     figmaPlaceholder,
		Document:    doc,
		Description: in.Description(),
		Source: map[string]string{
			"component_id": c.ID,
			"framework":    c.Framework,
			"version":      in.Version(),
		},
		Export: newExportInfo(in),
	}, in.Options.Minify)
}

func serializeSVG(in *Input) ([]byte, error) {
	c := in.Source.Component
	name := html.EscapeString(c.Name)

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="320" height="120" viewBox="0 0 320 120">` + "\n")
	fmt.Fprintf(&b, "  <!-- %s -->\n", svgPlaceholder)
	if in.Options.Comments() {
		fmt.Fprintf(&b, "  <!-- %s v%s -->\n", name, html.EscapeString(in.Version()))
	}
	fmt.Fprintf(&b, "  <title>%s</title>\n", name)
	b.WriteString(`  <rect x="1" y="1" width="318" height="118" rx="12" fill="#f8fafc" stroke="#cbd5e1" stroke-dasharray="6 4"/>` + "\n")
	fmt.Fprintf(&b, `  <text x="160" y="66" font-family="system-ui, sans-serif" font-size="16" text-anchor="middle" fill="#334155">%s</text>`+"\n", name)
	b.WriteString("</svg>\n")

	out := b.String()
	if in.Options.Minify {
		out = minifyMarkup(out)
	}
	return []byte(out), nil
}
