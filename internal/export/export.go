// Package export turns a component record into a downloadable artifact in one
// of a fixed set of formats. Every format is a pure function of the component,
// its optional variants and dependencies, and the request options; nothing in
// this package touches the store.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kitbay/kitbay/internal/model"
)

// ErrUnsupportedFormat is returned for any format without a registered
// serializer. No partial artifact accompanies it.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format names an export target.
type Format string

const (
	FormatJSON    Format = "json"
	FormatReact   Format = "react"
	FormatVue     Format = "vue"
	FormatAngular Format = "angular"
	FormatHTML    Format = "html"
	FormatCSS     Format = "css"
	FormatFigma   Format = "figma"
	FormatSVG     Format = "svg"
)

// Content types produced by the built-in serializers.
const (
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html"
	ContentTypeCSS  = "text/css"
	ContentTypeSVG  = "image/svg+xml"
)

var builtinFormats = []Format{
	FormatJSON, FormatReact, FormatVue, FormatAngular,
	FormatHTML, FormatCSS, FormatFigma, FormatSVG,
}

// Formats returns the built-in formats in their canonical order.
func Formats() []Format {
	out := make([]Format, len(builtinFormats))
	copy(out, builtinFormats)
	return out
}

// FormatNames returns the built-in formats as plain strings, for schema enums
// and CLI help.
func FormatNames() []string {
	out := make([]string, len(builtinFormats))
	for i, f := range builtinFormats {
		out[i] = string(f)
	}
	return out
}

// ParseFormat normalizes s and checks it against the built-in formats.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range builtinFormats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Options toggles optional parts of an export.
type Options struct {
	IncludeVariants     bool  `json:"include_variants"`
	IncludeDependencies bool  `json:"include_dependencies"`
	Minify              bool  `json:"minify"`
	AddComments         *bool `json:"add_comments,omitempty"`
	TypeScript          bool  `json:"typescript"`
	Responsive          bool  `json:"responsive"`
	DarkMode            bool  `json:"dark_mode"`
}

// Comments reports whether comment headers should be written. Unset means yes.
func (o Options) Comments() bool {
	return o.AddComments == nil || *o.AddComments
}

// Metadata is caller-supplied information stamped onto the artifact. Keys
// other than the four known ones are kept in Extras.
type Metadata struct {
	Version     string                 `json:"version,omitempty"`
	Author      string                 `json:"author,omitempty"`
	License     string                 `json:"license,omitempty"`
	Description string                 `json:"description,omitempty"`
	Extras      map[string]interface{} `json:"extras,omitempty"`
}

// UnmarshalJSON accepts a flat object and moves unknown keys into Extras.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metadata{}
	take := func(key string) string {
		v, ok := raw[key]
		if !ok {
			return ""
		}
		delete(raw, key)
		s, _ := v.(string)
		return s
	}
	m.Version = take("version")
	m.Author = take("author")
	m.License = take("license")
	m.Description = take("description")
	if nested, ok := raw["extras"].(map[string]interface{}); ok {
		delete(raw, "extras")
		for k, v := range nested {
			raw[k] = v
		}
	}
	if len(raw) > 0 {
		m.Extras = raw
	}
	return nil
}

// Source is everything a serializer may read.
type Source struct {
	Component    model.Component
	Variants     []model.ComponentVariant
	Dependencies []model.ComponentDependency
}

// Request selects the format and options of one export.
type Request struct {
	Format   Format
	Options  Options
	Metadata Metadata
}

// Artifact is the output of an export.
type Artifact struct {
	Content     []byte
	ContentType string
	Filename    string
	Size        int
}

// MarshalJSON renders the artifact with its content as a string, which is how
// the API envelope and job bundles carry it.
func (a *Artifact) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Content     string `json:"content"`
		ContentType string `json:"content_type"`
		Filename    string `json:"filename"`
		Size        int    `json:"size"`
	}{string(a.Content), a.ContentType, a.Filename, a.Size})
}

// Input is what the dispatcher hands to a serializer: the source plus derived
// names and the export timestamp.
type Input struct {
	Source     *Source
	Options    Options
	Metadata   Metadata
	Format     Format
	Slug       string // cool-button
	TypeName   string // CoolButton
	ExportedAt time.Time
}

// Version returns the metadata version, falling back to the component's.
func (in *Input) Version() string {
	if in.Metadata.Version != "" {
		return in.Metadata.Version
	}
	if in.Source.Component.Version != "" {
		return in.Source.Component.Version
	}
	return "1.0.0"
}

// Description returns the metadata description, falling back to the
// component's.
func (in *Input) Description() string {
	if in.Metadata.Description != "" {
		return in.Metadata.Description
	}
	return in.Source.Component.Description
}

// Variants returns the variants when the options ask for them.
func (in *Input) Variants() []model.ComponentVariant {
	if !in.Options.IncludeVariants {
		return nil
	}
	return in.Source.Variants
}

// Dependencies returns the dependencies when the options ask for them.
func (in *Input) Dependencies() []model.ComponentDependency {
	if !in.Options.IncludeDependencies {
		return nil
	}
	return in.Source.Dependencies
}

// Serializer produces the artifact body for one format.
type Serializer interface {
	Serialize(in *Input) ([]byte, error)
}

// SerializerFunc adapts a function to the Serializer interface.
type SerializerFunc func(in *Input) ([]byte, error)

// Serialize calls f(in).
func (f SerializerFunc) Serialize(in *Input) ([]byte, error) { return f(in) }

type registration struct {
	contentType string
	suffix      string
	serializer  Serializer
}

// Dispatcher maps formats to serializers.
type Dispatcher struct {
	mu      sync.RWMutex
	entries map[Format]registration
	now     func() time.Time
}

// NewDispatcher returns a dispatcher with all built-in formats registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		entries: make(map[Format]registration),
		now:     time.Now,
	}
	d.Register(FormatJSON, ContentTypeJSON, ".json", SerializerFunc(serializeJSON))
	d.Register(FormatReact, ContentTypeJSON, "-react.json", SerializerFunc(serializeReact))
	d.Register(FormatVue, ContentTypeJSON, "-vue.json", SerializerFunc(serializeVue))
	d.Register(FormatAngular, ContentTypeJSON, "-angular.json", SerializerFunc(serializeAngular))
	d.Register(FormatHTML, ContentTypeHTML, ".html", SerializerFunc(serializeHTML))
	d.Register(FormatCSS, ContentTypeCSS, ".css", SerializerFunc(serializeCSS))
	d.Register(FormatFigma, ContentTypeJSON, ".figma.json", SerializerFunc(serializeFigma))
	d.Register(FormatSVG, ContentTypeSVG, ".svg", SerializerFunc(serializeSVG))
	return d
}

// Register adds or replaces the serializer for a format. The filename of the
// artifact is the component slug followed by suffix.
func (d *Dispatcher) Register(f Format, contentType, suffix string, s Serializer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[f] = registration{contentType: contentType, suffix: suffix, serializer: s}
}

// Supported returns the registered formats, sorted.
func (d *Dispatcher) Supported() []Format {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Format, 0, len(d.entries))
	for f := range d.entries {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ContentType returns the content type registered for f.
func (d *Dispatcher) ContentType(f Format) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.entries[f]
	return reg.contentType, ok
}

// Export serializes src in the requested format.
func (d *Dispatcher) Export(src *Source, req Request) (*Artifact, error) {
	d.mu.RLock()
	reg, ok := d.entries[req.Format]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	if src == nil {
		return nil, errors.New("export: nil source")
	}

	in := &Input{
		Source:     src,
		Options:    req.Options,
		Metadata:   req.Metadata,
		Format:     req.Format,
		Slug:       Slug(src.Component),
		TypeName:   TypeName(src.Component.Name),
		ExportedAt: d.now().UTC(),
	}
	content, err := reg.serializer.Serialize(in)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", req.Format, err)
	}

	return &Artifact{
		Content:     content,
		ContentType: reg.contentType,
		Filename:    in.Slug + reg.suffix,
		Size:        len(content),
	}, nil
}
