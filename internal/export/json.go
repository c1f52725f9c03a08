package export

import (
	"encoding/json"
	"time"

	"github.com/kitbay/kitbay/internal/model"
)

type exportInfo struct {
	Format      Format                 `json:"format"`
	ExportedAt  time.Time              `json:"exported_at"`
	Version     string                 `json:"version"`
	Author      string                 `json:"author,omitempty"`
	License     string                 `json:"license,omitempty"`
	Description string                 `json:"description,omitempty"`
	Extras      map[string]interface{} `json:"extras,omitempty"`
}

type jsonEnvelope struct {
	Component    model.Component             `json:"component"`
	Variants     []model.ComponentVariant    `json:"variants,omitempty"`
	Dependencies []model.ComponentDependency `json:"dependencies,omitempty"`
	Export       exportInfo                  `json:"export"`
}

func newExportInfo(in *Input) exportInfo {
	return exportInfo{
		Format:      in.Format,
		ExportedAt:  in.ExportedAt,
		Version:     in.Version(),
		Author:      in.Metadata.Author,
		License:     in.Metadata.License,
		Description: in.Description(),
		Extras:      in.Metadata.Extras,
	}
}

// marshal encodes v indented, or compact when minifying. Compact output is
// never longer than the indented form of the same value.
func marshal(v interface{}, minify bool) ([]byte, error) {
	if minify {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}

func serializeJSON(in *Input) ([]byte, error) {
	return marshal(jsonEnvelope{
		Component:    in.Source.Component,
		Variants:     in.Variants(),
		Dependencies: in.Dependencies(),
		Export:       newExportInfo(in),
	}, in.Options.Minify)
}
