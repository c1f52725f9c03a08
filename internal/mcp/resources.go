package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	formatsURI           = "kitbay://formats"
	componentURIPrefix   = "kitbay://component/"
	componentURITemplate = componentURIPrefix + "{id}"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// Static list of export formats.
	srv.AddResource(
		mcp.NewResource(
			formatsURI,
			"Export Formats",
			mcp.WithResourceDescription(
				"Every format components can be exported to, with its content type.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleFormatsResource,
	)

	// One component with its variants and dependency edges.
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			componentURITemplate,
			"Component",
			mcp.WithTemplateDescription(
				"A single component with its code, styles, props, variants and dependencies.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleComponentResource,
	)
}

// handleFormatsResource returns the supported export formats.
func (s *MCPServer) handleFormatsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	return jsonResource(formatsURI, s.formats())
}

// handleComponentResource returns one readable component in full.
func (s *MCPServer) handleComponentResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	id := strings.TrimPrefix(uri, componentURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid component URI %q: expected %s", uri, componentURITemplate)
	}

	c, err := s.readable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("component %q: %w", id, err)
	}
	detail := componentDetail{Component: c}
	if detail.Variants, err = s.store.ListVariants(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}
	if detail.Dependencies, err = s.store.ListDependencies(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	return jsonResource(uri, detail)
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
