package mcp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/search"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
	"github.com/kitbay/kitbay/internal/validate"
)

// registerTools registers all Kitbay MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("kitbay_list_formats",
			mcp.WithDescription(
				"List the export formats Kitbay can produce, with the content type and "+
					"file name suffix of each. Use this before kitbay_export_component.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListFormats,
	)

	srv.AddTool(
		mcp.NewTool("kitbay_search_components",
			mcp.WithDescription(
				"Search the component catalog. Matches the query against names, "+
					"descriptions and tags, falling back to a fuzzy name match, and ranks "+
					"results by relevance, popularity, rating and recency. Returns each "+
					"component with its score.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("query",
				mcp.Description("Free-text query (e.g. \"primary button\")"),
			),
			mcp.WithString("category",
				mcp.Description("Restrict to one category (e.g. \"inputs\")"),
			),
			mcp.WithString("framework",
				mcp.Description("Restrict to one framework (e.g. \"react\")"),
			),
			mcp.WithArray("tags",
				mcp.Description("Match components carrying any of these tags"),
				mcp.WithStringItems(),
			),
			mcp.WithString("sort",
				mcp.Description("Result order"),
				mcp.Enum(validate.SortValues...),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results (default 20, max 100)"),
			),
		),
		s.handleSearch,
	)

	srv.AddTool(
		mcp.NewTool("kitbay_suggest",
			mcp.WithDescription(
				"Autocomplete a partial query into component names, categories and tags.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Prefix typed so far"),
			),
			mcp.WithArray("types",
				mcp.Description("Suggestion kinds to include: component, category, tag. Omit for all."),
				mcp.WithStringItems(mcp.Enum(validate.SuggestionTypes...)),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of suggestions (default 8, max 20)"),
			),
		),
		s.handleSuggest,
	)

	srv.AddTool(
		mcp.NewTool("kitbay_get_component",
			mcp.WithDescription(
				"Get one component by id, including its code, styles and props. "+
					"Variants and dependencies are included on request.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Component id (UUID)"),
			),
			mcp.WithBoolean("include_variants",
				mcp.Description("Include the component's variants"),
			),
			mcp.WithBoolean("include_dependencies",
				mcp.Description("Include the component's dependency edges"),
			),
		),
		s.handleGetComponent,
	)

	// ----- Export tool -----

	srv.AddTool(
		mcp.NewTool("kitbay_export_component",
			mcp.WithDescription(
				"Export a component in one of the formats listed by kitbay_list_formats. "+
					"Returns the file name and content type followed by the generated content.",
			),
			mcp.WithToolAnnotation(exportAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Component id (UUID)"),
			),
			mcp.WithString("format",
				mcp.Required(),
				mcp.Description("Target format"),
				mcp.Enum(export.FormatNames()...),
			),
			mcp.WithObject("options",
				mcp.Description("Export options: include_variants, include_dependencies, "+
					"minify, add_comments, typescript, responsive, dark_mode (all booleans)"),
			),
			mcp.WithObject("metadata",
				mcp.Description("Metadata stamped onto the artifact: version, author, license, description"),
			),
		),
		s.handleExport,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

type formatInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Stub        bool   `json:"stub,omitempty"`
}

// formats describes every format the dispatcher supports.
func (s *MCPServer) formats() []formatInfo {
	var out []formatInfo
	for _, f := range s.dispatcher.Supported() {
		ct, _ := s.dispatcher.ContentType(f)
		out = append(out, formatInfo{
			Name:        string(f),
			ContentType: ct,
			Stub:        f == export.FormatFigma || f == export.FormatSVG,
		})
	}
	return out
}

// handleListFormats returns the supported export formats.
func (s *MCPServer) handleListFormats(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	return jsonResult(s.formats())
}

// handleSearch runs the tiered catalog search.
func (s *MCPServer) handleSearch(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	q := textArg(request, "query")
	sortBy := textArg(request, "sort")
	if sortBy != "" && !slices.Contains(validate.SortValues, sortBy) {
		return errorResult("Invalid sort %q. Use one of: %s", sortBy, strings.Join(validate.SortValues, ", "))
	}

	f := model.ComponentFilter{
		Query:     q,
		Category:  textArg(request, "category"),
		Framework: textArg(request, "framework"),
		Tags:      listArg(request, "tags"),
		Limit:     limitArg(request, service.DefaultSearchLimit, service.MaxSearchLimit),
	}

	res, err := s.search.Search(ctx, s.principal, q, f, sortBy)
	if err != nil {
		return errorResult("Search failed: %v", err)
	}
	return jsonResult(res)
}

// handleSuggest returns autocomplete suggestions.
func (s *MCPServer) handleSuggest(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	q, err := requiredText(request, "query")
	if err != nil {
		return errorResult("%v", err)
	}
	types := listArg(request, "types")
	for _, t := range types {
		if !slices.Contains(validate.SuggestionTypes, t) {
			return errorResult("Invalid suggestion type %q. Use one of: %s", t, strings.Join(validate.SuggestionTypes, ", "))
		}
	}

	items, err := s.search.Suggest(ctx, s.principal, q, types, limitArg(request, search.DefaultSuggestions, search.MaxSuggestions))
	if err != nil {
		return errorResult("Suggestions failed: %v", err)
	}
	return jsonResult(items)
}

type componentDetail struct {
	*model.Component
	Variants     []model.ComponentVariant    `json:"variants,omitempty"`
	Dependencies []model.ComponentDependency `json:"dependencies,omitempty"`
}

// handleGetComponent returns one component the principal may read.
func (s *MCPServer) handleGetComponent(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requiredText(request, "id")
	if err != nil {
		return errorResult("%v", err)
	}

	c, err := s.readable(ctx, id)
	if err != nil {
		return lookupError(id, err)
	}

	detail := componentDetail{Component: c}
	if request.GetBool("include_variants", false) {
		if detail.Variants, err = s.store.ListVariants(ctx, c.ID); err != nil {
			return errorResult("Failed to load variants: %v", err)
		}
	}
	if request.GetBool("include_dependencies", false) {
		if detail.Dependencies, err = s.store.ListDependencies(ctx, c.ID); err != nil {
			return errorResult("Failed to load dependencies: %v", err)
		}
	}
	return jsonResult(detail)
}

// handleExport renders a component and returns the artifact as text.
func (s *MCPServer) handleExport(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requiredText(request, "id")
	if err != nil {
		return errorResult("%v", err)
	}
	name, err := requiredText(request, "format")
	if err != nil {
		return errorResult("%v", err)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		return errorResult("Unsupported format %q. Available formats: %s", name, strings.Join(export.FormatNames(), ", "))
	}

	req := export.Request{Format: format}
	if err := objectArg(request, "options", &req.Options); err != nil {
		return errorResult("Invalid options: %v", err)
	}
	if err := objectArg(request, "metadata", &req.Metadata); err != nil {
		return errorResult("Invalid metadata: %v", err)
	}

	art, err := s.exports.Export(ctx, s.principal, id, req)
	if err != nil {
		return lookupError(id, err)
	}

	header := fmt.Sprintf("filename: %s\ncontent_type: %s\nsize: %d", art.Filename, art.ContentType, art.Size)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(header),
			mcp.NewTextContent(string(art.Content)),
		},
	}, nil
}

// readable loads a component and checks the principal may see it.
func (s *MCPServer) readable(ctx context.Context, id string) (*model.Component, error) {
	c, err := s.store.GetComponent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := service.Authorize(s.principal, c); err != nil {
		return nil, err
	}
	return c, nil
}

// lookupError turns a component lookup failure into a message the agent can
// act on.
func lookupError(id string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errorResult("Component %q not found. Use kitbay_search_components to find ids.", id)
	case errors.Is(err, service.ErrForbidden):
		return errorResult("Component %q is private.", id)
	default:
		return errorResult("Failed to load component %q: %v", id, err)
	}
}
