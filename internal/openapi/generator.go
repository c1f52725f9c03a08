package openapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/search"
	"github.com/kitbay/kitbay/internal/validate"
)

// resultTypes are the response data shapes published as component schemas.
var resultTypes = map[string]interface{}{
	"Component":      model.Component{},
	"Variant":        model.ComponentVariant{},
	"Dependency":     model.ComponentDependency{},
	"ExportJob":      model.ExportJob{},
	"Backup":         model.Backup{},
	"User":           model.User{},
	"APIKey":         model.APIKey{},
	"AnalyticsEvent": model.AnalyticsEvent{},
	"SearchResult":   search.Result{},
	"Suggestion":     search.Suggestion{},
	"FieldError":     model.FieldError{},
	"Artifact":       artifactShape{},
	"EventCount":     model.EventCount{},
}

// artifactShape mirrors the JSON form of export.Artifact.
type artifactShape struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Size        int    `json:"size"`
}

// Generate builds the OpenAPI document for the routes in Routes.
func Generate(version, baseURL string) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Kitbay API",
			Description: "Component catalog, search, export and backup API.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	for name, s := range validate.Named() {
		doc.Components.Schemas[name] = openapi3.NewSchemaRef("", s)
	}
	for name, v := range resultTypes {
		ref, err := openapi3gen.NewSchemaRefForValue(v, doc.Components.Schemas)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		doc.Components.Schemas[name] = ref
	}
	doc.Components.Schemas["ErrorResponse"] = errorSchema()

	doc.Paths = openapi3.NewPaths()
	for _, rt := range Routes {
		item := doc.Paths.Value(rt.Path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(rt.Path, item)
		}
		item.SetOperation(rt.Method, operation(rt))
	}
	return doc, nil
}

func operation(rt Route) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{rt.Tag},
		Summary:     rt.Summary,
		OperationID: rt.OperationID,
		Parameters:  pathParameters(rt.Path),
	}

	switch rt.Auth {
	case AuthNone:
		op.Security = &openapi3.SecurityRequirements{}
	case AuthOptional:
		op.Security = &openapi3.SecurityRequirements{{}, {"apiKey": {}}, {"bearerAuth": {}}}
	default:
		op.Security = &openapi3.SecurityRequirements{{"apiKey": {}}, {"bearerAuth": {}}}
	}

	if rt.Query != nil {
		for _, name := range validate.QueryParams(rt.Query) {
			p := openapi3.NewQueryParameter(name).WithSchema(rt.Query.Properties[name].Value)
			for _, req := range rt.Query.Required {
				if req == name {
					p.Required = true
				}
			}
			op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: p})
		}
	}
	if rt.Body != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(!rt.OptionalBody).
				WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/"+rt.Body, nil)),
		}
	}

	op.Responses = responses(rt)
	return op
}

// pathParameters documents every {name} segment of path as a string.
func pathParameters(path string) openapi3.Parameters {
	var params openapi3.Parameters
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := strings.Trim(seg, "{}")
			params = append(params, &openapi3.ParameterRef{
				Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()),
			})
		}
	}
	return params
}

func responses(rt Route) *openapi3.Responses {
	status := rt.Status
	if status == 0 {
		status = http.StatusOK
	}

	res := openapi3.NewResponsesWithCapacity(4)
	desc := http.StatusText(status)
	ok := &openapi3.Response{Description: &desc}
	if rt.Raw != "" {
		ok.Content = openapi3.Content{rt.Raw: openapi3.NewMediaType().WithSchema(openapi3.NewStringSchema().WithFormat("binary"))}
	} else {
		ok.Content = openapi3.NewContentWithJSONSchemaRef(envelope(rt))
	}
	res.Set(fmt.Sprint(status), &openapi3.ResponseRef{Value: ok})

	for _, code := range errorCodes(rt) {
		d := http.StatusText(code)
		res.Set(fmt.Sprint(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)),
			},
		})
	}
	return res
}

// errorCodes lists the error statuses a route can produce.
func errorCodes(rt Route) []int {
	set := map[int]bool{http.StatusServiceUnavailable: true}
	if rt.Body != "" || rt.Query != nil {
		set[http.StatusBadRequest] = true
	}
	if rt.Auth != AuthNone {
		set[http.StatusUnauthorized] = true
	}
	if rt.Auth == AuthAdmin || strings.Contains(rt.Path, "{id}") || rt.Auth == AuthOptional {
		set[http.StatusForbidden] = true
	}
	if strings.Contains(rt.Path, "{id}") || rt.Body == "ExportRequest" {
		set[http.StatusNotFound] = true
	}
	if rt.Limited {
		set[http.StatusTooManyRequests] = true
	}
	codes := make([]int, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// envelope is the success envelope wrapping rt's result.
func envelope(rt Route) *openapi3.SchemaRef {
	var data *openapi3.SchemaRef
	switch {
	case rt.Result == "":
		data = openapi3.NewSchemaRef("", openapi3.NewObjectSchema().WithAnyAdditionalProperties())
	case rt.List:
		data = openapi3.NewSchemaRef("", &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: openapi3.NewSchemaRef("#/components/schemas/"+rt.Result, nil),
		})
	default:
		data = openapi3.NewSchemaRef("#/components/schemas/"+rt.Result, nil)
	}

	props := openapi3.Schemas{
		"success": openapi3.NewSchemaRef("", openapi3.NewBoolSchema()),
		"data":    data,
	}
	if rt.List {
		props["meta"] = metaSchema()
	}
	return openapi3.NewSchemaRef("", &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   []string{"success", "data"},
	})
}

func errorSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"success": &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()},
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{
								Value: &openapi3.Schema{
									Type: &openapi3.Types{"object"},
									Properties: openapi3.Schemas{
										"fields": &openapi3.SchemaRef{
											Value: &openapi3.Schema{
												Type:  &openapi3.Types{"array"},
												Items: openapi3.NewSchemaRef("#/components/schemas/FieldError", nil),
											},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Number of items in this page.",
					},
				},
				"total": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int64",
						Description: "Total number of matching items.",
					},
				},
				"limit": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Maximum items returned per page.",
					},
				},
				"offset": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int32",
						Description: "Number of items skipped.",
					},
				},
				"tier": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"string"},
						Description: "Search tier that produced the results.",
					},
				},
				"took_ms": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:   &openapi3.Types{"number"},
						Format: "double",
					},
				},
			},
		},
	}
}
