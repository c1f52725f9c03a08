package validate

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kitbay/kitbay/internal/export"
)

// Patterns shared by several schemas.
const (
	UUIDPattern    = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`
	EmailPattern   = `^[^@\s]+@[^@\s]+\.[^@\s]+$`
	VersionPattern = `^\d+\.\d+\.\d+([-+][0-9A-Za-z.-]+)?$`
	PackagePattern = `^(@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`
)

// Search sort keys.
var SortValues = []string{"relevance", "popular", "rating", "newest"}

// Suggestion item types.
var SuggestionTypes = []string{"component", "category", "tag"}

func enum(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func str(maxLen int64) *openapi3.Schema {
	return openapi3.NewStringSchema().WithMaxLength(maxLen)
}

func uuid() *openapi3.Schema {
	return openapi3.NewStringSchema().WithPattern(UUIDPattern)
}

func object(props map[string]*openapi3.Schema, required ...string) *openapi3.Schema {
	s := openapi3.NewObjectSchema().WithProperties(props)
	if len(required) > 0 {
		s.WithRequired(required)
	}
	return s
}

func score() *openapi3.Schema {
	return openapi3.NewIntegerSchema().WithMin(0).WithMax(100)
}

func tags() *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(str(32).WithMinLength(1)).WithMaxItems(20)
}

// ExportOptions mirrors export.Options.
var ExportOptions = object(map[string]*openapi3.Schema{
	"include_variants":     openapi3.NewBoolSchema(),
	"include_dependencies": openapi3.NewBoolSchema(),
	"minify":               openapi3.NewBoolSchema(),
	"add_comments":         openapi3.NewBoolSchema().WithDefault(true),
	"typescript":           openapi3.NewBoolSchema(),
	"responsive":           openapi3.NewBoolSchema(),
	"dark_mode":            openapi3.NewBoolSchema(),
})

// ExportMetadata mirrors export.Metadata; unknown keys are kept as extras.
var ExportMetadata = object(map[string]*openapi3.Schema{
	"version":     str(32),
	"author":      str(128),
	"license":     str(64),
	"description": str(1000),
}).WithAnyAdditionalProperties()

// ExportRequest is the body of POST /api/components/export/single.
var ExportRequest = object(map[string]*openapi3.Schema{
	"component_id": uuid(),
	"format":       openapi3.NewStringSchema().WithEnum(enum(export.FormatNames())...),
	"options":      ExportOptions,
	"metadata":     ExportMetadata,
}, "component_id", "format")

// SearchQuery is the query string of GET /api/components/search and of the
// component listing.
var SearchQuery = object(map[string]*openapi3.Schema{
	"q":          str(200),
	"category":   str(64),
	"framework":  str(32),
	"tags":       openapi3.NewArraySchema().WithItems(str(32)).WithMaxItems(10),
	"min_rating": openapi3.NewFloat64Schema().WithMin(0).WithMax(5),
	"featured":   openapi3.NewBoolSchema(),
	"owner":      uuid(),
	"sort":       openapi3.NewStringSchema().WithEnum(enum(SortValues)...),
	"limit":      openapi3.NewIntegerSchema().WithMin(1).WithMax(100),
	"offset":     openapi3.NewIntegerSchema().WithMin(0),
})

// SuggestionsQuery is the query string of GET /api/components/suggestions.
var SuggestionsQuery = object(map[string]*openapi3.Schema{
	"q":     str(100).WithMinLength(1),
	"limit": openapi3.NewIntegerSchema().WithMin(1).WithMax(20),
	"types": openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema().WithEnum(enum(SuggestionTypes)...)),
}, "q")

// PageQuery validates limit/offset on plain listings.
var PageQuery = object(map[string]*openapi3.Schema{
	"limit":  openapi3.NewIntegerSchema().WithMin(1).WithMax(100),
	"offset": openapi3.NewIntegerSchema().WithMin(0),
})

func componentProps() map[string]*openapi3.Schema {
	return map[string]*openapi3.Schema{
		"name":                str(120).WithMinLength(1),
		"slug":                str(120).WithPattern(`^[a-z0-9]+(-[a-z0-9]+)*$`),
		"description":         str(2000),
		"category":            str(64),
		"framework":           str(32),
		"code":                openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(200000),
		"styles":              str(100000),
		"props":               openapi3.NewObjectSchema().WithAnyAdditionalProperties(),
		"tags":                tags(),
		"complexity_score":    score(),
		"performance_score":   score(),
		"accessibility_score": score(),
		"is_public":           openapi3.NewBoolSchema(),
		"featured":            openapi3.NewBoolSchema(),
		"version":             openapi3.NewStringSchema().WithPattern(VersionPattern),
	}
}

// ComponentCreate is the body of POST /api/components.
var ComponentCreate = func() *openapi3.Schema {
	props := componentProps()
	props["status"] = openapi3.NewStringSchema().WithEnum("draft", "published")
	return object(props, "name", "code")
}()

// ComponentUpdate is the body of PATCH /api/components/{id}.
var ComponentUpdate = func() *openapi3.Schema {
	props := componentProps()
	props["status"] = openapi3.NewStringSchema().WithEnum("draft", "published", "archived")
	return object(props).WithMinProperties(1)
}()

// VariantCreate is the body of POST /api/components/{id}/variants.
var VariantCreate = object(map[string]*openapi3.Schema{
	"name":        str(120).WithMinLength(1),
	"description": str(2000),
	"code":        openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(200000),
	"styles":      str(100000),
	"props":       openapi3.NewObjectSchema().WithAnyAdditionalProperties(),
	"is_default":  openapi3.NewBoolSchema(),
}, "name", "code")

// DependencyCreate is the body of POST /api/components/{id}/dependencies.
// Exactly one of depends_on_id and package_name is checked by the handler.
var DependencyCreate = object(map[string]*openapi3.Schema{
	"depends_on_id": uuid(),
	"package_name":  str(214).WithPattern(PackagePattern),
	"type":          openapi3.NewStringSchema().WithEnum("runtime", "build", "peer", "optional"),
	"version_range": str(64),
})

// ExportJobCreate is the body of POST /api/exports.
var ExportJobCreate = object(map[string]*openapi3.Schema{
	"format": openapi3.NewStringSchema().WithEnum(enum(export.FormatNames())...),
	"component_ids": openapi3.NewArraySchema().
		WithItems(uuid()).
		WithMinItems(1).
		WithMaxItems(100).
		WithUniqueItems(true),
	"options":  ExportOptions,
	"metadata": ExportMetadata,
}, "format", "component_ids")

// BackupCreate is the body of POST /api/backups.
var BackupCreate = object(map[string]*openapi3.Schema{
	"label": str(120),
})

// Login is the body of POST /api/auth/session.
var Login = object(map[string]*openapi3.Schema{
	"email":    str(254).WithPattern(EmailPattern),
	"password": str(256).WithMinLength(1),
}, "email", "password")

// UserCreate is the body of POST /api/system/users.
var UserCreate = object(map[string]*openapi3.Schema{
	"email":    str(254).WithPattern(EmailPattern),
	"name":     str(120),
	"password": str(256).WithMinLength(8),
	"role":     openapi3.NewStringSchema().WithEnum("user", "admin"),
}, "email", "password")

// APIKeyCreate is the body of POST /api/system/api-keys.
var APIKeyCreate = object(map[string]*openapi3.Schema{
	"label":           str(120),
	"user_id":         uuid(),
	"expires_in_days": openapi3.NewIntegerSchema().WithMin(1).WithMax(3650),
})

// Named returns the request schemas keyed by the component names used in the
// OpenAPI document.
func Named() map[string]*openapi3.Schema {
	return map[string]*openapi3.Schema{
		"ExportRequest":    ExportRequest,
		"ComponentCreate":  ComponentCreate,
		"ComponentUpdate":  ComponentUpdate,
		"VariantCreate":    VariantCreate,
		"DependencyCreate": DependencyCreate,
		"ExportJobCreate":  ExportJobCreate,
		"BackupCreate":     BackupCreate,
		"LoginRequest":     Login,
		"UserCreate":       UserCreate,
		"APIKeyCreate":     APIKeyCreate,
	}
}

// QueryParams lists the properties of a query schema in a stable order, for
// documenting them as parameters.
func QueryParams(s *openapi3.Schema) []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
