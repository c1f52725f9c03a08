// Package openapi describes the HTTP API as an OpenAPI 3.1 document. The
// request schemas come from the validate package so the document and the
// runtime checks cannot drift apart.
package openapi

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kitbay/kitbay/internal/validate"
)

// Auth is the credential requirement of a route.
type Auth int

const (
	AuthNone Auth = iota
	AuthOptional
	AuthRequired
	AuthAdmin
)

// Route documents one endpoint.
type Route struct {
	Method       string
	Path         string
	OperationID  string
	Tag          string
	Summary      string
	Auth         Auth
	Body         string           // request schema name from validate.Named
	OptionalBody bool             // body may be omitted
	Query        *openapi3.Schema // documented as query parameters
	Result       string           // component schema of the data field
	List         bool             // data is an array of Result, with meta
	Status       int              // success status; 0 means 200
	Raw          string           // content type of a non-JSON success body
	Limited      bool             // subject to a per-route rate limit
}

// Routes is every endpoint the server mounts.
var Routes = []Route{
	{Method: http.MethodGet, Path: "/healthz", OperationID: "healthz", Tag: "system", Summary: "Liveness probe"},
	{Method: http.MethodGet, Path: "/readyz", OperationID: "readyz", Tag: "system", Summary: "Readiness probe"},
	{Method: http.MethodGet, Path: "/openapi.json", OperationID: "openapi", Tag: "system", Summary: "This document"},

	{Method: http.MethodPost, Path: "/api/auth/session", OperationID: "login", Tag: "auth",
		Summary: "Exchange credentials for a session token", Body: "LoginRequest"},
	{Method: http.MethodDelete, Path: "/api/auth/session", OperationID: "logout", Tag: "auth",
		Summary: "Discard the session", Auth: AuthRequired},

	{Method: http.MethodGet, Path: "/api/components", OperationID: "listComponents", Tag: "components",
		Summary: "List components", Auth: AuthOptional, Query: validate.SearchQuery, Result: "Component", List: true},
	{Method: http.MethodPost, Path: "/api/components", OperationID: "createComponent", Tag: "components",
		Summary: "Create a component", Auth: AuthRequired, Body: "ComponentCreate", Result: "Component", Status: http.StatusCreated},
	{Method: http.MethodGet, Path: "/api/components/{id}", OperationID: "getComponent", Tag: "components",
		Summary: "Get a component", Auth: AuthOptional, Result: "Component"},
	{Method: http.MethodPatch, Path: "/api/components/{id}", OperationID: "updateComponent", Tag: "components",
		Summary: "Update a component", Auth: AuthRequired, Body: "ComponentUpdate", Result: "Component"},
	{Method: http.MethodDelete, Path: "/api/components/{id}", OperationID: "archiveComponent", Tag: "components",
		Summary: "Archive a component", Auth: AuthRequired},
	{Method: http.MethodGet, Path: "/api/components/{id}/variants", OperationID: "listVariants", Tag: "components",
		Summary: "List variants", Auth: AuthOptional, Result: "Variant", List: true},
	{Method: http.MethodPost, Path: "/api/components/{id}/variants", OperationID: "createVariant", Tag: "components",
		Summary: "Add a variant", Auth: AuthRequired, Body: "VariantCreate", Result: "Variant", Status: http.StatusCreated},
	{Method: http.MethodGet, Path: "/api/components/{id}/dependencies", OperationID: "listDependencies", Tag: "components",
		Summary: "List dependencies", Auth: AuthOptional, Result: "Dependency", List: true},
	{Method: http.MethodPost, Path: "/api/components/{id}/dependencies", OperationID: "createDependency", Tag: "components",
		Summary: "Add a dependency", Auth: AuthRequired, Body: "DependencyCreate", Result: "Dependency", Status: http.StatusCreated},

	{Method: http.MethodPost, Path: "/api/components/export/single", OperationID: "exportComponent", Tag: "export",
		Summary: "Export one component", Auth: AuthOptional, Body: "ExportRequest", Raw: "application/octet-stream", Limited: true},
	{Method: http.MethodGet, Path: "/api/components/search", OperationID: "searchComponents", Tag: "search",
		Summary: "Ranked component search", Auth: AuthOptional, Query: validate.SearchQuery, Result: "SearchResult", List: true, Limited: true},
	{Method: http.MethodGet, Path: "/api/components/suggestions", OperationID: "suggest", Tag: "search",
		Summary: "Autocomplete suggestions", Auth: AuthOptional, Query: validate.SuggestionsQuery, Result: "Suggestion", List: true, Limited: true},

	{Method: http.MethodGet, Path: "/api/exports", OperationID: "listExportJobs", Tag: "jobs",
		Summary: "List export jobs", Auth: AuthRequired, Query: validate.PageQuery, Result: "ExportJob", List: true},
	{Method: http.MethodPost, Path: "/api/exports", OperationID: "createExportJob", Tag: "jobs",
		Summary: "Queue a bulk export", Auth: AuthRequired, Body: "ExportJobCreate", Result: "ExportJob", Status: http.StatusAccepted, Limited: true},
	{Method: http.MethodGet, Path: "/api/exports/{id}", OperationID: "getExportJob", Tag: "jobs",
		Summary: "Get an export job", Auth: AuthRequired, Result: "ExportJob"},
	{Method: http.MethodGet, Path: "/api/exports/{id}/download", OperationID: "downloadExportJob", Tag: "jobs",
		Summary: "Download an export bundle", Auth: AuthRequired, Raw: "application/json"},
	{Method: http.MethodPost, Path: "/api/exports/{id}/cancel", OperationID: "cancelExportJob", Tag: "jobs",
		Summary: "Cancel an export job", Auth: AuthRequired, Result: "ExportJob"},

	{Method: http.MethodGet, Path: "/api/backups", OperationID: "listBackups", Tag: "backups",
		Summary: "List backups", Auth: AuthRequired, Query: validate.PageQuery, Result: "Backup", List: true},
	{Method: http.MethodPost, Path: "/api/backups", OperationID: "createBackup", Tag: "backups",
		Summary: "Queue a backup", Auth: AuthRequired, Body: "BackupCreate", OptionalBody: true, Result: "Backup", Status: http.StatusAccepted, Limited: true},
	{Method: http.MethodGet, Path: "/api/backups/{id}", OperationID: "getBackup", Tag: "backups",
		Summary: "Get a backup", Auth: AuthRequired, Result: "Backup"},
	{Method: http.MethodGet, Path: "/api/backups/{id}/download", OperationID: "downloadBackup", Tag: "backups",
		Summary: "Download a backup snapshot", Auth: AuthRequired, Raw: "application/msgpack"},
	{Method: http.MethodPost, Path: "/api/backups/{id}/restore", OperationID: "restoreBackup", Tag: "backups",
		Summary: "Restore a backup", Auth: AuthRequired},

	{Method: http.MethodGet, Path: "/api/system/users", OperationID: "listUsers", Tag: "system",
		Summary: "List users", Auth: AuthAdmin, Result: "User", List: true},
	{Method: http.MethodPost, Path: "/api/system/users", OperationID: "createUser", Tag: "system",
		Summary: "Create a user", Auth: AuthAdmin, Body: "UserCreate", Result: "User", Status: http.StatusCreated},
	{Method: http.MethodGet, Path: "/api/system/api-keys", OperationID: "listAPIKeys", Tag: "system",
		Summary: "List API keys", Auth: AuthRequired, Result: "APIKey", List: true},
	{Method: http.MethodPost, Path: "/api/system/api-keys", OperationID: "createAPIKey", Tag: "system",
		Summary: "Issue an API key", Auth: AuthRequired, Body: "APIKeyCreate", Status: http.StatusCreated},
	{Method: http.MethodDelete, Path: "/api/system/api-keys/{id}", OperationID: "revokeAPIKey", Tag: "system",
		Summary: "Revoke an API key", Auth: AuthRequired},
	{Method: http.MethodGet, Path: "/api/system/analytics", OperationID: "analytics", Tag: "system",
		Summary: "Analytics summary", Auth: AuthAdmin},
}
