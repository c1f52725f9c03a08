package mcp

import (
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
)

type testEnv struct {
	store *store.Store
	owner *model.User
	srv   *MCPServer
}

// newTestEnv wires an MCPServer over an in-memory catalog acting as
// principal. A nil principal is anonymous.
func newTestEnv(t *testing.T, principal func(owner *model.User) *service.Principal) *testEnv {
	t.Helper()
	ctx := t.Context()

	st, err := store.OpenSQLite(ctx, "")
	if err != nil {
		t.Fatalf("store.OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	auth := service.NewAuthService(st, "mcp-test-secret", nil)
	owner, err := auth.CreateUser(ctx, "owner@example.com", "Owner", "correct-horse-battery", model.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	d := export.NewDispatcher()
	exports := service.NewExportService(st, d, nil, nil)
	search := service.NewSearchService(st, nil, nil, nil)

	var p *service.Principal
	if principal != nil {
		p = principal(owner)
	}
	return &testEnv{
		store: st,
		owner: owner,
		srv:   NewMCPServer(st, search, exports, d, p, "test", nil),
	}
}

func asOwner(u *model.User) *service.Principal {
	return &service.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func (e *testEnv) seed(t *testing.T, name string, public bool, status model.ComponentStatus) *model.Component {
	t.Helper()
	c := &model.Component{
		Name:      name,
		Slug:      export.Slug(model.Component{Name: name}),
		Category:  "inputs",
		Framework: "react",
		Code:      "<button>Hi</button>",
		Styles:    ".btn { color: red; }",
		Tags:      []string{"button"},
		IsPublic:  public,
		Status:    status,
		OwnerID:   e.owner.ID,
	}
	if err := e.store.CreateComponent(t.Context(), c); err != nil {
		t.Fatalf("CreateComponent: %v", err)
	}
	return c
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// text concatenates the text content of a tool result.
func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil {
		t.Fatal("nil tool result")
	}
	var parts []string
	for _, c := range res.Content {
		tc, ok := mcp.AsTextContent(c)
		if !ok {
			t.Fatalf("content %T is not text", c)
		}
		parts = append(parts, tc.Text)
	}
	return strings.Join(parts, "\n")
}

func TestLimitArg(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"absent uses default", nil, 20},
		{"in range", map[string]any{"limit": 5}, 5},
		{"json number", map[string]any{"limit": float64(7)}, 7},
		{"below one", map[string]any{"limit": -3}, 1},
		{"above max", map[string]any{"limit": 500}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := limitArg(callRequest("x", tt.args), 20, 100); got != tt.want {
				t.Errorf("limitArg = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestListArg(t *testing.T) {
	req := callRequest("x", map[string]any{"tags": []any{" cta ", "", "form"}})
	if diff := cmp.Diff([]string{"cta", "form"}, listArg(req, "tags")); diff != "" {
		t.Errorf("listArg (-want +got):\n%s", diff)
	}
	if got := listArg(req, "missing"); got != nil {
		t.Errorf("missing list = %v, want nil", got)
	}
}

func TestObjectArg(t *testing.T) {
	var opts export.Options
	req := callRequest("x", map[string]any{"options": map[string]any{"minify": true, "typescript": true}})
	if err := objectArg(req, "options", &opts); err != nil {
		t.Fatalf("objectArg: %v", err)
	}
	if !opts.Minify || !opts.TypeScript || opts.DarkMode {
		t.Errorf("options = %+v", opts)
	}

	if err := objectArg(callRequest("x", map[string]any{"options": "minify"}), "options", &opts); err == nil {
		t.Error("a string should not decode as an object")
	}
	if err := objectArg(callRequest("x", nil), "options", &opts); err != nil {
		t.Errorf("absent argument: %v", err)
	}
}

func TestRequiredText(t *testing.T) {
	if _, err := requiredText(callRequest("x", map[string]any{"id": "   "}), "id"); err == nil {
		t.Error("blank id should be rejected")
	}
	got, err := requiredText(callRequest("x", map[string]any{"id": " abc "}), "id")
	if err != nil || got != "abc" {
		t.Errorf("requiredText = %q, %v", got, err)
	}
}

func TestAnnotations(t *testing.T) {
	ro := readOnlyAnnotation()
	if ro.ReadOnlyHint == nil || !*ro.ReadOnlyHint {
		t.Error("readOnlyAnnotation should set ReadOnlyHint=true")
	}

	ex := exportAnnotation()
	if ex.ReadOnlyHint == nil || *ex.ReadOnlyHint {
		t.Error("exportAnnotation should set ReadOnlyHint=false")
	}
	if ex.DestructiveHint == nil || *ex.DestructiveHint {
		t.Error("exportAnnotation should set DestructiveHint=false")
	}
}

func TestRegisteredTools(t *testing.T) {
	env := newTestEnv(t, nil)

	var got []string
	for name := range env.srv.Server().ListTools() {
		got = append(got, name)
	}
	sort.Strings(got)
	want := []string{
		"kitbay_export_component",
		"kitbay_get_component",
		"kitbay_list_formats",
		"kitbay_search_components",
		"kitbay_suggest",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}

	tool := env.srv.Server().GetTool("kitbay_export_component")
	if tool == nil {
		t.Fatal("export tool not registered")
	}
	if diff := cmp.Diff([]string{"id", "format"}, tool.Tool.InputSchema.Required); diff != "" {
		t.Errorf("export required args (-want +got):\n%s", diff)
	}
}

func TestListFormats(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := env.srv.handleListFormats(t.Context(), callRequest("kitbay_list_formats", nil))
	if err != nil {
		t.Fatalf("handleListFormats: %v", err)
	}
	var formats []formatInfo
	if err := json.Unmarshal([]byte(text(t, res)), &formats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(formats) != len(export.Formats()) {
		t.Fatalf("got %d formats, want %d", len(formats), len(export.Formats()))
	}
	byName := map[string]formatInfo{}
	for _, f := range formats {
		byName[f.Name] = f
	}
	if got := byName["css"].ContentType; got != export.ContentTypeCSS {
		t.Errorf("css content type = %q, want %q", got, export.ContentTypeCSS)
	}
	if !byName["figma"].Stub || byName["react"].Stub {
		t.Errorf("stub flags wrong: figma=%v react=%v", byName["figma"].Stub, byName["react"].Stub)
	}
}

func TestGetComponent_Visibility(t *testing.T) {
	tests := []struct {
		name      string
		principal func(*model.User) *service.Principal
		public    bool
		status    model.ComponentStatus
		wantError bool
	}{
		{"anonymous sees public published", nil, true, model.StatusPublished, false},
		{"anonymous denied private", nil, false, model.StatusPublished, true},
		{"anonymous denied draft", nil, true, model.StatusDraft, true},
		{"owner sees private draft", asOwner, false, model.StatusDraft, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.principal)
			c := env.seed(t, "Cool Button", tt.public, tt.status)

			res, err := env.srv.handleGetComponent(t.Context(), callRequest("kitbay_get_component", map[string]any{
				"id": c.ID,
			}))
			if err != nil {
				t.Fatalf("handleGetComponent: %v", err)
			}
			if res.IsError != tt.wantError {
				t.Fatalf("IsError = %v, want %v: %s", res.IsError, tt.wantError, text(t, res))
			}
			if !tt.wantError && !strings.Contains(text(t, res), `"name": "Cool Button"`) {
				t.Errorf("component missing from result: %s", text(t, res))
			}
		})
	}
}

func TestGetComponent_IncludesVariants(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.seed(t, "Cool Button", true, model.StatusPublished)
	v := &model.ComponentVariant{ComponentID: c.ID, Name: "Large", Code: "<button>Big</button>"}
	if err := env.store.CreateVariant(t.Context(), v); err != nil {
		t.Fatalf("CreateVariant: %v", err)
	}

	res, _ := env.srv.handleGetComponent(t.Context(), callRequest("kitbay_get_component", map[string]any{
		"id": c.ID,
	}))
	if strings.Contains(text(t, res), "Large") {
		t.Error("variants included without include_variants")
	}

	res, _ = env.srv.handleGetComponent(t.Context(), callRequest("kitbay_get_component", map[string]any{
		"id":               c.ID,
		"include_variants": true,
	}))
	var detail struct {
		Variants []model.ComponentVariant `json:"variants"`
	}
	if err := json.Unmarshal([]byte(text(t, res)), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(detail.Variants) != 1 || detail.Variants[0].Name != "Large" {
		t.Errorf("variants = %+v", detail.Variants)
	}
}

func TestGetComponent_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	res, _ := env.srv.handleGetComponent(t.Context(), callRequest("kitbay_get_component", map[string]any{}))
	if !res.IsError || !strings.Contains(text(t, res), `"id"`) {
		t.Errorf("missing id: IsError=%v %s", res.IsError, text(t, res))
	}

	res, _ = env.srv.handleGetComponent(t.Context(), callRequest("kitbay_get_component", map[string]any{
		"id": store.NewID(),
	}))
	if !res.IsError || !strings.Contains(text(t, res), "not found") {
		t.Errorf("unknown id: IsError=%v %s", res.IsError, text(t, res))
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "Cool Button", true, model.StatusPublished)
	env.seed(t, "Hidden Button", false, model.StatusPublished)
	env.seed(t, "Modal Dialog", true, model.StatusPublished)

	res, err := env.srv.handleSearch(t.Context(), callRequest("kitbay_search_components", map[string]any{
		"query": "cool",
		"limit": float64(10),
	}))
	if err != nil {
		t.Fatalf("handleSearch: %v", err)
	}
	if res.IsError {
		t.Fatalf("search failed: %s", text(t, res))
	}
	var out service.SearchResult
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].Component.Name != "Cool Button" {
		t.Errorf("results = %+v", out.Results)
	}

	res, _ = env.srv.handleSearch(t.Context(), callRequest("kitbay_search_components", map[string]any{
		"query": "cool",
		"sort":  "alphabetical",
	}))
	if !res.IsError {
		t.Error("invalid sort should be a tool error")
	}
}

func TestSuggest_RejectsUnknownType(t *testing.T) {
	env := newTestEnv(t, nil)

	res, _ := env.srv.handleSuggest(t.Context(), callRequest("kitbay_suggest", map[string]any{
		"query": "co",
		"types": []any{"widget"},
	}))
	if !res.IsError || !strings.Contains(text(t, res), "widget") {
		t.Errorf("IsError=%v %s", res.IsError, text(t, res))
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.seed(t, "Cool Button", true, model.StatusPublished)

	res, err := env.srv.handleExport(t.Context(), callRequest("kitbay_export_component", map[string]any{
		"id":      c.ID,
		"format":  "html",
		"options": map[string]any{"add_comments": false},
	}))
	if err != nil {
		t.Fatalf("handleExport: %v", err)
	}
	if res.IsError {
		t.Fatalf("export failed: %s", text(t, res))
	}
	if len(res.Content) != 2 {
		t.Fatalf("got %d content blocks, want 2", len(res.Content))
	}
	header, _ := mcp.AsTextContent(res.Content[0])
	body, _ := mcp.AsTextContent(res.Content[1])
	if !strings.Contains(header.Text, "filename: cool-button.html") {
		t.Errorf("header = %q", header.Text)
	}
	if body.Text != "<button>Hi</button>" {
		t.Errorf("body = %q", body.Text)
	}
}

func TestExport_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	private := env.seed(t, "Secret Button", false, model.StatusPublished)
	public := env.seed(t, "Cool Button", true, model.StatusPublished)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing format", map[string]any{"id": public.ID}, `"format"`},
		{"unknown format", map[string]any{"id": public.ID, "format": "pdf"}, "Available formats"},
		{"private component", map[string]any{"id": private.ID, "format": "css"}, "private"},
		{"bad options", map[string]any{"id": public.ID, "format": "css", "options": map[string]any{"minify": "yes"}}, "Invalid options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.srv.handleExport(t.Context(), callRequest("kitbay_export_component", tt.args))
			if err != nil {
				t.Fatalf("handleExport: %v", err)
			}
			if !res.IsError || !strings.Contains(text(t, res), tt.want) {
				t.Errorf("IsError=%v %q, want error containing %q", res.IsError, text(t, res), tt.want)
			}
		})
	}
}

func TestInProcessClient(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.seed(t, "Cool Button", true, model.StatusPublished)
	ctx := t.Context()

	cl, err := client.NewInProcessClient(env.srv.Server())
	if err != nil {
		t.Fatalf("NewInProcessClient: %v", err)
	}
	t.Cleanup(func() { cl.Close() })
	if err := cl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var init mcp.InitializeRequest
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "kitbay-test", Version: "test"}
	if _, err := cl.Initialize(ctx, init); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tools, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools.Tools) != 5 {
		t.Errorf("got %d tools, want 5", len(tools.Tools))
	}

	var read mcp.ReadResourceRequest
	read.Params.URI = componentURIPrefix + c.ID
	out, err := cl.ReadResource(ctx, read)
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(out.Contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(out.Contents))
	}
	tc, ok := mcp.AsTextResourceContents(out.Contents[0])
	if !ok || !strings.Contains(tc.Text, c.ID) {
		t.Errorf("resource contents = %+v", out.Contents[0])
	}
}
