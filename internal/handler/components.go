package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/server/middleware"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
	"github.com/kitbay/kitbay/internal/validate"
)

// ComponentHandler serves the component catalog: CRUD, variants,
// dependencies and the single-component export.
type ComponentHandler struct {
	store   *store.Store
	exports *service.ExportService
	events  service.EventLogger
}

// NewComponentHandler creates a new ComponentHandler. events may be nil.
func NewComponentHandler(st *store.Store, exports *service.ExportService, events service.EventLogger) *ComponentHandler {
	return &ComponentHandler{store: st, exports: exports, events: events}
}

// componentQuery is the decoded query string shared by the listing and
// search endpoints.
type componentQuery struct {
	Q         string   `json:"q"`
	Category  string   `json:"category"`
	Framework string   `json:"framework"`
	Tags      []string `json:"tags"`
	MinRating float64  `json:"min_rating"`
	Featured  *bool    `json:"featured"`
	Owner     string   `json:"owner"`
	Sort      string   `json:"sort"`
	Limit     *int     `json:"limit"`
	Offset    int      `json:"offset"`
}

func (q componentQuery) filter() model.ComponentFilter {
	limit := 25
	if q.Limit != nil {
		limit = *q.Limit
	}
	return model.ComponentFilter{
		Query:     strings.TrimSpace(q.Q),
		Category:  q.Category,
		Framework: q.Framework,
		Tags:      q.Tags,
		MinRating: q.MinRating,
		Featured:  q.Featured,
		OwnerID:   q.Owner,
		Order:     q.Sort,
		Limit:     limit,
		Offset:    q.Offset,
	}
}

// componentBody is the create and patch payload. Nil fields are left alone.
type componentBody struct {
	Name               *string                `json:"name"`
	Slug               *string                `json:"slug"`
	Description        *string                `json:"description"`
	Category           *string                `json:"category"`
	Framework          *string                `json:"framework"`
	Code               *string                `json:"code"`
	Styles             *string                `json:"styles"`
	Props              map[string]interface{} `json:"props"`
	Tags               *[]string              `json:"tags"`
	ComplexityScore    *int                   `json:"complexity_score"`
	PerformanceScore   *int                   `json:"performance_score"`
	AccessibilityScore *int                   `json:"accessibility_score"`
	IsPublic           *bool                  `json:"is_public"`
	Featured           *bool                  `json:"featured"`
	Status             *string                `json:"status"`
	Version            *string                `json:"version"`
}

func (b *componentBody) apply(c *model.Component) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&c.Name, b.Name)
	setString(&c.Slug, b.Slug)
	setString(&c.Description, b.Description)
	setString(&c.Category, b.Category)
	setString(&c.Framework, b.Framework)
	setString(&c.Version, b.Version)
	if b.Code != nil {
		c.Code = *b.Code
	}
	if b.Styles != nil {
		c.Styles = *b.Styles
	}
	if b.Props != nil {
		c.Props = b.Props
	}
	if b.Tags != nil {
		c.Tags = normalizeTags(*b.Tags)
	}
	if b.ComplexityScore != nil {
		c.ComplexityScore = *b.ComplexityScore
	}
	if b.PerformanceScore != nil {
		c.PerformanceScore = *b.PerformanceScore
	}
	if b.AccessibilityScore != nil {
		c.AccessibilityScore = *b.AccessibilityScore
	}
	if b.IsPublic != nil {
		c.IsPublic = *b.IsPublic
	}
	if b.Featured != nil {
		c.Featured = *b.Featured
	}
	if b.Status != nil {
		c.Status = model.ComponentStatus(*b.Status)
	}
}

// normalizeTags lowercases and dedupes tags, keeping their order.
func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// List returns the components visible to the caller.
// GET /api/components
func (h *ComponentHandler) List(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var q componentQuery
	if err := validate.Query(validate.SearchQuery, r.URL.Query(), &q); err != nil {
		writeServiceError(w, r, err)
		return
	}

	f := service.Filter(middleware.GetPrincipal(r.Context()), q.filter())
	components, err := h.store.ListComponents(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	total, err := h.store.CountComponents(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	respond(w, http.StatusOK, components, &model.ResponseMeta{
		Count:  len(components),
		Total:  &total,
		Limit:  f.Limit,
		Offset: f.Offset,
		TookMs: tookMs(start),
	})
}

// Create stores a new component owned by the caller.
// POST /api/components
func (h *ComponentHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	if caller == nil {
		writeServiceError(w, r, service.ErrForbidden)
		return
	}

	var body componentBody
	if err := decodeBody(r, validate.ComponentCreate, &body); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if body.Featured != nil && *body.Featured && !caller.IsAdmin() {
		writeServiceError(w, r, service.ErrForbidden)
		return
	}

	c := &model.Component{Props: map[string]interface{}{}, Tags: []string{}}
	body.apply(c)
	c.OwnerID = caller.UserID
	if c.Slug == "" {
		c.Slug = export.Slug(*c)
	}
	if err := h.store.CreateComponent(r.Context(), c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, c, nil)
}

// Get returns one component and records a view.
// GET /api/components/{id}
func (h *ComponentHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	c, err := h.store.GetComponent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := service.Authorize(caller, c); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if h.events != nil {
		h.events.Log(r.Context(), model.AnalyticsEvent{
			EventType:   model.EventComponentView,
			ComponentID: c.ID,
			UserID:      caller.ID(),
		})
	}
	respond(w, http.StatusOK, c, nil)
}

// Update applies a partial update. Only the owner or an admin may edit.
// PATCH /api/components/{id}
func (h *ComponentHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	c, err := h.store.GetComponent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := service.AuthorizeOwner(caller, c.OwnerID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var body componentBody
	if err := decodeBody(r, validate.ComponentUpdate, &body); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if body.Featured != nil && *body.Featured != c.Featured && !caller.IsAdmin() {
		writeServiceError(w, r, service.ErrForbidden)
		return
	}

	body.apply(c)
	if c.Slug == "" {
		c.Slug = export.Slug(*c)
	}
	if err := h.store.UpdateComponent(r.Context(), c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, c, nil)
}

// Delete archives a component.
// DELETE /api/components/{id}
func (h *ComponentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "id")
	c, err := h.store.GetComponent(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := service.AuthorizeOwner(caller, c.OwnerID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.store.ArchiveComponent(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"id": id, "status": model.StatusArchived}, nil)
}

// ---------------------------------------------------------------------------
// Variants and dependencies
// ---------------------------------------------------------------------------

// readable loads the component named in the URL and checks read access.
func (h *ComponentHandler) readable(r *http.Request) (*model.Component, error) {
	c, err := h.store.GetComponent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := service.Authorize(middleware.GetPrincipal(r.Context()), c); err != nil {
		return nil, err
	}
	return c, nil
}

// writable loads the component named in the URL and checks ownership.
func (h *ComponentHandler) writable(r *http.Request) (*model.Component, error) {
	c, err := h.store.GetComponent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := service.AuthorizeOwner(middleware.GetPrincipal(r.Context()), c.OwnerID); err != nil {
		return nil, err
	}
	return c, nil
}

// ListVariants returns a component's variants.
// GET /api/components/{id}/variants
func (h *ComponentHandler) ListVariants(w http.ResponseWriter, r *http.Request) {
	c, err := h.readable(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	variants, err := h.store.ListVariants(r.Context(), c.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, variants, &model.ResponseMeta{Count: len(variants)})
}

// CreateVariant adds a variant. A new default replaces the previous one.
// POST /api/components/{id}/variants
func (h *ComponentHandler) CreateVariant(w http.ResponseWriter, r *http.Request) {
	c, err := h.writable(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var v model.ComponentVariant
	if err := decodeBody(r, validate.VariantCreate, &v); err != nil {
		writeServiceError(w, r, err)
		return
	}
	v.ID = ""
	v.ComponentID = c.ID
	if err := h.store.CreateVariant(r.Context(), &v); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, v, nil)
}

// ListDependencies returns a component's dependency edges.
// GET /api/components/{id}/dependencies
func (h *ComponentHandler) ListDependencies(w http.ResponseWriter, r *http.Request) {
	c, err := h.readable(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	deps, err := h.store.ListDependencies(r.Context(), c.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, deps, &model.ResponseMeta{Count: len(deps)})
}

// CreateDependency adds an edge to another component or an external package.
// Exactly one of depends_on_id and package_name must be set.
// POST /api/components/{id}/dependencies
func (h *ComponentHandler) CreateDependency(w http.ResponseWriter, r *http.Request) {
	c, err := h.writable(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var d model.ComponentDependency
	if err := decodeBody(r, validate.DependencyCreate, &d); err != nil {
		writeServiceError(w, r, err)
		return
	}
	switch {
	case d.DependsOnID == "" && d.PackageName == "":
		writeServiceError(w, r, validate.Fail("depends_on_id", "one of depends_on_id or package_name is required"))
		return
	case d.DependsOnID != "" && d.PackageName != "":
		writeServiceError(w, r, validate.Fail("depends_on_id", "depends_on_id and package_name are mutually exclusive"))
		return
	case d.DependsOnID == c.ID:
		writeServiceError(w, r, validate.Fail("depends_on_id", "a component cannot depend on itself"))
		return
	}
	if d.DependsOnID != "" {
		if _, err := h.store.GetComponent(r.Context(), d.DependsOnID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				err = validate.Fail("depends_on_id", "component does not exist")
			}
			writeServiceError(w, r, err)
			return
		}
	}

	d.ID = ""
	d.ComponentID = c.ID
	if err := h.store.CreateDependency(r.Context(), &d); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, d, nil)
}
