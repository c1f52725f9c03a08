package handler

import (
	"net/http"
	"time"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/server/middleware"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/validate"
)

// SearchHandler serves ranked search and autocomplete.
type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// Search runs the tiered component search.
// GET /api/components/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var q componentQuery
	if err := validate.Query(validate.SearchQuery, r.URL.Query(), &q); err != nil {
		writeServiceError(w, r, err)
		return
	}

	f := q.filter()
	if q.Limit == nil {
		f.Limit = service.DefaultSearchLimit
	}
	res, err := h.search.Search(r.Context(), middleware.GetPrincipal(r.Context()), f.Query, f, q.Sort)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	total := int64(res.Total)
	respond(w, http.StatusOK, res.Results, &model.ResponseMeta{
		Count:  len(res.Results),
		Total:  &total,
		Limit:  f.Limit,
		Offset: f.Offset,
		Tier:   string(res.Tier),
		TookMs: tookMs(start),
	})
}

type suggestionsQuery struct {
	Q     string   `json:"q"`
	Limit int      `json:"limit"`
	Types []string `json:"types"`
}

// Suggestions returns autocomplete entries for a prefix.
// GET /api/components/suggestions
func (h *SearchHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var q suggestionsQuery
	if err := validate.Query(validate.SuggestionsQuery, r.URL.Query(), &q); err != nil {
		writeServiceError(w, r, err)
		return
	}

	items, err := h.search.Suggest(r.Context(), middleware.GetPrincipal(r.Context()), q.Q, q.Types, q.Limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, items, &model.ResponseMeta{Count: len(items), TookMs: tookMs(start)})
}
