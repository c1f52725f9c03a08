package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/query"
	"github.com/kitbay/kitbay/internal/search"
	"github.com/kitbay/kitbay/internal/store"
)

// Search paging defaults.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	maxCandidates      = 500
)

// SearchResult is one page of ranked components and the tier that found them.
type SearchResult struct {
	Results []search.Result `json:"results"`
	Tier    search.Tier     `json:"tier"`
	Total   int             `json:"total"`
}

// SearchService runs the tiered search and the suggestion endpoint.
type SearchService struct {
	store    *store.Store
	semantic search.Semantic
	events   EventLogger
	logger   *slog.Logger
	now      func() time.Time
}

func NewSearchService(st *store.Store, semantic search.Semantic, events EventLogger, logger *slog.Logger) *SearchService {
	if semantic == nil {
		semantic = search.Unavailable{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{store: st, semantic: semantic, events: events, logger: logger, now: time.Now}
}

// Search ranks the components matching q and f. Tiers are tried in order
// (semantic, text, fuzzy) and the first one with results wins. sortBy
// reorders the ranked set; paging is applied after ranking, over at most
// maxCandidates rows.
func (s *SearchService) Search(ctx context.Context, caller *Principal, q string, f model.ComponentFilter, sortBy string) (*SearchResult, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	f = Filter(caller, f)
	f.Limit = maxCandidates
	f.Offset = 0
	f.Order = sortBy

	components, tier, err := s.retrieve(ctx, q, f)
	if err != nil {
		return nil, err
	}

	ranked := search.Rank(components, q, tier, sortBy, s.now())
	res := &SearchResult{Tier: tier, Total: len(ranked), Results: []search.Result{}}
	if offset < len(ranked) {
		res.Results = ranked[offset:min(offset+limit, len(ranked))]
	}

	s.logEvent(ctx, model.EventSearch, caller, map[string]interface{}{
		"query":   q,
		"tier":    string(tier),
		"results": res.Total,
	})
	return res, nil
}

func (s *SearchService) retrieve(ctx context.Context, q string, f model.ComponentFilter) ([]model.Component, search.Tier, error) {
	terms := query.SplitTerms(q)
	if len(terms) == 0 {
		list, err := s.store.ListComponents(ctx, f)
		return list, search.TierNone, err
	}

	found, err := s.semantic.Search(ctx, q, f)
	switch {
	case err == nil && len(found) > 0:
		return found, search.TierSemantic, nil
	case err != nil && !errors.Is(err, search.ErrSemanticUnavailable):
		s.logger.Warn("semantic search failed, falling back", "error", err)
	}

	found, err = s.store.SearchText(ctx, terms, f)
	if err != nil {
		return nil, "", err
	}
	if len(found) > 0 {
		return found, search.TierText, nil
	}

	// Typos and plurals miss the text tier; retry on ever shorter prefixes
	// of the longest term.
	for _, stem := range search.FuzzyStems(query.LongestTerm(terms)) {
		found, err = s.store.SearchFuzzy(ctx, stem, f)
		if err != nil {
			return nil, "", err
		}
		if len(found) > 0 {
			return found, search.TierFuzzy, nil
		}
	}
	return []model.Component{}, search.TierNone, nil
}

// Suggest returns up to limit autocomplete entries for the prefix q, drawn
// from component names, categories and tags. An empty types list means all
// three.
func (s *SearchService) Suggest(ctx context.Context, caller *Principal, q string, types []string, limit int) ([]search.Suggestion, error) {
	limit = search.ClampLimit(limit)
	q = strings.TrimSpace(q)
	want := func(kind string) bool {
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if t == kind {
				return true
			}
		}
		return false
	}

	var groups [][]search.Suggestion
	if want(search.KindComponent) || want(search.KindTag) {
		f := Filter(caller, model.ComponentFilter{Order: "popular", Limit: maxCandidates / 5})
		found, err := s.store.SearchText(ctx, query.SplitTerms(q), f)
		if err != nil {
			return nil, err
		}
		if want(search.KindComponent) {
			groups = append(groups, search.ComponentSuggestions(found, q, s.now()))
		}
		if want(search.KindTag) {
			groups = append(groups, search.TagSuggestions(found, q))
		}
	}
	if want(search.KindCategory) {
		rows, err := s.store.ListCategories(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		cats := make([]search.Category, len(rows))
		for i, r := range rows {
			cats[i] = search.Category{Name: r.Category, Components: r.Components, Usage: r.Usage}
		}
		groups = append(groups, search.CategorySuggestions(cats, q))
	}

	out := search.MergeSuggestions(limit, groups...)
	s.logEvent(ctx, model.EventSuggestion, caller, map[string]interface{}{
		"query":   q,
		"results": len(out),
	})
	return out, nil
}

func (s *SearchService) logEvent(ctx context.Context, eventType string, caller *Principal, props map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.Log(ctx, model.AnalyticsEvent{
		EventType:  eventType,
		UserID:     caller.ID(),
		Properties: props,
	})
}
