// Package search holds the ranking heuristics for component search and
// suggestions. Text matching itself is delegated to the store; this package
// only classifies and scores the rows it returns.
package search

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kitbay/kitbay/internal/model"
)

// Tier names the retrieval stage that produced a result set.
type Tier string

const (
	TierSemantic Tier = "semantic"
	TierText     Tier = "text"
	TierFuzzy    Tier = "fuzzy"
	TierNone     Tier = "none"
)

// Match is how a single component matched the query.
type Match string

const (
	MatchExact  Match = "exact"
	MatchPrefix Match = "prefix"
	MatchText   Match = "text"
	MatchFuzzy  Match = "fuzzy"
)

// Base returns the tier base score of m.
func (m Match) Base() float64 {
	switch m {
	case MatchExact:
		return 100
	case MatchPrefix:
		return 75
	case MatchText:
		return 50
	case MatchFuzzy:
		return 25
	}
	return 0
}

// Additive bonuses.
const (
	popularityWeight = 10.0
	featuredBonus    = 15.0
	ratingWeight     = 4.0
	recencyWeight    = 10.0
	recencyDays      = 30.0
)

// ErrSemanticUnavailable is returned by a Semantic backend that cannot serve
// the query; callers fall through to the text tier.
var ErrSemanticUnavailable = errors.New("semantic search unavailable")

// Semantic is an embedding-backed search backend.
type Semantic interface {
	Search(ctx context.Context, query string, f model.ComponentFilter) ([]model.Component, error)
}

// Unavailable is the Semantic backend used when none is configured.
type Unavailable struct{}

// Search always reports ErrSemanticUnavailable.
func (Unavailable) Search(context.Context, string, model.ComponentFilter) ([]model.Component, error) {
	return nil, ErrSemanticUnavailable
}

// MinStem is the shortest prefix the fuzzy tier searches with.
const MinStem = 3

// FuzzyStems returns the prefixes of term the fuzzy tier tries, longest
// first: the whole term, then one rune shorter each step, down to half the
// term but never below MinStem runes. "buttons" yields buttons, button,
// butto, butt.
func FuzzyStems(term string) []string {
	runes := []rune(strings.ToLower(strings.TrimSpace(term)))
	if len(runes) == 0 {
		return nil
	}
	floor := max(MinStem, (len(runes)+1)/2)
	stems := []string{string(runes)}
	for n := len(runes) - 1; n >= floor; n-- {
		stems = append(stems, string(runes[:n]))
	}
	return stems
}

// Result is a scored component.
type Result struct {
	Component model.Component `json:"component"`
	Score     float64         `json:"score"`
	Match     Match           `json:"match"`
}

// Classify decides how c matched query, given the tier that retrieved it.
// Exact and prefix matches on the name outrank whatever the tier says.
func Classify(c model.Component, query string, tier Tier) Match {
	q := strings.ToLower(strings.TrimSpace(query))
	name := strings.ToLower(c.Name)
	switch {
	case q == "":
		return MatchText
	case name == q:
		return MatchExact
	case strings.HasPrefix(name, q):
		return MatchPrefix
	case tier == TierFuzzy:
		return MatchFuzzy
	}
	return MatchText
}

// Score is the additive relevance score:
//
//	base + 10·log10(1+usage) + 15·featured + 4·rating + 10·exp(-age_days/30)
func Score(c model.Component, m Match, now time.Time) float64 {
	s := m.Base()
	s += Popularity(c.UsageCount)
	if c.Featured {
		s += featuredBonus
	}
	s += c.Rating * ratingWeight
	s += Recency(lastTouched(c), now)
	return s
}

// Popularity is the log-scaled usage bonus.
func Popularity(usage int64) float64 {
	if usage <= 0 {
		return 0
	}
	return popularityWeight * math.Log10(1+float64(usage))
}

// Recency decays from 10 toward 0 with a 30 day time constant. Future
// timestamps count as brand new.
func Recency(t, now time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		days = 0
	}
	return recencyWeight * math.Exp(-days/recencyDays)
}

func lastTouched(c model.Component) time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// Rank classifies and scores components, then orders them by sortBy.
func Rank(components []model.Component, query string, tier Tier, sortBy string, now time.Time) []Result {
	results := make([]Result, len(components))
	for i, c := range components {
		m := Classify(c, query, tier)
		results[i] = Result{Component: c, Match: m, Score: round(Score(c, m, now))}
	}
	Sort(results, sortBy)
	return results
}

// Sort orders results. "relevance" (the default) sorts by score; the other
// keys sort by their field. Ties are broken by name, then id.
func Sort(results []Result, sortBy string) {
	less := func(a, b Result) (bool, bool) {
		switch sortBy {
		case "popular":
			return a.Component.UsageCount > b.Component.UsageCount, a.Component.UsageCount == b.Component.UsageCount
		case "rating":
			return a.Component.Rating > b.Component.Rating, a.Component.Rating == b.Component.Rating
		case "newest":
			return a.Component.CreatedAt.After(b.Component.CreatedAt), a.Component.CreatedAt.Equal(b.Component.CreatedAt)
		}
		return a.Score > b.Score, a.Score == b.Score
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if before, tied := less(a, b); !tied {
			return before
		}
		if a.Component.Name != b.Component.Name {
			return a.Component.Name < b.Component.Name
		}
		return a.Component.ID < b.Component.ID
	})
}

// round keeps scores stable in JSON and comparisons.
func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}
