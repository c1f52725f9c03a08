package search

import (
	"sort"
	"strings"
	"time"

	"github.com/kitbay/kitbay/internal/model"
)

// Suggestion limits.
const (
	DefaultSuggestions = 8
	MaxSuggestions     = 20
)

// Suggestion kinds.
const (
	KindComponent = "component"
	KindCategory  = "category"
	KindTag       = "tag"
)

// Suggestion is one autocomplete entry.
type Suggestion struct {
	Type  string  `json:"type"`
	Text  string  `json:"text"`
	ID    string  `json:"id,omitempty"`
	Count int64   `json:"count,omitempty"`
	Score float64 `json:"score"`
}

// ClampLimit applies the default and maximum suggestion counts.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSuggestions
	case limit > MaxSuggestions:
		return MaxSuggestions
	}
	return limit
}

// Category is an aggregate over the components in one category.
type Category struct {
	Name       string
	Components int64
	Usage      int64
}

// textMatch scores a plain string against the query the same way Classify
// scores a component name.
func textMatch(text, query string) Match {
	t, q := strings.ToLower(text), strings.ToLower(strings.TrimSpace(query))
	switch {
	case t == q:
		return MatchExact
	case strings.HasPrefix(t, q):
		return MatchPrefix
	case strings.Contains(t, q):
		return MatchText
	}
	return MatchFuzzy
}

// ComponentSuggestions scores matched components as suggestions.
func ComponentSuggestions(components []model.Component, query string, now time.Time) []Suggestion {
	out := make([]Suggestion, 0, len(components))
	for _, c := range components {
		m := Classify(c, query, TierText)
		out = append(out, Suggestion{
			Type:  KindComponent,
			Text:  c.Name,
			ID:    c.ID,
			Score: round(Score(c, m, now)),
		})
	}
	return out
}

// CategorySuggestions scores categories by match and total usage.
func CategorySuggestions(categories []Category, query string) []Suggestion {
	out := make([]Suggestion, 0, len(categories))
	for _, c := range categories {
		if c.Name == "" {
			continue
		}
		out = append(out, Suggestion{
			Type:  KindCategory,
			Text:  c.Name,
			Count: c.Components,
			Score: round(textMatch(c.Name, query).Base() + Popularity(c.Usage)),
		})
	}
	return out
}

// TagSuggestions collects the tags of components that match query and scores
// each by match and the summed usage of the components carrying it.
func TagSuggestions(components []model.Component, query string) []Suggestion {
	q := strings.ToLower(strings.TrimSpace(query))
	type agg struct {
		text  string
		count int64
		usage int64
	}
	tags := make(map[string]*agg)
	var order []string
	for _, c := range components {
		for _, tag := range c.Tags {
			key := strings.ToLower(tag)
			if !strings.Contains(key, q) {
				continue
			}
			a, ok := tags[key]
			if !ok {
				a = &agg{text: tag}
				tags[key] = a
				order = append(order, key)
			}
			a.count++
			a.usage += c.UsageCount
		}
	}

	out := make([]Suggestion, 0, len(order))
	for _, key := range order {
		a := tags[key]
		out = append(out, Suggestion{
			Type:  KindTag,
			Text:  a.text,
			Count: a.count,
			Score: round(textMatch(a.text, query).Base() + Popularity(a.usage)),
		})
	}
	return out
}

// MergeSuggestions ranks suggestions by score (ties by text), drops
// case-insensitive duplicates keeping the best-scored entry, and truncates to
// limit.
func MergeSuggestions(limit int, groups ...[]Suggestion) []Suggestion {
	var all []Suggestion
	for _, g := range groups {
		all = append(all, g...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return strings.ToLower(all[i].Text) < strings.ToLower(all[j].Text)
	})

	seen := make(map[string]bool, len(all))
	out := make([]Suggestion, 0, limit)
	for _, s := range all {
		key := strings.ToLower(strings.TrimSpace(s.Text))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
