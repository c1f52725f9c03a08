package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/query"
)

const componentColumns = `id, name, slug, description, category, framework, code, styles, props, tags,
	usage_count, rating, complexity_score, performance_score, accessibility_score,
	is_public, featured, status, owner_id, version, created_at, updated_at`

// componentRow maps 1:1 to the components table. Props and tags are stored
// as JSON text so every dialect can hold them.
type componentRow struct {
	ID                 string    `db:"id"`
	Name               string    `db:"name"`
	Slug               string    `db:"slug"`
	Description        string    `db:"description"`
	Category           string    `db:"category"`
	Framework          string    `db:"framework"`
	Code               string    `db:"code"`
	Styles             string    `db:"styles"`
	Props              string    `db:"props"`
	Tags               string    `db:"tags"`
	UsageCount         int64     `db:"usage_count"`
	Rating             float64   `db:"rating"`
	ComplexityScore    int       `db:"complexity_score"`
	PerformanceScore   int       `db:"performance_score"`
	AccessibilityScore int       `db:"accessibility_score"`
	IsPublic           bool      `db:"is_public"`
	Featured           bool      `db:"featured"`
	Status             string    `db:"status"`
	OwnerID            string    `db:"owner_id"`
	Version            string    `db:"version"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func componentRowFromModel(c *model.Component) componentRow {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	props := c.Props
	if props == nil {
		props = map[string]interface{}{}
	}
	return componentRow{
		ID:                 c.ID,
		Name:               c.Name,
		Slug:               c.Slug,
		Description:        c.Description,
		Category:           c.Category,
		Framework:          c.Framework,
		Code:               c.Code,
		Styles:             c.Styles,
		Props:              encodeJSON(props),
		Tags:               encodeJSON(tags),
		UsageCount:         c.UsageCount,
		Rating:             c.Rating,
		ComplexityScore:    c.ComplexityScore,
		PerformanceScore:   c.PerformanceScore,
		AccessibilityScore: c.AccessibilityScore,
		IsPublic:           c.IsPublic,
		Featured:           c.Featured,
		Status:             string(c.Status),
		OwnerID:            c.OwnerID,
		Version:            c.Version,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func (r componentRow) toModel() model.Component {
	return model.Component{
		ID:                 r.ID,
		Name:               r.Name,
		Slug:               r.Slug,
		Description:        r.Description,
		Category:           r.Category,
		Framework:          r.Framework,
		Code:               r.Code,
		Styles:             r.Styles,
		Props:              decodeMap(r.Props),
		Tags:               decodeStrings(r.Tags),
		UsageCount:         r.UsageCount,
		Rating:             r.Rating,
		ComplexityScore:    r.ComplexityScore,
		PerformanceScore:   r.PerformanceScore,
		AccessibilityScore: r.AccessibilityScore,
		IsPublic:           r.IsPublic,
		Featured:           r.Featured,
		Status:             model.ComponentStatus(r.Status),
		OwnerID:            r.OwnerID,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toComponents(rows []componentRow) []model.Component {
	out := make([]model.Component, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}

// CreateComponent inserts c. An empty ID is assigned, an empty status
// becomes draft, and timestamps are set to now.
func (s *Store) CreateComponent(ctx context.Context, c *model.Component) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	ts := now()
	c.CreatedAt = ts
	c.UpdatedAt = ts
	return s.insertComponent(ctx, s.db, c)
}

func (s *Store) insertComponent(ctx context.Context, ex namedExecer, c *model.Component) error {
	const q = `INSERT INTO components (` + componentColumns + `)
		VALUES (:id, :name, :slug, :description, :category, :framework, :code, :styles, :props, :tags,
		:usage_count, :rating, :complexity_score, :performance_score, :accessibility_score,
		:is_public, :featured, :status, :owner_id, :version, :created_at, :updated_at)`

	if _, err := ex.NamedExecContext(ctx, q, componentRowFromModel(c)); err != nil {
		return fmt.Errorf("insert component: %w", err)
	}
	return nil
}

// GetComponent returns a component by ID regardless of its status.
func (s *Store) GetComponent(ctx context.Context, id string) (*model.Component, error) {
	var row componentRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+componentColumns+" FROM components WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get component: %w", err)
	}
	c := row.toModel()
	return &c, nil
}

// GetComponents returns the components with the given IDs in ID order of
// the input; missing IDs are skipped.
func (s *Store) GetComponents(ctx context.Context, ids []string) ([]model.Component, error) {
	if len(ids) == 0 {
		return []model.Component{}, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var rows []componentRow
	q := "SELECT " + componentColumns + " FROM components WHERE " + query.In("id", len(ids))
	if err := s.db.SelectContext(ctx, &rows, s.q(q), args...); err != nil {
		return nil, fmt.Errorf("get components: %w", err)
	}

	byID := make(map[string]model.Component, len(rows))
	for _, r := range rows {
		byID[r.ID] = r.toModel()
	}
	out := make([]model.Component, 0, len(rows))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
			delete(byID, id)
		}
	}
	return out, nil
}

// UpdateComponent writes every mutable field of c and refreshes UpdatedAt.
func (s *Store) UpdateComponent(ctx context.Context, c *model.Component) error {
	c.UpdatedAt = now()

	const q = `UPDATE components SET
		name = :name, slug = :slug, description = :description, category = :category,
		framework = :framework, code = :code, styles = :styles, props = :props, tags = :tags,
		rating = :rating, complexity_score = :complexity_score, performance_score = :performance_score,
		accessibility_score = :accessibility_score, is_public = :is_public, featured = :featured,
		status = :status, version = :version, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, componentRowFromModel(c))
	if err != nil {
		return fmt.Errorf("update component: %w", err)
	}
	return affected(result, "update component")
}

// ArchiveComponent hides a component from listings. Components are never
// physically deleted.
func (s *Store) ArchiveComponent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE components SET status = ?, updated_at = ? WHERE id = ?"),
		string(model.StatusArchived), now(), id)
	if err != nil {
		return fmt.Errorf("archive component: %w", err)
	}
	return affected(result, "archive component")
}

// IncrementUsage bumps the usage counter used by popularity ranking.
func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE components SET usage_count = usage_count + 1 WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return affected(result, "increment usage")
}

// sortOrders maps the API sort names onto ORDER BY clauses. Every clause
// ends in a unique-enough tiebreaker so pagination is stable.
var sortOrders = map[string]string{
	"":          "featured DESC, usage_count DESC, name ASC, id ASC",
	"relevance": "featured DESC, usage_count DESC, name ASC, id ASC",
	"popular":   "usage_count DESC, name ASC, id ASC",
	"rating":    "rating DESC, name ASC, id ASC",
	"newest":    "created_at DESC, name ASC, id ASC",
	"name":      "name ASC, id ASC",
}

var componentOrderColumns = map[string]bool{
	"id": true, "name": true, "slug": true, "category": true, "framework": true,
	"usage_count": true, "rating": true, "featured": true, "status": true,
	"complexity_score": true, "performance_score": true, "accessibility_score": true,
	"created_at": true, "updated_at": true,
}

// SortNames returns the accepted named sort orders.
func SortNames() []string {
	return []string{"relevance", "popular", "rating", "newest", "name"}
}

func (s *Store) componentOrder(order string) (string, error) {
	if clause, ok := sortOrders[strings.ToLower(strings.TrimSpace(order))]; ok {
		order = clause
	}
	sorts, err := query.ParseSorts(order, componentOrderColumns)
	if err != nil {
		return "", err
	}
	return query.OrderBy(sorts, s.conn.QuoteIdentifier), nil
}

// componentPredicates applies visibility and the structured filters of f.
// The free-text Query is left to the caller.
func (s *Store) componentPredicates(f model.ComponentFilter) *query.Predicates {
	p := &query.Predicates{}

	if f.Status != "" {
		p.Add("status = ?", string(f.Status))
	} else {
		p.Add("status <> ?", string(model.StatusArchived))
	}
	if !f.IncludeAll {
		if f.ViewerID != "" {
			p.Add("((is_public = ? AND status = ?) OR owner_id = ?)", true, string(model.StatusPublished), f.ViewerID)
		} else {
			p.Add("is_public = ? AND status = ?", true, string(model.StatusPublished))
		}
	}
	if f.Category != "" {
		p.Add(s.conn.ILike("category"), query.EscapeLike(f.Category))
	}
	if f.Framework != "" {
		p.Add(s.conn.ILike("framework"), query.EscapeLike(f.Framework))
	}
	if len(f.Tags) > 0 {
		conds := make([]string, len(f.Tags))
		args := make([]interface{}, len(f.Tags))
		for i, tag := range f.Tags {
			conds[i] = s.conn.ILike("tags")
			args[i] = query.Contains(`"` + strings.ToLower(tag) + `"`)
		}
		p.AnyOf(conds, args...)
	}
	if f.MinRating > 0 {
		p.Add("rating >= ?", f.MinRating)
	}
	if f.Featured != nil {
		p.Add("featured = ?", *f.Featured)
	}
	if f.OwnerID != "" {
		p.Add("owner_id = ?", f.OwnerID)
	}
	return p
}

// addTerms requires every term to appear in the name, description or tags.
func (s *Store) addTerms(p *query.Predicates, terms []string) {
	for _, term := range terms {
		pattern := query.Contains(term)
		p.AnyOf([]string{s.conn.ILike("name"), s.conn.ILike("description"), s.conn.ILike("tags")},
			pattern, pattern, pattern)
	}
}

func (s *Store) selectComponents(ctx context.Context, p *query.Predicates, order string, limit, offset int) ([]model.Component, error) {
	orderSQL, err := s.componentOrder(order)
	if err != nil {
		return nil, err
	}
	q := s.page("SELECT "+componentColumns+" FROM components "+p.Where()+" "+orderSQL, limit, offset)

	var rows []componentRow
	if err := s.db.SelectContext(ctx, &rows, s.q(q), p.Args()...); err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return toComponents(rows), nil
}

// ListComponents returns components matching f. A non-empty f.Query is
// split into terms that must each match.
func (s *Store) ListComponents(ctx context.Context, f model.ComponentFilter) ([]model.Component, error) {
	p := s.componentPredicates(f)
	s.addTerms(p, query.SplitTerms(f.Query))
	return s.selectComponents(ctx, p, f.Order, f.Limit, f.Offset)
}

// CountComponents returns how many components match f, ignoring paging.
func (s *Store) CountComponents(ctx context.Context, f model.ComponentFilter) (int64, error) {
	p := s.componentPredicates(f)
	s.addTerms(p, query.SplitTerms(f.Query))

	var n int64
	if err := s.db.GetContext(ctx, &n, s.q("SELECT COUNT(*) FROM components "+p.Where()), p.Args()...); err != nil {
		return 0, fmt.Errorf("count components: %w", err)
	}
	return n, nil
}

// SearchText is the text tier of search: each term must occur
// case-insensitively in the name, description or tags.
func (s *Store) SearchText(ctx context.Context, terms []string, f model.ComponentFilter) ([]model.Component, error) {
	if len(terms) == 0 {
		return []model.Component{}, nil
	}
	p := s.componentPredicates(f)
	s.addTerms(p, terms)
	return s.selectComponents(ctx, p, f.Order, f.Limit, 0)
}

// SearchFuzzy is the last search tier: names containing stem, or slugs
// starting with it. Callers pass shortened prefixes of a query term.
func (s *Store) SearchFuzzy(ctx context.Context, stem string, f model.ComponentFilter) ([]model.Component, error) {
	if stem == "" {
		return []model.Component{}, nil
	}
	p := s.componentPredicates(f)
	p.AnyOf([]string{s.conn.ILike("name"), s.conn.ILike("slug")}, query.Contains(stem), query.Prefix(stem))
	return s.selectComponents(ctx, p, f.Order, f.Limit, 0)
}

// OwnerComponents returns every component owned by ownerID, archived ones
// included, oldest first.
func (s *Store) OwnerComponents(ctx context.Context, ownerID string) ([]model.Component, error) {
	var rows []componentRow
	q := "SELECT " + componentColumns + " FROM components WHERE owner_id = ? ORDER BY created_at ASC, id ASC"
	if err := s.db.SelectContext(ctx, &rows, s.q(q), ownerID); err != nil {
		return nil, fmt.Errorf("owner components: %w", err)
	}
	return toComponents(rows), nil
}

// CategoryCount is a category with the number of visible components in it.
type CategoryCount struct {
	Category   string `db:"category"`
	Components int64  `db:"component_count"`
	Usage      int64  `db:"total_usage"`
}

// ListCategories returns public, published categories whose name starts
// with prefix, most used first.
func (s *Store) ListCategories(ctx context.Context, prefix string, limit int) ([]CategoryCount, error) {
	p := &query.Predicates{}
	p.Add("is_public = ? AND status = ?", true, string(model.StatusPublished))
	p.Add("category <> ?", "")
	if prefix != "" {
		p.Add(s.conn.ILike("category"), query.Prefix(prefix))
	}

	q := s.page("SELECT category, COUNT(*) AS component_count, SUM(usage_count) AS total_usage FROM components "+
		p.Where()+" GROUP BY category ORDER BY total_usage DESC, category ASC", limit, 0)

	var out []CategoryCount
	if err := s.db.SelectContext(ctx, &out, s.q(q), p.Args()...); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}
