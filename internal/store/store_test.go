package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kitbay/kitbay/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), "") // in-memory
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newComponent(name, owner string, public bool, status model.ComponentStatus) *model.Component {
	return &model.Component{
		Name:      name,
		Slug:      name,
		Category:  "buttons",
		Framework: "react",
		Code:      "<button>" + name + "</button>",
		Tags:      []string{"ui"},
		IsPublic:  public,
		Status:    status,
		OwnerID:   owner,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(t.Context()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestComponentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	c := &model.Component{
		Name:        "Cool Button",
		Slug:        "cool-button",
		Description: "A button that is cool",
		Category:    "buttons",
		Framework:   "react",
		Code:        "<button>Hi</button>",
		Props:       map[string]interface{}{"size": "md"},
		Tags:        []string{"button", "primary"},
		Rating:      4.5,
		IsPublic:    true,
		OwnerID:     "u1",
	}
	if err := s.CreateComponent(ctx, c); err != nil {
		t.Fatalf("CreateComponent: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected ID after create")
	}
	if c.Status != model.StatusDraft || c.Version != "1.0.0" {
		t.Errorf("defaults: status=%q version=%q", c.Status, c.Version)
	}

	got, err := s.GetComponent(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if diff := cmp.Diff([]string{"button", "primary"}, got.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if got.Props["size"] != "md" {
		t.Errorf("props = %v", got.Props)
	}
	if got.Rating != 4.5 || !got.IsPublic {
		t.Errorf("got rating=%v public=%v", got.Rating, got.IsPublic)
	}

	got.Status = model.StatusPublished
	got.Description = "Updated"
	if err := s.UpdateComponent(ctx, got); err != nil {
		t.Fatalf("UpdateComponent: %v", err)
	}
	again, _ := s.GetComponent(ctx, c.ID)
	if again.Description != "Updated" || again.Status != model.StatusPublished {
		t.Errorf("update not persisted: %+v", again)
	}

	if err := s.IncrementUsage(ctx, c.ID); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	if err := s.IncrementUsage(ctx, c.ID); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	again, _ = s.GetComponent(ctx, c.ID)
	if again.UsageCount != 2 {
		t.Errorf("usage = %d, want 2", again.UsageCount)
	}

	if err := s.ArchiveComponent(ctx, c.ID); err != nil {
		t.Fatalf("ArchiveComponent: %v", err)
	}
	again, _ = s.GetComponent(ctx, c.ID)
	if again.Status != model.StatusArchived {
		t.Errorf("status = %q, want archived", again.Status)
	}

	if _, err := s.GetComponent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetComponent(missing) = %v, want ErrNotFound", err)
	}
	if err := s.ArchiveComponent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ArchiveComponent(missing) = %v, want ErrNotFound", err)
	}
}

func TestListComponentsVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, c := range []*model.Component{
		newComponent("public-published", "u1", true, model.StatusPublished),
		newComponent("public-draft", "u1", true, model.StatusDraft),
		newComponent("private-mine", "u2", false, model.StatusPublished),
		newComponent("archived", "u2", true, model.StatusArchived),
	} {
		if err := s.CreateComponent(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	names := func(cs []model.Component) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.Name
		}
		return out
	}

	tests := []struct {
		name   string
		filter model.ComponentFilter
		want   []string
	}{
		{"anonymous", model.ComponentFilter{Order: "name"}, []string{"public-published"}},
		{"owner sees own", model.ComponentFilter{ViewerID: "u2", Order: "name"}, []string{"private-mine", "public-published"}},
		{"admin sees all but archived", model.ComponentFilter{IncludeAll: true, Order: "name"}, []string{"private-mine", "public-draft", "public-published"}},
		{"explicit archived status", model.ComponentFilter{IncludeAll: true, Status: model.StatusArchived}, []string{"archived"}},
		{"owner filter", model.ComponentFilter{IncludeAll: true, OwnerID: "u1", Order: "name"}, []string{"public-draft", "public-published"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListComponents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListComponents: %v", err)
			}
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			n, err := s.CountComponents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("CountComponents: %v", err)
			}
			if n != int64(len(tt.want)) {
				t.Errorf("count = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func TestListComponentsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	a := newComponent("Alpha Card", "u1", true, model.StatusPublished)
	a.Category, a.Tags, a.Rating, a.Featured = "cards", []string{"card", "layout"}, 4.8, true
	b := newComponent("Beta Button", "u1", true, model.StatusPublished)
	b.Tags, b.Rating = []string{"button", "form"}, 3.1
	c := newComponent("Gamma Modal", "u1", true, model.StatusPublished)
	c.Framework, c.Tags, c.Rating = "vue", []string{"overlay"}, 4.0
	for _, x := range []*model.Component{a, b, c} {
		if err := s.CreateComponent(ctx, x); err != nil {
			t.Fatal(err)
		}
	}

	yes := true
	tests := []struct {
		name   string
		filter model.ComponentFilter
		want   []string
	}{
		{"category", model.ComponentFilter{Category: "CARDS"}, []string{"Alpha Card"}},
		{"framework", model.ComponentFilter{Framework: "vue"}, []string{"Gamma Modal"}},
		{"any tag", model.ComponentFilter{Tags: []string{"form", "overlay"}, Order: "name"}, []string{"Beta Button", "Gamma Modal"}},
		{"min rating", model.ComponentFilter{MinRating: 4, Order: "rating"}, []string{"Alpha Card", "Gamma Modal"}},
		{"featured", model.ComponentFilter{Featured: &yes}, []string{"Alpha Card"}},
		{"query terms", model.ComponentFilter{Query: "beta button"}, []string{"Beta Button"}},
		{"query over tags", model.ComponentFilter{Query: "layout"}, []string{"Alpha Card"}},
		{"paging", model.ComponentFilter{Order: "name", Limit: 1, Offset: 1}, []string{"Beta Button"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListComponents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListComponents: %v", err)
			}
			var names []string
			for _, c := range got {
				names = append(names, c.Name)
			}
			if diff := cmp.Diff(tt.want, names); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := s.ListComponents(ctx, model.ComponentFilter{Order: "password_hash DESC"}); err == nil {
		t.Error("expected error ordering by a non-whitelisted column")
	}
}

func TestSearchTiers(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	c := newComponent("Dropdown Menu", "u1", true, model.StatusPublished)
	c.Slug = "dropdown-menu"
	c.Description = "Shows 100% of options"
	if err := s.CreateComponent(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchText(ctx, []string{"dropdown", "menu"}, model.ComponentFilter{})
	if err != nil || len(got) != 1 {
		t.Fatalf("SearchText = %v, %v", got, err)
	}
	got, _ = s.SearchText(ctx, []string{"dropdown", "table"}, model.ComponentFilter{})
	if len(got) != 0 {
		t.Errorf("all terms must match, got %d", len(got))
	}
	got, _ = s.SearchText(ctx, []string{"100%"}, model.ComponentFilter{})
	if len(got) != 1 {
		t.Errorf("literal percent should match, got %d", len(got))
	}
	got, _ = s.SearchText(ctx, []string{"1%0"}, model.ComponentFilter{})
	if len(got) != 0 {
		t.Errorf("percent must not act as a wildcard, got %d", len(got))
	}

	got, err = s.SearchFuzzy(ctx, "drop", model.ComponentFilter{})
	if err != nil || len(got) != 1 {
		t.Errorf("SearchFuzzy = %v, %v", got, err)
	}
	got, _ = s.SearchText(ctx, nil, model.ComponentFilter{})
	if len(got) != 0 {
		t.Errorf("no terms should match nothing, got %d", len(got))
	}
}

func TestGetComponentsKeepsInputOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	var ids []string
	for _, n := range []string{"one", "two", "three"} {
		c := newComponent(n, "u1", true, model.StatusPublished)
		if err := s.CreateComponent(ctx, c); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.ID)
	}

	got, err := s.GetComponents(ctx, []string{ids[2], "missing", ids[0]})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "three" || got[1].Name != "one" {
		t.Errorf("GetComponents order = %+v", got)
	}
}

func TestListCategories(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for i, cat := range []string{"buttons", "buttons", "badges", "cards"} {
		c := newComponent("c"+string(rune('a'+i)), "u1", true, model.StatusPublished)
		c.Category = cat
		c.UsageCount = int64(i)
		if err := s.CreateComponent(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	hidden := newComponent("hidden", "u1", false, model.StatusPublished)
	hidden.Category = "bars"
	s.CreateComponent(ctx, hidden)

	got, err := s.ListCategories(ctx, "b", 10)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	want := []CategoryCount{
		{Category: "badges", Components: 1, Usage: 2},
		{Category: "buttons", Components: 2, Usage: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestVariantsAndDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	c := newComponent("Button", "u1", true, model.StatusPublished)
	if err := s.CreateComponent(ctx, c); err != nil {
		t.Fatal(err)
	}

	first := &model.ComponentVariant{ComponentID: c.ID, Name: "primary", Code: "<b/>", IsDefault: true}
	second := &model.ComponentVariant{ComponentID: c.ID, Name: "secondary", Code: "<i/>", IsDefault: true}
	for _, v := range []*model.ComponentVariant{first, second} {
		if err := s.CreateVariant(ctx, v); err != nil {
			t.Fatalf("CreateVariant: %v", err)
		}
	}

	variants, err := s.ListVariants(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(variants) != 2 {
		t.Fatalf("got %d variants", len(variants))
	}
	if variants[0].Name != "secondary" || !variants[0].IsDefault || variants[1].IsDefault {
		t.Errorf("only the newest default should remain default: %+v", variants)
	}

	dep := &model.ComponentDependency{ComponentID: c.ID, PackageName: "react", VersionRange: "^18.0.0"}
	if err := s.CreateDependency(ctx, dep); err != nil {
		t.Fatal(err)
	}
	deps, err := s.ListDependencies(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0].Type != model.DependencyRuntime || deps[0].Target() != "react" {
		t.Errorf("deps = %+v", deps)
	}

	orphan := &model.ComponentVariant{ComponentID: "missing", Name: "x"}
	if err := s.CreateVariant(ctx, orphan); err == nil {
		t.Error("expected foreign key failure for unknown component")
	}
}

func TestRestoreSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	existing := newComponent("Existing", "u1", true, model.StatusPublished)
	if err := s.CreateComponent(ctx, existing); err != nil {
		t.Fatal(err)
	}
	s.CreateVariant(ctx, &model.ComponentVariant{ComponentID: existing.ID, Name: "old"})

	restoredAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	modified := *existing
	modified.Description = "restored"
	snaps := []ComponentSnapshot{
		{
			Component: modified,
			Variants:  []model.ComponentVariant{{Name: "new", CreatedAt: restoredAt, UpdatedAt: restoredAt}},
		},
		{
			Component: model.Component{
				ID: "c-new", Name: "Brand New", Slug: "brand-new", Status: model.StatusDraft, OwnerID: "u1",
				Version: "2.0.0", CreatedAt: restoredAt, UpdatedAt: restoredAt,
			},
			Dependencies: []model.ComponentDependency{{PackageName: "vue", Type: model.DependencyPeer, CreatedAt: restoredAt}},
		},
	}
	if err := s.RestoreSnapshots(ctx, snaps); err != nil {
		t.Fatalf("RestoreSnapshots: %v", err)
	}

	got, _ := s.GetComponent(ctx, existing.ID)
	if got.Description != "restored" {
		t.Errorf("existing component not updated: %q", got.Description)
	}
	variants, _ := s.ListVariants(ctx, existing.ID)
	if len(variants) != 1 || variants[0].Name != "new" {
		t.Errorf("variants not replaced: %+v", variants)
	}
	fresh, err := s.GetComponent(ctx, "c-new")
	if err != nil {
		t.Fatalf("restored component missing: %v", err)
	}
	if !fresh.CreatedAt.Equal(restoredAt) {
		t.Errorf("created_at = %v, want %v", fresh.CreatedAt, restoredAt)
	}
	deps, _ := s.ListDependencies(ctx, "c-new")
	if len(deps) != 1 || deps[0].Type != model.DependencyPeer {
		t.Errorf("deps = %+v", deps)
	}

	all, _ := s.OwnerComponents(ctx, "u1")
	if len(all) != 2 {
		t.Errorf("OwnerComponents = %d, want 2", len(all))
	}
}
