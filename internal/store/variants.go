package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kitbay/kitbay/internal/model"
)

const variantColumns = `id, component_id, name, description, code, styles, props, is_default, created_at, updated_at`

type variantRow struct {
	ID          string    `db:"id"`
	ComponentID string    `db:"component_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Code        string    `db:"code"`
	Styles      string    `db:"styles"`
	Props       string    `db:"props"`
	IsDefault   bool      `db:"is_default"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func variantRowFromModel(v *model.ComponentVariant) variantRow {
	props := v.Props
	if props == nil {
		props = map[string]interface{}{}
	}
	return variantRow{
		ID:          v.ID,
		ComponentID: v.ComponentID,
		Name:        v.Name,
		Description: v.Description,
		Code:        v.Code,
		Styles:      v.Styles,
		Props:       encodeJSON(props),
		IsDefault:   v.IsDefault,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}

func (r variantRow) toModel() model.ComponentVariant {
	return model.ComponentVariant{
		ID:          r.ID,
		ComponentID: r.ComponentID,
		Name:        r.Name,
		Description: r.Description,
		Code:        r.Code,
		Styles:      r.Styles,
		Props:       decodeMap(r.Props),
		IsDefault:   r.IsDefault,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

const insertVariantSQL = `INSERT INTO component_variants (` + variantColumns + `)
	VALUES (:id, :component_id, :name, :description, :code, :styles, :props, :is_default, :created_at, :updated_at)`

// CreateVariant inserts v. When v is the default, any previous default of
// the same component is cleared in the same transaction.
func (s *Store) CreateVariant(ctx context.Context, v *model.ComponentVariant) error {
	if v.ID == "" {
		v.ID = NewID()
	}
	ts := now()
	v.CreatedAt = ts
	v.UpdatedAt = ts

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if v.IsDefault {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind("UPDATE component_variants SET is_default = ?, updated_at = ? WHERE component_id = ? AND is_default = ?"),
			false, ts, v.ComponentID, true); err != nil {
			return fmt.Errorf("clear default variant: %w", err)
		}
	}
	if _, err := tx.NamedExecContext(ctx, insertVariantSQL, variantRowFromModel(v)); err != nil {
		return fmt.Errorf("insert variant: %w", err)
	}
	return tx.Commit()
}

// ListVariants returns a component's variants, default first.
func (s *Store) ListVariants(ctx context.Context, componentID string) ([]model.ComponentVariant, error) {
	var rows []variantRow
	q := "SELECT " + variantColumns + " FROM component_variants WHERE component_id = ? ORDER BY is_default DESC, name ASC, id ASC"
	if err := s.db.SelectContext(ctx, &rows, s.q(q), componentID); err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	out := make([]model.ComponentVariant, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

const dependencyColumns = `id, component_id, depends_on_id, package_name, dependency_type, version_range, created_at`

type dependencyRow struct {
	ID           string    `db:"id"`
	ComponentID  string    `db:"component_id"`
	DependsOnID  string    `db:"depends_on_id"`
	PackageName  string    `db:"package_name"`
	Type         string    `db:"dependency_type"`
	VersionRange string    `db:"version_range"`
	CreatedAt    time.Time `db:"created_at"`
}

func dependencyRowFromModel(d *model.ComponentDependency) dependencyRow {
	return dependencyRow{
		ID:           d.ID,
		ComponentID:  d.ComponentID,
		DependsOnID:  d.DependsOnID,
		PackageName:  d.PackageName,
		Type:         string(d.Type),
		VersionRange: d.VersionRange,
		CreatedAt:    d.CreatedAt,
	}
}

func (r dependencyRow) toModel() model.ComponentDependency {
	return model.ComponentDependency{
		ID:           r.ID,
		ComponentID:  r.ComponentID,
		DependsOnID:  r.DependsOnID,
		PackageName:  r.PackageName,
		Type:         model.DependencyType(r.Type),
		VersionRange: r.VersionRange,
		CreatedAt:    r.CreatedAt,
	}
}

const insertDependencySQL = `INSERT INTO component_dependencies (` + dependencyColumns + `)
	VALUES (:id, :component_id, :depends_on_id, :package_name, :dependency_type, :version_range, :created_at)`

// CreateDependency inserts a dependency edge.
func (s *Store) CreateDependency(ctx context.Context, d *model.ComponentDependency) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.Type == "" {
		d.Type = model.DependencyRuntime
	}
	d.CreatedAt = now()

	if _, err := s.db.NamedExecContext(ctx, insertDependencySQL, dependencyRowFromModel(d)); err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return nil
}

// ListDependencies returns a component's outgoing dependency edges.
func (s *Store) ListDependencies(ctx context.Context, componentID string) ([]model.ComponentDependency, error) {
	var rows []dependencyRow
	q := "SELECT " + dependencyColumns + " FROM component_dependencies WHERE component_id = ? ORDER BY created_at ASC, id ASC"
	if err := s.db.SelectContext(ctx, &rows, s.q(q), componentID); err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	out := make([]model.ComponentDependency, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ComponentSnapshot is a component together with its children, as carried
// by backups.
type ComponentSnapshot struct {
	Component    model.Component             `json:"component" msgpack:"component"`
	Variants     []model.ComponentVariant    `json:"variants" msgpack:"variants"`
	Dependencies []model.ComponentDependency `json:"dependencies" msgpack:"dependencies"`
}

// RestoreSnapshots upserts each component and replaces its variants and
// dependencies, all in one transaction. Stored timestamps are kept.
func (s *Store) RestoreSnapshots(ctx context.Context, snaps []ComponentSnapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range snaps {
		if err := s.restoreOne(ctx, tx, &snaps[i]); err != nil {
			return fmt.Errorf("restore component %s: %w", snaps[i].Component.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) restoreOne(ctx context.Context, tx *sqlx.Tx, snap *ComponentSnapshot) error {
	c := &snap.Component
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	var exists int
	if err := tx.GetContext(ctx, &exists, tx.Rebind("SELECT COUNT(*) FROM components WHERE id = ?"), c.ID); err != nil {
		return fmt.Errorf("check component: %w", err)
	}

	if exists > 0 {
		const q = `UPDATE components SET
			name = :name, slug = :slug, description = :description, category = :category,
			framework = :framework, code = :code, styles = :styles, props = :props, tags = :tags,
			usage_count = :usage_count, rating = :rating, complexity_score = :complexity_score,
			performance_score = :performance_score, accessibility_score = :accessibility_score,
			is_public = :is_public, featured = :featured, status = :status, owner_id = :owner_id,
			version = :version, updated_at = :updated_at
			WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, q, componentRowFromModel(c)); err != nil {
			return fmt.Errorf("update component: %w", err)
		}
	} else if err := s.insertComponent(ctx, tx, c); err != nil {
		return err
	}

	for _, table := range []string{"component_variants", "component_dependencies"} {
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM "+table+" WHERE component_id = ?"), c.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i := range snap.Variants {
		v := &snap.Variants[i]
		v.ComponentID = c.ID
		if v.ID == "" {
			v.ID = NewID()
		}
		if _, err := tx.NamedExecContext(ctx, insertVariantSQL, variantRowFromModel(v)); err != nil {
			return fmt.Errorf("insert variant: %w", err)
		}
	}
	for i := range snap.Dependencies {
		d := &snap.Dependencies[i]
		d.ComponentID = c.ID
		if d.ID == "" {
			d.ID = NewID()
		}
		if _, err := tx.NamedExecContext(ctx, insertDependencySQL, dependencyRowFromModel(d)); err != nil {
			return fmt.Errorf("insert dependency: %w", err)
		}
	}
	return nil
}
