package store

import (
	"context"
	"fmt"

	"github.com/kitbay/kitbay/internal/connector"
)

type tableDef struct {
	name    string
	columns []connector.ColumnDef
	indexes []indexDef
}

type indexDef struct {
	name    string
	columns []string
}

func col(name string, kind connector.ColumnKind) connector.ColumnDef {
	return connector.ColumnDef{Name: name, Kind: kind}
}

func required(name string, kind connector.ColumnKind) connector.ColumnDef {
	return connector.ColumnDef{Name: name, Kind: kind, NotNull: true}
}

func primaryID() connector.ColumnDef {
	return connector.ColumnDef{Name: "id", Kind: connector.KindID, PrimaryKey: true}
}

// catalogTables lists the schema in dependency order. New columns are added
// as new tables or appended entries; existing definitions are never edited.
var catalogTables = []tableDef{
	{
		name: "users",
		columns: []connector.ColumnDef{
			primaryID(),
			{Name: "email", Kind: connector.KindShortText, NotNull: true, Unique: true},
			required("name", connector.KindShortText),
			required("password_hash", connector.KindShortText),
			required("role", connector.KindShortText),
			required("is_active", connector.KindBool),
			col("last_login_at", connector.KindTime),
			required("created_at", connector.KindTime),
			required("updated_at", connector.KindTime),
		},
	},
	{
		name: "api_keys",
		columns: []connector.ColumnDef{
			primaryID(),
			{Name: "user_id", Kind: connector.KindID, NotNull: true, References: "users(id)"},
			{Name: "key_hash", Kind: connector.KindShortText, NotNull: true, Unique: true},
			required("key_prefix", connector.KindShortText),
			required("label", connector.KindShortText),
			required("is_active", connector.KindBool),
			col("expires_at", connector.KindTime),
			required("created_at", connector.KindTime),
			col("last_used", connector.KindTime),
		},
		indexes: []indexDef{{"idx_api_keys_user", []string{"user_id"}}},
	},
	{
		name: "components",
		columns: []connector.ColumnDef{
			primaryID(),
			required("name", connector.KindShortText),
			required("slug", connector.KindShortText),
			required("description", connector.KindText),
			required("category", connector.KindShortText),
			required("framework", connector.KindShortText),
			required("code", connector.KindText),
			required("styles", connector.KindText),
			required("props", connector.KindText),
			required("tags", connector.KindText),
			required("usage_count", connector.KindInt),
			required("rating", connector.KindFloat),
			required("complexity_score", connector.KindInt),
			required("performance_score", connector.KindInt),
			required("accessibility_score", connector.KindInt),
			required("is_public", connector.KindBool),
			required("featured", connector.KindBool),
			required("status", connector.KindShortText),
			required("owner_id", connector.KindID),
			required("version", connector.KindShortText),
			required("created_at", connector.KindTime),
			required("updated_at", connector.KindTime),
		},
		indexes: []indexDef{
			{"idx_components_owner", []string{"owner_id"}},
			{"idx_components_visibility", []string{"status", "is_public"}},
			{"idx_components_category", []string{"category"}},
			{"idx_components_slug", []string{"slug"}},
		},
	},
	{
		name: "component_variants",
		columns: []connector.ColumnDef{
			primaryID(),
			{Name: "component_id", Kind: connector.KindID, NotNull: true, References: "components(id)"},
			required("name", connector.KindShortText),
			required("description", connector.KindText),
			required("code", connector.KindText),
			required("styles", connector.KindText),
			required("props", connector.KindText),
			required("is_default", connector.KindBool),
			required("created_at", connector.KindTime),
			required("updated_at", connector.KindTime),
		},
		indexes: []indexDef{{"idx_variants_component", []string{"component_id"}}},
	},
	{
		name: "component_dependencies",
		columns: []connector.ColumnDef{
			primaryID(),
			{Name: "component_id", Kind: connector.KindID, NotNull: true, References: "components(id)"},
			required("depends_on_id", connector.KindID),
			required("package_name", connector.KindShortText),
			required("dependency_type", connector.KindShortText),
			required("version_range", connector.KindShortText),
			required("created_at", connector.KindTime),
		},
		indexes: []indexDef{{"idx_dependencies_component", []string{"component_id"}}},
	},
	{
		name: "analytics_events",
		columns: []connector.ColumnDef{
			primaryID(),
			required("event_type", connector.KindShortText),
			required("component_id", connector.KindID),
			required("user_id", connector.KindID),
			required("properties", connector.KindText),
			required("created_at", connector.KindTime),
		},
		indexes: []indexDef{{"idx_events_type_created", []string{"event_type", "created_at"}}},
	},
	{
		name: "export_jobs",
		columns: []connector.ColumnDef{
			primaryID(),
			required("owner_id", connector.KindID),
			required("format", connector.KindShortText),
			required("component_ids", connector.KindText),
			required("options", connector.KindText),
			required("status", connector.KindShortText),
			required("progress_total", connector.KindInt),
			required("progress_completed", connector.KindInt),
			required("progress_failed", connector.KindInt),
			required("artifact_key", connector.KindShortText),
			required("artifact_size", connector.KindInt),
			required("error_message", connector.KindText),
			col("expires_at", connector.KindTime),
			required("created_at", connector.KindTime),
			required("updated_at", connector.KindTime),
			col("started_at", connector.KindTime),
			col("completed_at", connector.KindTime),
		},
		indexes: []indexDef{{"idx_export_jobs_owner", []string{"owner_id", "created_at"}}},
	},
	{
		name: "backups",
		columns: []connector.ColumnDef{
			primaryID(),
			required("owner_id", connector.KindID),
			required("label", connector.KindShortText),
			required("status", connector.KindShortText),
			required("component_count", connector.KindInt),
			required("size_bytes", connector.KindInt),
			required("checksum", connector.KindShortText),
			required("storage_key", connector.KindShortText),
			required("error_message", connector.KindText),
			col("expires_at", connector.KindTime),
			required("created_at", connector.KindTime),
			required("updated_at", connector.KindTime),
			col("completed_at", connector.KindTime),
		},
		indexes: []indexDef{{"idx_backups_owner", []string{"owner_id", "created_at"}}},
	},
	{
		name: "settings",
		columns: []connector.ColumnDef{
			{Name: "setting_key", Kind: connector.KindShortText, PrimaryKey: true},
			required("setting_value", connector.KindText),
		},
	},
}

// Migrate creates any missing tables and indexes. Re-running it against an
// up-to-date database is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	for _, t := range catalogTables {
		if err := s.exec(ctx, s.conn.CreateTableSQL(t.name, t.columns)); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
		for _, idx := range t.indexes {
			if err := s.exec(ctx, s.conn.CreateIndexSQL(idx.name, t.name, idx.columns)); err != nil {
				return fmt.Errorf("create index %s: %w", idx.name, err)
			}
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, ddl string) error {
	if _, err := s.db.ExecContext(ctx, ddl); err != nil && !s.conn.IsAlreadyExists(err) {
		return fmt.Errorf("%w\nSQL: %s", err, ddl)
	}
	return nil
}
