package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/query"
)

type eventRow struct {
	ID          string    `db:"id"`
	EventType   string    `db:"event_type"`
	ComponentID string    `db:"component_id"`
	UserID      string    `db:"user_id"`
	Properties  string    `db:"properties"`
	CreatedAt   time.Time `db:"created_at"`
}

// InsertEvent appends one analytics row.
func (s *Store) InsertEvent(ctx context.Context, e *model.AnalyticsEvent) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	props := e.Properties
	if props == nil {
		props = map[string]interface{}{}
	}

	const q = `INSERT INTO analytics_events (id, event_type, component_id, user_id, properties, created_at)
		VALUES (:id, :event_type, :component_id, :user_id, :properties, :created_at)`
	row := eventRow{
		ID:          e.ID,
		EventType:   e.EventType,
		ComponentID: e.ComponentID,
		UserID:      e.UserID,
		Properties:  encodeJSON(props),
		CreatedAt:   e.CreatedAt.UTC(),
	}
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// CountEvents returns per-type event counts recorded at or after since.
func (s *Store) CountEvents(ctx context.Context, since time.Time) ([]model.EventCount, error) {
	var counts []model.EventCount
	q := "SELECT event_type, COUNT(*) AS count FROM analytics_events WHERE created_at >= ? GROUP BY event_type ORDER BY event_type"
	if err := s.db.SelectContext(ctx, &counts, s.q(q), since.UTC()); err != nil {
		return nil, fmt.Errorf("count analytics events: %w", err)
	}
	return counts, nil
}

// CountEventsBetween returns per-type event counts recorded in
// [since, until).
func (s *Store) CountEventsBetween(ctx context.Context, since, until time.Time) ([]model.EventCount, error) {
	var counts []model.EventCount
	q := "SELECT event_type, COUNT(*) AS count FROM analytics_events WHERE created_at >= ? AND created_at < ? GROUP BY event_type ORDER BY event_type"
	if err := s.db.SelectContext(ctx, &counts, s.q(q), since.UTC(), until.UTC()); err != nil {
		return nil, fmt.Errorf("count analytics events: %w", err)
	}
	return counts, nil
}

// ListEvents returns the most recent events, optionally of one type.
func (s *Store) ListEvents(ctx context.Context, eventType string, limit int) ([]model.AnalyticsEvent, error) {
	p := &query.Predicates{}
	if eventType != "" {
		p.Add("event_type = ?", eventType)
	}
	q := s.page("SELECT id, event_type, component_id, user_id, properties, created_at FROM analytics_events "+
		p.Where()+" ORDER BY created_at DESC, id DESC", limit, 0)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.q(q), p.Args()...); err != nil {
		return nil, fmt.Errorf("list analytics events: %w", err)
	}
	out := make([]model.AnalyticsEvent, len(rows))
	for i, r := range rows {
		out[i] = model.AnalyticsEvent{
			ID:          r.ID,
			EventType:   r.EventType,
			ComponentID: r.ComponentID,
			UserID:      r.UserID,
			Properties:  decodeMap(r.Properties),
			CreatedAt:   r.CreatedAt,
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value stored under key, or "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var values []string
	if err := s.db.SelectContext(ctx, &values,
		s.q("SELECT setting_value FROM settings WHERE setting_key = ?"), key); err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE settings SET setting_value = ? WHERE setting_key = ?"), value, key)
	if err != nil {
		return fmt.Errorf("update setting: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}
	// MySQL reports zero affected rows when the value is unchanged, so a
	// failed insert of an existing key is not an error.
	if _, err := s.db.ExecContext(ctx,
		s.q("INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)"), key, value); err != nil {
		var n int
		if cerr := s.db.GetContext(ctx, &n, s.q("SELECT COUNT(*) FROM settings WHERE setting_key = ?"), key); cerr == nil && n > 0 {
			return nil
		}
		return fmt.Errorf("insert setting: %w", err)
	}
	return nil
}
