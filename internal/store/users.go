package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kitbay/kitbay/internal/model"
)

const userColumns = `id, email, name, password_hash, role, is_active, last_login_at, created_at, updated_at`

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new account. Emails are compared case-insensitively;
// a duplicate returns ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if _, err := s.GetUserByEmail(ctx, u.Email); err == nil {
		return fmt.Errorf("email %q: %w", u.Email, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if u.ID == "" {
		u.ID = NewID()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	ts := now()
	u.CreatedAt = ts
	u.UpdatedAt = ts

	const q = `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :email, :name, :password_hash, :role, :is_active, :last_login_at, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.q("SELECT "+userColumns+" FROM users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.db.GetContext(ctx, &u, s.q("SELECT "+userColumns+" FROM users WHERE email = ?"), email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ListUsers returns all accounts ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, s.q("SELECT "+userColumns+" FROM users ORDER BY email")); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// HasAnyAdmin reports whether at least one admin account exists. Used for
// first-run detection.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, s.q("SELECT COUNT(*) FROM users WHERE role = ?"), model.RoleAdmin); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id string) error {
	ts := now()
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?"), ts, ts, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	return affected(result, "update user last login")
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

const apiKeyColumns = `id, user_id, key_hash, key_prefix, label, is_active, expires_at, created_at, last_used`

// CreateAPIKey inserts a new API key record. The key_hash must already be set
// (use HashAPIKey).
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = NewID()
	}
	key.CreatedAt = now()
	key.ExpiresAt = utcPtr(key.ExpiresAt)

	const q = `INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES (:id, :user_id, :key_hash, :key_prefix, :label, :is_active, :expires_at, :created_at, :last_used)`
	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.q("SELECT "+apiKeyColumns+" FROM api_keys WHERE key_hash = ?"), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns the keys of userID, or every key when userID is empty.
func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	var err error
	if userID == "" {
		err = s.db.SelectContext(ctx, &keys, s.q("SELECT "+apiKeyColumns+" FROM api_keys ORDER BY created_at DESC, id DESC"))
	} else {
		err = s.db.SelectContext(ctx, &keys,
			s.q("SELECT "+apiKeyColumns+" FROM api_keys WHERE user_id = ? ORDER BY created_at DESC, id DESC"), userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key inactive. A non-empty userID restricts the
// revocation to that user's keys.
func (s *Store) RevokeAPIKey(ctx context.Context, id, userID string) error {
	q := "UPDATE api_keys SET is_active = ? WHERE id = ?"
	args := []interface{}{false, id}
	if userID != "" {
		q += " AND user_id = ?"
		args = append(args, userID)
	}
	result, err := s.db.ExecContext(ctx, s.q(q), args...)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return affected(result, "revoke api key")
}

// RevokeAPIKeyByPrefix marks the active key with the given prefix inactive.
func (s *Store) RevokeAPIKeyByPrefix(ctx context.Context, prefix string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE api_keys SET is_active = ? WHERE key_prefix = ? AND is_active = ?"), false, prefix, true)
	if err != nil {
		return fmt.Errorf("revoke api key by prefix: %w", err)
	}
	return affected(result, "revoke api key by prefix")
}

// UpdateAPIKeyLastUsed sets the last_used timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.q("UPDATE api_keys SET last_used = ? WHERE id = ?"), now(), id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return affected(result, "update api key last used")
}
