package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gigline/internal/config"
)

// Repo wraps the SQL store. Methods taking a *sql.Tx run inside the caller's
// transaction; the rest use the pool directly.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueConstraint reports whether err is a sqlite unique-index violation.
// The driver surfaces these as plain errors, so this matches on the message.
func IsUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// EnsureActor records an actor id on first sight.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// UpsertMarketplaceConfig stores the validated config as JSON.
func (r Repo) UpsertMarketplaceConfig(ctx context.Context, id string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Marketplace.ID = id
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO marketplace_configs(id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, id, string(payload), now, now)
	return err
}

// GetMarketplaceConfig loads the stored config for a marketplace id.
func (r Repo) GetMarketplaceConfig(ctx context.Context, id string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM marketplace_configs WHERE id=?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Marketplace.ID == "" {
		cfg.Marketplace.ID = id
	}
	return &cfg, cfg.Validate()
}

// SingleMarketplaceConfig returns the sole stored config, or ErrNotFound.
func (r Repo) SingleMarketplaceConfig(ctx context.Context) (*config.Config, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM marketplace_configs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	if len(ids) > 1 {
		return nil, fmt.Errorf("multiple marketplace configs exist; specify one")
	}
	return r.GetMarketplaceConfig(ctx, ids[0])
}
