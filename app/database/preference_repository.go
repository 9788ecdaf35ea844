package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// PreferenceRepository is a durable key/value store. Values are JSON encoded.
type PreferenceRepository struct {
	db  *DB
	now func() time.Time
}

func NewPreferenceRepository(db *DB) *PreferenceRepository {
	return &PreferenceRepository{db: db, now: time.Now}
}

// GetJSON decodes the value stored under key into v. It reports false when the
// key is not set.
func (r *PreferenceRepository) GetJSON(key string, v any) (bool, error) {
	var raw string
	err := r.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get preference %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode preference %s: %w", key, err)
	}
	return true, nil
}

func (r *PreferenceRepository) PutJSON(key string, v any) error {
	return r.PutBatch(map[string]any{key: v})
}

// GetLong returns the integer stored under key, or def when it is not set.
func (r *PreferenceRepository) GetLong(key string, def int64) (int64, error) {
	var value int64
	ok, err := r.GetJSON(key, &value)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return value, nil
}

func (r *PreferenceRepository) PutLong(key string, value int64) error {
	return r.PutBatch(map[string]any{key: value})
}

// PutBatch writes all values in a single transaction. A nil value removes the
// key.
func (r *PreferenceRepository) PutBatch(values map[string]any) error {
	if len(values) == 0 {
		return nil
	}

	encoded := make(map[string][]byte, len(values))
	for key, v := range values {
		if v == nil {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode preference %s: %w", key, err)
		}
		encoded[key] = data
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := toMillis(r.now())
	for _, key := range slices.Sorted(maps.Keys(values)) {
		data, ok := encoded[key]
		if !ok {
			if _, err := tx.Exec(`DELETE FROM preferences WHERE key = ?`, key); err != nil {
				return fmt.Errorf("failed to remove preference %s: %w", key, err)
			}
			continue
		}

		_, err := tx.Exec(`
			INSERT INTO preferences (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, key, string(data), now)
		if err != nil {
			return fmt.Errorf("failed to store preference %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit preferences: %w", err)
	}
	return nil
}
