package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"examline/internal/domain"
)

// HashStaffKey returns a stable SHA-256 hex digest for the provided key.
func HashStaffKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertStaffKey stores a hashed staff key. KeyHash must already contain the
// hashed value.
func (r Repo) InsertStaffKey(ctx context.Context, tx *sql.Tx, key domain.StaffKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.ActorID == "" {
		return errors.New("actor_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := exec(`INSERT INTO staff_keys(id, actor_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetStaffKeyByHash returns a staff key by its hashed value.
func (r Repo) GetStaffKeyByHash(ctx context.Context, hash string) (domain.StaffKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, actor_id, COALESCE(name,''), key_hash, created_at FROM staff_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.StaffKey
	err := row.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.StaffKey{}, ErrNotFound
	}
	if err != nil {
		return domain.StaffKey{}, err
	}
	return key, nil
}

// ListStaffKeys returns staff keys, optionally filtered by actor ID.
func (r Repo) ListStaffKeys(ctx context.Context, actorID string) ([]domain.StaffKey, error) {
	query := `SELECT id, actor_id, COALESCE(name,''), key_hash, created_at FROM staff_keys`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.StaffKey
	for rows.Next() {
		var key domain.StaffKey
		if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteStaffKey deletes a staff key by ID.
func (r Repo) DeleteStaffKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM staff_keys WHERE id=?`, id)
	return err
}
