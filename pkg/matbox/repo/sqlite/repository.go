// Package sqlite implements matbox.Repository on an embedded SQLite database.
//
// The connection pool is limited to one connection: SQLite allows a single
// writer, and serializing at the pool keeps version numbering free of
// SQLITE_BUSY retries within one process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/tendant/matbox/pkg/matbox"
)

const maxAppendAttempts = 5

// Repository implements matbox.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// uriPathEscaper escapes the characters that end or escape the path of a
// SQLite URI filename.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on&_txlock=immediate"
	}
	u := url.URL{
		Scheme:   "file",
		Opaque:   uriPathEscaper.Replace(path),
		RawQuery: "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate",
	}
	return u.String()
}

// Open opens and configures a SQLite database. path may be ":memory:".
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// New wraps an opened database. The schema must already be migrated.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) storageError(operation string, err error) error {
	return &matbox.StorageError{Backend: "sqlite", Op: operation, Err: err}
}

func isUniqueViolation(err error, table string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqliteErr.Error(), table+".")
}

// Material operations

func (r *Repository) ListMaterials(ctx context.Context, ownerID string) ([]*matbox.Material, error) {
	return r.queryMaterials(ctx, "list materials", `
		SELECT id, owner_id, name, category, created_at, updated_at
		FROM materials WHERE owner_id = ?
		ORDER BY name`, ownerID)
}

func (r *Repository) ListByCategory(ctx context.Context, ownerID string, category matbox.Category) ([]*matbox.Material, error) {
	return r.queryMaterials(ctx, "list by category", `
		SELECT id, owner_id, name, category, created_at, updated_at
		FROM materials WHERE owner_id = ? AND category = ?
		ORDER BY name`, ownerID, string(category))
}

func (r *Repository) FindMaterial(ctx context.Context, ownerID, name string) (*matbox.Material, error) {
	materials, err := r.queryMaterials(ctx, "find material", `
		SELECT id, owner_id, name, category, created_at, updated_at
		FROM materials WHERE owner_id = ? AND name = ?`, ownerID, name)
	if err != nil {
		return nil, err
	}
	if len(materials) == 0 {
		return nil, matbox.ErrMaterialNotFound
	}
	return materials[0], nil
}

func (r *Repository) CountVersions(ctx context.Context, materialID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM material_versions WHERE material_id = ?`,
		materialID.String()).Scan(&count)
	if err != nil {
		return 0, r.storageError("count versions", err)
	}
	return count, nil
}

func (r *Repository) ListVersions(ctx context.Context, ownerID, name string) ([]*matbox.Version, error) {
	material, err := r.FindMaterial(ctx, ownerID, name)
	if err != nil {
		return nil, err
	}
	return material.Versions, nil
}

func (r *Repository) CreateMaterial(ctx context.Context, params matbox.CreateMaterialParams) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO materials (id, owner_id, name, category, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), params.OwnerID, params.Name, string(params.Category), now, now)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO material_versions (id, material_id, version_number, content_hash, size_bytes, created_at)
			VALUES (?, ?, 1, ?, ?, ?)`,
			uuid.New().String(), id.String(), params.ContentHash, params.SizeBytes, now)
		return err
	})
	if err != nil {
		if isUniqueViolation(err, "materials") {
			return uuid.Nil, fmt.Errorf("%w: %q", matbox.ErrAlreadyExists, params.Name)
		}
		return uuid.Nil, r.storageError("create material", err)
	}
	return id, nil
}

func (r *Repository) AppendVersion(ctx context.Context, params matbox.AppendVersionParams) (*matbox.Version, error) {
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		version, err := r.appendVersion(ctx, params)
		if err == nil {
			return version, nil
		}
		if errors.Is(err, matbox.ErrNotFound) {
			return nil, err
		}
		if !isUniqueViolation(err, "material_versions") {
			return nil, r.storageError("append version", err)
		}
		lastErr = err
	}
	return nil, r.storageError("append version", lastErr)
}

func (r *Repository) appendVersion(ctx context.Context, params matbox.AppendVersionParams) (*matbox.Version, error) {
	version := &matbox.Version{
		ID:          uuid.New(),
		ContentHash: params.ContentHash,
		SizeBytes:   params.SizeBytes,
		CreatedAt:   time.Now().UTC(),
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var materialID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM materials WHERE owner_id = ? AND name = ?`,
			params.OwnerID, params.Name).Scan(&materialID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return matbox.ErrMaterialNotFound
			}
			return err
		}
		if version.MaterialID, err = uuid.Parse(materialID); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO material_versions (id, material_id, version_number, content_hash, size_bytes, created_at)
			SELECT ?, ?, COALESCE(MAX(version_number), 0) + 1, ?, ?, ?
			FROM material_versions WHERE material_id = ?
			RETURNING version_number`,
			version.ID.String(), materialID, version.ContentHash, version.SizeBytes, version.CreatedAt,
			materialID).Scan(&version.VersionNumber)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE materials SET updated_at = ? WHERE id = ?`,
			version.CreatedAt, materialID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (r *Repository) GetVersionPath(ctx context.Context, ownerID, name string, versionNumber int) (string, error) {
	var materialID string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM materials WHERE owner_id = ? AND name = ?`,
		ownerID, name).Scan(&materialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", matbox.ErrMaterialNotFound
		}
		return "", r.storageError("get version path", err)
	}

	var hash string
	err = r.db.QueryRowContext(ctx,
		`SELECT content_hash FROM material_versions WHERE material_id = ? AND version_number = ?`,
		materialID, versionNumber).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", matbox.ErrInvalidVersion
		}
		return "", r.storageError("get version path", err)
	}
	return hash, nil
}

func (r *Repository) SetCategory(ctx context.Context, ownerID, name string, category matbox.Category) (uuid.UUID, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		UPDATE materials SET category = ?, updated_at = ?
		WHERE owner_id = ? AND name = ?
		RETURNING id`,
		string(category), time.Now().UTC(), ownerID, name).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, matbox.ErrMaterialNotFound
		}
		return uuid.Nil, r.storageError("set category", err)
	}
	return uuid.Parse(id)
}

// Helper methods

func (r *Repository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) queryMaterials(ctx context.Context, operation, query string, args ...interface{}) ([]*matbox.Material, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.storageError(operation, err)
	}

	materials := []*matbox.Material{}
	for rows.Next() {
		var (
			m        matbox.Material
			id       string
			category string
		)
		if err := rows.Scan(&id, &m.OwnerID, &m.Name, &category, &m.CreatedAt, &m.UpdatedAt); err != nil {
			rows.Close()
			return nil, r.storageError(operation, err)
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			rows.Close()
			return nil, r.storageError(operation, err)
		}
		m.Category = matbox.Category(category)
		materials = append(materials, &m)
	}
	err = rows.Err()
	// The single pooled connection must be released before loading versions.
	rows.Close()
	if err != nil {
		return nil, r.storageError(operation, err)
	}

	if err := r.loadVersions(ctx, materials); err != nil {
		return nil, err
	}
	return materials, nil
}

// versionBatchSize bounds the placeholders of one IN list, well below
// SQLite's host parameter limit.
var versionBatchSize = 500

func (r *Repository) loadVersions(ctx context.Context, materials []*matbox.Material) error {
	byID := make(map[uuid.UUID]*matbox.Material, len(materials))
	for _, m := range materials {
		byID[m.ID] = m
	}
	for start := 0; start < len(materials); start += versionBatchSize {
		end := min(start+versionBatchSize, len(materials))
		if err := r.loadVersionBatch(ctx, materials[start:end], byID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) loadVersionBatch(ctx context.Context, batch []*matbox.Material, byID map[uuid.UUID]*matbox.Material) error {
	args := make([]interface{}, 0, len(batch))
	for _, m := range batch {
		args = append(args, m.ID.String())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, material_id, version_number, content_hash, size_bytes, created_at
		FROM material_versions WHERE material_id IN (`+placeholders+`)
		ORDER BY material_id, version_number`, args...)
	if err != nil {
		return r.storageError("load versions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v                 matbox.Version
			id, materialIDStr string
		)
		if err := rows.Scan(&id, &materialIDStr, &v.VersionNumber, &v.ContentHash, &v.SizeBytes, &v.CreatedAt); err != nil {
			return r.storageError("load versions", err)
		}
		if v.ID, err = uuid.Parse(id); err != nil {
			return r.storageError("load versions", err)
		}
		if v.MaterialID, err = uuid.Parse(materialIDStr); err != nil {
			return r.storageError("load versions", err)
		}
		if m, ok := byID[v.MaterialID]; ok {
			m.Versions = append(m.Versions, &v)
		}
	}
	if err := rows.Err(); err != nil {
		return r.storageError("load versions", err)
	}
	return nil
}

var _ matbox.Repository = (*Repository)(nil)
