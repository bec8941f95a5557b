package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/matbox/pkg/matbox"
)

const (
	materialsOwnerNameKey = "materials_owner_name_key"
	versionsNumberKey     = "material_versions_material_version_key"

	// maxAppendAttempts bounds retries when a concurrent writer takes the
	// version number this transaction computed.
	maxAppendAttempts = 5
)

// DBTX is an interface that allows us to use either a connection pool or a single connection
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements matbox.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.ConstraintName == materialsOwnerNameKey {
				return matbox.ErrAlreadyExists
			}
			return fmt.Errorf("duplicate entry in %s: %s", operation, pgErr.ConstraintName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return &matbox.StorageError{Backend: "postgres", Op: operation,
				Err: fmt.Errorf("%s (code: %s)", pgErr.Message, pgErr.Code)}
		}
	}
	return &matbox.StorageError{Backend: "postgres", Op: operation, Err: err}
}

func isVersionConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == versionsNumberKey
}

// Material operations

func (r *Repository) ListMaterials(ctx context.Context, ownerID string) ([]*matbox.Material, error) {
	query := `
		SELECT id, owner_id, name, category, created_at, updated_at
		FROM materials WHERE owner_id = $1
		ORDER BY name`
	return r.queryMaterials(ctx, "list materials", query, ownerID)
}

func (r *Repository) ListByCategory(ctx context.Context, ownerID string, category matbox.Category) ([]*matbox.Material, error) {
	query := `
		SELECT id, owner_id, name, category, created_at, updated_at
		FROM materials WHERE owner_id = $1 AND category = $2
		ORDER BY name`
	return r.queryMaterials(ctx, "list by category", query, ownerID, string(category))
}

func (r *Repository) FindMaterial(ctx context.Context, ownerID, name string) (*matbox.Material, error) {
	query := `
		SELECT id, owner_id, name, category, created_at, updated_at
		FROM materials WHERE owner_id = $1 AND name = $2`

	material, err := scanMaterial(r.db.QueryRow(ctx, query, ownerID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, matbox.ErrMaterialNotFound
		}
		return nil, r.handlePostgresError("find material", err)
	}

	if err := r.loadVersions(ctx, []*matbox.Material{material}); err != nil {
		return nil, err
	}
	return material, nil
}

func (r *Repository) CountVersions(ctx context.Context, materialID uuid.UUID) (int, error) {
	query := `SELECT COALESCE(MAX(version_number), 0) FROM material_versions WHERE material_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, materialID).Scan(&count); err != nil {
		return 0, r.handlePostgresError("count versions", err)
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

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO materials (id, owner_id, name, category, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, params.OwnerID, params.Name, string(params.Category), now, now)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO material_versions (id, material_id, version_number, content_hash, size_bytes, created_at)
			VALUES ($1, $2, 1, $3, $4, $5)`,
			uuid.New(), id, params.ContentHash, params.SizeBytes, now)
		return err
	})
	if err != nil {
		err = r.handlePostgresError("create material", err)
		if errors.Is(err, matbox.ErrAlreadyExists) {
			return uuid.Nil, fmt.Errorf("%w: %q", matbox.ErrAlreadyExists, params.Name)
		}
		return uuid.Nil, err
	}
	return id, nil
}

// AppendVersion locks the material row, so concurrent appends to one
// material are serialized and receive consecutive numbers.
func (r *Repository) AppendVersion(ctx context.Context, params matbox.AppendVersionParams) (*matbox.Version, error) {
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		version, err := r.appendVersion(ctx, params)
		if err == nil {
			return version, nil
		}
		if !isVersionConflict(err) {
			if errors.Is(err, matbox.ErrNotFound) {
				return nil, err
			}
			return nil, r.handlePostgresError("append version", err)
		}
		lastErr = err
	}
	return nil, r.handlePostgresError("append version", lastErr)
}

func (r *Repository) appendVersion(ctx context.Context, params matbox.AppendVersionParams) (*matbox.Version, error) {
	version := &matbox.Version{
		ID:          uuid.New(),
		ContentHash: params.ContentHash,
		SizeBytes:   params.SizeBytes,
		CreatedAt:   time.Now().UTC(),
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id FROM materials WHERE owner_id = $1 AND name = $2 FOR UPDATE`,
			params.OwnerID, params.Name).Scan(&version.MaterialID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return matbox.ErrMaterialNotFound
			}
			return err
		}

		var current int
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(version_number), 0) FROM material_versions WHERE material_id = $1`,
			version.MaterialID).Scan(&current)
		if err != nil {
			return err
		}
		version.VersionNumber = current + 1

		_, err = tx.Exec(ctx, `
			INSERT INTO material_versions (id, material_id, version_number, content_hash, size_bytes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			version.ID, version.MaterialID, version.VersionNumber,
			version.ContentHash, version.SizeBytes, version.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE materials SET updated_at = $2 WHERE id = $1`,
			version.MaterialID, version.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (r *Repository) GetVersionPath(ctx context.Context, ownerID, name string, versionNumber int) (string, error) {
	var materialID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM materials WHERE owner_id = $1 AND name = $2`,
		ownerID, name).Scan(&materialID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", matbox.ErrMaterialNotFound
		}
		return "", r.handlePostgresError("get version path", err)
	}

	var hash string
	err = r.db.QueryRow(ctx, `
		SELECT content_hash FROM material_versions WHERE material_id = $1 AND version_number = $2`,
		materialID, versionNumber).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", matbox.ErrInvalidVersion
		}
		return "", r.handlePostgresError("get version path", err)
	}
	return hash, nil
}

func (r *Repository) SetCategory(ctx context.Context, ownerID, name string, category matbox.Category) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `
		UPDATE materials SET category = $3, updated_at = $4
		WHERE owner_id = $1 AND name = $2
		RETURNING id`,
		ownerID, name, string(category), time.Now().UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, matbox.ErrMaterialNotFound
		}
		return uuid.Nil, r.handlePostgresError("set category", err)
	}
	return id, nil
}

// Helper methods

func (r *Repository) queryMaterials(ctx context.Context, operation, query string, args ...interface{}) ([]*matbox.Material, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	defer rows.Close()

	materials := []*matbox.Material{}
	for rows.Next() {
		material, err := scanMaterial(rows)
		if err != nil {
			return nil, r.handlePostgresError(operation, err)
		}
		materials = append(materials, material)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(operation, err)
	}

	if err := r.loadVersions(ctx, materials); err != nil {
		return nil, err
	}
	return materials, nil
}

// loadVersions fills the Versions of each material with one query
func (r *Repository) loadVersions(ctx context.Context, materials []*matbox.Material) error {
	if len(materials) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*matbox.Material, len(materials))
	ids := make([]string, 0, len(materials))
	for _, m := range materials {
		byID[m.ID] = m
		ids = append(ids, m.ID.String())
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, material_id, version_number, content_hash, size_bytes, created_at
		FROM material_versions WHERE material_id = ANY($1::uuid[])
		ORDER BY material_id, version_number`, ids)
	if err != nil {
		return r.handlePostgresError("load versions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v matbox.Version
		if err := rows.Scan(&v.ID, &v.MaterialID, &v.VersionNumber, &v.ContentHash, &v.SizeBytes, &v.CreatedAt); err != nil {
			return r.handlePostgresError("load versions", err)
		}
		if m, ok := byID[v.MaterialID]; ok {
			m.Versions = append(m.Versions, &v)
		}
	}
	if err := rows.Err(); err != nil {
		return r.handlePostgresError("load versions", err)
	}
	return nil
}

func scanMaterial(row pgx.Row) (*matbox.Material, error) {
	var (
		m        matbox.Material
		category string
	)
	if err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &category, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Category = matbox.Category(category)
	return &m, nil
}

var _ matbox.Repository = (*Repository)(nil)
