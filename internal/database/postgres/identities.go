package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// IdentityRepository provides PostgreSQL-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `id, name, COALESCE(external_ref, ''), active, created_at, updated_at`

// CreateIdentity stores a new active identity.
func (r *IdentityRepository) CreateIdentity(ctx context.Context, name, externalRef string) (*database.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &database.ValidationError{Field: "name", Err: database.ErrInvalidValue}
	}

	var ref sql.NullString
	if s := strings.TrimSpace(externalRef); s != "" {
		ref = sql.NullString{String: s, Valid: true}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO identities (name, external_ref)
		VALUES ($1, $2)
		RETURNING `+identityColumns, name, ref)

	id, err := scanIdentity(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &database.ValidationError{Field: "external_ref", Err: database.ErrDuplicateRef}
		}
		return nil, database.Transient("insert identity", err)
	}
	return id, nil
}

// GetIdentity retrieves an identity by ID, nil if not found.
func (r *IdentityRepository) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	got, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Transient("get identity", err)
	}
	return got, nil
}

// GetIdentityByRef retrieves an identity by external reference, nil if not found.
func (r *IdentityRepository) GetIdentityByRef(ctx context.Context, externalRef string) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE external_ref = $1`, strings.TrimSpace(externalRef))
	got, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Transient("get identity by ref", err)
	}
	return got, nil
}

// ListIdentities returns identities ordered by name.
func (r *IdentityRepository) ListIdentities(ctx context.Context, activeOnly bool) ([]database.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE active OR NOT $1
		ORDER BY name, id`, activeOnly)
	if err != nil {
		return nil, database.Transient("query identities", err)
	}
	defer rows.Close()

	var out []database.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, *id)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Transient("iterate identities", err)
	}
	return out, nil
}

// SetActive toggles the active flag.
func (r *IdentityRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.pool.Exec(ctx, `UPDATE identities SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return database.Transient("update identity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.Transient("update identity", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*database.Identity, error) {
	var id database.Identity
	if err := row.Scan(&id.ID, &id.Name, &id.ExternalRef, &id.Active, &id.CreatedAt, &id.UpdatedAt); err != nil {
		return nil, err
	}
	return &id, nil
}
