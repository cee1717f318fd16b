package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// EmbeddingRepository provides PostgreSQL-backed face embedding storage.
// Vectors are kept as little-endian float32 bytes and mirrored into a pgvector column.
type EmbeddingRepository struct {
	pool *Pool
	dim  int
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository with a fixed dimension.
func NewEmbeddingRepository(pool *Pool, dim int) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool, dim: dim}
}

// Dimension returns the fixed vector dimension of the store.
func (r *EmbeddingRepository) Dimension() int {
	return r.dim
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertEmbeddingSQL = `
	INSERT INTO embeddings (identity_id, vector_bytes, embedding, dimension, quality, source)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

func (r *EmbeddingRepository) insert(ctx context.Context, q execer, identityID int64, vector []float32, quality float64, source string) (int64, error) {
	vec, clipped, err := database.PrepareEmbedding(r.dim, vector, quality)
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRowContext(ctx, insertEmbeddingSQL,
		identityID, database.EncodeVector(vec), pgvector.NewVector(vec), len(vec), clipped, source,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert embedding: %w", err)
	}
	return id, nil
}

// Add stores one embedding.
func (r *EmbeddingRepository) Add(ctx context.Context, identityID int64, vector []float32, quality float64, source string) (int64, error) {
	id, err := r.insert(ctx, r.pool.DB(), identityID, vector, quality, source)
	if err != nil {
		return 0, database.Transient("add embedding", err)
	}
	return id, nil
}

// RemoveAll deletes every embedding of an identity.
func (r *EmbeddingRepository) RemoveAll(ctx context.Context, identityID int64) (int64, error) {
	res, err := r.pool.Exec(ctx, "DELETE FROM embeddings WHERE identity_id = $1", identityID)
	if err != nil {
		return 0, database.Transient("delete embeddings", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.Transient("delete embeddings", err)
	}
	return n, nil
}

// ReplaceAll deletes and re-inserts an identity's embeddings inside one transaction.
func (r *EmbeddingRepository) ReplaceAll(ctx context.Context, identityID int64, embeddings []database.NewEmbedding) ([]int64, error) {
	for i, e := range embeddings {
		if _, _, err := database.PrepareEmbedding(r.dim, e.Vector, e.Quality); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, database.Transient("replace embeddings", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE identity_id = $1", identityID); err != nil {
		return nil, database.Transient("delete existing embeddings", err)
	}

	ids := make([]int64, 0, len(embeddings))
	for _, e := range embeddings {
		id, err := r.insert(ctx, tx, identityID, e.Vector, e.Quality, e.Source)
		if err != nil {
			return nil, database.Transient("replace embeddings", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, database.Transient("commit embeddings", err)
	}
	return ids, nil
}

const embeddingColumns = `id, identity_id, vector_bytes, dimension, quality, source, created_at`

// EmbeddingsFor returns all embeddings of one identity.
func (r *EmbeddingRepository) EmbeddingsFor(ctx context.Context, identityID int64) ([]database.EmbeddingRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+embeddingColumns+` FROM embeddings WHERE identity_id = $1 ORDER BY id`, identityID)
	if err != nil {
		return nil, database.Transient("query embeddings", err)
	}
	defer rows.Close()
	return scanEmbeddings(rows)
}

// AllGroupedByIdentity returns every embedding keyed by identity.
func (r *EmbeddingRepository) AllGroupedByIdentity(ctx context.Context) (map[int64][]database.EmbeddingRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+embeddingColumns+` FROM embeddings ORDER BY identity_id, id`)
	if err != nil {
		return nil, database.Transient("query embeddings", err)
	}
	defer rows.Close()

	records, err := scanEmbeddings(rows)
	if err != nil {
		return nil, err
	}
	grouped := make(map[int64][]database.EmbeddingRecord)
	for _, rec := range records {
		grouped[rec.IdentityID] = append(grouped[rec.IdentityID], rec)
	}
	return grouped, nil
}

// CountFor returns the number of embeddings of one identity.
func (r *EmbeddingRepository) CountFor(ctx context.Context, identityID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM embeddings WHERE identity_id = $1", identityID).Scan(&count)
	if err != nil {
		return 0, database.Transient("count embeddings", err)
	}
	return count, nil
}

// Stats summarizes the embedding table.
func (r *EmbeddingRepository) Stats(ctx context.Context) (database.EmbeddingStats, error) {
	var stats database.EmbeddingStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT identity_id), COALESCE(AVG(quality), 0)
		FROM embeddings`).Scan(&stats.TotalEmbeddings, &stats.Identities, &stats.AverageQuality)
	if err != nil {
		return stats, database.Transient("embedding stats", err)
	}
	return stats, nil
}

// NearestIdentities returns identities owning the embeddings closest to query by cosine distance,
// computed inside PostgreSQL with pgvector.
func (r *EmbeddingRepository) NearestIdentities(ctx context.Context, query []float32, k int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity_id
		FROM (
			SELECT identity_id, MIN(embedding <=> $1) AS distance
			FROM embeddings
			WHERE dimension = $2
			GROUP BY identity_id
		) nearest
		ORDER BY distance
		LIMIT $3`, pgvector.NewVector(query), len(query), k)
	if err != nil {
		return nil, database.Transient("nearest identities", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Transient("iterate nearest identities", err)
	}
	return ids, nil
}

func scanEmbeddings(rows *sql.Rows) ([]database.EmbeddingRecord, error) {
	var out []database.EmbeddingRecord
	for rows.Next() {
		var (
			rec       database.EmbeddingRecord
			raw       []byte
			createdAt time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &raw, &rec.Dimension, &rec.Quality, &rec.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := database.DecodeVector(raw)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %d: %w", rec.ID, err)
		}
		rec.Vector = vec
		rec.CreatedAt = createdAt
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Transient("iterate embeddings", err)
	}
	return out, nil
}
