package sqlite

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Dimension returns the fixed vector dimension of the store.
func (s *Store) Dimension() int {
	return s.dim
}

func (s *Store) newEmbeddingRow(identityID int64, vector []float32, quality float64, source string) (embeddingRow, error) {
	vec, q, err := database.PrepareEmbedding(s.dim, vector, quality)
	if err != nil {
		return embeddingRow{}, err
	}
	return embeddingRow{
		IdentityID:  identityID,
		VectorBytes: database.EncodeVector(vec),
		Dimension:   len(vec),
		Quality:     q,
		Source:      source,
		CreatedAt:   s.now().UTC(),
	}, nil
}

// Add stores one embedding.
func (s *Store) Add(ctx context.Context, identityID int64, vector []float32, quality float64, source string) (int64, error) {
	row, err := s.newEmbeddingRow(identityID, vector, quality, source)
	if err != nil {
		return 0, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, database.Transient("insert embedding", err)
	}
	return row.ID, nil
}

// RemoveAll deletes every embedding of an identity.
func (s *Store) RemoveAll(ctx context.Context, identityID int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("identity_id = ?", identityID).Delete(&embeddingRow{})
	if res.Error != nil {
		return 0, database.Transient("delete embeddings", res.Error)
	}
	return res.RowsAffected, nil
}

// ReplaceAll swaps an identity's embeddings inside one transaction.
// All vectors are validated before anything is deleted.
func (s *Store) ReplaceAll(ctx context.Context, identityID int64, embeddings []database.NewEmbedding) ([]int64, error) {
	rows := make([]embeddingRow, 0, len(embeddings))
	for i, e := range embeddings {
		row, err := s.newEmbeddingRow(identityID, e.Vector, e.Quality, e.Source)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", identityID).Delete(&embeddingRow{}).Error; err != nil {
			return fmt.Errorf("delete existing embeddings: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert embeddings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, database.Transient("replace embeddings", err)
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// EmbeddingsFor returns all embeddings of one identity.
func (s *Store) EmbeddingsFor(ctx context.Context, identityID int64) ([]database.EmbeddingRecord, error) {
	var rows []embeddingRow
	if err := s.db.WithContext(ctx).Where("identity_id = ?", identityID).Order("id").Find(&rows).Error; err != nil {
		return nil, database.Transient("query embeddings", err)
	}
	return toRecords(rows)
}

// AllGroupedByIdentity returns every embedding keyed by identity.
func (s *Store) AllGroupedByIdentity(ctx context.Context) (map[int64][]database.EmbeddingRecord, error) {
	var rows []embeddingRow
	if err := s.db.WithContext(ctx).Order("identity_id, id").Find(&rows).Error; err != nil {
		return nil, database.Transient("query embeddings", err)
	}
	records, err := toRecords(rows)
	if err != nil {
		return nil, err
	}
	grouped := make(map[int64][]database.EmbeddingRecord)
	for _, r := range records {
		grouped[r.IdentityID] = append(grouped[r.IdentityID], r)
	}
	return grouped, nil
}

// CountFor returns the number of embeddings of one identity.
func (s *Store) CountFor(ctx context.Context, identityID int64) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&embeddingRow{}).Where("identity_id = ?", identityID).Count(&n).Error; err != nil {
		return 0, database.Transient("count embeddings", err)
	}
	return int(n), nil
}

// Stats summarizes the embedding table.
func (s *Store) Stats(ctx context.Context) (database.EmbeddingStats, error) {
	var stats database.EmbeddingStats
	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total_embeddings,
		       COUNT(DISTINCT identity_id) AS identities,
		       COALESCE(AVG(quality), 0) AS average_quality
		FROM embeddings`).Scan(&stats).Error
	if err != nil {
		return stats, database.Transient("embedding stats", err)
	}
	return stats, nil
}

func toRecords(rows []embeddingRow) ([]database.EmbeddingRecord, error) {
	out := make([]database.EmbeddingRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, fmt.Errorf("decode embedding %d: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
