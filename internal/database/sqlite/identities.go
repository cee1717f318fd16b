package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// CreateIdentity stores a new active identity.
func (s *Store) CreateIdentity(ctx context.Context, name, externalRef string) (*database.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &database.ValidationError{Field: "name", Err: database.ErrInvalidValue}
	}

	row := identityRow{Name: name, Active: true}
	if ref := strings.TrimSpace(externalRef); ref != "" {
		row.ExternalRef = &ref
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return nil, &database.ValidationError{Field: "external_ref", Err: database.ErrDuplicateRef}
		}
		return nil, database.Transient("create identity", err)
	}

	id := row.toIdentity()
	return &id, nil
}

// GetIdentity retrieves an identity by ID, nil if not found.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	return s.firstIdentity(ctx, "id = ?", id)
}

// GetIdentityByRef retrieves an identity by external reference, nil if not found.
func (s *Store) GetIdentityByRef(ctx context.Context, externalRef string) (*database.Identity, error) {
	return s.firstIdentity(ctx, "external_ref = ?", strings.TrimSpace(externalRef))
}

func (s *Store) firstIdentity(ctx context.Context, query string, arg any) (*database.Identity, error) {
	var row identityRow
	err := s.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Transient("get identity", err)
	}
	id := row.toIdentity()
	return &id, nil
}

// ListIdentities returns identities ordered by name.
func (s *Store) ListIdentities(ctx context.Context, activeOnly bool) ([]database.Identity, error) {
	q := s.db.WithContext(ctx).Order("name, id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var rows []identityRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, database.Transient("list identities", err)
	}
	out := make([]database.Identity, len(rows))
	for i, r := range rows {
		out[i] = r.toIdentity()
	}
	return out, nil
}

// SetActive toggles the active flag.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res := s.db.WithContext(ctx).Model(&identityRow{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return database.Transient("set identity active", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	return nil
}
