package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

func TestCreateAndResolve(t *testing.T) {
	changes := 0
	r := New(mock.NewMockIdentityStore(), nil, func() { changes++ })
	ctx := context.Background()

	created, err := r.Create(ctx, "  Jiří Novák ", "ADM-001")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.Name != "Jiří Novák" || !created.Active {
		t.Errorf("unexpected identity: %+v", created)
	}
	if changes != 1 {
		t.Errorf("expected change callback, got %d calls", changes)
	}

	tests := []struct {
		name string
		ref  string
	}{
		{"by id", "1"},
		{"by external ref", "ADM-001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.ref)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.ref, err)
			}
			if got.ID != created.ID {
				t.Errorf("Resolve(%q) = %d, want %d", tt.ref, got.ID, created.ID)
			}
		})
	}

	if _, err := r.Resolve(ctx, "ADM-404"); !errors.Is(err, database.ErrUnknownIdentity) {
		t.Errorf("expected ErrUnknownIdentity, got %v", err)
	}
	if _, err := r.Get(ctx, 42); !errors.Is(err, database.ErrUnknownIdentity) {
		t.Errorf("expected ErrUnknownIdentity, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	r := New(mock.NewMockIdentityStore(), nil)
	if _, err := r.Create(context.Background(), "   ", ""); !database.IsValidation(err) {
		t.Errorf("expected validation error for blank name, got %v", err)
	}
	if _, err := r.Create(context.Background(), "A", "REF"); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := r.Create(context.Background(), "B", "REF"); !errors.Is(err, database.ErrDuplicateRef) {
		t.Errorf("expected ErrDuplicateRef, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.AddIdentity(database.Identity{ID: 1, Name: "Jiří Novák", ExternalRef: "ADM-001", Active: true})
	store.AddIdentity(database.Identity{ID: 2, Name: "Anna-Marie Svobodová", ExternalRef: "ADM-002", Active: true})
	store.AddIdentity(database.Identity{ID: 3, Name: "Jiri Dvorak", ExternalRef: "ADM-003", Active: false})
	r := New(store, nil)

	tests := []struct {
		name       string
		query      string
		activeOnly bool
		want       int
	}{
		{"accent-insensitive", "jiri", false, 2},
		{"active only", "jiri", true, 1},
		{"dash as space", "anna marie", false, 1},
		{"external ref", "adm-002", false, 1},
		{"no match", "zzz", false, 0},
		{"empty query", "", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Search(context.Background(), tt.query, tt.activeOnly)
			if err != nil {
				t.Fatalf("Search error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Search(%q) returned %d identities, want %d", tt.query, len(got), tt.want)
			}
		})
	}
}

func TestSetActive(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.AddIdentity(database.Identity{ID: 1, Name: "A", Active: true})
	changes := 0
	r := New(store, nil, func() { changes++ })

	if err := r.SetActive(context.Background(), 1, false); err != nil {
		t.Fatalf("SetActive error: %v", err)
	}
	got, _ := r.Get(context.Background(), 1)
	if got.Active {
		t.Error("expected identity to be deactivated")
	}
	if changes != 1 {
		t.Errorf("expected change callback, got %d", changes)
	}
	if err := r.SetActive(context.Background(), 9, true); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
