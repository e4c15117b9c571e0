package preference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

type mockPrefRepo struct {
	findFn   func(ctx context.Context, userID string) (*model.UserPreference, error)
	upsertFn func(ctx context.Context, pref *model.UserPreference) error
}

func (m *mockPrefRepo) Find(ctx context.Context, userID string) (*model.UserPreference, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockPrefRepo) Upsert(ctx context.Context, pref *model.UserPreference) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, pref)
	}
	return nil
}

type concursoFinder struct {
	repository.ConcursoRepository
}

func (concursoFinder) FindByID(_ context.Context, id string) (*model.Concurso, error) {
	if id == "c-1" {
		return &model.Concurso{ID: id}, nil
	}
	return nil, nil
}

func TestService_Get_DefaultsWhenMissing(t *testing.T) {
	svc := NewService(&mockPrefRepo{}, concursoFinder{})
	pref, err := svc.Get(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if pref.UserID != "u-1" || pref.SelectedConcursoID != "" {
		t.Errorf("pref = %+v", pref)
	}
}

func TestService_SelectConcurso(t *testing.T) {
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	var saved *model.UserPreference
	svc := NewService(&mockPrefRepo{
		upsertFn: func(_ context.Context, pref *model.UserPreference) error {
			saved = pref
			return nil
		},
	}, concursoFinder{})
	svc.now = func() time.Time { return fixed }

	pref, err := svc.SelectConcurso(context.Background(), "u-1", " c-1 ")
	if err != nil {
		t.Fatalf("SelectConcurso() error = %v", err)
	}
	if saved == nil || saved.SelectedConcursoID != "c-1" {
		t.Fatalf("saved = %+v", saved)
	}
	if !pref.UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt = %v, want %v", pref.UpdatedAt, fixed)
	}
}

func TestService_SelectConcurso_Clear(t *testing.T) {
	called := false
	svc := NewService(&mockPrefRepo{
		upsertFn: func(_ context.Context, pref *model.UserPreference) error {
			called = true
			if pref.SelectedConcursoID != "" {
				t.Errorf("SelectedConcursoID = %q, want empty", pref.SelectedConcursoID)
			}
			return nil
		},
	}, concursoFinder{})

	if _, err := svc.SelectConcurso(context.Background(), "u-1", ""); err != nil {
		t.Fatalf("SelectConcurso() error = %v", err)
	}
	if !called {
		t.Error("expected upsert")
	}
}

func TestService_SelectConcurso_UnknownConcurso(t *testing.T) {
	svc := NewService(&mockPrefRepo{
		upsertFn: func(context.Context, *model.UserPreference) error {
			t.Fatal("upsert must not be called")
			return nil
		},
	}, concursoFinder{})

	_, err := svc.SelectConcurso(context.Background(), "u-1", "c-x")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeConcursoNotFound {
		t.Fatalf("error = %v, want %s", err, model.ErrCodeConcursoNotFound)
	}
}

func TestService_SelectConcurso_RepositoryError(t *testing.T) {
	svc := NewService(&mockPrefRepo{
		upsertFn: func(context.Context, *model.UserPreference) error { return errors.New("db down") },
	}, concursoFinder{})

	if _, err := svc.SelectConcurso(context.Background(), "u-1", "c-1"); err == nil {
		t.Fatal("expected error")
	}
}
