package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"linkcheck/internal/models"
	"linkcheck/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTarget(id, canonical, host string, created time.Time) *models.Target {
	return &models.Target{ID: id, URL: canonical, CanonicalURL: canonical, Host: host, CreatedAt: created}
}

func TestCreateTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	created, err := s.CreateTarget(ctx, newTarget("t_1", "https://example.com/a", "example.com", now), nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != "t_1" {
		t.Errorf("expected t_1, got %s", created.ID)
	}

	t.Run("duplicate canonical URL", func(t *testing.T) {
		got, err := s.CreateTarget(ctx, newTarget("t_2", "https://example.com/a", "example.com", now), nil)
		if !errors.Is(err, storage.ErrDuplicateKey) {
			t.Fatalf("expected ErrDuplicateKey, got %v", err)
		}
		if got.ID != "t_1" {
			t.Errorf("expected existing target t_1, got %s", got.ID)
		}
	})

	t.Run("idempotency key replay", func(t *testing.T) {
		key := "key-1"
		first, err := s.CreateTarget(ctx, newTarget("t_3", "https://example.com/b", "example.com", now), &key)
		if err != nil {
			t.Fatal(err)
		}
		second, err := s.CreateTarget(ctx, newTarget("t_4", "https://example.com/c", "example.com", now), &key)
		if err != nil {
			t.Fatal(err)
		}
		if first.ID != second.ID {
			t.Errorf("replayed key returned %s, want %s", second.ID, first.ID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := s.GetTargetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListTargetsPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	hosts := []string{"a.test", "b.test", "a.test", "a.test"}
	for i, h := range hosts {
		id := string(rune('a'+i)) + "_target"
		url := "https://" + h + "/" + id
		if _, err := s.CreateTarget(ctx, newTarget(id, url, h, base.Add(time.Duration(i)*time.Second)), nil); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.ListTargets(ctx, storage.ListTargetsParams{Host: "a.test", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "a_target" || page[1].ID != "c_target" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	last := page[len(page)-1]
	page, err = s.ListTargets(ctx, storage.ListTargetsParams{Host: "a.test", AfterTime: last.CreatedAt, AfterID: last.ID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "d_target" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	all, err := s.GetAllTargets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(hosts) {
		t.Errorf("expected %d targets, got %d", len(hosts), len(all))
	}
}

func TestCheckResults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.CreateTarget(ctx, newTarget("t_1", "https://example.com/", "example.com", base), nil); err != nil {
		t.Fatal(err)
	}

	code := 200
	effective := "https://example.com/new"
	errMsg := "dial tcp: connection refused"
	results := []models.CheckResult{
		{TargetID: "t_1", CheckedAt: base.Add(1 * time.Minute), StatusCode: &code, Verdict: "valid", Message: "200 OK",
			Warnings: []string{"Effective URL " + effective}, EffectiveURL: &effective},
		{TargetID: "t_1", CheckedAt: base.Add(2 * time.Minute), Error: &errMsg, Verdict: "invalid", Message: errMsg},
	}
	for i := range results {
		if err := s.CreateCheckResult(ctx, &results[i]); err != nil {
			t.Fatal(err)
		}
		if results[i].ID == "" {
			t.Error("expected an ID to be assigned")
		}
	}

	got, err := s.ListCheckResultsByTargetID(ctx, storage.ListCheckResultsParams{TargetID: "t_1", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Verdict != "invalid" || got[0].StatusCode != nil || got[0].Error == nil {
		t.Errorf("newest result not first or fields lost: %+v", got[0])
	}
	if len(got[0].Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", got[0].Warnings)
	}
	if got[1].EffectiveURL == nil || *got[1].EffectiveURL != effective {
		t.Errorf("effective URL lost: %+v", got[1])
	}
	if len(got[1].Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", got[1].Warnings)
	}

	since := base.Add(90 * time.Second)
	got, err = s.ListCheckResultsByTargetID(ctx, storage.ListCheckResultsParams{TargetID: "t_1", Since: &since, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Verdict != "invalid" {
		t.Errorf("since filter returned %+v", got)
	}
}
