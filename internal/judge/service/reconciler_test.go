package service

import (
	"context"
	"errors"
	"testing"

	appErr "codejudge/pkg/errors"
)

type memorySolved struct {
	order  []int64
	hasErr error
}

func (m *memorySolved) HasSolved(_ context.Context, _, problemID int64) (bool, error) {
	if m.hasErr != nil {
		return false, m.hasErr
	}
	for _, id := range m.order {
		if id == problemID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memorySolved) AddSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	if ok, _ := m.HasSolved(ctx, userID, problemID); ok {
		return false, nil
	}
	m.order = append(m.order, problemID)
	return true, nil
}

func (m *memorySolved) ListSolved(context.Context, int64) ([]int64, error) {
	return m.order, nil
}

type recordedAccept struct {
	contestID, userID, problemID int64
	submissionID                 string
}

type fakeContestRecorder struct {
	calls []recordedAccept
	err   error
}

func (f *fakeContestRecorder) RecordAccepted(_ context.Context, contestID, userID, problemID int64, submissionID string) error {
	f.calls = append(f.calls, recordedAccept{contestID, userID, problemID, submissionID})
	return f.err
}

func TestReconcilerSolvedSetHasNoDuplicates(t *testing.T) {
	solved := &memorySolved{}
	r, err := NewReconciler(solved, nil)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	ctx := context.Background()

	for _, problemID := range []int64{5, 6, 5, 5} {
		if err := r.OnAccepted(ctx, 1, problemID, 0, "s"); err != nil {
			t.Fatalf("on accepted: %v", err)
		}
	}
	if len(solved.order) != 2 || solved.order[0] != 5 || solved.order[1] != 6 {
		t.Fatalf("solved = %v, want [5 6]", solved.order)
	}
}

func TestReconcilerRecordsContest(t *testing.T) {
	contests := &fakeContestRecorder{}
	r, _ := NewReconciler(&memorySolved{}, contests)

	if err := r.OnAccepted(context.Background(), 1, 5, 9, "sub-1"); err != nil {
		t.Fatalf("on accepted: %v", err)
	}
	want := recordedAccept{contestID: 9, userID: 1, problemID: 5, submissionID: "sub-1"}
	if len(contests.calls) != 1 || contests.calls[0] != want {
		t.Fatalf("contest calls = %+v", contests.calls)
	}

	if err := r.OnAccepted(context.Background(), 1, 5, 0, "sub-2"); err != nil {
		t.Fatalf("on accepted: %v", err)
	}
	if len(contests.calls) != 1 {
		t.Fatalf("practice submissions must not touch contest solutions")
	}
}

func TestReconcilerPropagatesErrors(t *testing.T) {
	r, _ := NewReconciler(&memorySolved{hasErr: errors.New("db down")}, nil)
	if err := r.OnAccepted(context.Background(), 1, 5, 0, "s"); !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}

	contests := &fakeContestRecorder{err: appErr.New(appErr.LockFailed)}
	r, _ = NewReconciler(&memorySolved{}, contests)
	if err := r.OnAccepted(context.Background(), 1, 5, 9, "s"); !appErr.Is(err, appErr.LockFailed) {
		t.Fatalf("expected LockFailed, got %v", err)
	}

	r, _ = NewReconciler(&memorySolved{}, nil)
	if err := r.OnAccepted(context.Background(), 1, 5, 9, "s"); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable without contest scoring, got %v", err)
	}
}

func TestNewReconcilerRequiresSolvedRepository(t *testing.T) {
	if _, err := NewReconciler(nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSourceArchiveLoadMissing(t *testing.T) {
	archive, err := NewSourceArchive(newMemoryStorage(), "sources", "src")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	defer archive.Close()
	if archive.Key("abc") != "src/abc/source.zst" {
		t.Fatalf("key = %s", archive.Key("abc"))
	}
	if _, err := archive.Load(context.Background(), "src/missing/source.zst"); !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSourceArchiveLoadUnavailable(t *testing.T) {
	objects := newMemoryStorage()
	objects.getErr = errors.New("connection refused")
	archive, err := NewSourceArchive(objects, "sources", "src")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	defer archive.Close()
	if _, err := archive.Load(context.Background(), "src/abc/source.zst"); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}
