package repository

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db/dbtest"
	"codejudge/internal/judge/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

type submissionRow struct {
	id, language, code, status string
	user, problem              int64
	contest                    sql.NullInt64
	sourceKey                  sql.NullString
	total, passed              int
	runtime                    float64
	memory                     int64
	errorMessage, stallReason  sql.NullString
	created, updated           time.Time
}

// newSubmissionTable wires a fake database that behaves like the submissions table.
func newSubmissionTable() (*dbtest.Fake, map[string]*submissionRow) {
	table := make(map[string]*submissionRow)
	fake := dbtest.New()

	fake.OnExec(insertSubmissionSQL, func(args []interface{}) (int64, error) {
		id := args[0].(string)
		if _, ok := table[id]; ok {
			return 0, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'PRIMARY'"}
		}
		table[id] = &submissionRow{
			id:        id,
			user:      args[1].(int64),
			problem:   args[2].(int64),
			contest:   args[3].(sql.NullInt64),
			language:  args[4].(string),
			code:      args[5].(string),
			sourceKey: args[6].(sql.NullString),
			status:    "pending",
			total:     args[7].(int),
			created:   args[8].(time.Time),
			updated:   args[9].(time.Time),
		}
		return 1, nil
	})

	fake.OnExec(finalizeSubmissionSQL, func(args []interface{}) (int64, error) {
		row, ok := table[args[6].(string)]
		if !ok || row.status != "pending" || row.total < args[7].(int) {
			return 0, nil
		}
		row.status = args[0].(string)
		row.passed = args[1].(int)
		row.runtime = args[2].(float64)
		row.memory = args[3].(int64)
		row.errorMessage = args[4].(sql.NullString)
		row.stallReason = sql.NullString{}
		row.updated = args[5].(time.Time)
		return 1, nil
	})

	fake.OnExec(stallSubmissionSQL, func(args []interface{}) (int64, error) {
		row, ok := table[args[2].(string)]
		if !ok || row.status != "pending" {
			return 0, nil
		}
		row.stallReason = sql.NullString{String: args[0].(string), Valid: true}
		row.updated = args[1].(time.Time)
		return 1, nil
	})

	fake.OnQueryRow(selectSubmissionSQL, func(args []interface{}) ([]interface{}, error) {
		row, ok := table[args[0].(string)]
		if !ok {
			return nil, sql.ErrNoRows
		}
		return row.values(), nil
	})
	return fake, table
}

func (row *submissionRow) values() []interface{} {
	return []interface{}{
		row.id, row.user, row.problem, nullable(row.contest.Valid, row.contest.Int64),
		row.language, row.code, nullable(row.sourceKey.Valid, row.sourceKey.String),
		row.status, row.total, row.passed, row.runtime, row.memory,
		nullable(row.errorMessage.Valid, row.errorMessage.String),
		nullable(row.stallReason.Valid, row.stallReason.String),
		row.created, row.updated,
	}
}

func nullable(valid bool, v interface{}) interface{} {
	if !valid {
		return nil
	}
	return v
}

func newTestRepository(t *testing.T, withCache bool) (*MySQLSubmissionRepository, *dbtest.Fake, map[string]*submissionRow) {
	t.Helper()
	fake, table := newSubmissionTable()
	var c cache.Cache
	if withCache {
		mr := miniredis.RunT(t)
		rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		if err != nil {
			t.Fatalf("new cache: %v", err)
		}
		t.Cleanup(func() { _ = rc.Close() })
		c = rc
	}
	repo := NewSubmissionRepository(fake, c)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return repo, fake, table
}

func pendingSubmission(id string, total int) *Submission {
	return &Submission{
		SubmissionID:   id,
		UserID:         7,
		ProblemID:      42,
		Language:       "c++",
		SourceCode:     "int main(){}",
		TestCasesTotal: total,
	}
}

func strPtr(s string) *string { return &s }

func TestCreatePending(t *testing.T) {
	repo, _, table := newTestRepository(t, false)
	ctx := context.Background()

	sub := pendingSubmission("s-1", 3)
	if err := repo.CreatePending(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Status != model.SubmissionPending || sub.CreatedAt.IsZero() {
		t.Fatalf("record not marked pending: %+v", sub)
	}

	got, err := repo.GetByID(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.SubmissionPending || got.TestCasesTotal != 3 || got.TestCasesPassed != 0 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.ErrorMessage != nil || got.ContestID != 0 {
		t.Fatalf("pending record should carry no error or contest: %+v", got)
	}
	if table["s-1"].contest.Valid {
		t.Fatalf("contest id should be stored as NULL")
	}
}

func TestCreatePendingDuplicate(t *testing.T) {
	repo, _, _ := newTestRepository(t, false)
	ctx := context.Background()

	if err := repo.CreatePending(ctx, pendingSubmission("s-dup", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreatePending(ctx, pendingSubmission("s-dup", 1)); !errors.Is(err, ErrSubmissionExists) {
		t.Fatalf("expected ErrSubmissionExists, got %v", err)
	}
}

func TestCreatePendingValidation(t *testing.T) {
	repo, fake, _ := newTestRepository(t, false)
	ctx := context.Background()

	cases := map[string]*Submission{
		"nil":        nil,
		"no id":      {UserID: 1, ProblemID: 1, Language: "java"},
		"no user":    {SubmissionID: "x", ProblemID: 1, Language: "java"},
		"no problem": {SubmissionID: "x", UserID: 1, Language: "java"},
		"no lang":    {SubmissionID: "x", UserID: 1, ProblemID: 1},
	}
	for name, sub := range cases {
		t.Run(name, func(t *testing.T) {
			if err := repo.CreatePending(ctx, sub); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if n := fake.CountCalls(insertSubmissionSQL); n != 0 {
		t.Fatalf("invalid submissions reached the database %d times", n)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	repo, _, _ := newTestRepository(t, false)
	ctx := context.Background()
	if err := repo.CreatePending(ctx, pendingSubmission("s-2", 3)); err != nil {
		t.Fatalf("create: %v", err)
	}

	outcome := model.Outcome{
		Status:       model.SubmissionWrong,
		PassedCount:  2,
		TotalRuntime: 0.15,
		PeakMemory:   2048,
		ErrorMessage: strPtr("boom"),
	}
	if err := repo.Finalize(ctx, "s-2", outcome); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	first, err := repo.GetByID(ctx, "s-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := repo.Finalize(ctx, "s-2", outcome); err != nil {
		t.Fatalf("repeated finalize should be a no-op: %v", err)
	}
	second, err := repo.GetByID(ctx, "s-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("record changed on repeated finalize:\n%+v\n%+v", first, second)
	}
	if second.Status != model.SubmissionWrong || second.TestCasesPassed != 2 || *second.ErrorMessage != "boom" {
		t.Fatalf("unexpected final record: %+v", second)
	}
}

func TestFinalizeRejectsDifferentOutcome(t *testing.T) {
	repo, _, _ := newTestRepository(t, false)
	ctx := context.Background()
	if err := repo.CreatePending(ctx, pendingSubmission("s-3", 2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Finalize(ctx, "s-3", model.Outcome{Status: model.SubmissionAccepted, PassedCount: 2, TotalRuntime: 0.2}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	err := repo.Finalize(ctx, "s-3", model.Outcome{Status: model.SubmissionWrong, PassedCount: 1})
	if !errors.Is(err, ErrSubmissionFinalized) {
		t.Fatalf("expected ErrSubmissionFinalized, got %v", err)
	}
	got, _ := repo.GetByID(ctx, "s-3")
	if got.Status != model.SubmissionAccepted {
		t.Fatalf("terminal record was overwritten: %+v", got)
	}
}

func TestFinalizeInvalidOutcome(t *testing.T) {
	repo, fake, _ := newTestRepository(t, false)
	ctx := context.Background()
	if err := repo.CreatePending(ctx, pendingSubmission("s-4", 2)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Finalize(ctx, "s-4", model.Outcome{Status: model.SubmissionPending}); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("pending outcome: got %v", err)
	}
	if fake.CountCalls(finalizeSubmissionSQL) != 0 {
		t.Fatalf("non-terminal outcome reached the database")
	}

	err := repo.Finalize(ctx, "s-4", model.Outcome{Status: model.SubmissionAccepted, PassedCount: 5})
	if !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("passed count above total: got %v", err)
	}

	if err := repo.Finalize(ctx, "missing", model.Outcome{Status: model.SubmissionAccepted}); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("missing record: got %v", err)
	}
}

func TestMarkStalled(t *testing.T) {
	repo, _, _ := newTestRepository(t, false)
	ctx := context.Background()
	if err := repo.CreatePending(ctx, pendingSubmission("s-5", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.MarkStalled(ctx, "s-5", "judging timed out"); err != nil {
		t.Fatalf("mark stalled: %v", err)
	}
	got, _ := repo.GetByID(ctx, "s-5")
	if got.Status != model.SubmissionPending || got.StallReason != "judging timed out" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// A late finalize still succeeds and clears the diagnostic.
	if err := repo.Finalize(ctx, "s-5", model.Outcome{Status: model.SubmissionAccepted, PassedCount: 1}); err != nil {
		t.Fatalf("finalize after stall: %v", err)
	}
	got, _ = repo.GetByID(ctx, "s-5")
	if got.Status != model.SubmissionAccepted || got.StallReason != "" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := repo.MarkStalled(ctx, "s-5", "late"); err != nil {
		t.Fatalf("mark stalled on terminal record: %v", err)
	}
	got, _ = repo.GetByID(ctx, "s-5")
	if got.StallReason != "" {
		t.Fatalf("terminal record should not be annotated: %+v", got)
	}
}

func TestMarkStalledFitsColumn(t *testing.T) {
	repo, _, table := newTestRepository(t, false)
	ctx := context.Background()
	if err := repo.CreatePending(ctx, pendingSubmission("s-long", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	reason := "batch submit failed: executor returned HTTP 502: x" + strings.Repeat("é", 400) + "\xff"
	if err := repo.MarkStalled(ctx, "s-long", reason); err != nil {
		t.Fatalf("mark stalled: %v", err)
	}
	stored := table["s-long"].stallReason.String
	if !utf8.ValidString(stored) {
		t.Fatalf("stored reason is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(stored); n != maxStallReasonRunes {
		t.Fatalf("stored reason has %d runes, want %d", n, maxStallReasonRunes)
	}
	if !strings.HasPrefix(stored, "batch submit failed") {
		t.Fatalf("reason lost its prefix: %q", stored[:32])
	}
}

func TestFinalizeCapsErrorMessage(t *testing.T) {
	repo, _, table := newTestRepository(t, false)
	ctx := context.Background()
	if err := repo.CreatePending(ctx, pendingSubmission("s-big", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	outcome := model.Outcome{Status: model.SubmissionWrong, ErrorMessage: strPtr(strings.Repeat("e", 70000))}
	if err := repo.Finalize(ctx, "s-big", outcome); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	row := table["s-big"]
	if row.status != string(model.SubmissionWrong) {
		t.Fatalf("record not finalized: %+v", row)
	}
	if n := len(row.errorMessage.String); n != model.MaxErrorMessageRunes {
		t.Fatalf("stored error message is %d bytes, want %d", n, model.MaxErrorMessageRunes)
	}
	if err := repo.Finalize(ctx, "s-big", outcome); err != nil {
		t.Fatalf("repeating the same outcome should be a no-op: %v", err)
	}
}

func TestGetByIDCachesOnlyTerminalRecords(t *testing.T) {
	repo, fake, _ := newTestRepository(t, true)
	ctx := context.Background()
	if err := repo.CreatePending(ctx, pendingSubmission("s-6", 2)); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := repo.GetByID(ctx, "s-6"); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if n := fake.CountCalls(selectSubmissionSQL); n != 3 {
		t.Fatalf("pending record should be read from the database each time, got %d reads", n)
	}

	if err := repo.Finalize(ctx, "s-6", model.Outcome{Status: model.SubmissionAccepted, PassedCount: 2}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	before := fake.CountCalls(selectSubmissionSQL)
	for i := 0; i < 3; i++ {
		got, err := repo.GetByID(ctx, "s-6")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.SubmissionAccepted {
			t.Fatalf("stale record served: %+v", got)
		}
	}
	if n := fake.CountCalls(selectSubmissionSQL) - before; n != 1 {
		t.Fatalf("expected one database read for the terminal record, got %d", n)
	}

	for i := 0; i < 2; i++ {
		if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, ErrSubmissionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
}

// A read that loaded the pending row before Finalize must not leave it cached.
func TestGetByIDRacingFinalize(t *testing.T) {
	repo, fake, table := newTestRepository(t, true)
	ctx := context.Background()
	if err := repo.CreatePending(ctx, pendingSubmission("s-7", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	raced := false
	fake.OnQueryRow(selectSubmissionSQL, func(args []interface{}) ([]interface{}, error) {
		row := table[args[0].(string)]
		snapshot := row.values()
		if !raced {
			// Finalize commits and drops the cache key after the reader's load.
			raced = true
			row.status = string(model.SubmissionAccepted)
			row.passed = 1
			_ = repo.cache.Del(ctx, submissionCacheKey(row.id))
		}
		return snapshot, nil
	})

	got, err := repo.GetByID(ctx, "s-7")
	if err != nil || got.Status != model.SubmissionPending {
		t.Fatalf("racing read = %+v, %v", got, err)
	}
	got, err = repo.GetByID(ctx, "s-7")
	if err != nil || got.Status != model.SubmissionAccepted {
		t.Fatalf("read after finalize served a stale record: %+v, %v", got, err)
	}
}
