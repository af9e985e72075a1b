package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	"codejudge/pkg/utils/strutil"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = time.Minute
	submissionCacheKeyPrefix       = "submission:"

	// Column width of submissions.stall_reason, in characters.
	maxStallReasonRunes = 255
)

var (
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrSubmissionFinalized = errors.New("submission already finalized with a different outcome")
	ErrInvalidOutcome      = errors.New("outcome is not valid for submission")
	ErrSubmissionExists    = errors.New("submission already exists")
)

// Submission is the durable ledger record of one judged submission.
type Submission struct {
	SubmissionID    string                 `json:"submission_id"`
	UserID          int64                  `json:"user_id"`
	ProblemID       int64                  `json:"problem_id"`
	ContestID       int64                  `json:"contest_id,omitempty"` // 0 when not a contest submission
	Language        string                 `json:"language"`
	SourceCode      string                 `json:"source_code"`
	SourceKey       string                 `json:"source_key,omitempty"`
	Status          model.SubmissionStatus `json:"status"`
	TestCasesTotal  int                    `json:"test_cases_total"`
	TestCasesPassed int                    `json:"test_cases_passed"`
	Runtime         float64                `json:"runtime"`
	Memory          int64                  `json:"memory"`
	ErrorMessage    *string                `json:"error_message"`
	// StallReason records why a pending submission stopped progressing.
	StallReason string    `json:"stall_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Outcome returns the aggregate fields of a finalized record.
func (s *Submission) Outcome() model.Outcome {
	return model.Outcome{
		Status:       s.Status,
		PassedCount:  s.TestCasesPassed,
		TotalRuntime: s.Runtime,
		PeakMemory:   s.Memory,
		ErrorMessage: s.ErrorMessage,
	}
}

// SubmissionRepository is the submission ledger.
type SubmissionRepository interface {
	// CreatePending inserts a pending record; it must be durable before judging starts.
	CreatePending(ctx context.Context, submission *Submission) error
	// Finalize moves a pending record to its terminal outcome exactly once.
	// Repeating the same outcome is a no-op; a different outcome returns ErrSubmissionFinalized.
	Finalize(ctx context.Context, submissionID string, outcome model.Outcome) error
	// MarkStalled records a diagnostic on a pending record without changing its status.
	MarkStalled(ctx context.Context, submissionID, reason string) error
	GetByID(ctx context.Context, submissionID string) (*Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
	now      func() time.Time
}

// NewSubmissionRepository creates a submission repository with defaults. cacheClient may be nil.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) *MySQLSubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

const (
	submissionColumns = "submission_id, user_id, problem_id, contest_id, language, source_code, source_key, status, " +
		"test_cases_total, test_cases_passed, runtime, memory, error_message, stall_reason, created_at, updated_at"

	insertSubmissionSQL = "INSERT INTO submissions (submission_id, user_id, problem_id, contest_id, language, source_code, source_key, " +
		"status, test_cases_total, test_cases_passed, runtime, memory, created_at, updated_at) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, 0, 0, 0, ?, ?)"

	finalizeSubmissionSQL = "UPDATE submissions SET status = ?, test_cases_passed = ?, runtime = ?, memory = ?, " +
		"error_message = ?, stall_reason = NULL, updated_at = ? " +
		"WHERE submission_id = ? AND status = 'pending' AND test_cases_total >= ?"

	stallSubmissionSQL = "UPDATE submissions SET stall_reason = ?, updated_at = ? WHERE submission_id = ? AND status = 'pending'"

	selectSubmissionSQL = "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
)

// CreatePending inserts the record with status pending and zeroed aggregates.
func (r *MySQLSubmissionRepository) CreatePending(ctx context.Context, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.Language == "" {
		return errors.New("language is required")
	}
	if submission.TestCasesTotal < 0 {
		return errors.New("testCasesTotal must not be negative")
	}

	now := r.now()
	_, err := r.db.Exec(ctx, insertSubmissionSQL,
		submission.SubmissionID,
		submission.UserID,
		submission.ProblemID,
		nullInt64(submission.ContestID),
		submission.Language,
		submission.SourceCode,
		nullString(submission.SourceKey),
		submission.TestCasesTotal,
		now,
		now,
	)
	if err != nil {
		if db.IsDuplicate(err) {
			return ErrSubmissionExists
		}
		return err
	}
	submission.Status = model.SubmissionPending
	submission.TestCasesPassed = 0
	submission.Runtime = 0
	submission.Memory = 0
	submission.ErrorMessage = nil
	submission.CreatedAt = now
	submission.UpdatedAt = now
	r.dropCache(ctx, submission.SubmissionID)
	return nil
}

// Finalize applies outcome in a single guarded update.
func (r *MySQLSubmissionRepository) Finalize(ctx context.Context, submissionID string, outcome model.Outcome) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}
	if !outcome.Status.IsTerminal() || outcome.PassedCount < 0 {
		return ErrInvalidOutcome
	}
	if outcome.ErrorMessage != nil {
		msg := strutil.Truncate(*outcome.ErrorMessage, model.MaxErrorMessageRunes)
		outcome.ErrorMessage = &msg
	}

	return r.write(ctx, submissionID, func(ctx context.Context) error {
		affected, err := db.ExecAffected(ctx, r.db, finalizeSubmissionSQL,
			string(outcome.Status),
			outcome.PassedCount,
			outcome.TotalRuntime,
			outcome.PeakMemory,
			nullStringPtr(outcome.ErrorMessage),
			r.now(),
			submissionID,
			outcome.PassedCount,
		)
		if err != nil {
			return err
		}
		if affected == 1 {
			return nil
		}

		current, err := r.getByIDFromDB(ctx, submissionID)
		if err != nil {
			return err
		}
		if current.Status == model.SubmissionPending {
			return ErrInvalidOutcome
		}
		if sameOutcome(current.Outcome(), outcome) {
			return nil
		}
		return ErrSubmissionFinalized
	})
}

// MarkStalled is a no-op for records that already reached a terminal state.
func (r *MySQLSubmissionRepository) MarkStalled(ctx context.Context, submissionID, reason string) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}
	return r.write(ctx, submissionID, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, stallSubmissionSQL, strutil.Truncate(reason, maxStallReasonRunes), r.now(), submissionID)
		return err
	})
}

// GetByID retrieves a submission by id. Only terminal records are cached;
// a pending record is read from the database until it is finalized.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	if r.cache == nil {
		return r.getByIDFromDB(ctx, submissionID)
	}
	return cache.ReadThroughIf(ctx, r.cache, submissionCacheKey(submissionID),
		cache.ReadPolicy{TTL: r.ttl, EmptyTTL: r.emptyTTL}, ErrSubmissionNotFound,
		func(s *Submission) bool { return s.Status.IsTerminal() },
		func(ctx context.Context) (*Submission, error) {
			return r.getByIDFromDB(ctx, submissionID)
		})
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, submissionID string) (*Submission, error) {
	row := r.db.QueryRow(ctx, selectSubmissionSQL, submissionID)
	submission := &Submission{}
	var (
		contestID    sql.NullInt64
		sourceKey    sql.NullString
		status       string
		errorMessage sql.NullString
		stallReason  sql.NullString
	)
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.UserID,
		&submission.ProblemID,
		&contestID,
		&submission.Language,
		&submission.SourceCode,
		&sourceKey,
		&status,
		&submission.TestCasesTotal,
		&submission.TestCasesPassed,
		&submission.Runtime,
		&submission.Memory,
		&errorMessage,
		&stallReason,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	submission.ContestID = contestID.Int64
	submission.SourceKey = sourceKey.String
	submission.Status = model.SubmissionStatus(status)
	if errorMessage.Valid {
		msg := errorMessage.String
		submission.ErrorMessage = &msg
	}
	submission.StallReason = stallReason.String
	return submission, nil
}

// write runs fn and invalidates the cached record on success.
func (r *MySQLSubmissionRepository) write(ctx context.Context, submissionID string, fn func(context.Context) error) error {
	if r.cache == nil {
		return fn(ctx)
	}
	return cache.UpdateCached(ctx, r.cache, submissionCacheKey(submissionID), fn)
}

func (r *MySQLSubmissionRepository) dropCache(ctx context.Context, submissionID string) {
	if r.cache != nil {
		_ = r.cache.Del(ctx, submissionCacheKey(submissionID))
	}
}

func sameOutcome(a, b model.Outcome) bool {
	if a.Status != b.Status || a.PassedCount != b.PassedCount || a.PeakMemory != b.PeakMemory {
		return false
	}
	if math.Abs(a.TotalRuntime-b.TotalRuntime) > 1e-6 {
		return false
	}
	if (a.ErrorMessage == nil) != (b.ErrorMessage == nil) {
		return false
	}
	return a.ErrorMessage == nil || *a.ErrorMessage == *b.ErrorMessage
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

var _ SubmissionRepository = (*MySQLSubmissionRepository)(nil)
