package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/contest/model"
	"codejudge/internal/contest/repository"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	solutionLockKeyPrefix = "lock:contest:solution:"
	defaultLockTTL        = 5 * time.Second
	defaultLockWait       = 50 * time.Millisecond
	defaultLockAttempts   = 40
	defaultCASAttempts    = 5
)

// Config holds contest service dependencies and settings.
type Config struct {
	Repo repository.ContestRepository
	// Cache provides the per (contest, user) lock. Optional; without it only the version check serializes writers.
	Cache cache.Cache

	LockTTL      time.Duration
	LockWait     time.Duration
	LockAttempts int
	CASAttempts  int
	DBTimeout    time.Duration
}

// ContestService gates contest submissions and maintains contest solutions.
type ContestService struct {
	repo  repository.ContestRepository
	cache cache.Cache

	lockTTL      time.Duration
	lockWait     time.Duration
	lockAttempts int
	casAttempts  int
	dbTimeout    time.Duration
	now          func() time.Time
}

// ContestView is a contest with its derived fields.
type ContestView struct {
	*model.Contest
	Status          model.ContestStatus `json:"status"`
	DurationMinutes int64               `json:"duration_minutes"`
}

func NewContestService(cfg Config) (*ContestService, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.LockAttempts <= 0 {
		cfg.LockAttempts = defaultLockAttempts
	}
	if cfg.CASAttempts <= 0 {
		cfg.CASAttempts = defaultCASAttempts
	}
	return &ContestService{
		repo:         cfg.Repo,
		cache:        cfg.Cache,
		lockTTL:      cfg.LockTTL,
		lockWait:     cfg.LockWait,
		lockAttempts: cfg.LockAttempts,
		casAttempts:  cfg.CASAttempts,
		dbTimeout:    cfg.DBTimeout,
		now:          time.Now,
	}, nil
}

// Get returns the contest with its current status.
func (s *ContestService) Get(ctx context.Context, contestID int64) (*ContestView, error) {
	contest, err := s.getContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	return &ContestView{
		Contest:         contest,
		Status:          contest.Status(s.now()),
		DurationMinutes: contest.DurationMinutes(),
	}, nil
}

// EnsureRunning rejects submissions to contests outside their window or to
// problems that are not part of the contest.
func (s *ContestService) EnsureRunning(ctx context.Context, contestID, problemID int64) error {
	contest, err := s.getContest(ctx, contestID)
	if err != nil {
		return err
	}
	if status := contest.Status(s.now()); status != model.ContestRunning {
		return appErr.New(appErr.ContestNotRunning).
			WithMessage("Contest is not running currently").
			WithDetail("status", string(status))
	}
	if !contest.HasProblem(problemID) {
		return appErr.New(appErr.ProblemNotFound).WithMessage("problem is not part of this contest")
	}
	return nil
}

// Enter creates an empty contest solution for the user.
func (s *ContestService) Enter(ctx context.Context, contestID, userID int64) (*model.ContestSolution, error) {
	if userID <= 0 {
		return nil, appErr.RequiredField("user_id")
	}
	if _, err := s.getContest(ctx, contestID); err != nil {
		return nil, err
	}

	ctxDB := withTimeout(ctx, s.dbTimeout)
	defer ctxDB.cancel()
	solution := &model.ContestSolution{ContestID: contestID, UserID: userID, Solutions: []model.Solution{}}
	if err := s.repo.CreateSolution(ctxDB.ctx, solution); err != nil {
		if errors.Is(err, repository.ErrSolutionExists) {
			return nil, appErr.New(appErr.AlreadyRegistered).WithMessage("Contest solution entry already exists for this user")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "create contest solution failed")
	}
	return solution, nil
}

// SolvedProblems returns the problems the user solved in the contest, empty if they never entered.
func (s *ContestService) SolvedProblems(ctx context.Context, contestID, userID int64) ([]int64, error) {
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "invalid")
	}
	ctxDB := withTimeout(ctx, s.dbTimeout)
	defer ctxDB.cancel()
	solution, err := s.repo.GetSolution(ctxDB.ctx, contestID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSolutionNotFound) {
			return []int64{}, nil
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest solution failed")
	}
	return solution.SolvedProblemIDs(), nil
}

// RecordAccepted upserts the accepted submission into the user's contest solution.
// Writers for the same (contest, user) are serialized by a cache lock, and every
// write is a version compare-and-swap retried on conflict.
func (s *ContestService) RecordAccepted(ctx context.Context, contestID, userID, problemID int64, submissionID string) error {
	unlock, err := s.lock(ctx, contestID, userID)
	if err != nil {
		return err
	}
	defer unlock()

	for attempt := 0; attempt < s.casAttempts; attempt++ {
		done, err := s.tryRecord(ctx, contestID, userID, problemID, submissionID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		logger.Debug(ctx, "contest solution write conflict, retrying",
			zap.Int64("contest_id", contestID),
			zap.Int64("user_id", userID),
			zap.Int("attempt", attempt+1),
		)
	}
	return appErr.New(appErr.TransactionFailed).WithMessage("contest solution kept changing concurrently")
}

// tryRecord performs one read-modify-write; done is false on a lost race.
func (s *ContestService) tryRecord(ctx context.Context, contestID, userID, problemID int64, submissionID string) (bool, error) {
	ctxDB := withTimeout(ctx, s.dbTimeout)
	defer ctxDB.cancel()

	solution, err := s.repo.GetSolution(ctxDB.ctx, contestID, userID)
	if errors.Is(err, repository.ErrSolutionNotFound) {
		solution = &model.ContestSolution{ContestID: contestID, UserID: userID}
		solution.Record(problemID, submissionID)
		err = s.repo.CreateSolution(ctxDB.ctx, solution)
		if errors.Is(err, repository.ErrSolutionExists) {
			return false, nil
		}
		if err != nil {
			return false, appErr.Wrapf(err, appErr.DatabaseError, "create contest solution failed")
		}
		return true, nil
	}
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "get contest solution failed")
	}

	if !solution.Record(problemID, submissionID) {
		return true, nil
	}
	err = s.repo.UpdateSolution(ctxDB.ctx, solution)
	if errors.Is(err, repository.ErrSolutionConflict) {
		return false, nil
	}
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "update contest solution failed")
	}
	return true, nil
}

func (s *ContestService) lock(ctx context.Context, contestID, userID int64) (func(), error) {
	if s.cache == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("%s%d:%d", solutionLockKeyPrefix, contestID, userID)

	var token string
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.lockWait), uint64(s.lockAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		t, ok, err := s.cache.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		token = t
		return nil
	}, policy)
	if err != nil {
		if errors.Is(err, errLockBusy) {
			return nil, appErr.New(appErr.LockFailed).WithMessage("contest solution is locked")
		}
		return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire contest solution lock failed")
	}

	return func() {
		if err := s.cache.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn(ctx, "release contest solution lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

var errLockBusy = errors.New("lock busy")

func (s *ContestService) getContest(ctx context.Context, contestID int64) (*model.Contest, error) {
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "invalid")
	}
	ctxDB := withTimeout(ctx, s.dbTimeout)
	defer ctxDB.cancel()
	contest, err := s.repo.GetContest(ctxDB.ctx, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, appErr.New(appErr.ContestNotFound).WithMessage("Contest not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	return contest, nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
