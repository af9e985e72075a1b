package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/contest/model"
)

const (
	defaultContestTTL      = 10 * time.Minute
	defaultContestEmptyTTL = time.Minute
	contestKeyPrefix       = "contest:"
)

var (
	ErrContestNotFound  = errors.New("contest not found")
	ErrSolutionNotFound = errors.New("contest solution not found")
	ErrSolutionExists   = errors.New("contest solution already exists")
	ErrSolutionConflict = errors.New("contest solution was modified concurrently")
)

type ContestRepository interface {
	GetContest(ctx context.Context, contestID int64) (*model.Contest, error)
	GetSolution(ctx context.Context, contestID, userID int64) (*model.ContestSolution, error)
	// CreateSolution inserts a new record with version 1; ErrSolutionExists if one is present.
	CreateSolution(ctx context.Context, solution *model.ContestSolution) error
	// UpdateSolution writes solution if its stored version still equals solution.Version,
	// then bumps the version. ErrSolutionConflict otherwise.
	UpdateSolution(ctx context.Context, solution *model.ContestSolution) error
}

type MySQLContestRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
	now      func() time.Time
}

// NewContestRepository creates a contest repository. cacheClient may be nil.
func NewContestRepository(database db.Database, cacheClient cache.Cache) *MySQLContestRepository {
	return &MySQLContestRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultContestTTL,
		emptyTTL: defaultContestEmptyTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

const (
	selectContestSQL = "SELECT id, name, start_time, end_time FROM contests WHERE id = ? LIMIT 1"

	selectContestProblemsSQL = "SELECT problem_id FROM contest_problems WHERE contest_id = ? ORDER BY position ASC"

	selectSolutionSQL = "SELECT contest_id, user_id, solutions, version, created_at, updated_at " +
		"FROM contest_solutions WHERE contest_id = ? AND user_id = ? LIMIT 1"

	insertSolutionSQL = "INSERT INTO contest_solutions (contest_id, user_id, solutions, version, created_at, updated_at) " +
		"VALUES (?, ?, ?, 1, ?, ?)"

	updateSolutionSQL = "UPDATE contest_solutions SET solutions = ?, version = version + 1, updated_at = ? " +
		"WHERE contest_id = ? AND user_id = ? AND version = ?"
)

// GetContest is cache-aside; contest windows rarely change once published.
func (r *MySQLContestRepository) GetContest(ctx context.Context, contestID int64) (*model.Contest, error) {
	if contestID <= 0 {
		return nil, ErrContestNotFound
	}
	if r.cache == nil {
		return r.getContestFromDB(ctx, contestID)
	}
	return cache.ReadThrough(ctx, r.cache, contestKey(contestID), r.readPolicy(), ErrContestNotFound,
		func(ctx context.Context) (*model.Contest, error) {
			return r.getContestFromDB(ctx, contestID)
		})
}

func (r *MySQLContestRepository) getContestFromDB(ctx context.Context, contestID int64) (*model.Contest, error) {
	contest := &model.Contest{}
	err := r.db.QueryRow(ctx, selectContestSQL, contestID).Scan(
		&contest.ID,
		&contest.Name,
		&contest.StartTime,
		&contest.EndTime,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, selectContestProblemsSQL, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	contest.ProblemIDs = []int64{}
	for rows.Next() {
		var problemID int64
		if err := rows.Scan(&problemID); err != nil {
			return nil, err
		}
		contest.ProblemIDs = append(contest.ProblemIDs, problemID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contest, nil
}

// GetSolution always reads the database; it feeds the compare-and-swap in UpdateSolution.
func (r *MySQLContestRepository) GetSolution(ctx context.Context, contestID, userID int64) (*model.ContestSolution, error) {
	solution := &model.ContestSolution{}
	var payload []byte
	err := r.db.QueryRow(ctx, selectSolutionSQL, contestID, userID).Scan(
		&solution.ContestID,
		&solution.UserID,
		&payload,
		&solution.Version,
		&solution.CreatedAt,
		&solution.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSolutionNotFound
		}
		return nil, err
	}
	solution.Solutions = []model.Solution{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &solution.Solutions); err != nil {
			return nil, err
		}
	}
	return solution, nil
}

func (r *MySQLContestRepository) CreateSolution(ctx context.Context, solution *model.ContestSolution) error {
	if solution == nil {
		return errors.New("solution is nil")
	}
	payload, err := marshalSolutions(solution.Solutions)
	if err != nil {
		return err
	}
	now := r.now()
	_, err = r.db.Exec(ctx, insertSolutionSQL, solution.ContestID, solution.UserID, payload, now, now)
	if err != nil {
		if db.IsDuplicate(err) {
			return ErrSolutionExists
		}
		return err
	}
	solution.Version = 1
	solution.CreatedAt = now
	solution.UpdatedAt = now
	return nil
}

func (r *MySQLContestRepository) UpdateSolution(ctx context.Context, solution *model.ContestSolution) error {
	if solution == nil {
		return errors.New("solution is nil")
	}
	payload, err := marshalSolutions(solution.Solutions)
	if err != nil {
		return err
	}
	now := r.now()
	affected, err := db.ExecAffected(ctx, r.db, updateSolutionSQL, payload, now, solution.ContestID, solution.UserID, solution.Version)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSolutionConflict
	}
	solution.Version++
	solution.UpdatedAt = now
	return nil
}

func marshalSolutions(solutions []model.Solution) ([]byte, error) {
	if solutions == nil {
		solutions = []model.Solution{}
	}
	return json.Marshal(solutions)
}

func contestKey(contestID int64) string {
	return contestKeyPrefix + strconv.FormatInt(contestID, 10)
}

func (r *MySQLContestRepository) readPolicy() cache.ReadPolicy {
	return cache.ReadPolicy{TTL: r.ttl, EmptyTTL: r.emptyTTL}
}

var _ ContestRepository = (*MySQLContestRepository)(nil)
