package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
)

const (
	solvedKeyPrefix       = "user:solved:"
	defaultSolvedCacheTTL = 24 * time.Hour
)

// SolvedRepository keeps the duplicate-free, ordered set of problems a user has solved.
type SolvedRepository interface {
	HasSolved(ctx context.Context, userID, problemID int64) (bool, error)
	// AddSolved inserts problemID unless present and reports whether it was added.
	AddSolved(ctx context.Context, userID, problemID int64) (bool, error)
	// ListSolved returns problem ids in the order they were first solved.
	ListSolved(ctx context.Context, userID int64) ([]int64, error)
}

// MySQLSolvedRepository stores the set in MySQL and mirrors known members in a Redis set.
// The Redis set may be partial, so only positive membership answers are served from it.
type MySQLSolvedRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewSolvedRepository creates a solved set repository. cacheClient may be nil.
func NewSolvedRepository(database db.Database, cacheClient cache.Cache) *MySQLSolvedRepository {
	return &MySQLSolvedRepository{
		db:    database,
		cache: cacheClient,
		ttl:   defaultSolvedCacheTTL,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

const (
	selectSolvedSQL = "SELECT 1 FROM user_solved_problems WHERE user_id = ? AND problem_id = ? LIMIT 1"

	insertSolvedSQL = "INSERT IGNORE INTO user_solved_problems (user_id, problem_id, solved_at) VALUES (?, ?, ?)"

	listSolvedSQL = "SELECT problem_id FROM user_solved_problems WHERE user_id = ? ORDER BY seq ASC"
)

func (r *MySQLSolvedRepository) HasSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	if userID <= 0 || problemID <= 0 {
		return false, errors.New("userID and problemID are required")
	}
	if r.cache != nil {
		if ok, err := r.cache.SIsMember(ctx, solvedKey(userID), problemID); err == nil && ok {
			return true, nil
		}
	}

	var one int
	err := r.db.QueryRow(ctx, selectSolvedSQL, userID, problemID).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	r.remember(ctx, userID, problemID)
	return true, nil
}

func (r *MySQLSolvedRepository) AddSolved(ctx context.Context, userID, problemID int64) (bool, error) {
	if userID <= 0 || problemID <= 0 {
		return false, errors.New("userID and problemID are required")
	}
	affected, err := db.ExecAffected(ctx, r.db, insertSolvedSQL, userID, problemID, r.now())
	if err != nil {
		return false, err
	}
	r.remember(ctx, userID, problemID)
	return affected > 0, nil
}

func (r *MySQLSolvedRepository) ListSolved(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, listSolvedSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	solved := []int64{}
	for rows.Next() {
		var problemID int64
		if err := rows.Scan(&problemID); err != nil {
			return nil, err
		}
		solved = append(solved, problemID)
	}
	return solved, rows.Err()
}

func (r *MySQLSolvedRepository) remember(ctx context.Context, userID, problemID int64) {
	if r.cache == nil {
		return
	}
	key := solvedKey(userID)
	if err := r.cache.SAdd(ctx, key, problemID); err == nil {
		_ = r.cache.Expire(ctx, key, cache.JitterTTL(r.ttl))
	}
}

func solvedKey(userID int64) string {
	return solvedKeyPrefix + strconv.FormatInt(userID, 10)
}

var _ SolvedRepository = (*MySQLSolvedRepository)(nil)
