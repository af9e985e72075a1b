package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTestCaseTTL       = 30 * time.Minute
	defaultTestCaseEmptyTTL  = 5 * time.Minute
	hiddenTestCaseKeyPrefix  = "problem:cases:hidden:"
	visibleTestCaseKeyPrefix = "problem:cases:visible:"
	// Bounds a shared load, which no longer follows any single caller.
	loadTimeout = 5 * time.Second
)

const (
	testCaseKindHidden  = "hidden"
	testCaseKindVisible = "visible"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

// TestCaseRepository is the read-only problem store used while judging.
type TestCaseRepository interface {
	// GetHiddenTestCases returns the cases used by submit, ordered by position.
	GetHiddenTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)
	// GetVisibleTestCases returns the sample cases used by run, ordered by position.
	GetVisibleTestCases(ctx context.Context, problemID int64) ([]model.VisibleTestCase, error)
}

// problemCases is the cached form; ProblemID is zero when the problem does not exist.
type problemCases struct {
	ProblemID int64                   `json:"problem_id"`
	Cases     []model.VisibleTestCase `json:"cases"`
}

type MySQLTestCaseRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
	group    singleflight.Group
}

// NewTestCaseRepository creates a test case repository. cacheClient may be nil.
func NewTestCaseRepository(database db.Database, cacheClient cache.Cache) *MySQLTestCaseRepository {
	return NewTestCaseRepositoryWithTTL(database, cacheClient, defaultTestCaseTTL, defaultTestCaseEmptyTTL)
}

func NewTestCaseRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLTestCaseRepository {
	if ttl <= 0 {
		ttl = defaultTestCaseTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultTestCaseEmptyTTL
	}
	return &MySQLTestCaseRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const (
	selectProblemSQL = "SELECT id FROM problems WHERE id = ? LIMIT 1"

	selectTestCasesSQL = "SELECT input, expected_output, explanation FROM problem_test_cases " +
		"WHERE problem_id = ? AND kind = ? ORDER BY position ASC"
)

func (r *MySQLTestCaseRepository) GetHiddenTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	cases, err := r.load(ctx, problemID, testCaseKindHidden)
	if err != nil {
		return nil, err
	}
	hidden := make([]model.TestCase, 0, len(cases))
	for _, tc := range cases {
		hidden = append(hidden, tc.AsTestCase())
	}
	return hidden, nil
}

func (r *MySQLTestCaseRepository) GetVisibleTestCases(ctx context.Context, problemID int64) ([]model.VisibleTestCase, error) {
	return r.load(ctx, problemID, testCaseKindVisible)
}

// load collapses concurrent loads of the same problem and kind into one cache or database read.
// The shared read is detached from the caller that started it; each caller stops
// waiting when its own context ends.
func (r *MySQLTestCaseRepository) load(ctx context.Context, problemID int64, kind string) ([]model.VisibleTestCase, error) {
	if problemID <= 0 {
		return nil, ErrProblemNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := testCaseKey(kind, problemID)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		if r.cache == nil {
			return r.loadFromDB(flightCtx, problemID, kind)
		}
		return cache.ReadThrough(flightCtx, r.cache, key,
			cache.ReadPolicy{TTL: r.ttl, EmptyTTL: r.emptyTTL}, ErrProblemNotFound,
			func(ctx context.Context) (problemCases, error) {
				return r.loadFromDB(ctx, problemID, kind)
			})
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(problemCases).Cases, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *MySQLTestCaseRepository) loadFromDB(ctx context.Context, problemID int64, kind string) (problemCases, error) {
	var id int64
	if err := r.db.QueryRow(ctx, selectProblemSQL, problemID).Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return problemCases{}, ErrProblemNotFound
		}
		return problemCases{}, err
	}

	rows, err := r.db.Query(ctx, selectTestCasesSQL, problemID, kind)
	if err != nil {
		return problemCases{}, err
	}
	defer rows.Close()

	pc := problemCases{ProblemID: id, Cases: []model.VisibleTestCase{}}
	for rows.Next() {
		var (
			tc          model.VisibleTestCase
			explanation sql.NullString
		)
		if err := rows.Scan(&tc.Input, &tc.ExpectedOutput, &explanation); err != nil {
			return problemCases{}, err
		}
		tc.Explanation = explanation.String
		pc.Cases = append(pc.Cases, tc)
	}
	if err := rows.Err(); err != nil {
		return problemCases{}, err
	}
	return pc, nil
}

func testCaseKey(kind string, problemID int64) string {
	prefix := hiddenTestCaseKeyPrefix
	if kind == testCaseKindVisible {
		prefix = visibleTestCaseKeyPrefix
	}
	return prefix + strconv.FormatInt(problemID, 10)
}

var _ TestCaseRepository = (*MySQLTestCaseRepository)(nil)
