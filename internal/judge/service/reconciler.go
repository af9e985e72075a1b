package service

import (
	"context"
	"fmt"

	userRepo "codejudge/internal/user/repository"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// ContestRecorder upserts an accepted submission into a contest solution.
type ContestRecorder interface {
	RecordAccepted(ctx context.Context, contestID, userID, problemID int64, submissionID string) error
}

// Reconciler propagates an accepted submission into user progress and contest scoring.
type Reconciler struct {
	solved   userRepo.SolvedRepository
	contests ContestRecorder
}

// NewReconciler creates a reconciler. contests may be nil when contests are not served.
func NewReconciler(solved userRepo.SolvedRepository, contests ContestRecorder) (*Reconciler, error) {
	if solved == nil {
		return nil, fmt.Errorf("solved repository is required")
	}
	return &Reconciler{solved: solved, contests: contests}, nil
}

// OnAccepted adds the problem to the user's solved set if absent and, for contest
// submissions, records the submission in the contest solution. Both steps are
// idempotent, so a failed call may be repeated.
func (r *Reconciler) OnAccepted(ctx context.Context, userID, problemID, contestID int64, submissionID string) error {
	solved, err := r.solved.HasSolved(ctx, userID, problemID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "check solved set failed")
	}
	if !solved {
		added, err := r.solved.AddSolved(ctx, userID, problemID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "update solved set failed")
		}
		if added {
			logger.Info(ctx, "problem solved", zap.Int64("problem_id", problemID))
		}
	}

	if contestID <= 0 {
		return nil
	}
	if r.contests == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("contest scoring is not configured")
	}
	return r.contests.RecordAccepted(ctx, contestID, userID, problemID, submissionID)
}
