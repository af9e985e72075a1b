package model

import (
	"math"
	"time"
)

// ContestStatus is derived from the contest window and the current time.
type ContestStatus string

const (
	ContestUpcoming ContestStatus = "upcoming"
	ContestRunning  ContestStatus = "running"
	ContestFinished ContestStatus = "finished"
)

// Contest is a timed set of problems.
type Contest struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ProblemIDs []int64   `json:"problem_ids"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// Status reports the contest phase at now. Both window bounds are inclusive.
func (c *Contest) Status(now time.Time) ContestStatus {
	if now.Before(c.StartTime) {
		return ContestUpcoming
	}
	if !now.After(c.EndTime) {
		return ContestRunning
	}
	return ContestFinished
}

// DurationMinutes is the window length rounded to whole minutes.
func (c *Contest) DurationMinutes() int64 {
	return int64(math.Round(c.EndTime.Sub(c.StartTime).Minutes()))
}

// HasProblem reports whether problemID belongs to the contest.
func (c *Contest) HasProblem(problemID int64) bool {
	for _, id := range c.ProblemIDs {
		if id == problemID {
			return true
		}
	}
	return false
}

// Solution maps one accepted problem to the submission that solved it.
type Solution struct {
	ProblemID    int64  `json:"problem_id"`
	SubmissionID string `json:"submission_id"`
}

// ContestSolution is the per (contest, user) scoring record.
type ContestSolution struct {
	ContestID int64      `json:"contest_id"`
	UserID    int64      `json:"user_id"`
	Solutions []Solution `json:"solutions"`
	// Version increases on every write and guards concurrent updates.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record stores submissionID for problemID. A later accepted submission replaces
// the earlier one, so each problem appears at most once.
// It reports whether the record changed.
func (s *ContestSolution) Record(problemID int64, submissionID string) bool {
	for i := range s.Solutions {
		if s.Solutions[i].ProblemID == problemID {
			if s.Solutions[i].SubmissionID == submissionID {
				return false
			}
			s.Solutions[i].SubmissionID = submissionID
			return true
		}
	}
	s.Solutions = append(s.Solutions, Solution{ProblemID: problemID, SubmissionID: submissionID})
	return true
}

// SolvedProblemIDs returns the solved problem ids in the order they were first solved.
func (s *ContestSolution) SolvedProblemIDs() []int64 {
	ids := make([]int64, 0, len(s.Solutions))
	for _, sol := range s.Solutions {
		ids = append(ids, sol.ProblemID)
	}
	return ids
}
