package model

import "time"

// VerdictEvent is the Kafka payload emitted once a submission is finalized.
type VerdictEvent struct {
	SubmissionID    string           `json:"submission_id"`
	UserID          int64            `json:"user_id"`
	ProblemID       int64            `json:"problem_id"`
	ContestID       int64            `json:"contest_id,omitempty"`
	Language        string           `json:"language"`
	Status          SubmissionStatus `json:"status"`
	TestCasesTotal  int              `json:"test_cases_total"`
	TestCasesPassed int              `json:"test_cases_passed"`
	Runtime         float64          `json:"runtime"`
	Memory          int64            `json:"memory"`
	FinishedAt      time.Time        `json:"finished_at"`
}
