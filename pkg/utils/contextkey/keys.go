// Package contextkey holds the request scoped values the logger attaches to every entry.
package contextkey

type key string

const (
	TraceID      key = "trace_id"
	RequestID    key = "request_id"
	UserID       key = "user_id"
	SubmissionID key = "submission_id"
)
