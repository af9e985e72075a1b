package model

// Backend status ids as reported by the execution service.
const (
	StatusInQueue           = 1
	StatusProcessing        = 2
	StatusAccepted          = 3
	StatusTimeLimitExceeded = 4
)

// IsTerminalStatus reports whether the backend finished executing a test case.
func IsTerminalStatus(statusID int) bool {
	return statusID > StatusProcessing
}

// SubmissionStatus is the lifecycle state of a ledger record.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionAccepted SubmissionStatus = "accepted"
	SubmissionWrong    SubmissionStatus = "wrong"
	SubmissionError    SubmissionStatus = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionAccepted, SubmissionWrong, SubmissionError:
		return true
	default:
		return false
	}
}

// Verdict is the execution result of a single test case.
type Verdict struct {
	// Index is the position of the test case this verdict belongs to.
	Index         int     `json:"index"`
	Token         string  `json:"token"`
	StatusID      int     `json:"status_id"`
	Status        string  `json:"status,omitempty"`
	Time          float64 `json:"time"`   // seconds
	Memory        int64   `json:"memory"` // KB
	Stdout        string  `json:"stdout,omitempty"`
	Stderr        string  `json:"stderr,omitempty"`
	CompileOutput string  `json:"compile_output,omitempty"`
}

// Accepted reports whether the test case passed.
func (v Verdict) Accepted() bool {
	return v.StatusID == StatusAccepted
}

// MaxErrorMessageRunes bounds Outcome.ErrorMessage. At four bytes per rune
// it fits a MySQL TEXT column.
const MaxErrorMessageRunes = 16000

// Outcome is the aggregate of all verdicts of one submission.
type Outcome struct {
	Status       SubmissionStatus `json:"status"`
	PassedCount  int              `json:"passed_count"`
	TotalRuntime float64          `json:"total_runtime"`
	PeakMemory   int64            `json:"peak_memory"`
	ErrorMessage *string          `json:"error_message"`
}

// Accepted reports whether every test case passed.
func (o Outcome) Accepted() bool {
	return o.Status == SubmissionAccepted
}
