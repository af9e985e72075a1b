// Package verdict folds per test case verdicts into a submission outcome.
package verdict

import (
	"fmt"
	"strings"

	"codejudge/internal/judge/model"
	"codejudge/pkg/utils/strutil"
)

// EmptyPolicy decides the outcome of a submission judged against zero test cases.
type EmptyPolicy string

const (
	EmptyAccept EmptyPolicy = "accept"
	EmptyReject EmptyPolicy = "reject"
)

// ParseEmptyPolicy accepts "" as EmptyAccept.
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch EmptyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", EmptyAccept:
		return EmptyAccept, nil
	case EmptyReject:
		return EmptyReject, nil
	default:
		return "", fmt.Errorf("unknown empty test case policy %q", s)
	}
}

// Aggregate scans every verdict.
//
// Accepted verdicts add to PassedCount and TotalRuntime and raise PeakMemory.
// The first failure by test case position wins: it alone decides the failing
// status (error for a time limit, wrong otherwise) and the error message, so
// the result does not depend on the order verdicts are supplied in.
// The error message is the failing test's stderr, cut to
// model.MaxErrorMessageRunes. An empty list is accepted with nothing passed.
func Aggregate(verdicts []model.Verdict) model.Outcome {
	out := model.Outcome{Status: model.SubmissionAccepted}

	var first *model.Verdict
	for i := range verdicts {
		v := &verdicts[i]
		if v.Accepted() {
			out.PassedCount++
			out.TotalRuntime += v.Time
			if v.Memory > out.PeakMemory {
				out.PeakMemory = v.Memory
			}
			continue
		}
		if first == nil || v.Index < first.Index {
			first = v
		}
	}

	if first != nil {
		out.Status = failureStatus(first.StatusID)
		if first.Stderr != "" {
			msg := strutil.Truncate(first.Stderr, model.MaxErrorMessageRunes)
			out.ErrorMessage = &msg
		}
	}
	out.TotalRuntime = roundMillis(out.TotalRuntime)
	return out
}

func failureStatus(statusID int) model.SubmissionStatus {
	if statusID == model.StatusTimeLimitExceeded {
		return model.SubmissionError
	}
	return model.SubmissionWrong
}

// roundMillis keeps float sums stable regardless of addition order.
func roundMillis(seconds float64) float64 {
	if seconds == 0 {
		return 0
	}
	return float64(int64(seconds*1000+0.5)) / 1000
}
