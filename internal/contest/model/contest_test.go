package model

import (
	"reflect"
	"testing"
	"time"
)

func TestContestStatus(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	c := &Contest{StartTime: start, EndTime: start.Add(90 * time.Minute)}

	tests := []struct {
		name string
		now  time.Time
		want ContestStatus
	}{
		{"before start", start.Add(-time.Second), ContestUpcoming},
		{"at start", start, ContestRunning},
		{"midway", start.Add(45 * time.Minute), ContestRunning},
		{"at end", start.Add(90 * time.Minute), ContestRunning},
		{"after end", start.Add(90*time.Minute + time.Second), ContestFinished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Status(tt.now); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
	if got := c.DurationMinutes(); got != 90 {
		t.Errorf("DurationMinutes() = %d, want 90", got)
	}
}

func TestContestSolutionRecord(t *testing.T) {
	s := &ContestSolution{ContestID: 1, UserID: 2}

	if !s.Record(10, "a") {
		t.Fatal("first record should change the solution")
	}
	if !s.Record(11, "b") {
		t.Fatal("second problem should be appended")
	}
	if s.Record(10, "a") {
		t.Fatal("same submission should not change the solution")
	}
	if !s.Record(10, "c") {
		t.Fatal("later submission should replace the earlier one")
	}

	want := []Solution{{ProblemID: 10, SubmissionID: "c"}, {ProblemID: 11, SubmissionID: "b"}}
	if !reflect.DeepEqual(s.Solutions, want) {
		t.Fatalf("Solutions = %+v, want %+v", s.Solutions, want)
	}
	if got := s.SolvedProblemIDs(); !reflect.DeepEqual(got, []int64{10, 11}) {
		t.Fatalf("SolvedProblemIDs() = %v", got)
	}
}

func TestHasProblem(t *testing.T) {
	c := &Contest{ProblemIDs: []int64{3, 5}}
	if !c.HasProblem(5) || c.HasProblem(4) {
		t.Fatal("HasProblem mismatch")
	}
}
