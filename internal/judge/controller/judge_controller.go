package controller

import (
	"context"
	"strconv"
	"strings"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/service"
	"codejudge/internal/submit/repository"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeService is the part of the judging pipeline exposed over HTTP.
type JudgeService interface {
	Submit(ctx context.Context, input service.SubmitInput) (*service.SubmitResult, error)
	Run(ctx context.Context, input service.RunInput) (*service.RunResult, error)
	GetSubmission(ctx context.Context, userID int64, submissionID string) (*repository.Submission, error)
}

// JudgeController handles submit, run and submission lookup requests.
type JudgeController struct {
	judge JudgeService
}

// NewJudgeController creates a new controller.
func NewJudgeController(judge JudgeService) *JudgeController {
	return &JudgeController{judge: judge}
}

// Submit judges code against the hidden test cases of a problem.
func (h *JudgeController) Submit(c *gin.Context) {
	problemID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	h.submit(c, problemID, 0)
}

// ContestSubmit judges code for a problem inside a running contest.
func (h *JudgeController) ContestSubmit(c *gin.Context) {
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	problemID, ok := parseID(c, "problemId")
	if !ok {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	h.submit(c, problemID, contestID)
}

func (h *JudgeController) submit(c *gin.Context, problemID, contestID int64) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	result, err := h.judge.Submit(c.Request.Context(), service.SubmitInput{
		UserID:     middleware.UserID(c),
		ProblemID:  problemID,
		ContestID:  contestID,
		Language:   req.Language,
		SourceCode: req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{
		SubmissionID:    result.SubmissionID,
		Status:          string(result.Status),
		Accepted:        result.Accepted,
		TotalTestCases:  result.TotalTestCases,
		PassedTestCases: result.PassedTestCases,
		Runtime:         result.Runtime,
		Memory:          result.Memory,
		ErrorMessage:    result.ErrorMessage,
	})
}

// Run executes code against the visible test cases of a problem.
func (h *JudgeController) Run(c *gin.Context) {
	problemID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	result, err := h.judge.Run(c.Request.Context(), service.RunInput{
		UserID:     middleware.UserID(c),
		ProblemID:  problemID,
		Language:   req.Language,
		SourceCode: req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	cases := make([]RunCaseResponse, len(result.TestCases))
	for i, tc := range result.TestCases {
		cases[i] = RunCaseResponse{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Explanation:    tc.Explanation,
			StatusID:       tc.StatusID,
			Status:         tc.Status,
			Runtime:        tc.Time,
			Memory:         tc.Memory,
			Stdout:         tc.Stdout,
			Stderr:         tc.Stderr,
			CompileOutput:  tc.CompileOutput,
		}
	}
	response.Success(c, RunResponse{
		Success:   result.Success,
		TestCases: cases,
		Runtime:   result.Runtime,
		Memory:    result.Memory,
	})
}

// GetSubmission returns one of the caller's submissions.
func (h *JudgeController) GetSubmission(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("id"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.judge.GetSubmission(c.Request.Context(), middleware.UserID(c), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submission)
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// CodeRequest is the submit and run payload.
type CodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// SubmitResponse defines the submit response payload.
type SubmitResponse struct {
	SubmissionID    string  `json:"submission_id"`
	Status          string  `json:"status"`
	Accepted        bool    `json:"accepted"`
	TotalTestCases  int     `json:"total_test_cases"`
	PassedTestCases int     `json:"passed_test_cases"`
	Runtime         float64 `json:"runtime"`
	Memory          int64   `json:"memory"`
	ErrorMessage    *string `json:"error_message,omitempty"`
}

// RunCaseResponse is one visible test case with its verdict.
type RunCaseResponse struct {
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expected_output"`
	Explanation    string  `json:"explanation,omitempty"`
	StatusID       int     `json:"status_id"`
	Status         string  `json:"status,omitempty"`
	Runtime        float64 `json:"runtime"`
	Memory         int64   `json:"memory"`
	Stdout         string  `json:"stdout,omitempty"`
	Stderr         string  `json:"stderr,omitempty"`
	CompileOutput  string  `json:"compile_output,omitempty"`
}

// RunResponse defines the run response payload.
type RunResponse struct {
	Success   bool              `json:"success"`
	TestCases []RunCaseResponse `json:"test_cases"`
	Runtime   float64           `json:"runtime"`
	Memory    int64             `json:"memory"`
}
