package controller

import (
	"context"
	"strconv"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/contest/model"
	"codejudge/internal/contest/service"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestService is the contest surface exposed over HTTP.
type ContestService interface {
	Get(ctx context.Context, contestID int64) (*service.ContestView, error)
	Enter(ctx context.Context, contestID, userID int64) (*model.ContestSolution, error)
	SolvedProblems(ctx context.Context, contestID, userID int64) ([]int64, error)
}

// ContestController handles contest HTTP endpoints.
type ContestController struct {
	contests ContestService
}

// NewContestController creates a new ContestController.
func NewContestController(contests ContestService) *ContestController {
	return &ContestController{contests: contests}
}

// Get returns a contest with its status.
func (h *ContestController) Get(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	view, err := h.contests.Get(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Enter registers the caller for a contest.
func (h *ContestController) Enter(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	solution, err := h.contests.Enter(c.Request.Context(), contestID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, solution)
}

// SolvedProblems lists the problems the caller solved in a contest.
func (h *ContestController) SolvedProblems(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	ids, err := h.contests.SolvedProblems(c.Request.Context(), contestID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SolvedProblemsResponse{ContestID: contestID, ProblemIDs: ids})
}

func parseContestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid contest id")
		return 0, false
	}
	return id, true
}

// SolvedProblemsResponse defines the solved problems payload.
type SolvedProblemsResponse struct {
	ContestID  int64   `json:"contest_id"`
	ProblemIDs []int64 `json:"problem_ids"`
}
