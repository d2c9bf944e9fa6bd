package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/file-forge/internal/identity"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/scheduler"
)

type submitJobRequest struct {
	ToolName     string          `json:"toolName"`
	InputFileIDs []string        `json:"inputFileIds"`
	Parameters   json.RawMessage `json:"parameters"`
}

type jobView struct {
	JobID        string     `json:"jobId"`
	ToolName     string     `json:"toolName"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	OutputFileID *string    `json:"outputFileId,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ExpiresAt    time.Time  `json:"expiresAt"`
}

func newJobView(j *jobs.Job) jobView {
	return jobView{
		JobID:        j.JobID,
		ToolName:     j.ToolName,
		Status:       string(j.Status),
		Progress:     j.Progress,
		OutputFileID: j.OutputFileID,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		ExpiresAt:    j.ExpiresAt,
	}
}

// handleSubmitJob は POST /api/jobs のハンドラーです。
func (s *Server) handleSubmitJob(c *gin.Context) {
	ident, ok := identity.FromContext(c)
	if !ok {
		s.respondWithError(c, fmt.Errorf("identity not resolved"))
		return
	}

	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "リクエストボディをJSONとして読み取れませんでした。")
		return
	}
	if req.ToolName == "" {
		respondBadRequest(c, "toolName を指定してください。")
		return
	}

	job, err := s.sched.Submit(c.Request.Context(), ident, scheduler.SubmitRequest{
		ToolName:     req.ToolName,
		InputFileIDs: req.InputFileIDs,
		Parameters:   req.Parameters,
	})
	if err != nil {
		s.respondWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, newJobView(job))
}

// handleGetJob は GET /api/jobs/:id のハンドラーです。
func (s *Server) handleGetJob(c *gin.Context) {
	ident, ok := identity.FromContext(c)
	if !ok {
		s.respondWithError(c, fmt.Errorf("identity not resolved"))
		return
	}

	job, err := s.jobs.GetOwned(c.Request.Context(), c.Param("id"), ident.Key.String())
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobView(job))
}

// handleCancelJob は POST /api/jobs/:id/cancel のハンドラーです。
// 既に終端状態のジョブへのキャンセルはエラーではなく結果として返します。
func (s *Server) handleCancelJob(c *gin.Context) {
	ident, ok := identity.FromContext(c)
	if !ok {
		s.respondWithError(c, fmt.Errorf("identity not resolved"))
		return
	}

	jobID := c.Param("id")
	outcome, err := s.jobs.Cancel(c.Request.Context(), jobID, ident.Key.String())
	if err != nil {
		s.respondWithError(c, err)
		return
	}

	job, err := s.jobs.GetOwned(c.Request.Context(), jobID, ident.Key.String())
	if err != nil {
		s.respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobId":  jobID,
		"result": string(outcome),
		"status": string(job.Status),
	})
}

// handleListJobs は GET /api/jobs のハンドラーです。
func (s *Server) handleListJobs(c *gin.Context) {
	ident, ok := identity.FromContext(c)
	if !ok {
		s.respondWithError(c, fmt.Errorf("identity not resolved"))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	results, total, err := s.jobs.ListHistory(c.Request.Context(), ident.Key.String(), page, pageSize)
	if err != nil {
		s.respondWithError(c, err)
		return
	}

	views := make([]jobView, len(results))
	for i := range results {
		views[i] = newJobView(&results[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":    views,
		"total":   total,
		"page":    page,
		"hasMore": int64(page*pageSize) < total,
	})
}
