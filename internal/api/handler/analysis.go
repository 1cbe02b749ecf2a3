package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repolens/repolens/internal/model/dto"
	"github.com/repolens/repolens/internal/pkg/response"
	"github.com/repolens/repolens/internal/progress"
	"github.com/repolens/repolens/internal/repository"
	"github.com/repolens/repolens/internal/service"
)

type AnalysisHandler struct {
	analyzer *service.AnalyzerService
}

func NewAnalysisHandler(analyzer *service.AnalyzerService) *AnalysisHandler {
	return &AnalysisHandler{
		analyzer: analyzer,
	}
}

// Submit schedules an analysis job and returns its identity.
// POST /api/v1/analyses
func (h *AnalysisHandler) Submit(c *gin.Context) {
	var req dto.SubmitAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	id, err := h.analyzer.Submit(c.Request.Context(), req.RepoURL, req.Mode)
	if err != nil {
		if errors.Is(err, service.ErrEmptyReference) {
			response.ParamError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.SubmitAnalysisResponse{
		JobID:   id,
		RepoURL: req.RepoURL,
	})
}

// GetStatus reports job and result state for a reference.
// GET /api/v1/analyses/status?repo_url=&mode=
func (h *AnalysisHandler) GetStatus(c *gin.Context) {
	repoURL := c.Query("repo_url")
	mode := c.Query("mode")

	status, err := h.analyzer.GetStatus(c.Request.Context(), repoURL, mode)
	if err != nil {
		if errors.Is(err, service.ErrEmptyReference) {
			response.ParamError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	resp := dto.StatusResponse{
		JobID:     status.JobID,
		Active:    status.Active,
		HasResult: status.HasResult,
	}
	if status.Record != nil {
		resp.Progress = progressToDTO(status.Record)
	}

	response.Success(c, resp)
}

// Cancel terminates the active job for a reference, if any.
// DELETE /api/v1/analyses?repo_url=
func (h *AnalysisHandler) Cancel(c *gin.Context) {
	repoURL := c.Query("repo_url")
	if repoURL == "" {
		response.ParamError(c, "repo_url is required")
		return
	}

	if err := h.analyzer.Cancel(c.Request.Context(), repoURL); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, nil)
}

// GetResult loads the durable result for a reference.
// GET /api/v1/analyses/result?repo_url=&mode=
func (h *AnalysisHandler) GetResult(c *gin.Context) {
	repoURL := c.Query("repo_url")
	if repoURL == "" {
		response.ParamError(c, "repo_url is required")
		return
	}

	result, err := h.analyzer.GetResultByReference(repoURL, c.Query("mode"))
	if err != nil {
		if errors.Is(err, repository.ErrResultNotFound) {
			response.NotFoundError(c, "no analysis result for this repository")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, result)
}

// GetResultByID loads the durable result for a job identity.
// GET /api/v1/analyses/result/id/:id
func (h *AnalysisHandler) GetResultByID(c *gin.Context) {
	result, err := h.analyzer.GetResultByID(c.Param("id"), c.Query("mode"))
	if err != nil {
		if errors.Is(err, repository.ErrResultNotFound) {
			response.NotFoundError(c, "no analysis result for this job")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, result)
}

func progressToDTO(rec *progress.Record) *dto.ProgressResponse {
	return &dto.ProgressResponse{
		JobID:     rec.JobID,
		RepoURL:   rec.RepoURL,
		Status:    rec.Status,
		Progress:  rec.Progress,
		Stage:     rec.Stage,
		Detail:    rec.Detail,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt: rec.UpdatedAt.Format(time.RFC3339),
	}
}
