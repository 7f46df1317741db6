package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kollect-api/internal/dto"
	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/internal/service"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
	"github.com/noah-isme/kollect-api/pkg/export"
	"github.com/noah-isme/kollect-api/pkg/response"
)

type workService interface {
	Submit(ctx context.Context, workID, kolID string, req dto.SubmitDeliverableRequest) (*dto.SubmitDeliverableResponse, error)
	Review(ctx context.Context, workID, brandID string, req dto.ReviewSubmissionRequest) (*dto.ReviewSubmissionResponse, error)
	TransitionStatus(ctx context.Context, workID, userID string, to models.WorkStatus) (*models.Work, error)
	Update(ctx context.Context, workID, kolID string, req dto.UpdateWorkRequest) (*models.Work, error)
	Get(ctx context.Context, workID, userID string, role models.UserRole) (*models.Work, error)
	List(ctx context.Context, userID string, role models.UserRole, query dto.WorkQuery) ([]models.Work, error)
	Submissions(ctx context.Context, workID, userID string, role models.UserRole, deliverableIdx *int) ([]models.Submission, error)
	Stats(ctx context.Context, kolID string) (*models.WorkStats, error)
}

type workExporter interface {
	ExportWorks(ctx context.Context, userID string, role models.UserRole, format export.Format, status string) (*service.ExportResult, error)
}

// WorkHandler exposes work progress, submissions and reviews.
type WorkHandler struct {
	service  workService
	exporter workExporter
}

// NewWorkHandler constructs the handler. exporter may be nil, which
// disables the export endpoint.
func NewWorkHandler(service workService, exporter workExporter) *WorkHandler {
	return &WorkHandler{service: service, exporter: exporter}
}

// List godoc
// @Summary List works for the caller
// @Tags Works
// @Produce json
// @Param status query string false "all, active or a work status"
// @Success 200 {object} response.Envelope
// @Router /works [get]
func (h *WorkHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	works, err := h.service.List(c.Request.Context(), claims.UserID, claims.Role, dto.WorkQuery{Status: c.Query("status")})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, works, nil, map[string]interface{}{"count": len(works)})
}

// Stats godoc
// @Summary Dashboard statistics for the calling KOL
// @Tags Works
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /works/stats [get]
func (h *WorkHandler) Stats(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Export godoc
// @Summary Export the caller's works
// @Tags Works
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param status query string false "all, active or a work status"
// @Success 200 {file} file
// @Router /works/export [get]
func (h *WorkHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export not configured"))
		return
	}
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	res, err := h.exporter.ExportWorks(c.Request.Context(), claims.UserID, claims.Role, export.Format(c.Query("format")), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, res.ContentType, res.Payload)
}

// Get godoc
// @Summary Get work detail
// @Tags Works
// @Produce json
// @Param id path string true "Work ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /works/{id} [get]
func (h *WorkHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	work, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, work, nil)
}

// Update godoc
// @Summary Update notes and engagement
// @Tags Works
// @Accept json
// @Produce json
// @Param id path string true "Work ID"
// @Param payload body dto.UpdateWorkRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Router /works/{id} [put]
func (h *WorkHandler) Update(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.UpdateWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid work payload"))
		return
	}
	work, err := h.service.Update(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, work, nil)
}

// TransitionStatus godoc
// @Summary Move a work to another status
// @Tags Works
// @Accept json
// @Produce json
// @Param id path string true "Work ID"
// @Param payload body dto.UpdateWorkStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /works/{id}/status [patch]
func (h *WorkHandler) TransitionStatus(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.UpdateWorkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status is required"))
		return
	}
	work, err := h.service.TransitionStatus(c.Request.Context(), c.Param("id"), claims.UserID, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, work, nil)
}

// Submit godoc
// @Summary Submit content for a deliverable
// @Tags Works
// @Accept json
// @Produce json
// @Param id path string true "Work ID"
// @Param payload body dto.SubmitDeliverableRequest true "Submission"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /works/{id}/submit [post]
func (h *WorkHandler) Submit(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.SubmitDeliverableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid submission payload"))
		return
	}
	res, err := h.service.Submit(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Submissions godoc
// @Summary List submissions of a work
// @Tags Works
// @Produce json
// @Param id path string true "Work ID"
// @Param deliverableIndex query int false "Restrict to one deliverable"
// @Success 200 {object} response.Envelope
// @Router /works/{id}/submissions [get]
func (h *WorkHandler) Submissions(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var idx *int
	if raw := c.Query("deliverableIndex"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "deliverableIndex must be a non-negative integer"))
			return
		}
		idx = &v
	}
	items, err := h.service.Submissions(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role, idx)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Review godoc
// @Summary Approve or reject a submission
// @Tags Works
// @Accept json
// @Produce json
// @Param id path string true "Work ID"
// @Param payload body dto.ReviewSubmissionRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /works/{id}/review [put]
func (h *WorkHandler) Review(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ReviewSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	res, err := h.service.Review(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}
