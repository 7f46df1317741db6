package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kollect-api/internal/dto"
	"github.com/noah-isme/kollect-api/internal/models"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
	"github.com/noah-isme/kollect-api/pkg/response"
)

type campaignService interface {
	Create(ctx context.Context, brandID string, req dto.CreateCampaignRequest, path dto.CampaignPath) (*dto.CreateCampaignResponse, error)
	Invite(ctx context.Context, campaignID, brandID string, req dto.InviteKOLRequest) (*dto.CampaignSummary, error)
	Respond(ctx context.Context, campaignID, kolID string, req dto.RespondCampaignRequest) (*dto.RespondCampaignResponse, error)
	Cancel(ctx context.Context, campaignID, brandID string) (*dto.CampaignSummary, error)
	Get(ctx context.Context, id, userID string, role models.UserRole) (*models.Campaign, error)
	List(ctx context.Context, userID string, role models.UserRole, query dto.CampaignQuery) ([]models.Campaign, *models.Pagination, error)
}

// CampaignHandler exposes campaign creation and the invite handshake.
type CampaignHandler struct {
	service campaignService
}

// NewCampaignHandler constructs the handler.
func NewCampaignHandler(service campaignService) *CampaignHandler {
	return &CampaignHandler{service: service}
}

// Create godoc
// @Summary Create a campaign and assign a KOL directly
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param payload body dto.CreateCampaignRequest true "Campaign payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /campaigns [post]
func (h *CampaignHandler) Create(c *gin.Context) {
	h.create(c, dto.CampaignPathDirect)
}

// Hire godoc
// @Summary Create a campaign and invite a KOL
// @Description The KOL must accept before work starts.
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param payload body dto.CreateCampaignRequest true "Campaign payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /campaigns/hire [post]
func (h *CampaignHandler) Hire(c *gin.Context) {
	h.create(c, dto.CampaignPathHire)
}

func (h *CampaignHandler) create(c *gin.Context, path dto.CampaignPath) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid campaign payload"))
		return
	}
	res, err := h.service.Create(c.Request.Context(), claims.UserID, req, path)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// List godoc
// @Summary List campaigns
// @Description type=my lists the caller's own campaigns, anything else the open marketplace.
// @Tags Campaigns
// @Produce json
// @Param type query string false "my or open"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /campaigns [get]
func (h *CampaignHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	query := dto.CampaignQuery{
		Type:     c.Query("type"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 20),
	}
	campaigns, pagination, err := h.service.List(c.Request.Context(), claims.UserID, claims.Role, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, campaigns, pagination)
}

// Get godoc
// @Summary Get campaign detail
// @Tags Campaigns
// @Produce json
// @Param id path string true "Campaign ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /campaigns/{id} [get]
func (h *CampaignHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	campaign, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, campaign, nil)
}

// Invite godoc
// @Summary Invite a KOL to an open campaign
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param id path string true "Campaign ID"
// @Param payload body dto.InviteKOLRequest true "Invite payload"
// @Success 200 {object} response.Envelope
// @Router /campaigns/{id}/invite [post]
func (h *CampaignHandler) Invite(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.InviteKOLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid invite payload"))
		return
	}
	res, err := h.service.Invite(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "KOL invited", res)
}

// Respond godoc
// @Summary Accept or reject a campaign invitation
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param id path string true "Campaign ID"
// @Param payload body dto.RespondCampaignRequest true "accept or reject"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /campaigns/{id}/respond [post]
func (h *CampaignHandler) Respond(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RespondCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid response payload"))
		return
	}
	res, err := h.service.Respond(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	message := "campaign accepted"
	if req.Action == "reject" {
		message = "campaign rejected"
	}
	response.Message(c, http.StatusOK, message, res)
}

// Cancel godoc
// @Summary Cancel an unassigned campaign
// @Tags Campaigns
// @Produce json
// @Param id path string true "Campaign ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /campaigns/{id}/cancel [post]
func (h *CampaignHandler) Cancel(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	res, err := h.service.Cancel(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "campaign cancelled", res)
}
