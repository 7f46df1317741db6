package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kollect-api/internal/middleware"
	"github.com/noah-isme/kollect-api/internal/models"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
	"github.com/noah-isme/kollect-api/pkg/response"
)

type authService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service    authService
	cookieName string
	secure     bool
}

// NewAuthHandler creates a new handler. The issued credential is also set
// as an HTTP-only cookie named cookieName.
func NewAuthHandler(svc authService, cookieName string, secure bool) *AuthHandler {
	if cookieName == "" {
		cookieName = middleware.DefaultCookieName
	}
	return &AuthHandler{service: svc, cookieName: cookieName, secure: secure}
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, res.AccessToken, int(res.ExpiresIn), "/", "", h.secure, true)
	response.JSON(c, http.StatusOK, res, nil)
}
