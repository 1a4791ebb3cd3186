package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/study-analytics-api/internal/dto"
	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/response"
)

type provisioningService interface {
	Provision(ctx context.Context, rc models.RequestContext, req dto.ProvisionRequest) (*models.ProvisioningStatus, error)
	Status(ctx context.Context, rc models.RequestContext) (*models.ProvisioningStatus, error)
}

// OnboardingHandler creates the lecturer's analytics account.
type OnboardingHandler struct {
	service   provisioningService
	endpoints endpointSource
}

// NewOnboardingHandler constructs the handler.
func NewOnboardingHandler(service provisioningService, endpoints endpointSource) *OnboardingHandler {
	return &OnboardingHandler{service: service, endpoints: endpoints}
}

// Status godoc
// @Summary Analytics account provisioning status
// @Tags Onboarding
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /onboarding [get]
func (h *OnboardingHandler) Status(c *gin.Context) {
	rc, err := requestContext(c, h.endpoints)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.service.Status(c.Request.Context(), rc)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// Provision godoc
// @Summary Create the analytics account, space, role and dashboard
// @Tags Onboarding
// @Accept json
// @Produce json
// @Param payload body dto.ProvisionRequest true "Password for the analytics account"
// @Success 201 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /onboarding [post]
func (h *OnboardingHandler) Provision(c *gin.Context) {
	var req dto.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid onboarding payload"))
		return
	}
	rc, err := requestContext(c, h.endpoints)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.service.Provision(c.Request.Context(), rc, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Notify(c, http.StatusCreated, "User was created successfully", status)
}
