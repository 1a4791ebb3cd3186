package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/study-analytics-api/internal/dto"
	"github.com/noah-isme/study-analytics-api/internal/middleware"
	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/internal/service"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/response"
)

const rosterFormField = "csvfile"

type registrationService interface {
	Register(ctx context.Context, rc models.RequestContext, courseID int64) (*models.RegistrationStatus, error)
	Unregister(ctx context.Context, rc models.RequestContext, courseID int64) error
	UpdateFrequency(ctx context.Context, rc models.RequestContext, courseID int64, value int) (*models.RegistrationStatus, error)
	Status(ctx context.Context, rc models.RequestContext, courseID int64) (*models.RegistrationStatus, error)
	Require(ctx context.Context, rc models.RequestContext, courseID int64) (*models.CourseRegistration, error)
}

type updateService interface {
	TriggerManual(ctx context.Context, rc models.RequestContext, courseID int64) (*dto.ManualUpdateResponse, error)
}

type declarationUploader interface {
	UploadDeclarations(ctx context.Context, rc models.RequestContext, courseID int64, filename string, content []byte) (*dto.DeclarationUploadResponse, error)
}

type snapshotRenderer interface {
	Render(ctx context.Context, rc models.RequestContext, courseID int64, format models.SnapshotFormat) (*service.Snapshot, error)
}

// AnalyticsHandlerConfig limits uploads at the HTTP boundary.
type AnalyticsHandlerConfig struct {
	MaxUploadBytes int64
}

// AnalyticsHandler exposes the per-course study analytics endpoints.
type AnalyticsHandler struct {
	registrations registrationService
	updates       updateService
	uploads       declarationUploader
	snapshots     snapshotRenderer
	endpoints     endpointSource
	validate      *validator.Validate
	cfg           AnalyticsHandlerConfig
}

// NewAnalyticsHandler constructs an analytics handler.
func NewAnalyticsHandler(registrations registrationService, updates updateService, uploads declarationUploader, snapshots snapshotRenderer, endpoints endpointSource, validate *validator.Validate, cfg AnalyticsHandlerConfig) *AnalyticsHandler {
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	return &AnalyticsHandler{
		registrations: registrations,
		updates:       updates,
		uploads:       uploads,
		snapshots:     snapshots,
		endpoints:     endpoints,
		validate:      validate,
		cfg:           cfg,
	}
}

// Status godoc
// @Summary Course analytics registration status
// @Tags Analytics
// @Produce json
// @Param courseId path int true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/analytics [get]
func (h *AnalyticsHandler) Status(c *gin.Context) {
	rc, err := requestContext(c, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.registrations.Status(c.Request.Context(), rc, middleware.CourseID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// Register godoc
// @Summary Add the course to study analytics
// @Tags Analytics
// @Produce json
// @Param courseId path int true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /courses/{courseId}/analytics [post]
func (h *AnalyticsHandler) Register(c *gin.Context) {
	rc, err := requestContext(c, h.endpoints)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.registrations.Register(c.Request.Context(), rc, middleware.CourseID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Course was added successfully", status)
}

// Unregister godoc
// @Summary Remove the course from study analytics
// @Tags Analytics
// @Produce json
// @Param courseId path int true "Course ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/analytics [delete]
func (h *AnalyticsHandler) Unregister(c *gin.Context) {
	rc, err := requestContext(c, h.endpoints)
	if err != nil {
		response.Error(c, err)
		return
	}
	courseID := middleware.CourseID(c)
	if err := h.registrations.Unregister(c.Request.Context(), rc, courseID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateFrequency godoc
// @Summary Change the automatic grade update frequency
// @Tags Analytics
// @Accept json
// @Produce json
// @Param courseId path int true "Course ID"
// @Param payload body dto.UpdateFrequencyRequest true "0 none, 1 daily, 2 weekly, 3 monthly"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/analytics/frequency [put]
func (h *AnalyticsHandler) UpdateFrequency(c *gin.Context) {
	var req dto.UpdateFrequencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "update frequency must be between 0 and 3"))
		return
	}
	rc, err := requestContext(c, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.registrations.UpdateFrequency(c.Request.Context(), rc, middleware.CourseID(c), *req.UpdateFrequency)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Notify(c, http.StatusOK, `Updated "Grades update frequency" successfully`, status)
}

// TriggerUpdate godoc
// @Summary Queue a manual grade update
// @Tags Analytics
// @Produce json
// @Param courseId path int true "Course ID"
// @Success 202 {object} response.Envelope
// @Router /courses/{courseId}/analytics/updates [post]
func (h *AnalyticsHandler) TriggerUpdate(c *gin.Context) {
	rc, err := requestContext(c, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	resp, err := h.updates.TriggerManual(c.Request.Context(), rc, middleware.CourseID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, "Updating grades", resp)
}

// UploadDeclarations godoc
// @Summary Upload the declaration roster
// @Tags Analytics
// @Accept mpfd
// @Produce json
// @Param courseId path int true "Course ID"
// @Param csvfile formData file true "Semicolon separated roster with a UNI-ID column"
// @Success 200 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /courses/{courseId}/analytics/declarations [post]
func (h *AnalyticsHandler) UploadDeclarations(c *gin.Context) {
	rc, err := requestContext(c, h.endpoints)
	if err != nil {
		response.Error(c, err)
		return
	}
	courseID := middleware.CourseID(c)
	if _, err := h.registrations.Require(c.Request.Context(), rc, courseID); err != nil {
		response.Error(c, err)
		return
	}

	header, err := c.FormFile(rosterFormField)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s file is required", rosterFormField)))
		return
	}
	if header.Size > h.cfg.MaxUploadBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", h.cfg.MaxUploadBytes)))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to read upload"))
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to read upload"))
		return
	}

	result, err := h.uploads.UploadDeclarations(c.Request.Context(), rc, courseID, header.Filename, content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Notify(c, http.StatusOK, "Declarations were updated", result)
}

// Snapshot godoc
// @Summary Download the grades the next update would send
// @Tags Analytics
// @Produce text/csv
// @Produce application/pdf
// @Param courseId path int true "Course ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /courses/{courseId}/analytics/snapshot [get]
func (h *AnalyticsHandler) Snapshot(c *gin.Context) {
	rc, err := requestContext(c, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	courseID := middleware.CourseID(c)
	if _, err := h.registrations.Require(c.Request.Context(), rc, courseID); err != nil {
		response.Error(c, err)
		return
	}
	snap, err := h.snapshots.Render(c.Request.Context(), rc, courseID, models.SnapshotFormat(c.DefaultQuery("format", string(models.SnapshotFormatCSV))))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, snap.Filename, snap.ContentType, snap.Content)
}
