package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepa-tools/colloscope-api/internal/dto"
	"github.com/prepa-tools/colloscope-api/internal/service"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
	"github.com/prepa-tools/colloscope-api/pkg/response"
)

// AttemptHandler serves the attempt archive. The service is nil when
// archiving is disabled; the routes then answer 404.
type AttemptHandler struct {
	service *service.ArchiveService
}

// NewAttemptHandler constructs the handler.
func NewAttemptHandler(service *service.ArchiveService) *AttemptHandler {
	return &AttemptHandler{service: service}
}

// List godoc
// @Summary List archived attempts
// @Tags Attempts
// @Produce json
// @Param outcome query string false "Outcome filter (SOLVED, FAILED, CANCELLED)"
// @Param backend query string false "Backend filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attempts [get]
func (h *AttemptHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "attempt archive is disabled"))
		return
	}

	var query dto.AttemptQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attempt query"))
		return
	}

	items, page, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, page)
}

// Get godoc
// @Summary Get one archived attempt
// @Tags Attempts
// @Produce json
// @Param id path string true "Attempt ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attempts/{id} [get]
func (h *AttemptHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "attempt archive is disabled"))
		return
	}

	attempt, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, attempt, nil)
}
