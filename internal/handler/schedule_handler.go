package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepa-tools/colloscope-api/internal/dto"
	"github.com/prepa-tools/colloscope-api/pkg/response"
)

type scheduleSource interface {
	Schedule() (*dto.ScheduleDTO, error)
	ScheduleRows() ([]dto.ScheduleRowDTO, error)
	Pins() []dto.PinDTO
}

// ScheduleHandler serves the latest accepted schedule.
type ScheduleHandler struct {
	service scheduleSource
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(service scheduleSource) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

// Get godoc
// @Summary Latest accepted schedule
// @Description Assignments, pins, objective and its breakdown. 404 while no schedule was ever accepted.
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedule [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	sched, err := h.service.Schedule()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sched, nil)
}

// Rows godoc
// @Summary Flat schedule rows
// @Description Stable (week, subject, group, teacher, slot) rows for exports.
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedule/rows [get]
func (h *ScheduleHandler) Rows(c *gin.Context) {
	rows, err := h.service.ScheduleRows()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Pins godoc
// @Summary Canonical pin set
// @Description The pin set carried into the next attempt, sorted.
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /schedule/pins [get]
func (h *ScheduleHandler) Pins(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Pins(), nil)
}
