package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepa-tools/colloscope-api/internal/dto"
	"github.com/prepa-tools/colloscope-api/internal/engine"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
	"github.com/prepa-tools/colloscope-api/pkg/response"
)

type solveService interface {
	RequestSolve(ctx context.Context, req dto.SolveRequest) (*dto.SolveAccepted, error)
	ClaimEvents(attemptID string) (*engine.Subscription, error)
	State() dto.EngineStateDTO
	Cancel(ctx context.Context) bool
}

// SolveHandler exposes the solve pipeline over HTTP.
type SolveHandler struct {
	service solveService
}

// NewSolveHandler constructs the handler.
func NewSolveHandler(service solveService) *SolveHandler {
	return &SolveHandler{service: service}
}

// Solve godoc
// @Summary Request a solve attempt
// @Description Admits a new attempt, superseding any in-flight one. Build and solve outcomes arrive on the attempt's event stream.
// @Tags Solves
// @Accept json
// @Produce json
// @Param payload body dto.SolveRequest true "Solve request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /solves [post]
func (h *SolveHandler) Solve(c *gin.Context) {
	var req dto.SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid solve payload"))
		return
	}

	accepted, err := h.service.RequestSolve(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, accepted)
}

// Active godoc
// @Summary Current pipeline state
// @Tags Solves
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /solves/active [get]
func (h *SolveHandler) Active(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.State(), nil)
}

// Cancel godoc
// @Summary Cancel the in-flight attempt
// @Description Cooperative cancel; the attempt winds down asynchronously and its stream ends with an idle transition.
// @Tags Solves
// @Produce json
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /solves/active [delete]
func (h *SolveHandler) Cancel(c *gin.Context) {
	if !h.service.Cancel(c.Request.Context()) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no attempt in flight"))
		return
	}
	response.Accepted(c, h.service.State())
}

// Events godoc
// @Summary Stream attempt events
// @Description Server-Sent Events stream of the attempt's transitions and progress ticks. Each stream has exactly one consumer; it ends after the terminal transition.
// @Tags Solves
// @Produce text/event-stream
// @Param id path string true "Attempt ID"
// @Success 200 {string} string "event stream"
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /solves/{id}/events [get]
func (h *SolveHandler) Events(c *gin.Context) {
	sub, err := h.service.ClaimEvents(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			payload := dto.FromEvent(ev)
			c.SSEvent(payload.Kind, payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
