package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prepa-tools/colloscope-api/internal/service"
)

// HealthHandler reports liveness plus a small operational snapshot.
type HealthHandler struct {
	solve   *service.SolveService
	archive *service.ArchiveService
	started time.Time
}

// NewHealthHandler constructs the handler. The archive service may be nil.
func NewHealthHandler(solve *service.SolveService, archive *service.ArchiveService) *HealthHandler {
	return &HealthHandler{solve: solve, archive: archive, started: time.Now()}
}

// Healthz godoc
// @Summary Liveness probe
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /healthz [get]
func (h *HealthHandler) Healthz(c *gin.Context) {
	payload := gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"engine":         h.solve.State(),
	}
	if h.archive != nil {
		payload["archive_queue_depth"] = h.archive.QueueDepth()
	}
	c.JSON(http.StatusOK, payload)
}
