package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/xarb/internal/scheduler"
)

// StatusSource exposes the engine snapshot. *scheduler.Scheduler
// satisfies it.
type StatusSource interface {
	Status() scheduler.Status
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	mode      string
	source    StatusSource
	startedAt time.Time
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, source StatusSource, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, source: source, startedAt: startedAt, now: time.Now}
}

// GetStatus returns the run mode, uptime and the latest engine snapshot.
// A halted engine answers 503 with the same body.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.source.Status()
	code := http.StatusOK
	if st.Halted {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(h.now().Sub(h.startedAt).Seconds()),
		"engine":         st,
	})
}
