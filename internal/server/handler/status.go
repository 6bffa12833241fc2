package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/momentumrace/internal/platform/racews"
)

// RealtimeStatus reports the realtime session flags.
type RealtimeStatus interface {
	Status() racews.Status
}

// StatusHandler serves the daemon status.
type StatusHandler struct {
	mode      string
	player    string
	realtime  RealtimeStatus // nil when the feed is not running
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. realtime may be nil.
func NewStatusHandler(mode, player string, realtime RealtimeStatus) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		player:    player,
		realtime:  realtime,
		startedAt: time.Now(),
	}
}

type statusResponse struct {
	Mode          string         `json:"mode"`
	Player        string         `json:"player,omitempty"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Realtime      *racews.Status `json:"realtime,omitempty"`
}

// GetStatus responds with the run mode and the realtime session flags.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		Player:        h.player,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.realtime != nil {
		st := h.realtime.Status()
		resp.Realtime = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
