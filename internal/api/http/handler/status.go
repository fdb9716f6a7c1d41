package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/pkg/offsync"
)

// StatusService is the part of the engine the status endpoints need.
type StatusService interface {
	Status() offsync.State
	IsOnline() bool
	Degraded() bool
	Stats(ctx context.Context) (domain.Stats, error)
	SetOnline(online bool, reason string) bool
	Probe(ctx context.Context) bool
	ForceResync(ctx context.Context) (offsync.PassResult, error)
	Prune(ctx context.Context) (int64, error)
}

type StatusHandler struct {
	svc StatusService
}

func NewStatusHandler(svc StatusService) *StatusHandler {
	return &StatusHandler{svc: svc}
}

type statusResponse struct {
	State    string       `json:"state"`
	Online   bool         `json:"online"`
	Degraded bool         `json:"degraded"`
	Queue    domain.Stats `json:"queue"`
}

// Status reports lifecycle, connectivity and queue counters.
func (h *StatusHandler) Status(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, statusResponse{
		State:    h.svc.Status().String(),
		Online:   h.svc.IsOnline(),
		Degraded: h.svc.Degraded(),
		Queue:    stats,
	})
}

type connectivityRequest struct {
	Online *bool  `json:"online" binding:"required"`
	Reason string `json:"reason"`
}

type connectivityResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

// SetConnectivity feeds a platform online/offline signal into the monitor.
func (h *StatusHandler) SetConnectivity(c *gin.Context) {
	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "api"
	}
	changed := h.svc.SetOnline(*req.Online, req.Reason)
	ok(c, http.StatusOK, connectivityResponse{Online: h.svc.IsOnline(), Changed: changed})
}

// Probe checks reachability now.
func (h *StatusHandler) Probe(c *gin.Context) {
	online := h.svc.Probe(c.Request.Context())
	ok(c, http.StatusOK, connectivityResponse{Online: online})
}

type passResponse struct {
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	Attempted   int       `json:"attempted"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
	Rejected    int       `json:"rejected"`
	Quarantined int       `json:"quarantined"`
	Systemic    bool      `json:"systemic"`
	Error       string    `json:"error,omitempty"`
}

// Resync runs a reconciliation pass and returns its summary.
func (h *StatusHandler) Resync(c *gin.Context) {
	res, err := h.svc.ForceResync(c.Request.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.Status(499)
			return
		}
		fail(c, err)
		return
	}
	out := passResponse{
		Trigger:     res.Trigger,
		StartedAt:   res.StartedAt,
		DurationMS:  res.Duration.Milliseconds(),
		Attempted:   res.Attempted,
		Delivered:   res.Delivered,
		Failed:      res.Failed,
		Rejected:    res.Rejected,
		Quarantined: res.Quarantined,
		Systemic:    res.Systemic(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	ok(c, http.StatusOK, out)
}

// Prune removes delivered items past retention.
func (h *StatusHandler) Prune(c *gin.Context) {
	n, err := h.svc.Prune(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"pruned": n})
}
