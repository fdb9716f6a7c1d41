package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bft-labs/offsync/internal/domain"
)

type QueueService interface {
	Enqueue(ctx context.Context, kind, streamID string, payload any) (string, error)
	Items(ctx context.Context) ([]domain.QueuedItem, error)
	Item(ctx context.Context, id string) (domain.QueuedItem, error)
	Pending(ctx context.Context) ([]domain.QueuedItem, error)
	Quarantined(ctx context.Context) ([]domain.QueuedItem, error)
	Discard(ctx context.Context, id string) error
}

type QueueHandler struct {
	svc QueueService
}

func NewQueueHandler(svc QueueService) *QueueHandler {
	return &QueueHandler{svc: svc}
}

type enqueueRequest struct {
	Kind     string          `json:"kind" binding:"required"`
	StreamID string          `json:"stream_id" binding:"required"`
	Payload  json.RawMessage `json:"payload" binding:"required"`
}

// Enqueue records an outbound item.
func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err.Error())
		return
	}
	id, err := h.svc.Enqueue(c.Request.Context(), req.Kind, req.StreamID, req.Payload)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, gin.H{"id": id})
}

// List returns queued items. ?pending=true limits the list to items the next
// pass will attempt.
func (h *QueueHandler) List(c *gin.Context) {
	pending, _ := strconv.ParseBool(c.Query("pending"))

	var (
		items []domain.QueuedItem
		err   error
	)
	if pending {
		items, err = h.svc.Pending(c.Request.Context())
	} else {
		items, err = h.svc.Items(c.Request.Context())
	}
	if err != nil {
		fail(c, err)
		return
	}
	if items == nil {
		items = []domain.QueuedItem{}
	}
	ok(c, http.StatusOK, items)
}

func (h *QueueHandler) Get(c *gin.Context) {
	item, err := h.svc.Item(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, item)
}

func (h *QueueHandler) Quarantined(c *gin.Context) {
	items, err := h.svc.Quarantined(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if items == nil {
		items = []domain.QueuedItem{}
	}
	ok(c, http.StatusOK, items)
}

// Discard deletes a quarantined item.
func (h *QueueHandler) Discard(c *gin.Context) {
	if err := h.svc.Discard(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
