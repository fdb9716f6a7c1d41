package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bft-labs/offsync/internal/domain"
)

const maxValueBytes = 1 << 20

type CacheService interface {
	LoadCached(ctx context.Context, collection, key string) (domain.CachedEntry, bool)
	ListCached(ctx context.Context, collection string) ([]domain.CachedEntry, error)
	EvictCached(ctx context.Context, collection, key string) error
	SaveCached(ctx context.Context, collection, key string, value any) error
	Fetch(ctx context.Context, collection, key string) (domain.CachedEntry, error)
	PutPreference(ctx context.Context, key string, value any) error
	GetPreference(ctx context.Context, key string) (json.RawMessage, error)
}

type CacheHandler struct {
	svc CacheService
}

func NewCacheHandler(svc CacheService) *CacheHandler {
	return &CacheHandler{svc: svc}
}

// GetCached returns a stored snapshot. ?fetch=true reads through the remote
// when online and falls back to the snapshot otherwise.
func (h *CacheHandler) GetCached(c *gin.Context) {
	collection, key := c.Param("collection"), c.Param("key")

	if fetch, _ := strconv.ParseBool(c.Query("fetch")); fetch {
		entry, err := h.svc.Fetch(c.Request.Context(), collection, key)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, entry)
		return
	}

	entry, found := h.svc.LoadCached(c.Request.Context(), collection, key)
	if !found {
		fail(c, fmt.Errorf("cached %s/%s: %w", collection, key, domain.ErrNotFound))
		return
	}
	ok(c, http.StatusOK, entry)
}

// ListCached returns every snapshot of a collection. An unknown collection
// yields an empty list.
func (h *CacheHandler) ListCached(c *gin.Context) {
	entries, err := h.svc.ListCached(c.Request.Context(), c.Param("collection"))
	if err != nil {
		fail(c, err)
		return
	}
	if entries == nil {
		entries = []domain.CachedEntry{}
	}
	ok(c, http.StatusOK, entries)
}

func (h *CacheHandler) EvictCached(c *gin.Context) {
	if err := h.svc.EvictCached(c.Request.Context(), c.Param("collection"), c.Param("key")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CacheHandler) PutCached(c *gin.Context) {
	value, err := readValue(c)
	if err != nil {
		invalid(c, err.Error())
		return
	}
	if err := h.svc.SaveCached(c.Request.Context(), c.Param("collection"), c.Param("key"), value); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CacheHandler) GetPreference(c *gin.Context) {
	value, err := h.svc.GetPreference(c.Request.Context(), c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, value)
}

func (h *CacheHandler) PutPreference(c *gin.Context) {
	value, err := readValue(c)
	if err != nil {
		invalid(c, err.Error())
		return
	}
	if err := h.svc.PutPreference(c.Request.Context(), c.Param("key"), value); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func readValue(c *gin.Context) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxValueBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxValueBytes {
		return nil, fmt.Errorf("value exceeds %d bytes", maxValueBytes)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("body is not valid JSON")
	}
	return json.RawMessage(body), nil
}
