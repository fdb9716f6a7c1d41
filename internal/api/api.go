// Package api exposes the engine over a local HTTP control API. Requests
// that match no control route are served by the engine's intercepting proxy.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/bft-labs/offsync/internal/api/http/handler"
	"github.com/bft-labs/offsync/internal/api/http/route"
	"github.com/bft-labs/offsync/pkg/log"
	"github.com/bft-labs/offsync/pkg/offsync"
)

// New builds the router for engine. cfg.Fallback defaults to engine.Handler().
func New(engine *offsync.Engine, logger log.Logger, cfg route.Config) *gin.Engine {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if cfg.Fallback == nil {
		cfg.Fallback = engine.Handler()
	}

	return route.SetupRouter(logger, cfg, route.Handlers{
		Status: handler.NewStatusHandler(engine),
		Queue:  handler.NewQueueHandler(engine),
		Cache:  handler.NewCacheHandler(engine),
	})
}
