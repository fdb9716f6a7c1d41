package route

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/offsync/internal/api/http/handler"
	"github.com/bft-labs/offsync/internal/api/http/middleware"
	"github.com/bft-labs/offsync/pkg/log"
)

// BasePath prefixes every control API route.
const BasePath = "/v1"

type Config struct {
	CORSOrigins []string
	Metrics     bool

	// Fallback serves every request no route matches, typically the
	// intercepting proxy in front of the remote origin.
	Fallback http.Handler
}

type Handlers struct {
	Status *handler.StatusHandler
	Queue  *handler.QueueHandler
	Cache  *handler.CacheHandler
}

func SetupRouter(logger log.Logger, cfg Config, h Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	if cfg.Fallback != nil {
		router.NoRoute(gin.WrapH(cfg.Fallback))
	} else {
		router.HandleMethodNotAllowed = true
		router.NoMethod(handler.NoMethod)
	}

	if cfg.Metrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	base := router.Group(BasePath)
	RegisterStatus(base, h.Status)
	RegisterQueue(base.Group("/queue"), h.Queue)
	base.GET("/quarantine", h.Queue.Quarantined)
	base.DELETE("/quarantine/:id", h.Queue.Discard)
	RegisterCache(base, h.Cache)

	return router
}
