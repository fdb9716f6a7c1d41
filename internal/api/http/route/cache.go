package route

import "github.com/gin-gonic/gin"

type CacheHandler interface {
	ListCached(c *gin.Context)
	GetCached(c *gin.Context)
	EvictCached(c *gin.Context)
	PutCached(c *gin.Context)
	GetPreference(c *gin.Context)
	PutPreference(c *gin.Context)
}

func RegisterCache(g *gin.RouterGroup, h CacheHandler) {
	cache := g.Group("/cache")
	{
		cache.GET("/:collection", h.ListCached)
		cache.GET("/:collection/:key", h.GetCached)
		cache.PUT("/:collection/:key", h.PutCached)
		cache.DELETE("/:collection/:key", h.EvictCached)
	}

	prefs := g.Group("/preferences")
	{
		prefs.GET("/:key", h.GetPreference)
		prefs.PUT("/:key", h.PutPreference)
	}
}
