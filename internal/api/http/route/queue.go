package route

import "github.com/gin-gonic/gin"

type QueueHandler interface {
	Enqueue(c *gin.Context)
	List(c *gin.Context)
	Get(c *gin.Context)
}

func RegisterQueue(g *gin.RouterGroup, h QueueHandler) {
	g.POST("", h.Enqueue)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}
