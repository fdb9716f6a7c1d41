package route

import "github.com/gin-gonic/gin"

type StatusHandler interface {
	Status(c *gin.Context)
	SetConnectivity(c *gin.Context)
	Probe(c *gin.Context)
	Resync(c *gin.Context)
	Prune(c *gin.Context)
}

func RegisterStatus(g *gin.RouterGroup, h StatusHandler) {
	g.GET("/status", h.Status)
	g.POST("/connectivity", h.SetConnectivity)
	g.POST("/probe", h.Probe)
	g.POST("/resync", h.Resync)
	g.POST("/prune", h.Prune)
}
