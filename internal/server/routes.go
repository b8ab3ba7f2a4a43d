package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (m *Monitor) registerRoutes() {
	m.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(m.started).String(),
			"node":   nodeName,
		})
	})

	m.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.tracker.Snapshot())
	})

	m.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
