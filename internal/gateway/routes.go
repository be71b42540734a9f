package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/meshgate/internal/observability"
)

func (s *Service) adminServer(addr string) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(s.logger))
	router.Use(observability.RequestMetricsMiddleware())
	s.registerRoutes(router)
	return &http.Server{Addr: addr, Handler: router}
}

func (s *Service) registerRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/ports", s.handlePorts)
	r.GET("/subscribers", s.handleSubscribers)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "meshgate",
		"uptime":      time.Since(s.started).String(),
		"feed_addr":   s.FeedAddr(),
		"ports":       len(s.conns),
		"subscribers": s.dist.Subscribers(),
	})
}

func (s *Service) handlePorts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ports": s.PortStatuses()})
}

func (s *Service) handleSubscribers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"subscribers": s.dist.SnapshotSubscribers()})
}
