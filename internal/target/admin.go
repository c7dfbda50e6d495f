package target

import (
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/blkio/internal/auth"
	"github.com/danmuck/blkio/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// AdminRouter serves health, readiness, metrics and the device listing.
func (s *Server) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminMiddleware(s.cfg.ID, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.cfg.ID,
			"version": version,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		ready := s.listener != nil
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": ready,
			"addr":  s.Addr(),
			"node":  s.cfg.ID,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	devices := r.Group("/")
	if s.cfg.AdminToken != "" {
		devices.Use(auth.RequireToken(auth.StaticToken{Token: s.cfg.AdminToken}))
	}
	devices.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"devices": s.store.List()})
	})
	devices.GET("/device/*path", func(c *gin.Context) {
		info, err := s.store.Stat(c.Param("path"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	})
	return r
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
