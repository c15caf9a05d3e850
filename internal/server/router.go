// Package server provides the embeddable HTTP surface of a relay:
// supervisor status, liveness, and Prometheus metrics. It is read-only;
// the relay is controlled through its process lifecycle, not HTTP.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/topecongiro/rtsp-to-kvs/internal/metrics"
	"github.com/topecongiro/rtsp-to-kvs/internal/supervisor"
)

// Router provides embeddable HTTP handlers for observing a relay.
// Endpoints:
//
//	GET {basePath}/status   supervisor snapshot
//	GET {basePath}/healthz  200 while the relay can still recover
//	GET {basePath}/metrics  Prometheus metrics
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Status())
}

func (r *Router) handleHealthz(c *gin.Context) {
	st := r.sup.Status()
	if st.State == "giving-up" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"state": st.State, "error": st.LastError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": st.State})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimRight(bp, "/")
	if bp != "" && !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return bp
}
