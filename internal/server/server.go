// Package server exposes the coordinator's run progress and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/setl/internal/logging"
	"github.com/danmuck/setl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const nodeName = "coordinator"

// Monitor is the optional HTTP surface of rank 0.
type Monitor struct {
	router  *gin.Engine
	tracker *Tracker
	started time.Time
	http    *http.Server
}

func New(tracker *Tracker, corsOrigins []string) *Monitor {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.InitLogger("setl-monitor")))
	r.Use(observability.RequestMetricsMiddleware(nodeName))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	m := &Monitor{router: r, tracker: tracker, started: time.Now()}
	m.registerRoutes()
	return m
}

// Start serves on addr in the background until Shutdown.
func (m *Monitor) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	m.http = &http.Server{Handler: m.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := m.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errf("server.Monitor serve addr=%s err=%v", ln.Addr(), err)
		}
	}()
	logging.Infof("server.Monitor listening addr=%s", ln.Addr())
	return ln.Addr(), nil
}

func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.http == nil {
		return nil
	}
	return m.http.Shutdown(ctx)
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

func rankKey(rank int) string {
	return strconv.Itoa(rank)
}
