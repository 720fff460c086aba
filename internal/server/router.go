// Package server exposes a running benchmark over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/graphbench/internal/collector"
)

// Status is the state of a run as served by /status.
type Status struct {
	RunID      string    `json:"run_id"`
	Vendor     string    `json:"vendor"`
	Dataset    string    `json:"dataset"`
	Phase      string    `json:"phase"`
	Queries    int       `json:"queries"`
	Scheduled  int       `json:"scheduled"`
	Completed  uint64    `json:"completed"`
	StartedAt  time.Time `json:"started_at"`
	BackendPID int       `json:"backend_pid,omitempty"`
	Restarts   int       `json:"restarts"`
}

// Source provides the live view of a run.
type Source interface {
	Status() Status
	Collector() *collector.MetricsCollector
}

// Router serves a run. Endpoints:
//
//	GET {basePath}/metrics   Prometheus exposition of gatherer
//	GET {basePath}/status    Status JSON
//	GET {basePath}/report    report rows; format=md for markdown, operation=<name> filters
type Router struct {
	src      Source
	gatherer prometheus.Gatherer
	basePath string
}

// NewRouter constructs a Router. A nil gatherer serves the default registry.
func NewRouter(src Source, gatherer prometheus.Gatherer, basePath string) *Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Router{src: src, gatherer: gatherer, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	group.GET("/status", r.handleStatus)
	group.GET("/report", r.handleReport)
	return g
}

// Server is a started HTTP server.
type Server struct {
	srv *http.Server
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("HTTP server listening", "addr", addr)
	return &Server{srv: srv}
}

// Shutdown stops the server, waiting up to 5s for open requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Status())
}

func (r *Router) handleReport(c *gin.Context) {
	mc := r.src.Collector()
	if mc == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no run in progress"})
		return
	}
	if c.Query("format") == "md" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(mc.Markdown()))
		return
	}
	rows := mc.Report()
	if op := c.Query("operation"); op != "" {
		if !isSafeName(op) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid operation: allowed [A-Za-z0-9._-]"})
			return
		}
		filtered := rows[:0]
		for _, row := range rows {
			if row.Operation == op {
				filtered = append(filtered, row)
			}
		}
		if len(filtered) == 0 {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown operation " + op})
			return
		}
		rows = filtered
	}
	writeJSON(c, http.StatusOK, rows)
}
