// Package httpapi is the thin HTTP surface alongside the line-oriented
// TCP protocol (spec §1 scope note): Prometheus scraping plus health
// probes, grounded on cuemby-warren/cmd/warren/main.go's
// `http.Handle("/metrics", metrics.Handler())` + bare ListenAndServe
// pattern, and a plain-text /command endpoint that passes the request
// body as one command line to pkg/server's Dispatcher and writes back the
// same text response the TCP wire protocol would send.
package httpapi

import (
	"context"
	"net/http"

	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/metrics"
	"github.com/libraz/mygram-db/pkg/server"
)

// Server is the HTTP surface: /metrics, /healthz, /readyz, /livez, and
// /command. Unlike the teacher's bare `http.ListenAndServe(addr, nil)`
// against the global DefaultServeMux, this builds its own mux and
// *http.Server so Shutdown can be driven by the signal handler in
// pkg/signals instead of only ever exiting with the process.
type Server struct {
	httpSrv *http.Server
}

// New builds a Server bound to addr. dispatcher may be nil, in which
// case /command responds 503; this lets the metrics/health surface come
// up before the table set and binlog reader are ready.
func New(addr string, dispatcher *server.Dispatcher) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())
	mux.Handle("/command", commandHandler(dispatcher))

	return &Server{
		httpSrv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start begins serving in a background goroutine. The http.ErrServerClosed
// returned after Shutdown is ignored; any other serve error (a bind
// failure included) is logged at error level.
func (s *Server) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("httpapi").Error().Err(err).Msg("http server error")
		}
	}()
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight
// requests to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
