package web

import (
	"context"
	"io/fs"
	"log"
	"net"
	"net/http"
	"time"
)

// Server wraps the HTTP server, handlers and the WebSocket hub.
type Server struct {
	addr     string
	handlers *Handlers
	hub      *StatusHub
}

// NewServer creates a server configured for the given address and dependencies.
// sim may be nil.
func NewServer(addr string, broadcaster *StatusBroadcaster, engine Controller, sim Rotator) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, engine, sim, subFS),
		hub:      NewStatusHub(engine.Status, 250*time.Millisecond),
	}
}

// Hub returns the WebSocket status hub.
func (s *Server) Hub() *StatusHub {
	return s.hub
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("POST /api/set", h.HandleSet)
	mux.HandleFunc("POST /api/stop", h.HandleStop)
	mux.HandleFunc("POST /api/output", h.HandleOutput)
	mux.HandleFunc("GET /api/settings", h.HandleGetSettings)
	mux.HandleFunc("POST /api/settings", h.HandlePostSettings)
	mux.HandleFunc("POST /api/debug", h.HandleDebug)
	mux.HandleFunc("GET /api/debug/info", h.HandleDebugInfo)
	mux.HandleFunc("POST /api/sim/rotate", h.HandleSimRotate)
	mux.Handle("GET /api/ws", s.hub)
	mux.HandleFunc("GET /dial.png", h.HandleDial)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and the hub and blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		// SSE streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
