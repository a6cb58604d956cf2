package dispatcher

import (
	"net/http"
	"time"

	"github.com/ashmitkumar2005/rivault/internal/config"
	"github.com/ashmitkumar2005/rivault/internal/engine"
)

// Server is the HTTP surface over one Registry of per-user metadata
// actors, structured the way pkg/api.Server wraps a *manager.Manager: a
// single mux, a single entry point (Start), routes registered once in
// NewServer.
type Server struct {
	registry *engine.Registry
	cfg      config.Server
	mux      *http.ServeMux
	httpSrv  *http.Server
}

// NewServer builds a Server with every route registered, ready for Start.
func NewServer(registry *engine.Registry, cfg config.Server) *Server {
	s := &Server{
		registry: registry,
		cfg:      cfg,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/auth/verify", s.handleAuthVerify)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/drives", s.handleDrives)
	s.mux.HandleFunc("/drives/", s.handleDrive)
	s.mux.HandleFunc("/folders", s.handleFolders)
	s.mux.HandleFunc("/folders/", s.handleFolder)
	s.mux.HandleFunc("/files", s.handleFiles)
	s.mux.HandleFunc("/files/", s.handleFile)
	s.mux.HandleFunc("/nodes/", s.handleNode)
	s.mux.HandleFunc("/batch", s.handleBatch)
}

// Handler returns the fully wrapped handler (middleware + routes), for
// Start and for tests that want to drive it with httptest directly.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, withRecovery, withLogging, withCORS(s.cfg.AllowedOrigins))
}

// Start blocks serving on addr until the process is killed or the server
// errors, the same shape as pkg/api.HealthServer.Start.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // large chunk uploads/downloads can run long
		IdleTimeout:  60 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Stop closes the HTTP listener and any open connections immediately
// (in-flight requests are not drained) without touching the registry,
// mirroring pkg/api.Server.Stop's separation between the transport and the
// state it serves.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

// actorFor resolves the calling user's actor from the X-User-Id header,
// writing a 400 and returning ok=false if the header is missing.
func (s *Server) actorFor(w http.ResponseWriter, r *http.Request) (*engine.UserActor, bool) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing X-User-Id header", Kind: "invalid_request"})
		return nil, false
	}
	a, err := s.registry.Actor(userID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return a, true
}
