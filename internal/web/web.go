package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"caldavcal/internal/config"
	"caldavcal/internal/entity"
	appLog "caldavcal/internal/log"
)

// Registry is the set of calendar entities served by the API.
type Registry interface {
	All() []*entity.Adapter
	Get(id string) (*entity.Adapter, bool)
}

// Server provides the HTTP status API for calendar entities.
type Server struct {
	cfg    *config.Config
	reg    Registry
	router *mux.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, reg Registry) *Server {
	s := &Server{
		cfg:    cfg,
		reg:    reg,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		s.router.Use(s.basicAuthMiddleware)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/calendars", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/calendars/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/calendars/{id}/refresh", s.handleRefresh).Methods(http.MethodPost)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="caldavcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg *config.Config, reg Registry) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cfg, reg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleList returns the state of every entity in configuration order.
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	all := s.reg.All()
	states := make([]entity.State, 0, len(all))
	for _, a := range all {
		states = append(states, a.State())
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.State())
}

// handleRefresh updates the entity now, ignoring the throttle, and returns
// its new state.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if err := a.ForceRefresh(r.Context()); err != nil {
		appLog.Error("api refresh failed", err, "entity_id", a.ID())
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	appLog.Info("api refresh", "entity_id", a.ID())
	writeJSON(w, http.StatusOK, a.State())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*entity.Adapter, bool) {
	id := mux.Vars(r)["id"]
	a, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown calendar entity "+id)
		return nil, false
	}
	return a, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
