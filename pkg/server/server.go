// Package server exposes the dialogue engine over HTTP: graph editing,
// conversation management, turn execution and a websocket chat channel.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/ovalle/stateflow/internal/observability"
	"github.com/ovalle/stateflow/pkg/completion"
	"github.com/ovalle/stateflow/pkg/conversation"
	"github.com/ovalle/stateflow/pkg/engine"
	"github.com/ovalle/stateflow/pkg/graph"
	"github.com/ovalle/stateflow/pkg/intent"
)

// Config holds server configuration and dependencies.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration

	Graph      graph.Store
	Sessions   *conversation.Manager
	Engine     *engine.Orchestrator
	Classifier *intent.Classifier
	Picker     *completion.Picker
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer validates the config and builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Graph == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("turn engine is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("intent classifier is required")
	}
	if cfg.Picker == nil {
		return nil, fmt.Errorf("model picker is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.Router(),
	}

	return s, nil
}

// Router builds the chi router. Exposed so tests can drive the handlers
// through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/agents", s.handleCreateAgent)
		r.Get("/agents", s.handleListAgents)
		r.Patch("/agents/{agentID}", s.handleUpdateAgent)
		r.Get("/agents/{agentID}/states", s.handleListStates)
		r.Post("/agents/{agentID}/states", s.handleCreateState)

		r.Patch("/states/{stateID}", s.handleUpdateState)
		r.Put("/states/{stateID}/position", s.handleUpdatePosition)
		r.Delete("/states/{stateID}", s.handleDeleteState)

		r.Post("/edges", s.handleCreateEdge)

		r.Get("/conversations", s.handleListConversations)
		r.Patch("/conversations/{conversationID}/close", s.handleCloseConversation)
		r.Delete("/conversations/{conversationID}", s.handleDeleteConversation)

		r.Post("/turns", s.handleTurn)
		r.Post("/intent", s.handleIntent)
		r.Get("/weather", s.handleWeather)
	})

	r.Get("/ws/chat", s.handleChatSocket)
	r.Handle("/metrics", observability.MetricsHandler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}

// Start begins serving in a goroutine.
func (s *Server) Start() error {
	log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// requestID tags each request with a short random id for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := gonanoid.New()
		if err == nil {
			w.Header().Set("X-Request-Id", id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// RequestID returns the id the middleware attached, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
