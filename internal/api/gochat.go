package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-teamchat/internal/auth"
	"github.com/npezzotti/go-teamchat/internal/config"
	"github.com/npezzotti/go-teamchat/internal/database"
	"github.com/npezzotti/go-teamchat/internal/server"
	"go.uber.org/zap"
)

type GoChatApp struct {
	log            *zap.SugaredLogger
	db             database.GoChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	issuer         *auth.JWTIssuer
	allowedOrigins []string
}

// NewGoChatApp registers the REST and websocket routes on mux. mux may
// already carry other routes, such as the metrics endpoint.
func NewGoChatApp(mux *http.ServeMux, logger *zap.SugaredLogger, cs *server.ChatServer, db database.GoChatRepository, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		issuer:         auth.NewJWTIssuer(cfg.SigningKey),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.Handle("GET /api/presence/{userId}", s.authMiddleware(s.getPresence))
	mux.Handle("PATCH /api/messages/{id}", s.authMiddleware(s.editMessage))
	mux.Handle("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.Handle("DELETE /api/channels/{id}/sessions/{userId}", s.authMiddleware(s.evictFromChannel))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Infow("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
