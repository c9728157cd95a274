package adminapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/aegisbox-smsc/internal/config"
)

// Server hosts the admin routes on their own listener.
type Server struct {
	httpServer *http.Server
}

// NewRouter builds the gin engine with recovery and the admin routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	SetupRoutes(router, h)
	return router
}

func NewServer(cfg config.AdminConfig, h *Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(h),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		},
	}
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("Starting Admin API Server", slog.String("address", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Admin API ListenAndServe error", slog.Any("error", err))
		return err
	}
	slog.Info("Admin API Server stopped.")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
