// Пакет server — HTTP-сервер catalog master с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/catalog-master/internal/api/handlers"
	"github.com/bigkaa/goartstore/catalog-master/internal/api/middleware"
	"github.com/bigkaa/goartstore/catalog-master/internal/config"
)

// Handlers — обработчики, монтируемые сервером.
type Handlers struct {
	Master  *handlers.MasterHandler
	TServer *handlers.TServerHandler
	System  *handlers.SystemHandler
	Health  *handlers.HealthHandler
}

// JWTAuthProvider — JWT middleware (nil — аутентификация отключена).
type JWTAuthProvider interface {
	Middleware() func(http.Handler) http.Handler
}

// Server — HTTP-сервер catalog master.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для разработки без auth).
func New(cfg *config.Config, logger *slog.Logger, h Handlers, jwtAuth JWTAuthProvider) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, jwtAuth),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты catalog master.
//
// Публичные: /health/*, /metrics, /api/v1/info.
// С JWT: остальной /api/v1 (изменения — scope catalog:write, чтение —
// catalog:read) и /tserver/v1 (catalog:read).
func NewRouter(logger *slog.Logger, h Handlers, jwtAuth JWTAuthProvider) chi.Router {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	authenticated := func(r chi.Router) chi.Router {
		if jwtAuth == nil {
			return r
		}
		return r.With(jwtAuth.Middleware())
	}
	scope := func(r chi.Router, s string) chi.Router {
		if jwtAuth == nil {
			return r
		}
		return r.With(middleware.RequireScope(s))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", h.System.GetInfo)

		r.Group(func(r chi.Router) {
			r = authenticated(r)

			read := scope(r, middleware.ScopeCatalogRead)
			read.Get("/tables", h.Master.ListTables)
			read.Get("/tables/{table_id}", h.Master.GetTable)
			read.Get("/catalog/status", h.Master.GetCatalogStatus)
			read.Get("/debug/leader-guards", h.System.GetLeaderGuards)

			write := scope(r, middleware.ScopeCatalogWrite)
			write.Post("/tables", h.Master.CreateTable)
			write.Patch("/tables/{table_id}", h.Master.AlterTable)
			write.Delete("/tables/{table_id}", h.Master.DeleteTable)
		})
	})

	router.Route("/tserver/v1", func(r chi.Router) {
		read := scope(authenticated(r), middleware.ScopeCatalogRead)
		read.Get("/tables/{table_id}/schema", h.TServer.GetTableSchema)
		read.Get("/catalog/ready", h.TServer.GetCatalogReady)
	})

	return router
}

// Handler возвращает корневой http.Handler (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом
// CM_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Остановка HTTP-сервера по отмене контекста")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
