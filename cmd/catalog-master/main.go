// Точка входа Catalog Master — хранителя системного каталога таблиц.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/goartstore/catalog-master/internal/api/handlers"
	"github.com/bigkaa/goartstore/catalog-master/internal/api/middleware"
	"github.com/bigkaa/goartstore/catalog-master/internal/catalog"
	"github.com/bigkaa/goartstore/catalog-master/internal/config"
	"github.com/bigkaa/goartstore/catalog-master/internal/leaderlock"
	"github.com/bigkaa/goartstore/catalog-master/internal/replica"
	"github.com/bigkaa/goartstore/catalog-master/internal/server"
	"github.com/bigkaa/goartstore/catalog-master/internal/service"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	selfAddr := replica.SelfAddr(cfg.Port)
	logger.Info("Catalog Master запускается",
		slog.String("node_id", cfg.NodeID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("replica_mode", cfg.ReplicaMode),
		slog.String("self_addr", selfAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация компонентов ---

	// 1. Диагностика барьера лидерства
	diag := leaderlock.NewDiagnostics(leaderlock.DiagnosticsConfig{
		WarnThreshold: cfg.LeaderLockWarnThreshold,
		RecentSize:    cfg.GuardDiagSize,
		RecentTTL:     cfg.GuardDiagTTL,
	}, logger, nil)

	// 2. Catalog manager
	manager := catalog.NewManager(catalog.ManagerConfig{
		NodeID:     cfg.NodeID,
		SelfAddr:   selfAddr,
		DataDir:    cfg.DataDir,
		WALDir:     cfg.WALDir,
		Standalone: cfg.Standalone(),
		Observer:   diag,
	}, logger)

	// Ошибка инициализации не останавливает процесс: узел отвечает
	// CATALOG_MANAGER_NOT_INITIALIZED, readiness probe не проходит.
	initErr := manager.Init(ctx)

	// 3. Лидерство: standalone — сразу, replicated — через flock
	var election *replica.Election
	switch {
	case initErr != nil:
		logger.Error("Catalog manager не инициализирован, лидерство не запрашивается",
			slog.String("error", initErr.Error()),
		)
	case cfg.Standalone():
		if err := manager.BecomeLeader(ctx); err != nil {
			logger.Error("Ошибка перехода в лидеры", slog.String("error", err.Error()))
		}
	default:
		election = replica.NewElection(cfg.DataDir, selfAddr, cfg.ElectionRetryInterval,
			manager.ElectionCallbacks(ctx), logger)
		if err := election.Start(); err != nil {
			logger.Error("Ошибка запуска выборов лидера", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Выборы лидера запущены",
			slog.String("role", string(manager.CurrentRole())),
			slog.String("leader_addr", manager.LeaderAddr()),
		)
	}

	// 4. topologymetrics — мониторинг JWKS (только при включённой аутентификации)
	var deps handlers.DependencyHealth
	var dephealthSvc *service.DephealthService
	if cfg.AuthEnabled() {
		dephealthSvc, err = service.NewDephealthService(service.DephealthConfig{
			NodeID:        cfg.NodeID,
			Group:         cfg.DephealthGroup,
			JWKSURL:       cfg.JWKSUrl,
			TLSSkipVerify: cfg.TLSSkipVerify,
			CheckInterval: cfg.DephealthCheckInterval,
		}, logger)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealthSvc = nil
		} else if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
			dephealthSvc = nil
		} else {
			deps = dephealthSvc
		}
	}

	// 5. JWT middleware
	var jwtAuth server.JWTAuthProvider
	if cfg.AuthEnabled() {
		auth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			Leeway:          cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка настройки JWT аутентификации", slog.String("error", err.Error()))
			os.Exit(1)
		}
		jwtAuth = auth
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("CM_JWKS_URL не задан, запуск без аутентификации")
	}

	// 6. HTTP-сервер
	srv := server.New(cfg, logger, server.Handlers{
		Master:  handlers.NewMasterHandler(manager, cfg.LockWaitTimeout, logger),
		TServer: handlers.NewTServerHandler(manager, cfg.LockWaitTimeout, logger),
		System:  handlers.NewSystemHandler(cfg, manager, diag),
		Health:  handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, manager, manager, deps),
	}, jwtAuth)

	runErr := srv.Run(ctx)

	// --- Graceful shutdown ---
	logger.Info("Остановка фоновых процессов...")

	// Flock освобождается до выхода, чтобы follower не ждал NFS lease.
	if election != nil {
		election.Stop()
	}
	stepCtx, stepCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := manager.StepDown(stepCtx, ""); err != nil {
		logger.Warn("Ошибка сдачи лидерства при остановке", slog.String("error", err.Error()))
	}
	stepCancel()

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	cancel()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Catalog Master остановлен")
}
