// Пакет service — фоновые сервисы catalog master.
//
// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
// Catalog master мониторит JWKS endpoint (HTTP GET, critical), если
// аутентификация включена. Метрики app_dependency_* отдаются на /metrics.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks" // регистрация HTTP checker-а
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// NodeID — имя вершины графа (CM_NODE_ID)
	NodeID string
	// Group — группа в метриках (CM_DEPHEALTH_GROUP)
	Group string
	// JWKSURL — проверяемый endpoint (CM_JWKS_URL)
	JWKSURL string
	// TLSSkipVerify — CM_TLS_SKIP_VERIFY
	TLSSkipVerify bool
	// CheckInterval — CM_DEPHEALTH_CHECK_INTERVAL
	CheckInterval time.Duration
	// Registerer — nil для глобального registry
	Registerer prometheus.Registerer
}

// jwksDepName — имя зависимости JWKS в метриках.
const jwksDepName = "jwks"

// DephealthService — мониторинг зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP(jwksDepName,
			dephealth.FromURL(cfg.JWKSURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(cfg.TLSSkipVerify),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.NodeID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health — состояние зависимостей: имя → true, если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
