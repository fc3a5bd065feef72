package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики catalog manager.
var (
	isLeaderGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cm_catalog_is_leader",
		Help: "1, если узел — лидер с загруженными метаданными.",
	})
	initializedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cm_catalog_initialized",
		Help: "1, если catalog manager инициализирован.",
	})
	leaderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_catalog_leader_transitions_total",
		Help: "Количество смен лидерства по итоговому состоянию.",
	}, []string{"to"})
	tablesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cm_catalog_tables",
		Help: "Количество таблиц в индексе лидера.",
	})
	tableOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_catalog_table_operations_total",
		Help: "Количество операций над таблицами по типу и результату.",
	}, []string{"operation", "result"})
)
