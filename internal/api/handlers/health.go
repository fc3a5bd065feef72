// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bigkaa/goartstore/catalog-master/internal/config"
	"github.com/bigkaa/goartstore/catalog-master/internal/replica"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// ReadinessChecker — готовность catalog manager (без барьера лидерства).
type ReadinessChecker interface {
	IsReady() bool
}

// DependencyHealth — состояние внешних зависимостей (topologymetrics).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — директория системного каталога (для проверки FS)
	dataDir string
	// walDir — директория WAL
	walDir string
	ready  ReadinessChecker
	roles  replica.RoleProvider
	// deps — nil, если мониторинг зависимостей не запущен
	deps DependencyHealth
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps может быть nil.
func NewHealthHandler(dataDir, walDir string, ready ReadinessChecker, roles replica.RoleProvider, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		walDir:  walDir,
		ready:   ready,
		roles:   roles,
		deps:    deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "catalog-master",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файловая система, WAL директория, инициализация catalog manager,
// у follower — известен ли адрес лидера.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := checkWritable(h.dataDir, "Директория данных недоступна для записи: ")
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	walCheck := checkWritable(h.walDir, "Директория WAL недоступна для записи: ")
	if walCheck["status"] != "ok" && overallStatus != statusFail {
		overallStatus = "degraded"
	}

	catalogCheck := map[string]any{"status": "ok"}
	if h.ready != nil && !h.ready.IsReady() {
		catalogCheck = map[string]any{
			"status":  statusFail,
			"message": "Catalog manager не инициализирован",
		}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := map[string]any{
		"filesystem":      fsCheck,
		"wal":             walCheck,
		"catalog_manager": catalogCheck,
	}

	// Проверка leader connection (только для follower в replicated mode)
	if h.roles != nil && h.roles.CurrentRole() == replica.RoleFollower {
		leaderCheck := h.checkLeaderConnection()
		checks["leader_connection"] = leaderCheck
		if leaderCheck["status"] != "ok" && overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	if h.deps != nil {
		depCheck := h.checkDependencies()
		checks["dependencies"] = depCheck
		if depCheck["status"] != "ok" && overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "catalog-master",
		"checks":    checks,
	})
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, failPrefix string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failPrefix + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

// checkLeaderConnection проверяет, известен ли адрес лидера (для follower).
func (h *HealthHandler) checkLeaderConnection() map[string]any {
	addr := h.roles.LeaderAddr()
	if addr == "" {
		return map[string]any{
			"status":  statusFail,
			"message": "Адрес leader неизвестен",
		}
	}
	return map[string]any{
		"status":      "ok",
		"leader_addr": addr,
	}
}

// checkDependencies сводит состояние зависимостей из topologymetrics.
func (h *HealthHandler) checkDependencies() map[string]any {
	health := h.deps.Health()
	var failed []string
	for name, ok := range health {
		if !ok {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return map[string]any{
			"status": statusFail,
			"failed": failed,
		}
	}
	return map[string]any{
		"status": "ok",
		"count":  len(health),
	}
}
