// system.go — GET /api/v1/info и GET /api/v1/debug/leader-guards.
// Гейт лидерства не применяется: оба endpoint-а отвечают на любом узле
// в любом состоянии.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/catalog-master/internal/catalog"
	"github.com/bigkaa/goartstore/catalog-master/internal/config"
	"github.com/bigkaa/goartstore/catalog-master/internal/leaderlock"
)

// StateSnapshotter — согласованный снимок состояния catalog manager.
type StateSnapshotter interface {
	Snapshot(ctx context.Context) (catalog.StateSnapshot, error)
}

// GuardDiagnostics — журнал долгих удержаний guard-ов.
type GuardDiagnostics interface {
	Recent() []leaderlock.LongHold
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg   *config.Config
	state StateSnapshotter
	diag  GuardDiagnostics
	wait  lockWait
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(cfg *config.Config, state StateSnapshotter, diag GuardDiagnostics) *SystemHandler {
	return &SystemHandler{
		cfg:   cfg,
		state: state,
		diag:  diag,
		wait:  lockWait(cfg.LockWaitTimeout),
	}
}

type infoResponse struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	ReplicaMode string `json:"replica_mode"`
	catalog.StateSnapshot
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.wait.bound(r)
	defer cancel()

	snap, err := h.state.Snapshot(ctx)
	if err != nil {
		lockWaitFailed(w, r, h.wait, err)
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{
		Service:       "catalog-master",
		Version:       config.Version,
		ReplicaMode:   h.cfg.ReplicaMode,
		StateSnapshot: snap,
	})
}

type leaderGuardsResponse struct {
	WarnThresholdMillis int64                 `json:"warn_threshold_ms"`
	Holds               []leaderlock.LongHold `json:"holds"`
	GeneratedAt         string                `json:"generated_at"`
}

// GetLeaderGuards обрабатывает GET /api/v1/debug/leader-guards.
// Записи отсортированы по длительности удержания, самые долгие первыми.
func (h *SystemHandler) GetLeaderGuards(w http.ResponseWriter, _ *http.Request) {
	holds := h.diag.Recent()
	if holds == nil {
		holds = []leaderlock.LongHold{}
	}
	writeJSON(w, http.StatusOK, leaderGuardsResponse{
		WarnThresholdMillis: h.cfg.LeaderLockWarnThreshold.Milliseconds(),
		Holds:               holds,
		GeneratedAt:         formatTime(time.Now()),
	})
}
