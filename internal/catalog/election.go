package catalog

import (
	"context"
	"log/slog"

	"github.com/bigkaa/goartstore/catalog-master/internal/replica"
)

// ElectionCallbacks связывает выборы лидера с переходами catalog manager.
// ctx ограничивает ожидание эксклюзивной роли барьера при каждом переходе.
func (m *Manager) ElectionCallbacks(ctx context.Context) replica.ElectionCallbacks {
	return replica.ElectionCallbacks{
		OnBecomeLeader: func() {
			if err := m.BecomeLeader(ctx); err != nil {
				m.logger.Error("Не удалось стать лидером", slog.String("error", err.Error()))
			}
		},
		OnBecomeFollower: func(leaderAddr string) {
			if err := m.StepDown(ctx, leaderAddr); err != nil {
				m.logger.Error("Не удалось перейти в follower", slog.String("error", err.Error()))
			}
		},
		OnLeaderAddr: func(leaderAddr string) {
			if err := m.SetLeaderHint(ctx, leaderAddr); err != nil {
				m.logger.Warn("Не удалось обновить адрес лидера", slog.String("error", err.Error()))
			}
		},
	}
}
