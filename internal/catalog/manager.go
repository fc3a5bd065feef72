// Пакет catalog — catalog manager: владелец состояния инициализации,
// состояния лидерства, барьера лидерства и метаданных таблиц.
//
// Любое изменение состояния выполняется под эксклюзивной ролью барьера.
// Операции (обработчики API) работают под leaderlock.Guard — разделяемой
// ролью — и видят согласованный снимок состояния.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigkaa/goartstore/catalog-master/internal/barrier"
	"github.com/bigkaa/goartstore/catalog-master/internal/catalog/index"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/catalogstate"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-master/internal/leaderlock"
	"github.com/bigkaa/goartstore/catalog-master/internal/replica"
	"github.com/bigkaa/goartstore/catalog-master/internal/storage/sysdoc"
	"github.com/bigkaa/goartstore/catalog-master/internal/storage/wal"
)

// GuardObserver — получатель событий guard-ов (обычно *leaderlock.Diagnostics).
type GuardObserver interface {
	leaderlock.Observer
	leaderlock.RejectionObserver
}

// ManagerConfig — параметры catalog manager.
type ManagerConfig struct {
	// NodeID — идентификатор узла
	NodeID string
	// SelfAddr — собственный адрес (host:port), отдаётся клиентам как leader hint
	SelfAddr string
	// DataDir — директория системного каталога
	DataDir string
	// WALDir — директория WAL
	WALDir string
	// Standalone — единственный экземпляр без выборов лидера
	Standalone bool
	// Observer — метрики и диагностика guard-ов (может быть nil)
	Observer GuardObserver
}

// Manager — catalog manager. Реализует leaderlock.Authority и replica.RoleProvider.
type Manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	barrier *barrier.Barrier

	// Поля ниже меняются только под эксклюзивной ролью barrier.
	initState  catalogstate.InitState
	initReason string
	sm         *catalogstate.StateMachine
	leaderHint string
	docs       *sysdoc.Store
	wal        *wal.WAL

	// idx заполняется при получении лидерства и сбрасывается при его сдаче.
	idx *index.Index

	// writeMu сериализует изменения таблиц между собой
	// (операции выполняются параллельно под разделяемой ролью).
	writeMu sync.Mutex

	// Копии для чтения без барьера (health, role).
	initialized atomic.Bool
	isLeader    atomic.Bool
	leaderAddr  atomic.Pointer[string]
}

// NewManager создаёт catalog manager в состоянии uninitialized / not_leader.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	logger = logger.With(slog.String("component", "catalog"))
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		barrier:   barrier.New(),
		initState: catalogstate.InitUninitialized,
		sm:        catalogstate.NewStateMachine(),
		idx:       index.New(logger),
	}
	empty := ""
	m.leaderAddr.Store(&empty)
	m.publishState()
	return m
}

// --- leaderlock.Authority ---

// Barrier возвращает барьер лидерства.
func (m *Manager) Barrier() *barrier.Barrier {
	return m.barrier
}

// InitStatus — nil, если catalog manager инициализирован.
// Вызывать под ролью барьера.
func (m *Manager) InitStatus() error {
	return catalogstate.InitStatus(m.initState, m.initReason)
}

// LeaderStatus — nil, если узел лидер. Вызывать под ролью барьера.
func (m *Manager) LeaderStatus() error {
	return catalogstate.LeaderStatus(m.sm.Current(), m.leaderHint)
}

// LeaderHint — адрес текущего или последнего известного лидера.
// Вызывать под ролью барьера.
func (m *Manager) LeaderHint() string {
	return m.leaderHint
}

// GuardAcquired реализует leaderlock.Observer.
func (m *Manager) GuardAcquired(origin leaderlock.Origin, waited time.Duration) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.GuardAcquired(origin, waited)
	}
}

// GuardReleased реализует leaderlock.Observer.
func (m *Manager) GuardReleased(origin leaderlock.Origin, held time.Duration) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.GuardReleased(origin, held)
	}
}

// GateRejected реализует leaderlock.RejectionObserver.
func (m *Manager) GateRejected(api string, origin leaderlock.Origin, out leaderlock.Outcome, errorSet bool) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.GateRejected(api, origin, out, errorSet)
	}
}

// --- replica.RoleProvider ---

// CurrentRole возвращает роль узла (без барьера).
func (m *Manager) CurrentRole() replica.Role {
	switch {
	case m.cfg.Standalone:
		return replica.RoleStandalone
	case m.isLeader.Load():
		return replica.RoleLeader
	default:
		return replica.RoleFollower
	}
}

// IsLeader возвращает true, если узел — готовый к работе лидер (без барьера).
func (m *Manager) IsLeader() bool {
	return m.isLeader.Load()
}

// LeaderAddr возвращает последний известный адрес лидера (без барьера).
func (m *Manager) LeaderAddr() string {
	return *m.leaderAddr.Load()
}

// --- жизненный цикл ---

// Init открывает системный каталог и WAL.
// Пока идёт ввод-вывод, операции видят состояние initializing.
func (m *Manager) Init(ctx context.Context) error {
	err := m.exclusive(ctx, func() error {
		if m.initState != catalogstate.InitUninitialized && m.initState != catalogstate.InitFailed {
			return fmt.Errorf("catalog manager уже в состоянии %s", m.initState)
		}
		m.initState = catalogstate.InitInitializing
		m.initReason = ""
		return nil
	})
	if err != nil {
		return err
	}
	m.publishState()

	m.logger.Info("Инициализация catalog manager",
		slog.String("data_dir", m.cfg.DataDir),
		slog.String("wal_dir", m.cfg.WALDir),
	)

	docs, openErr := sysdoc.Open(m.cfg.DataDir)
	var w *wal.WAL
	if openErr == nil {
		w, openErr = wal.New(m.cfg.WALDir, m.logger)
	}

	// Итоговое состояние фиксируется даже при отменённом ctx.
	p := m.barrier.AcquireExclusive()
	if openErr != nil {
		m.initState = catalogstate.InitFailed
		m.initReason = openErr.Error()
	} else {
		m.docs, m.wal = docs, w
		m.initState = catalogstate.InitInitialized
	}
	p.Release()
	m.publishState()

	if openErr != nil {
		m.logger.Error("Ошибка инициализации catalog manager", slog.String("error", openErr.Error()))
		return fmt.Errorf("инициализация catalog manager: %w", openErr)
	}
	m.logger.Info("Catalog manager инициализирован")
	return nil
}

// BecomeLeader вызывается при получении роли лидера.
//
// Сначала короткой эксклюзивной секцией фиксируются состояние
// becoming_leader и собственный адрес как leader hint (операции получают
// LEADER_TRANSITIONING с адресом этого узла), затем под эксклюзивной ролью
// откатываются незавершённые транзакции WAL и перестраивается индекс.
// При ошибке перезагрузки узел остаётся not_leader без leader hint.
func (m *Manager) BecomeLeader(ctx context.Context) error {
	err := m.exclusive(ctx, func() error {
		if m.initState != catalogstate.InitInitialized {
			return catalogstate.InitStatus(m.initState, m.initReason)
		}
		if err := m.sm.TransitionTo(catalogstate.LeaderBecoming, "получена роль лидера"); err != nil {
			return err
		}
		m.leaderHint = m.cfg.SelfAddr
		return nil
	})
	if err != nil {
		return fmt.Errorf("переход в becoming_leader: %w", err)
	}
	m.publishState()

	start := time.Now()
	p := m.barrier.AcquireExclusive()
	var reloadErr error
	if m.sm.Current() != catalogstate.LeaderBecoming {
		// StepDown успел вклиниться между секциями.
		reloadErr = fmt.Errorf("роль лидера потеряна до перезагрузки (%s)", m.sm.Current())
	} else if reloadErr = m.reload(); reloadErr != nil {
		m.idx.Reset()
		m.leaderHint = ""
		if err := m.sm.TransitionTo(catalogstate.LeaderNotLeader, "ошибка перезагрузки: "+reloadErr.Error()); err != nil {
			m.logger.Error("Ошибка перехода в not_leader", slog.String("error", err.Error()))
		}
	} else if reloadErr = m.sm.TransitionTo(catalogstate.LeaderActive, "метаданные загружены"); reloadErr == nil {
		m.leaderHint = m.cfg.SelfAddr
	}
	tables := m.idx.Count()
	p.Release()
	m.publishState()

	if reloadErr != nil {
		leaderTransitionsTotal.WithLabelValues("reload_failed").Inc()
		m.logger.Error("Ошибка перезагрузки метаданных при получении лидерства",
			slog.String("error", reloadErr.Error()),
		)
		return fmt.Errorf("перезагрузка метаданных: %w", reloadErr)
	}

	leaderTransitionsTotal.WithLabelValues(string(catalogstate.LeaderActive)).Inc()
	m.logger.Info("Узел стал лидером",
		slog.Int("tables", tables),
		slog.Duration("reload", time.Since(start)),
	)
	return nil
}

// StepDown сдаёт роль лидера: индекс сбрасывается, leaderHint — адрес
// нового лидера (может быть пустым). Для не-лидера только обновляет hint.
func (m *Manager) StepDown(ctx context.Context, leaderHint string) error {
	stepped := false
	err := m.exclusive(ctx, func() error {
		m.leaderHint = leaderHint
		if m.sm.Current() == catalogstate.LeaderNotLeader {
			return nil
		}
		if err := m.sm.TransitionTo(catalogstate.LeaderSteppingDown, "потеря роли лидера"); err != nil {
			return err
		}
		m.idx.Reset()
		stepped = true
		return m.sm.TransitionTo(catalogstate.LeaderNotLeader, "роль лидера сдана")
	})
	if err != nil {
		return fmt.Errorf("сдача лидерства: %w", err)
	}
	m.publishState()

	if stepped {
		leaderTransitionsTotal.WithLabelValues(string(catalogstate.LeaderNotLeader)).Inc()
		m.logger.Info("Узел перестал быть лидером", slog.String("leader_hint", leaderHint))
	}
	return nil
}

// SetLeaderHint обновляет последний известный адрес лидера.
// У лидера и узла, получающего лидерство, hint — собственный адрес,
// поэтому там ничего не меняется.
func (m *Manager) SetLeaderHint(ctx context.Context, addr string) error {
	if m.LeaderAddr() == addr {
		return nil
	}
	err := m.exclusive(ctx, func() error {
		switch m.sm.Current() {
		case catalogstate.LeaderActive, catalogstate.LeaderBecoming:
			return nil
		}
		m.leaderHint = addr
		return nil
	})
	if err != nil {
		return fmt.Errorf("обновление адреса лидера: %w", err)
	}
	m.publishState()
	return nil
}

// reload откатывает незавершённые транзакции и перестраивает индекс.
// Вызывается под эксклюзивной ролью.
func (m *Manager) reload() error {
	pending, err := m.wal.RecoverPending()
	if err != nil {
		return err
	}
	for _, e := range pending {
		if err := m.undo(e); err != nil {
			return fmt.Errorf("откат транзакции %s: %w", e.TransactionID, err)
		}
		if err := m.wal.Rollback(e.TransactionID); err != nil {
			return err
		}
		m.logger.Warn("Незавершённая транзакция откачена",
			slog.String("tx_id", e.TransactionID),
			slog.String("operation", string(e.Operation)),
			slog.String("table_id", e.TableID),
		)
	}
	if n, err := m.wal.CleanCommitted(); err != nil {
		m.logger.Warn("Ошибка очистки WAL", slog.String("error", err.Error()))
	} else if n > 0 {
		m.logger.Debug("WAL очищен", slog.Int("removed", n))
	}

	if err := m.idx.BuildFromDir(m.docs.Dir()); err != nil {
		return err
	}
	tablesTotal.Set(float64(m.idx.Count()))
	return nil
}

// undo восстанавливает документ таблицы в состояние до транзакции.
func (m *Manager) undo(e *wal.Entry) error {
	if e.Operation == wal.OpTableCreate {
		return m.docs.Delete(e.TableID)
	}
	if len(e.Before) == 0 {
		return fmt.Errorf("нет исходного документа для %s", e.Operation)
	}
	var before model.TableDescriptor
	if err := json.Unmarshal(e.Before, &before); err != nil {
		return fmt.Errorf("ошибка разбора исходного документа: %w", err)
	}
	return m.docs.Write(&before)
}

// exclusive выполняет fn под эксклюзивной ролью барьера.
func (m *Manager) exclusive(ctx context.Context, fn func() error) error {
	p, err := m.barrier.AcquireExclusiveContext(ctx)
	if err != nil {
		return fmt.Errorf("ожидание эксклюзивной роли барьера: %w", err)
	}
	defer p.Release()
	return fn()
}

// publishState обновляет копии состояния для чтения без барьера и метрики.
// Вызывается после выхода из эксклюзивной секции.
func (m *Manager) publishState() {
	p := m.barrier.AcquireShared()
	defer p.Release()

	leader := m.initState == catalogstate.InitInitialized && m.sm.Current() == catalogstate.LeaderActive
	hint := m.leaderHint
	m.initialized.Store(m.initState == catalogstate.InitInitialized)
	m.isLeader.Store(leader)
	m.leaderAddr.Store(&hint)

	if leader {
		isLeaderGauge.Set(1)
	} else {
		isLeaderGauge.Set(0)
	}
	if m.initState == catalogstate.InitInitialized {
		initializedGauge.Set(1)
	} else {
		initializedGauge.Set(0)
	}
}

// StateSnapshot — согласованный снимок состояния для /api/v1/info.
type StateSnapshot struct {
	NodeID      string                          `json:"node_id"`
	Role        replica.Role                    `json:"role"`
	InitState   catalogstate.InitState          `json:"init_state"`
	InitReason  string                          `json:"init_reason,omitempty"`
	LeaderState catalogstate.LeaderState        `json:"leader_state"`
	LeaderHint  string                          `json:"leader_hint,omitempty"`
	Tables      int                             `json:"tables"`
	Shared      int                             `json:"shared_holders"`
	Transitions []catalogstate.TransitionRecord `json:"transitions"`
}

// Snapshot возвращает снимок состояния, прочитанный под разделяемой ролью.
func (m *Manager) Snapshot(ctx context.Context) (StateSnapshot, error) {
	p, err := m.barrier.AcquireSharedContext(ctx)
	if err != nil {
		return StateSnapshot{}, fmt.Errorf("ожидание барьера лидерства: %w", err)
	}
	defer p.Release()

	return StateSnapshot{
		NodeID:      m.cfg.NodeID,
		Role:        m.CurrentRole(),
		InitState:   m.initState,
		InitReason:  m.initReason,
		LeaderState: m.sm.Current(),
		LeaderHint:  m.leaderHint,
		Tables:      m.idx.Count(),
		Shared:      m.barrier.SharedHolders() - 1,
		Transitions: m.sm.History(),
	}, nil
}

// NodeID возвращает идентификатор узла.
func (m *Manager) NodeID() string { return m.cfg.NodeID }

// DataDir возвращает директорию системного каталога.
func (m *Manager) DataDir() string { return m.cfg.DataDir }

// WALDir возвращает директорию WAL.
func (m *Manager) WALDir() string { return m.cfg.WALDir }

// IsReady — true, если catalog manager инициализирован и, у лидера,
// индекс загружен. Читается без барьера.
func (m *Manager) IsReady() bool {
	if !m.initialized.Load() {
		return false
	}
	return !m.isLeader.Load() || m.idx.IsReady()
}

var (
	_ leaderlock.Authority         = (*Manager)(nil)
	_ leaderlock.Observer          = (*Manager)(nil)
	_ leaderlock.RejectionObserver = (*Manager)(nil)
	_ replica.RoleProvider         = (*Manager)(nil)
)
