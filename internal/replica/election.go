// election.go — выбор лидера через flock() на общей файловой системе.
//
// Алгоритм:
//  1. Попытка захватить эксклюзивную блокировку на {dataDir}/.leader.lock
//  2. Если блокировка получена — роль leader, адрес записывается в .leader.info
//  3. Если нет — роль follower, адрес leader читается из .leader.info
//  4. Follower периодически пытается захватить lock и обновляет адрес лидера
package replica

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	leaderLockFile = ".leader.lock"
	leaderInfoFile = ".leader.info"
	// DefaultRetryInterval — интервал попыток захвата lock для follower.
	DefaultRetryInterval = 5 * time.Second
)

// ElectionCallbacks — реакция на смену роли.
// Коллбэки вызываются последовательно из горутины выборов.
type ElectionCallbacks struct {
	// OnBecomeLeader — lock получен.
	OnBecomeLeader func()
	// OnBecomeFollower — lock занят другим экземпляром.
	OnBecomeFollower func(leaderAddr string)
	// OnLeaderAddr — follower узнал новый адрес лидера.
	OnLeaderAddr func(leaderAddr string)
}

// Election — выбор лидера через flock(). Реализует RoleProvider.
type Election struct {
	dataDir       string
	addr          string
	retryInterval time.Duration
	cb            ElectionCallbacks
	logger        *slog.Logger

	mu         sync.RWMutex
	role       Role
	leaderAddr string
	lockFile   *os.File

	stopCh chan struct{}
	done   chan struct{}
}

// NewElection создаёт выборы. addr — собственный адрес (host:port),
// retryInterval <= 0 — DefaultRetryInterval.
func NewElection(dataDir, addr string, retryInterval time.Duration, cb ElectionCallbacks, logger *slog.Logger) *Election {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Election{
		dataDir:       dataDir,
		addr:          addr,
		retryInterval: retryInterval,
		cb:            cb,
		logger:        logger.With(slog.String("component", "election")),
		role:          RoleFollower,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start определяет начальную роль и возвращает управление.
// Follower продолжает попытки в фоне до Stop.
func (e *Election) Start() error {
	if err := os.MkdirAll(e.dataDir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", e.dataDir, err)
	}

	acquired, err := e.tryAcquireLock()
	if err != nil {
		return fmt.Errorf("ошибка при попытке захвата lock: %w", err)
	}

	if acquired {
		e.becomeLeader()
		close(e.done)
	} else {
		e.becomeFollower()
		go e.retryLoop()
	}
	return nil
}

// Stop останавливает выборы и освобождает lock.
func (e *Election) Stop() {
	close(e.stopCh)
	<-e.done

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lockFile != nil {
		_ = syscall.Flock(int(e.lockFile.Fd()), syscall.LOCK_UN)
		_ = e.lockFile.Close()
		e.lockFile = nil
		e.logger.Info("Lock освобождён")
	}
}

// CurrentRole возвращает текущую роль.
func (e *Election) CurrentRole() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// IsLeader возвращает true, если lock у этого экземпляра.
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role == RoleLeader
}

// LeaderAddr возвращает адрес лидера.
func (e *Election) LeaderAddr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leaderAddr
}

func (e *Election) tryAcquireLock() (bool, error) {
	lockPath := filepath.Join(e.dataDir, leaderLockFile)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return false, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return false, nil
	}

	e.mu.Lock()
	e.lockFile = f
	e.mu.Unlock()
	return true, nil
}

func (e *Election) becomeLeader() {
	e.mu.Lock()
	e.role = RoleLeader
	e.leaderAddr = e.addr
	e.mu.Unlock()

	if err := e.writeLeaderInfo(e.addr); err != nil {
		e.logger.Error("Ошибка записи .leader.info", slog.String("error", err.Error()))
	}

	e.logger.Info("Роль: LEADER", slog.String("addr", e.addr))

	if e.cb.OnBecomeLeader != nil {
		e.cb.OnBecomeLeader()
	}
}

func (e *Election) becomeFollower() {
	addr := e.readLeaderInfo()

	e.mu.Lock()
	e.role = RoleFollower
	e.leaderAddr = addr
	e.mu.Unlock()

	e.logger.Info("Роль: FOLLOWER", slog.String("leader_addr", addr))

	if e.cb.OnBecomeFollower != nil {
		e.cb.OnBecomeFollower(addr)
	}
}

func (e *Election) retryLoop() {
	defer close(e.done)

	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			addr := e.readLeaderInfo()
			e.mu.Lock()
			changed := addr != e.leaderAddr
			e.leaderAddr = addr
			e.mu.Unlock()
			if changed && e.cb.OnLeaderAddr != nil {
				e.cb.OnLeaderAddr(addr)
			}

			acquired, err := e.tryAcquireLock()
			if err != nil {
				e.logger.Warn("Ошибка retry захвата lock", slog.String("error", err.Error()))
				continue
			}
			if acquired {
				e.becomeLeader()
				return
			}
		}
	}
}

// writeLeaderInfo записывает адрес лидера в .leader.info (атомарно).
func (e *Election) writeLeaderInfo(addr string) error {
	infoPath := filepath.Join(e.dataDir, leaderInfoFile)
	tmpPath := infoPath + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(addr), 0o640); err != nil {
		return fmt.Errorf("ошибка записи temp .leader.info: %w", err)
	}
	if err := os.Rename(tmpPath, infoPath); err != nil {
		return fmt.Errorf("ошибка переименования .leader.info: %w", err)
	}
	return nil
}

// readLeaderInfo читает адрес лидера; пусто, если файла нет.
func (e *Election) readLeaderInfo() string {
	data, err := os.ReadFile(filepath.Join(e.dataDir, leaderInfoFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

var _ RoleProvider = (*Election)(nil)
