package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/catalog-master/internal/api/schema"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/catalogstate"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-master/internal/leaderlock"
	"github.com/bigkaa/goartstore/catalog-master/internal/replica"
	"github.com/bigkaa/goartstore/catalog-master/internal/storage/sysdoc"
	"github.com/bigkaa/goartstore/catalog-master/internal/storage/wal"
)

const testSelf = "cm-0:8020"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	return NewManager(ManagerConfig{
		NodeID:   "cm-0",
		SelfAddr: testSelf,
		DataDir:  filepath.Join(dir, "data"),
		WALDir:   filepath.Join(dir, "wal"),
	}, testLogger())
}

func newLeader(t *testing.T) *Manager {
	t.Helper()
	m := newTestManager(t)
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.BecomeLeader(context.Background()))
	return m
}

func usersSpec() TableSpec {
	return TableSpec{
		Namespace: "app",
		Name:      "users",
		Columns: []model.Column{
			{Name: "id", Type: "int64", PrimaryKey: true},
			{Name: "email", Type: "string"},
		},
		CreatedBy: "tester",
	}
}

type masterResp struct {
	schema.MasterErrorHolder
}

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	g := leaderlock.New(m)
	assert.ErrorIs(t, g.CatalogStatus(), catalogstate.ErrNotInitialized)
	g.Release()
	assert.False(t, m.IsReady())

	require.NoError(t, m.Init(ctx))
	assert.True(t, m.IsReady())
	assert.Equal(t, replica.RoleFollower, m.CurrentRole())

	g = leaderlock.New(m)
	require.NoError(t, g.CatalogStatus())
	assert.ErrorIs(t, g.LeaderStatus(), catalogstate.ErrNotTheLeader)
	g.Release()

	require.NoError(t, m.BecomeLeader(ctx))
	assert.True(t, m.IsLeader())
	assert.Equal(t, replica.RoleLeader, m.CurrentRole())
	assert.Equal(t, testSelf, m.LeaderAddr())

	g = leaderlock.New(m)
	assert.NoError(t, g.FirstFailedStatus())
	assert.Equal(t, testSelf, g.LeaderHint())
	g.Release()

	require.NoError(t, m.StepDown(ctx, "cm-1:8021"))
	assert.False(t, m.IsLeader())
	assert.Equal(t, "cm-1:8021", m.LeaderAddr())

	g = leaderlock.New(m)
	var resp masterResp
	assert.False(t, g.CheckIsInitializedAndIsLeaderOrRespond(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, schema.MasterNotTheLeader, resp.Error.Code)
	assert.Equal(t, "cm-1:8021", resp.Error.LeaderHint)
	g.Release()

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalogstate.LeaderNotLeader, snap.LeaderState)
	assert.Equal(t, 0, snap.Shared)
	require.Len(t, snap.Transitions, 4)
	assert.Equal(t, catalogstate.LeaderBecoming, snap.Transitions[0].To)
	assert.Equal(t, catalogstate.LeaderNotLeader, snap.Transitions[3].To)
}

func TestManager_InitFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	m := NewManager(ManagerConfig{
		NodeID:  "cm-0",
		DataDir: blocker,
		WALDir:  filepath.Join(dir, "wal"),
	}, testLogger())

	require.Error(t, m.Init(context.Background()))

	g := leaderlock.New(m)
	defer g.Release()
	var nie *catalogstate.NotInitializedError
	require.ErrorAs(t, g.CatalogStatus(), &nie)
	assert.Equal(t, catalogstate.InitFailed, nie.State)
	assert.NotEmpty(t, nie.Reason)
	assert.Panics(t, func() { _ = g.LeaderStatus() })

	var resp masterResp
	assert.False(t, g.CheckIsInitializedOrRespond(&resp))
	assert.Equal(t, schema.MasterCatalogManagerNotInitialized, resp.Error.Code)
}

func TestManager_BecomeLeaderRequiresInit(t *testing.T) {
	m := newTestManager(t)
	err := m.BecomeLeader(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, catalogstate.ErrNotInitialized)
	assert.False(t, m.IsLeader())
}

func TestManager_BecomeLeaderWaitsForGuards(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Init(context.Background()))

	g := leaderlock.New(m)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := m.BecomeLeader(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Снимок guard-а не изменился.
	assert.ErrorIs(t, g.LeaderStatus(), catalogstate.ErrNotTheLeader)
	g.Release()

	require.NoError(t, m.BecomeLeader(context.Background()))
}

// Операция, вставшая в очередь между секциями BecomeLeader, видит
// LEADER_TRANSITIONING с адресом этого узла, а не прежнего лидера.
func TestManager_BecomeLeaderHintsSelfWhileTransitioning(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.SetLeaderHint(ctx, "cm-1:8021"))

	first := leaderlock.New(m)
	becameLeader := make(chan error, 1)
	go func() { becameLeader <- m.BecomeLeader(ctx) }()

	// Первая секция ждёт освобождения first.
	require.Eventually(t, func() bool {
		p, ok := m.Barrier().TryAcquireShared()
		if ok {
			p.Release()
		}
		return !ok
	}, time.Second, time.Millisecond)

	// Очередь FIFO: second получает барьер после первой секции и до второй.
	queued := make(chan *leaderlock.Guard, 1)
	go func() { queued <- leaderlock.New(m) }()
	time.Sleep(20 * time.Millisecond)
	first.Release()

	second := <-queued
	assert.ErrorIs(t, second.LeaderStatus(), catalogstate.ErrLeaderTransitioning)
	assert.Equal(t, testSelf, second.LeaderHint())

	var resp masterResp
	assert.False(t, second.CheckIsInitializedAndIsLeaderOrRespond(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, schema.MasterLeaderTransitioning, resp.Error.Code)
	assert.Equal(t, testSelf, resp.Error.LeaderHint)
	second.Release()

	require.NoError(t, <-becameLeader)
	assert.Equal(t, testSelf, m.LeaderHint())
}

// При получении лидерства незавершённая транзакция откатывается,
// документ возвращается к исходному.
func TestManager_RecoverPendingOnBecomeLeader(t *testing.T) {
	ctx := context.Background()
	m := newLeader(t)

	var created *model.TableDescriptor
	require.NoError(t, leaderlock.With(ctx, m, func(g *leaderlock.Guard) error {
		var err error
		created, err = m.CreateTable(g, usersSpec())
		return err
	}))
	require.NoError(t, m.StepDown(ctx, ""))

	// «Сбой» посреди ALTER: транзакция pending, документ уже изменён.
	w, err := wal.New(m.WALDir(), testLogger())
	require.NoError(t, err)
	before, err := json.Marshal(created)
	require.NoError(t, err)
	_, err = w.StartTransaction(wal.OpTableAlter, created.TableID, before)
	require.NoError(t, err)

	docs, err := sysdoc.Open(m.DataDir())
	require.NoError(t, err)
	broken := created.Clone()
	broken.Name = "half_renamed"
	broken.Version = 2
	require.NoError(t, docs.Write(broken))

	// «Сбой» посреди CREATE: документ записан, индекс о нём не знает.
	orphan := created.Clone()
	orphan.TableID = "orphan"
	orphan.Name = "orphan"
	_, err = w.StartTransaction(wal.OpTableCreate, orphan.TableID, nil)
	require.NoError(t, err)
	require.NoError(t, docs.Write(orphan))

	require.NoError(t, m.BecomeLeader(ctx))

	require.NoError(t, leaderlock.With(ctx, m, func(g *leaderlock.Guard) error {
		got, err := m.GetTable(g, created.TableID)
		require.NoError(t, err)
		assert.Equal(t, "users", got.Name)
		assert.EqualValues(t, 1, got.Version)

		_, err = m.GetTable(g, "orphan")
		assert.ErrorIs(t, err, ErrTableNotFound)
		return nil
	}))

	pending, err := w.RecoverPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManager_ObserverReceivesEvents(t *testing.T) {
	dir := t.TempDir()
	d := leaderlock.NewDiagnostics(leaderlock.DiagnosticsConfig{
		WarnThreshold: time.Nanosecond,
		RecentTTL:     time.Minute,
	}, testLogger(), prometheus.NewRegistry())

	m := NewManager(ManagerConfig{
		NodeID:   "cm-0",
		SelfAddr: testSelf,
		DataDir:  filepath.Join(dir, "data"),
		WALDir:   filepath.Join(dir, "wal"),
		Observer: d,
	}, testLogger())

	g := leaderlock.New(m)
	time.Sleep(time.Millisecond)
	g.Release()

	recent := d.Recent()
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0].Origin.Function, "TestManager_ObserverReceivesEvents")
}

// Гарантия барьера: guard, увидевший лидера, работает с загруженным
// индексом до конца своей жизни, сколько бы раз ни менялось лидерство.
func TestManager_GuardsDuringLeadershipFlaps(t *testing.T) {
	ctx := context.Background()
	m := newLeader(t)

	var tableID string
	require.NoError(t, leaderlock.With(ctx, m, func(g *leaderlock.Guard) error {
		desc, err := m.CreateTable(g, usersSpec())
		if err == nil {
			tableID = desc.TableID
		}
		return err
	}))

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error {
		for runCtx.Err() == nil {
			if err := m.StepDown(ctx, "cm-1:8021"); err != nil {
				return err
			}
			if err := m.BecomeLeader(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	for range 8 {
		eg.Go(func() error {
			for runCtx.Err() == nil {
				err := leaderlock.With(ctx, m, func(g *leaderlock.Guard) error {
					if g.FirstFailedStatus() != nil {
						return nil
					}
					time.Sleep(50 * time.Microsecond)
					if _, err := m.GetTable(g, tableID); err != nil {
						return err
					}
					res, err := m.ListTables(g, "", 0, 0)
					if err != nil {
						return err
					}
					if res.Total != 1 {
						return errors.New("индекс сброшен под guard-ом лидера")
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, 0, m.Barrier().SharedHolders())
}
