package leaderlock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/catalog-master/internal/api/schema"
	"github.com/bigkaa/goartstore/catalog-master/internal/barrier"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/catalogstate"
)

const selfAddr = "cm-0:8020"

// fakeAuthority — управляемый источник состояния. Поля меняются только
// под эксклюзивной ролью барьера (через set).
type fakeAuthority struct {
	b         *barrier.Barrier
	initState catalogstate.InitState
	leader    catalogstate.LeaderState
	hint      string

	acquired atomic.Int64
	released atomic.Int64

	mu         sync.Mutex
	rejections []rejection
}

type rejection struct {
	api      string
	kind     OutcomeKind
	errorSet bool
}

func newFake(is catalogstate.InitState, leader catalogstate.LeaderState, hint string) *fakeAuthority {
	return &fakeAuthority{b: barrier.New(), initState: is, leader: leader, hint: hint}
}

func (f *fakeAuthority) Barrier() *barrier.Barrier { return f.b }
func (f *fakeAuthority) InitStatus() error { return catalogstate.InitStatus(f.initState, "") }
func (f *fakeAuthority) LeaderStatus() error { return catalogstate.LeaderStatus(f.leader, f.hint) }
func (f *fakeAuthority) LeaderHint() string { return f.hint }

func (f *fakeAuthority) GuardAcquired(Origin, time.Duration) { f.acquired.Add(1) }
func (f *fakeAuthority) GuardReleased(Origin, time.Duration) { f.released.Add(1) }

func (f *fakeAuthority) GateRejected(api string, _ Origin, out Outcome, errorSet bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, rejection{api: api, kind: out.Kind, errorSet: errorSet})
}

func (f *fakeAuthority) set(fn func()) {
	p := f.b.AcquireExclusive()
	defer p.Release()
	fn()
}

type masterResp struct {
	schema.MasterErrorHolder
	Payload string
}

type tserverResp struct {
	schema.TServerErrorHolder
	Payload string
}

func TestGuard_LeaderSucceeds(t *testing.T) {
	a := newFake(catalogstate.InitInitialized, catalogstate.LeaderActive, selfAddr)

	g := New(a)
	defer g.Release()

	assert.NoError(t, g.CatalogStatus())
	assert.NoError(t, g.LeaderStatus())
	assert.NoError(t, g.FirstFailedStatus())
	assert.Equal(t, 1, a.b.SharedHolders())

	var mr masterResp
	assert.True(t, g.CheckIsInitializedOrRespond(&mr))
	assert.True(t, g.CheckIsInitializedAndIsLeaderOrRespond(&mr))
	assert.Nil(t, mr.Error)

	var tr tserverResp
	assert.True(t, g.CheckIsInitializedAndIsLeaderOrRespondTServer(&tr))
	assert.True(t, g.CheckIsInitializedOrRespondTServer(&tr, true))
	assert.Nil(t, tr.TServerError)

	// Без записи ошибки успешная проверка тоже не трогает ответ.
	tr = tserverResp{Payload: "prefilled"}
	assert.True(t, g.CheckIsInitializedOrRespondTServer(&tr, false))
	assert.Nil(t, tr.TServerError)
	assert.Equal(t, "prefilled", tr.Payload)
}

func TestGuard_Uninitialized(t *testing.T) {
	for _, st := range []catalogstate.InitState{
		catalogstate.InitUninitialized, catalogstate.InitInitializing, catalogstate.InitFailed,
	} {
		t.Run(string(st), func(t *testing.T) {
			// Лидерство «лидер» не должно влиять: инициализация проверяется первой.
			a := newFake(st, catalogstate.LeaderActive, selfAddr)
			g := New(a)
			defer g.Release()

			require.Error(t, g.CatalogStatus())
			assert.ErrorIs(t, g.CatalogStatus(), catalogstate.ErrNotInitialized)
			assert.Panics(t, func() { _ = g.LeaderStatus() })
			assert.Equal(t, g.CatalogStatus(), g.FirstFailedStatus())

			var mr masterResp
			assert.False(t, g.CheckIsInitializedAndIsLeaderOrRespond(&mr))
			require.NotNil(t, mr.Error)
			assert.Equal(t, schema.MasterCatalogManagerNotInitialized, mr.Error.Code)
			assert.Equal(t, schema.StatusServiceUnavailable, mr.Error.Status.Code)
			assert.Empty(t, mr.Error.LeaderHint)

			var mr2 masterResp
			assert.False(t, g.CheckIsInitializedOrRespond(&mr2))
			require.NotNil(t, mr2.Error)
			assert.Equal(t, schema.MasterCatalogManagerNotInitialized, mr2.Error.Code)

			var tr tserverResp
			assert.False(t, g.CheckIsInitializedAndIsLeaderOrRespondTServer(&tr))
			require.NotNil(t, tr.TServerError)
			assert.Equal(t, schema.TServerUnknownError, tr.TServerError.Code)
		})
	}
}

func TestGuard_NotLeader(t *testing.T) {
	a := newFake(catalogstate.InitInitialized, catalogstate.LeaderNotLeader, "cm-1:8021")
	g := New(a)
	defer g.Release()

	require.NoError(t, g.CatalogStatus())
	require.Error(t, g.LeaderStatus())
	assert.Equal(t, g.LeaderStatus(), g.FirstFailedStatus())
	assert.ErrorIs(t, g.LeaderStatus(), catalogstate.ErrNotTheLeader)
	assert.NotErrorIs(t, g.LeaderStatus(), catalogstate.ErrLeaderTransitioning)

	var mr masterResp
	assert.True(t, g.CheckIsInitializedOrRespond(&mr), "инициализированному узлу не нужна роль лидера")
	assert.Nil(t, mr.Error)

	assert.False(t, g.CheckIsInitializedAndIsLeaderOrRespond(&mr))
	require.NotNil(t, mr.Error)
	assert.Equal(t, schema.MasterNotTheLeader, mr.Error.Code)
	assert.Equal(t, schema.StatusIllegalState, mr.Error.Status.Code)
	assert.Equal(t, "cm-1:8021", mr.Error.LeaderHint)

	var tr tserverResp
	assert.False(t, g.CheckIsInitializedAndIsLeaderOrRespondTServer(&tr))
	require.NotNil(t, tr.TServerError)
	assert.Equal(t, schema.TServerNotTheLeader, tr.TServerError.Code)
	assert.Equal(t, "cm-1:8021", tr.TServerError.LeaderHint)
}

func TestGuard_Transitioning(t *testing.T) {
	for _, st := range []catalogstate.LeaderState{catalogstate.LeaderBecoming, catalogstate.LeaderSteppingDown} {
		t.Run(string(st), func(t *testing.T) {
			a := newFake(catalogstate.InitInitialized, st, selfAddr)
			g := New(a)
			defer g.Release()

			assert.ErrorIs(t, g.LeaderStatus(), catalogstate.ErrNotTheLeader)
			assert.ErrorIs(t, g.LeaderStatus(), catalogstate.ErrLeaderTransitioning)
			assert.Equal(t, OutcomeTransitioning, g.Decide(true).Kind)

			var mr masterResp
			assert.False(t, g.CheckIsInitializedAndIsLeaderOrRespond(&mr))
			require.NotNil(t, mr.Error)
			assert.Equal(t, schema.MasterLeaderTransitioning, mr.Error.Code)

			var tr tserverResp
			assert.False(t, g.CheckIsInitializedAndIsLeaderOrRespondTServer(&tr))
			require.NotNil(t, tr.TServerError)
			assert.Equal(t, schema.TServerLeaderNotReadyToServe, tr.TServerError.Code)
		})
	}
}

func TestGuard_TServerWithoutError(t *testing.T) {
	a := newFake(catalogstate.InitInitializing, catalogstate.LeaderNotLeader, "")
	g := New(a)
	defer g.Release()

	tr := tserverResp{Payload: "prefilled"}
	assert.False(t, g.CheckIsInitializedOrRespondTServer(&tr, false))
	assert.Nil(t, tr.TServerError)
	assert.Equal(t, "prefilled", tr.Payload)

	assert.False(t, g.CheckIsInitializedOrRespondTServer(&tr, true))
	require.NotNil(t, tr.TServerError)
	assert.Equal(t, schema.TServerUnknownError, tr.TServerError.Code)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.rejections, 2)
	assert.Equal(t, rejection{api: APITServer, kind: OutcomeNotInitialized, errorSet: false}, a.rejections[0])
	assert.Equal(t, rejection{api: APITServer, kind: OutcomeNotInitialized, errorSet: true}, a.rejections[1])
}

func TestGuard_SnapshotHeldAcrossTransition(t *testing.T) {
	a := newFake(catalogstate.InitInitialized, catalogstate.LeaderActive, selfAddr)
	g := New(a)

	stepped := make(chan struct{})
	go func() {
		a.set(func() {
			a.leader = catalogstate.LeaderNotLeader
			a.hint = "cm-2:8022"
		})
		close(stepped)
	}()

	// Пока guard держится, смена лидерства не может завершиться.
	require.Eventually(t, func() bool {
		p, ok := a.b.TryAcquireShared()
		if ok {
			p.Release()
		}
		return !ok
	}, time.Second, time.Millisecond, "эксклюзивный запрос должен встать в очередь")

	select {
	case <-stepped:
		t.Fatal("смена лидерства завершилась при удерживаемом guard-е")
	case <-time.After(20 * time.Millisecond):
	}
	assert.NoError(t, g.LeaderStatus())
	assert.Equal(t, selfAddr, g.LeaderHint())

	g.Release()
	select {
	case <-stepped:
	case <-time.After(time.Second):
		t.Fatal("смена лидерства не завершилась после Release")
	}

	g2 := New(a)
	defer g2.Release()
	assert.ErrorIs(t, g2.LeaderStatus(), catalogstate.ErrNotTheLeader)
	assert.Equal(t, "cm-2:8022", g2.LeaderHint())
}

func TestGuard_ReleaseExactlyOnce(t *testing.T) {
	a := newFake(catalogstate.InitInitialized, catalogstate.LeaderActive, selfAddr)

	func() {
		g := New(a)
		defer g.Release()
		g.Unlock()
		assert.Equal(t, 0, a.b.SharedHolders())
		assert.Panics(t, func() { _ = g.CatalogStatus() }, "обращение после Unlock")
		assert.Panics(t, func() { g.Unlock() }, "повторный Unlock")
	}()

	assert.Equal(t, 0, a.b.SharedHolders())
	assert.EqualValues(t, 1, a.acquired.Load())
	assert.EqualValues(t, 1, a.released.Load())

	// Без Unlock — ровно одно освобождение по defer.
	func() {
		g := New(a)
		defer g.Release()
		assert.Equal(t, 1, a.b.SharedHolders())
	}()
	assert.Equal(t, 0, a.b.SharedHolders())
	assert.EqualValues(t, 2, a.released.Load())

	// Эксклюзивная роль свободна.
	p := a.b.AcquireExclusive()
	p.Release()
}

func TestGuard_NewContextTimeout(t *testing.T) {
	a := newFake(catalogstate.InitInitialized, catalogstate.LeaderActive, selfAddr)
	ex := a.b.AcquireExclusive()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	g, err := NewContext(ctx, a)
	require.Error(t, err)
	assert.Nil(t, g)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, a.acquired.Load())

	ex.Release()
	assert.Equal(t, 0, a.b.SharedHolders())

	g, err = NewContext(context.Background(), a)
	require.NoError(t, err)
	g.Release()
}

func TestWith(t *testing.T) {
	a := newFake(catalogstate.InitInitialized, catalogstate.LeaderNotLeader, "cm-1:8021")
	boom := errors.New("boom")

	err := With(context.Background(), a, func(g *Guard) error {
		assert.Equal(t, 1, a.b.SharedHolders())
		assert.ErrorIs(t, g.FirstFailedStatus(), catalogstate.ErrNotTheLeader)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, a.b.SharedHolders())
	assert.EqualValues(t, 1, a.released.Load())
}

func TestGuard_Origin(t *testing.T) {
	a := newFake(catalogstate.InitInitialized, catalogstate.LeaderActive, selfAddr)
	g := New(a)
	defer g.Release()

	o := g.Origin()
	assert.True(t, strings.HasSuffix(o.File, "guard_test.go"), o.File)
	assert.Positive(t, o.Line)
	assert.Contains(t, o.Function, "TestGuard_Origin")
	assert.False(t, g.AcquiredAt().IsZero())
}

// Читатели не должны видеть «разорванное» состояние: лидер всегда с
// собственным адресом, не лидер — с чужим.
func TestGuard_NoTornSnapshot(t *testing.T) {
	a := newFake(catalogstate.InitInitialized, catalogstate.LeaderActive, selfAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error {
		leader := true
		for ctx.Err() == nil {
			leader = !leader
			a.set(func() {
				if leader {
					a.leader = catalogstate.LeaderActive
					time.Sleep(50 * time.Microsecond)
					a.hint = selfAddr
				} else {
					a.leader = catalogstate.LeaderNotLeader
					time.Sleep(50 * time.Microsecond)
					a.hint = "cm-1:8021"
				}
			})
		}
		return nil
	})
	for range 8 {
		eg.Go(func() error {
			for ctx.Err() == nil {
				g := New(a)
				status, hint := g.LeaderStatus(), g.LeaderHint()
				g.Release()
				if (status == nil) != (hint == selfAddr) {
					return errors.New("несогласованный снимок: " + hint)
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, 0, a.b.SharedHolders())
	assert.False(t, a.b.ExclusiveHeld())
}
