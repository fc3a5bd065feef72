// Пакет leaderlock — scoped-доступ операций к состоянию catalog master.
//
// Guard занимает разделяемую роль барьера лидерства и на время своей жизни
// фиксирует снимок двух статусов: инициализации catalog manager и лидерства.
// Пока guard держится, смена лидерства и перезагрузка метаданных невозможны,
// поэтому снимок остаётся верным до Release/Unlock.
//
// Типичное использование в обработчике:
//
//	g, err := leaderlock.NewContext(ctx, manager)
//	if err != nil { ... }
//	defer g.Release()
//	if !g.CheckIsInitializedAndIsLeaderOrRespond(&resp) {
//		return // resp уже содержит ошибку
//	}
package leaderlock

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/catalog-master/internal/barrier"
)

// Authority — источник истины о состоянии catalog manager.
// Статусы читаются guard-ом только под разделяемой ролью барьера.
type Authority interface {
	Barrier() *barrier.Barrier
	// InitStatus — nil, если catalog manager инициализирован.
	InitStatus() error
	// LeaderStatus — nil, если узел лидер. Осмыслен только после инициализации.
	LeaderStatus() error
	// LeaderHint — адрес текущего или последнего известного лидера.
	LeaderHint() string
}

// Observer — необязательный интерфейс Authority для метрик и диагностики
// удержания guard-ов.
type Observer interface {
	GuardAcquired(origin Origin, waited time.Duration)
	GuardReleased(origin Origin, held time.Duration)
}

// Origin — место в коде, где создан guard.
type Origin struct {
	File     string
	Line     int
	Function string
}

func (o Origin) String() string {
	return fmt.Sprintf("%s:%d %s", filepath.Base(o.File), o.Line, o.Function)
}

// captureOrigin возвращает место вызова функции, вызвавшей captureOrigin,
// поднявшись ещё на skip кадров.
func captureOrigin(skip int) Origin {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Origin{File: "unknown", Function: "unknown"}
	}
	fn := "unknown"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
		if i := strings.LastIndex(fn, "/"); i >= 0 {
			fn = fn[i+1:]
		}
	}
	return Origin{File: file, Line: line, Function: fn}
}

// Guard — разделяемое удержание барьера лидерства со снимком статусов.
// Guard принадлежит одной горутине и не предназначен для совместного использования.
type Guard struct {
	permit     *barrier.SharedPermit
	observer   Observer
	rejections RejectionObserver

	catalogStatus error
	leaderStatus  error
	leaderHint    string

	origin     Origin
	acquiredAt time.Time
	waited     time.Duration

	unlocked bool
	released bool
}

// New занимает разделяемую роль (ожидая, пока идёт смена лидерства)
// и фиксирует статусы.
func New(a Authority) *Guard {
	// context.Background не отменяется — ошибки быть не может.
	g, _ := acquire(context.Background(), a, captureOrigin(1))
	return g
}

// NewContext — New с ожиданием барьера, ограниченным ctx.
// При отмене ctx guard не создаётся, барьер не занят.
func NewContext(ctx context.Context, a Authority) (*Guard, error) {
	return acquire(ctx, a, captureOrigin(1))
}

// With выполняет fn под guard-ом и освобождает его при любом исходе fn.
func With(ctx context.Context, a Authority, fn func(g *Guard) error) error {
	g, err := acquire(ctx, a, captureOrigin(1))
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(g)
}

func acquire(ctx context.Context, a Authority, origin Origin) (*Guard, error) {
	start := time.Now()
	permit, err := a.Barrier().AcquireSharedContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("ожидание барьера лидерства (%s): %w", origin, err)
	}

	g := &Guard{
		permit:     permit,
		origin:     origin,
		acquiredAt: time.Now(),
	}
	g.waited = g.acquiredAt.Sub(start)

	// Статус лидерства читается только для инициализированного manager-а.
	g.catalogStatus = a.InitStatus()
	if g.catalogStatus == nil {
		g.leaderStatus = a.LeaderStatus()
		g.leaderHint = a.LeaderHint()
	}

	if obs, ok := a.(Observer); ok {
		g.observer = obs
		obs.GuardAcquired(origin, g.waited)
	}
	if ro, ok := a.(RejectionObserver); ok {
		g.rejections = ro
	}
	return g, nil
}

// CatalogStatus — статус инициализации на момент захвата.
func (g *Guard) CatalogStatus() error {
	g.mustBeHeld()
	return g.catalogStatus
}

// LeaderStatus — статус лидерства на момент захвата.
// Вызов при неуспешном CatalogStatus — ошибка программиста (panic).
func (g *Guard) LeaderStatus() error {
	g.mustBeHeld()
	if g.catalogStatus != nil {
		panic("leaderlock: статус лидерства запрошен у неинициализированного catalog manager")
	}
	return g.leaderStatus
}

// FirstFailedStatus — первый неуспешный статус: инициализация, затем лидерство.
func (g *Guard) FirstFailedStatus() error {
	g.mustBeHeld()
	if g.catalogStatus != nil {
		return g.catalogStatus
	}
	return g.leaderStatus
}

// LeaderHint — адрес лидера на момент захвата (пусто до инициализации).
func (g *Guard) LeaderHint() string {
	g.mustBeHeld()
	return g.leaderHint
}

// Origin — место создания guard-а.
func (g *Guard) Origin() Origin { return g.origin }

// AcquiredAt — момент получения разделяемой роли.
func (g *Guard) AcquiredAt() time.Time { return g.acquiredAt }

// Waited — время ожидания барьера.
func (g *Guard) Waited() time.Duration { return g.waited }

// Unlock досрочно освобождает барьер. Повторный Unlock — panic.
// После Unlock отложенный Release ничего не делает.
func (g *Guard) Unlock() {
	if g.unlocked {
		panic("leaderlock: повторный Unlock guard-а, созданного в " + g.origin.String())
	}
	g.unlocked = true
	g.Release()
}

// Release освобождает барьер, если он ещё не освобождён. Предназначен для defer.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	held := time.Since(g.acquiredAt)
	g.permit.Release()
	if g.observer != nil {
		g.observer.GuardReleased(g.origin, held)
	}
}

func (g *Guard) mustBeHeld() {
	if g.released {
		panic("leaderlock: обращение к освобождённому guard-у, созданному в " + g.origin.String())
	}
}
