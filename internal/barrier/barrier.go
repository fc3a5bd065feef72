// Пакет barrier — барьер чтения/записи, сериализующий смену лидерства catalog master.
//
// Одна эксклюзивная роль (catalog manager на время смены состояния и перезагрузки
// метаданных) и сколько угодно разделяемых ролей (операции в обработке).
// Очередь ожидания FIFO: ожидающий эксклюзивный запрос блокирует все
// последующие разделяемые, поэтому поток читателей не может его «заморить».
//
// Таймаутов в барьере нет. Дедлайн запроса — забота вызывающей стороны
// (AcquireSharedContext).
package barrier

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// exclusiveWeight — полный вес семафора. Разделяемый держатель занимает 1,
// эксклюзивный — весь вес, т.е. ждёт ухода всех разделяемых.
const exclusiveWeight int64 = 1 << 40

// Barrier — барьер чтения/записи на основе взвешенного семафора.
type Barrier struct {
	sem *semaphore.Weighted

	// Счётчики только для диагностики и тестов.
	shared    atomic.Int64
	exclusive atomic.Bool
}

// New создаёт свободный барьер.
func New() *Barrier {
	return &Barrier{sem: semaphore.NewWeighted(exclusiveWeight)}
}

// AcquireShared блокирует до отсутствия эксклюзивного держателя и
// регистрирует разделяемого держателя.
func (b *Barrier) AcquireShared() *SharedPermit {
	// context.Background никогда не отменяется — ошибки быть не может.
	p, _ := b.AcquireSharedContext(context.Background())
	return p
}

// AcquireSharedContext — AcquireShared с ожиданием, ограниченным ctx.
// При отмене ctx разрешение не выдаётся и возвращается ctx.Err().
func (b *Barrier) AcquireSharedContext(ctx context.Context) (*SharedPermit, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	b.shared.Add(1)
	return &SharedPermit{b: b}, nil
}

// TryAcquireShared пытается получить разделяемую роль без ожидания.
// Не обгоняет очередь: при наличии ожидающих возвращает false.
func (b *Barrier) TryAcquireShared() (*SharedPermit, bool) {
	if !b.sem.TryAcquire(1) {
		return nil, false
	}
	b.shared.Add(1)
	return &SharedPermit{b: b}, true
}

// AcquireExclusive блокирует до ухода всех держателей и становится единственным.
func (b *Barrier) AcquireExclusive() *ExclusivePermit {
	p, _ := b.AcquireExclusiveContext(context.Background())
	return p
}

// AcquireExclusiveContext — AcquireExclusive с ожиданием, ограниченным ctx.
func (b *Barrier) AcquireExclusiveContext(ctx context.Context) (*ExclusivePermit, error) {
	if err := b.sem.Acquire(ctx, exclusiveWeight); err != nil {
		return nil, err
	}
	b.exclusive.Store(true)
	return &ExclusivePermit{b: b}, nil
}

// SharedHolders возвращает текущее число разделяемых держателей.
func (b *Barrier) SharedHolders() int {
	return int(b.shared.Load())
}

// ExclusiveHeld возвращает true, если эксклюзивная роль занята.
func (b *Barrier) ExclusiveHeld() bool {
	return b.exclusive.Load()
}

// SharedPermit — дескриптор разделяемой роли. Освобождается ровно один раз.
type SharedPermit struct {
	b        *Barrier
	released atomic.Bool
}

// Release освобождает разделяемую роль.
// Повторный вызов — ошибка программирования (panic).
func (p *SharedPermit) Release() {
	if !p.released.CompareAndSwap(false, true) {
		panic("barrier: повторное освобождение разделяемой роли")
	}
	p.b.shared.Add(-1)
	p.b.sem.Release(1)
}

// ExclusivePermit — дескриптор эксклюзивной роли. Освобождается ровно один раз.
type ExclusivePermit struct {
	b        *Barrier
	released atomic.Bool
}

// Release освобождает эксклюзивную роль.
// Повторный вызов — ошибка программирования (panic).
func (p *ExclusivePermit) Release() {
	if !p.released.CompareAndSwap(false, true) {
		panic("barrier: повторное освобождение эксклюзивной роли")
	}
	p.b.exclusive.Store(false)
	p.b.sem.Release(exclusiveWeight)
}
