// Пакет index — потокобезопасный in-memory индекс таблиц системного каталога.
//
// Индекс строится из документов системного каталога (BuildFromDir) при
// получении лидерства и обновляется синхронно при DDL-операциях.
// При сдаче лидерства сбрасывается (Reset): у follower индекса нет.
package index

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bigkaa/goartstore/catalog-master/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-master/internal/storage/sysdoc"
)

// Index — in-memory индекс дескрипторов таблиц.
type Index struct {
	mu     sync.RWMutex
	tables map[string]*model.TableDescriptor // table_id → descriptor
	byName map[string]string                 // namespace.name → table_id
	ready  bool
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromDir.
func New(logger *slog.Logger) *Index {
	return &Index{
		tables: make(map[string]*model.TableDescriptor),
		byName: make(map[string]string),
		logger: logger.With(slog.String("component", "index")),
	}
}

// BuildFromDir строит индекс из документов системного каталога.
// Заменяет текущее содержимое. После успешного построения индекс готов.
func (idx *Index) BuildFromDir(dir string) error {
	descs, skipped, err := sysdoc.ScanDir(dir)
	if err != nil {
		return fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	for _, path := range skipped {
		idx.logger.Warn("Пропущен невалидный документ каталога", slog.String("path", path))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.tables = make(map[string]*model.TableDescriptor, len(descs))
	idx.byName = make(map[string]string, len(descs))
	for _, desc := range descs {
		idx.tables[desc.TableID] = desc
		idx.byName[desc.QualifiedName()] = desc.TableID
	}
	idx.ready = true

	idx.logger.Info("Индекс каталога построен",
		slog.Int("tables", len(idx.tables)),
		slog.String("dir", dir),
	)

	return nil
}

// Reset очищает индекс и снимает признак готовности.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.tables = make(map[string]*model.TableDescriptor)
	idx.byName = make(map[string]string)
	idx.ready = false
}

// IsReady возвращает true, если индекс построен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Add добавляет дескриптор. Существующий с тем же ID перезаписывается.
func (idx *Index) Add(desc *model.TableDescriptor) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.tables[desc.TableID]; ok {
		delete(idx.byName, old.QualifiedName())
	}
	idx.tables[desc.TableID] = desc.Clone()
	idx.byName[desc.QualifiedName()] = desc.TableID
}

// Update обновляет дескриптор. Ошибка, если таблица не найдена.
func (idx *Index) Update(desc *model.TableDescriptor) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old, ok := idx.tables[desc.TableID]
	if !ok {
		return fmt.Errorf("таблица %s не найдена в индексе", desc.TableID)
	}

	delete(idx.byName, old.QualifiedName())
	idx.tables[desc.TableID] = desc.Clone()
	idx.byName[desc.QualifiedName()] = desc.TableID
	return nil
}

// Remove удаляет таблицу по ID. true, если таблица была в индексе.
func (idx *Index) Remove(tableID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old, ok := idx.tables[tableID]
	if !ok {
		return false
	}
	delete(idx.byName, old.QualifiedName())
	delete(idx.tables, tableID)
	return true
}

// Get возвращает копию дескриптора по ID или nil.
func (idx *Index) Get(tableID string) *model.TableDescriptor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	desc, ok := idx.tables[tableID]
	if !ok {
		return nil
	}
	return desc.Clone()
}

// GetByName возвращает копию дескриптора по namespace и имени или nil.
func (idx *Index) GetByName(namespace, name string) *model.TableDescriptor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.byName[namespace+"."+name]
	if !ok {
		return nil
	}
	return idx.tables[id].Clone()
}

// List возвращает страницу дескрипторов и общее число (с учётом фильтра).
//   - namespace: фильтр по пространству имён ("" = все)
//   - limit: максимум элементов (0 = все)
//   - offset: смещение
//
// Сортировка по qualified name.
func (idx *Index) List(namespace string, limit, offset int) ([]*model.TableDescriptor, int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var filtered []*model.TableDescriptor
	for _, desc := range idx.tables {
		if namespace != "" && desc.Namespace != namespace {
			continue
		}
		filtered = append(filtered, desc.Clone())
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].QualifiedName() < filtered[j].QualifiedName()
	})

	total := len(filtered)
	if offset >= total {
		return nil, total
	}

	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	return filtered[offset:end], total
}

// Count возвращает число таблиц в индексе.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.tables)
}
