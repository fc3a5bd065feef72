package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/catalog-master/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-master/internal/leaderlock"
	"github.com/bigkaa/goartstore/catalog-master/internal/storage/wal"
)

// Имена операций (метки метрик и OpError.Op).
const (
	opCreate = "create_table"
	opAlter  = "alter_table"
	opDelete = "delete_table"
	opGet    = "get_table"
)

// TableSpec — описание создаваемой таблицы.
type TableSpec struct {
	Namespace string
	Name      string
	Columns   []model.Column
	CreatedBy string
}

// AlterSpec — изменение схемы таблицы.
type AlterSpec struct {
	// Name — новое имя (пусто — без переименования)
	Name string
	// Columns — новая схема целиком (nil — без изменения)
	Columns []model.Column
	// ExpectedVersion — ожидаемая текущая версия (0 — любая)
	ExpectedVersion int64
}

// ListResult — страница списка таблиц.
type ListResult struct {
	Tables []*model.TableDescriptor
	Total  int
}

// Операции ниже допустимы только под guard-ом лидера: guard гарантирует,
// что индекс загружен и не будет сброшен до конца операции.

// CreateTable создаёт таблицу.
func (m *Manager) CreateTable(g *leaderlock.Guard, spec TableSpec) (*model.TableDescriptor, error) {
	if err := g.FirstFailedStatus(); err != nil {
		return nil, err
	}
	if err := validateName(spec.Namespace, spec.Name); err != nil {
		return nil, m.fail(opError(opCreate, "", err))
	}
	if err := validateColumns(spec.Columns); err != nil {
		return nil, m.fail(opError(opCreate, "", err))
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.idx.GetByName(spec.Namespace, spec.Name) != nil {
		return nil, m.fail(opError(opCreate, "",
			fmt.Errorf("%w: %s.%s", ErrTableExists, spec.Namespace, spec.Name)))
	}

	now := time.Now().UTC()
	desc := &model.TableDescriptor{
		TableID:   uuid.New().String(),
		Namespace: spec.Namespace,
		Name:      spec.Name,
		Columns:   append([]model.Column(nil), spec.Columns...),
		Version:   1,
		State:     model.TableRunning,
		CreatedBy: spec.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.journal(wal.OpTableCreate, desc.TableID, nil, func() error {
		if err := m.docs.Write(desc); err != nil {
			return err
		}
		m.idx.Add(desc)
		return nil
	}); err != nil {
		return nil, m.fail(opError(opCreate, desc.TableID, err))
	}

	tableOpsTotal.WithLabelValues(opCreate, "ok").Inc()
	tablesTotal.Set(float64(m.idx.Count()))
	m.logger.Info("Таблица создана",
		slog.String("table_id", desc.TableID),
		slog.String("table", desc.QualifiedName()),
		slog.Int("columns", len(desc.Columns)),
	)
	return desc.Clone(), nil
}

// AlterTable изменяет схему и/или имя таблицы. Версия схемы увеличивается.
func (m *Manager) AlterTable(g *leaderlock.Guard, tableID string, spec AlterSpec) (*model.TableDescriptor, error) {
	if err := g.FirstFailedStatus(); err != nil {
		return nil, err
	}
	if spec.Name == "" && spec.Columns == nil {
		return nil, m.fail(opError(opAlter, tableID, fmt.Errorf("%w: пустое изменение", ErrValidation)))
	}
	if spec.Columns != nil {
		if err := validateColumns(spec.Columns); err != nil {
			return nil, m.fail(opError(opAlter, tableID, err))
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.idx.Get(tableID)
	if cur == nil {
		return nil, m.fail(opError(opAlter, tableID, ErrTableNotFound))
	}
	if spec.ExpectedVersion != 0 && spec.ExpectedVersion != cur.Version {
		return nil, m.fail(opError(opAlter, tableID,
			fmt.Errorf("%w: ожидалась %d, текущая %d", ErrVersionConflict, spec.ExpectedVersion, cur.Version)))
	}

	next := cur.Clone()
	if spec.Name != "" && spec.Name != cur.Name {
		if err := validateName(cur.Namespace, spec.Name); err != nil {
			return nil, m.fail(opError(opAlter, tableID, err))
		}
		if m.idx.GetByName(cur.Namespace, spec.Name) != nil {
			return nil, m.fail(opError(opAlter, tableID,
				fmt.Errorf("%w: %s.%s", ErrTableExists, cur.Namespace, spec.Name)))
		}
		next.Name = spec.Name
	}
	if spec.Columns != nil {
		next.Columns = append([]model.Column(nil), spec.Columns...)
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	before, err := json.Marshal(cur)
	if err != nil {
		return nil, m.fail(opError(opAlter, tableID, err))
	}
	if err := m.journal(wal.OpTableAlter, tableID, before, func() error {
		if err := m.docs.Write(next); err != nil {
			return err
		}
		return m.idx.Update(next)
	}); err != nil {
		return nil, m.fail(opError(opAlter, tableID, err))
	}

	tableOpsTotal.WithLabelValues(opAlter, "ok").Inc()
	m.logger.Info("Схема таблицы изменена",
		slog.String("table_id", tableID),
		slog.String("table", next.QualifiedName()),
		slog.Int64("version", next.Version),
	)
	return next.Clone(), nil
}

// DeleteTable удаляет таблицу.
func (m *Manager) DeleteTable(g *leaderlock.Guard, tableID string) error {
	if err := g.FirstFailedStatus(); err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.idx.Get(tableID)
	if cur == nil {
		return m.fail(opError(opDelete, tableID, ErrTableNotFound))
	}
	before, err := json.Marshal(cur)
	if err != nil {
		return m.fail(opError(opDelete, tableID, err))
	}

	if err := m.journal(wal.OpTableDelete, tableID, before, func() error {
		if err := m.docs.Delete(tableID); err != nil {
			return err
		}
		m.idx.Remove(tableID)
		return nil
	}); err != nil {
		return m.fail(opError(opDelete, tableID, err))
	}

	tableOpsTotal.WithLabelValues(opDelete, "ok").Inc()
	tablesTotal.Set(float64(m.idx.Count()))
	m.logger.Info("Таблица удалена",
		slog.String("table_id", tableID),
		slog.String("table", cur.QualifiedName()),
	)
	return nil
}

// GetTable возвращает дескриптор таблицы.
func (m *Manager) GetTable(g *leaderlock.Guard, tableID string) (*model.TableDescriptor, error) {
	if err := g.FirstFailedStatus(); err != nil {
		return nil, err
	}
	desc := m.idx.Get(tableID)
	if desc == nil {
		return nil, opError(opGet, tableID, ErrTableNotFound)
	}
	return desc, nil
}

// ListTables возвращает страницу таблиц (см. index.List).
func (m *Manager) ListTables(g *leaderlock.Guard, namespace string, limit, offset int) (ListResult, error) {
	if err := g.FirstFailedStatus(); err != nil {
		return ListResult{}, err
	}
	tables, total := m.idx.List(namespace, limit, offset)
	return ListResult{Tables: tables, Total: total}, nil
}

// journal выполняет apply внутри WAL-транзакции.
// Ошибка apply откатывает транзакцию; документ на диске восстанавливается
// при следующем получении лидерства, если откат не удался.
func (m *Manager) journal(op wal.OperationType, tableID string, before []byte, apply func() error) error {
	tx, err := m.wal.StartTransaction(op, tableID, before)
	if err != nil {
		return err
	}
	if err := apply(); err != nil {
		if rbErr := m.undoFailed(tx); rbErr != nil {
			m.logger.Error("Ошибка отката транзакции",
				slog.String("tx_id", tx.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
		return err
	}
	if err := m.wal.Commit(tx.TransactionID); err != nil {
		m.logger.Error("Ошибка фиксации транзакции",
			slog.String("tx_id", tx.TransactionID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// undoFailed возвращает документ и индекс к состоянию до транзакции.
func (m *Manager) undoFailed(tx *wal.Entry) error {
	if err := m.undo(tx); err != nil {
		return err
	}
	if tx.Operation == wal.OpTableCreate {
		m.idx.Remove(tx.TableID)
	} else if prev, err := m.docs.Read(tx.TableID); err == nil {
		m.idx.Add(prev)
	}
	return m.wal.Rollback(tx.TransactionID)
}

func (m *Manager) fail(err *OpError) error {
	tableOpsTotal.WithLabelValues(err.Op, "error").Inc()
	return err
}

func validateName(namespace, name string) error {
	if namespace == "" || name == "" {
		return fmt.Errorf("%w: namespace и имя таблицы обязательны", ErrValidation)
	}
	if strings.ContainsAny(namespace+name, "./ ") {
		return fmt.Errorf("%w: недопустимые символы в имени %s.%s", ErrValidation, namespace, name)
	}
	return nil
}

func validateColumns(cols []model.Column) error {
	if len(cols) == 0 {
		return fmt.Errorf("%w: таблица без колонок", ErrValidation)
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c.Name == "" || c.Type == "" {
			return fmt.Errorf("%w: у колонки должны быть имя и тип", ErrValidation)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: повторяющаяся колонка %s", ErrValidation, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
