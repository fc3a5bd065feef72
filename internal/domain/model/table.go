// Пакет model — доменные модели catalog master.
// TableDescriptor — метаданные таблицы, используются как in-memory
// представление и как формат документа системного каталога на диске.
package model

import (
	"time"
)

// TableState — состояние таблицы в каталоге.
type TableState string

const (
	// TableRunning — таблица доступна
	TableRunning TableState = "running"
	// TableAltering — идёт изменение схемы
	TableAltering TableState = "altering"
)

// Column — описание колонки схемы.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// TableDescriptor — метаданные таблицы. Соответствует документу
// {table_id}.table.json в системном каталоге.
type TableDescriptor struct {
	// TableID — уникальный идентификатор таблицы (UUID v4)
	TableID string `json:"table_id"`

	// Namespace — пространство имён (база данных / keyspace)
	Namespace string `json:"namespace"`

	// Name — имя таблицы, уникально в пределах namespace
	Name string `json:"name"`

	// Columns — схема таблицы
	Columns []Column `json:"columns"`

	// Version — версия схемы, увеличивается при каждом ALTER
	Version int64 `json:"version"`

	// State — состояние таблицы
	State TableState `json:"state"`

	// CreatedBy — идентификатор пользователя/сервиса (из JWT sub)
	CreatedBy string `json:"created_by,omitempty"`

	// CreatedAt — дата создания (UTC)
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — дата последнего изменения схемы (UTC)
	UpdatedAt time.Time `json:"updated_at"`
}

// QualifiedName возвращает "namespace.name".
func (d *TableDescriptor) QualifiedName() string {
	return d.Namespace + "." + d.Name
}

// Clone возвращает глубокую копию дескриптора.
func (d *TableDescriptor) Clone() *TableDescriptor {
	copied := *d
	copied.Columns = append([]Column(nil), d.Columns...)
	return &copied
}
