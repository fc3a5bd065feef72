// Пакет wal — файловый Write-Ahead Log изменений системного каталога.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в CM_WAL_DIR.
// При получении лидерства незавершённые транзакции откатываются
// до перестроения in-memory индекса.
package wal

import (
	"encoding/json"
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpTableCreate — создание таблицы
	OpTableCreate OperationType = "table_create"
	// OpTableAlter — изменение схемы таблицы
	OpTableAlter OperationType = "table_alter"
	// OpTableDelete — удаление таблицы
	OpTableDelete OperationType = "table_delete"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// TableID — идентификатор таблицы, над которой выполняется операция
	TableID string `json:"table_id"`

	// Before — документ таблицы до операции (для отката alter/delete).
	// Пусто для create.
	Before json.RawMessage `json:"before,omitempty"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
