// errors.go — ошибки операций над таблицами.
package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrTableNotFound — таблица не найдена.
	ErrTableNotFound = errors.New("таблица не найдена")
	// ErrTableExists — таблица с таким именем уже существует.
	ErrTableExists = errors.New("таблица уже существует")
	// ErrValidation — некорректное описание таблицы.
	ErrValidation = errors.New("ошибка валидации")
	// ErrVersionConflict — ожидаемая версия схемы не совпадает с текущей.
	ErrVersionConflict = errors.New("конфликт версий схемы")
)

// OpError — ошибка операции над таблицей.
type OpError struct {
	Op      string
	TableID string
	Err     error
}

func (e *OpError) Error() string {
	if e.TableID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.TableID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(op, tableID string, err error) *OpError {
	return &OpError{Op: op, TableID: tableID, Err: err}
}
