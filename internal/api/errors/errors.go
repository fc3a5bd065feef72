// Пакет errors — ошибки HTTP API вне гейта лидерства.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Отказы гейта (не инициализирован / не лидер) отдаются в схемах
// пакета schema, а не здесь.
package errors //nolint:revive // конфликт имени со stdlib, как в остальных модулях

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeTableExists     = "TABLE_ALREADY_EXISTS"
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeLockWaitTimeout = "LOCK_WAIT_TIMEOUT"
	CodeInternalError   = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// TableExists — 409 таблица с таким именем уже есть.
func TableExists(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeTableExists, message)
}

// VersionConflict — 409 версия схемы изменилась.
func VersionConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeVersionConflict, message)
}

// LockWaitTimeout — 503 барьер лидерства не освободился за CM_LOCK_WAIT_TIMEOUT.
func LockWaitTimeout(w http.ResponseWriter, message string) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, http.StatusServiceUnavailable, CodeLockWaitTimeout, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
