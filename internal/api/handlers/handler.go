// handler.go — общие функции HTTP handlers catalog master.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/goartstore/catalog-master/internal/api/errors"
	"github.com/bigkaa/goartstore/catalog-master/internal/api/schema"
	"github.com/bigkaa/goartstore/catalog-master/internal/catalog"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/model"
)

// lockWait — ограничение ожидания барьера лидерства одним запросом.
type lockWait time.Duration

// bound возвращает контекст запроса, ограниченный временем ожидания барьера.
func (lw lockWait) bound(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), time.Duration(lw))
}

// lockWaitFailed отвечает на неудачный захват guard-а.
func lockWaitFailed(w http.ResponseWriter, r *http.Request, lw lockWait, err error) {
	if r.Context().Err() != nil {
		// Клиент ушёл, отвечать некому
		return
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		errors.LockWaitTimeout(w, fmt.Sprintf("Барьер лидерства не освобождён за %s", time.Duration(lw)))
		return
	}
	errors.InternalError(w, "Ошибка ожидания барьера лидерства: "+err.Error())
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeMaster пишет ответ master API. Если гейт записал ошибку,
// HTTP-статус и заголовок лидера берутся из неё.
func writeMaster(w http.ResponseWriter, okStatus int, e *schema.MasterError, body any) {
	if e == nil {
		writeJSON(w, okStatus, body)
		return
	}
	if e.LeaderHint != "" {
		w.Header().Set(schema.LeaderHintHeader, e.LeaderHint)
	}
	writeJSON(w, e.HTTPStatus(), body)
}

// writeTServer — то же для tserver API.
func writeTServer(w http.ResponseWriter, okStatus int, e *schema.TServerError, body any) {
	if e == nil {
		writeJSON(w, okStatus, body)
		return
	}
	if e.LeaderHint != "" {
		w.Header().Set(schema.LeaderHintHeader, e.LeaderHint)
	}
	writeJSON(w, e.HTTPStatus(), body)
}

// bindTableID извлекает path-параметр table_id.
func bindTableID(w http.ResponseWriter, r *http.Request) (openapi_types.UUID, bool) {
	var tableID openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "table_id", chi.URLParam(r, "table_id"), &tableID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный параметр table_id: %s", err.Error()))
		return tableID, false
	}
	return tableID, true
}

// writeOpError переводит ошибку операции каталога в HTTP-ответ.
func writeOpError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case stderrors.Is(err, catalog.ErrValidation):
		errors.ValidationError(w, err.Error())
	case stderrors.Is(err, catalog.ErrTableNotFound):
		errors.NotFound(w, err.Error())
	case stderrors.Is(err, catalog.ErrTableExists):
		errors.TableExists(w, err.Error())
	case stderrors.Is(err, catalog.ErrVersionConflict):
		errors.VersionConflict(w, err.Error())
	default:
		logger.Error("Ошибка операции каталога", slog.String("error", err.Error()))
		errors.InternalError(w, err.Error())
	}
}

// tableDTO — представление таблицы в API.
type tableDTO struct {
	TableID   openapi_types.UUID `json:"table_id"`
	Namespace string             `json:"namespace"`
	Name      string             `json:"name"`
	Columns   []model.Column     `json:"columns"`
	Version   int64              `json:"version"`
	State     model.TableState   `json:"state"`
	CreatedBy string             `json:"created_by,omitempty"`
	CreatedAt string             `json:"created_at"`
	UpdatedAt string             `json:"updated_at"`
}

// domainToAPITable преобразует доменную модель в API-формат.
func domainToAPITable(d *model.TableDescriptor) *tableDTO {
	id, _ := uuid.Parse(d.TableID)
	return &tableDTO{
		TableID:   id,
		Namespace: d.Namespace,
		Name:      d.Name,
		Columns:   d.Columns,
		Version:   d.Version,
		State:     d.State,
		CreatedBy: d.CreatedBy,
		CreatedAt: formatTime(d.CreatedAt),
		UpdatedAt: formatTime(d.UpdatedAt),
	}
}

// formatTime форматирует время для API-ответов.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
