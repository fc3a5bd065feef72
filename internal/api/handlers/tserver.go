// tserver.go — tserver API (/tserver/v1): запросы табличных серверов.
// Отказы гейта отдаются в схеме tserver ("tserver_error").
package handlers

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/goartstore/catalog-master/internal/api/schema"
	"github.com/bigkaa/goartstore/catalog-master/internal/catalog"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/catalogstate"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-master/internal/leaderlock"
)

// TServerHandler — обработчик tserver API.
type TServerHandler struct {
	manager *catalog.Manager
	wait    lockWait
	logger  *slog.Logger
}

// NewTServerHandler создаёт обработчик tserver API.
func NewTServerHandler(manager *catalog.Manager, lockWaitTimeout time.Duration, logger *slog.Logger) *TServerHandler {
	return &TServerHandler{
		manager: manager,
		wait:    lockWait(lockWaitTimeout),
		logger:  logger.With(slog.String("component", "tserver_api")),
	}
}

type tableSchema struct {
	TableID openapi_types.UUID `json:"table_id"`
	Version int64              `json:"version"`
	Columns []model.Column     `json:"columns"`
}

type tableSchemaResponse struct {
	schema.TServerErrorHolder
	*tableSchema
}

// catalogReadyResponse — ответ /tserver/v1/catalog/ready. Ошибку гейт
// сюда не пишет: неготовность выражается полями ready/state.
type catalogReadyResponse struct {
	schema.TServerErrorHolder
	Ready  bool                   `json:"ready"`
	State  catalogstate.InitState `json:"state"`
	Reason string                 `json:"reason,omitempty"`
}

// GetTableSchema обрабатывает GET /tserver/v1/tables/{table_id}/schema.
func (h *TServerHandler) GetTableSchema(w http.ResponseWriter, r *http.Request) {
	tableID, ok := bindTableID(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.wait.bound(r)
	defer cancel()
	g, err := leaderlock.NewContext(ctx, h.manager)
	if err != nil {
		lockWaitFailed(w, r, h.wait, err)
		return
	}
	defer g.Release()

	var resp tableSchemaResponse
	if !g.CheckIsInitializedAndIsLeaderOrRespondTServer(&resp) {
		writeTServer(w, http.StatusOK, resp.TServerError, resp)
		return
	}

	desc, err := h.manager.GetTable(g, tableID.String())
	if err != nil {
		writeOpError(w, h.logger, err)
		return
	}
	resp.tableSchema = &tableSchema{
		TableID: tableID,
		Version: desc.Version,
		Columns: desc.Columns,
	}
	writeTServer(w, http.StatusOK, nil, resp)
}

// GetCatalogReady обрабатывает GET /tserver/v1/catalog/ready.
// 200 — catalog manager инициализирован, 503 — нет.
func (h *TServerHandler) GetCatalogReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.wait.bound(r)
	defer cancel()
	g, err := leaderlock.NewContext(ctx, h.manager)
	if err != nil {
		lockWaitFailed(w, r, h.wait, err)
		return
	}
	defer g.Release()

	resp := catalogReadyResponse{Ready: true, State: catalogstate.InitInitialized}
	if !g.CheckIsInitializedOrRespondTServer(&resp, false) {
		resp.Ready = false
		var notInit *catalogstate.NotInitializedError
		if stderrors.As(g.CatalogStatus(), &notInit) {
			resp.State = notInit.State
			resp.Reason = notInit.Reason
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
