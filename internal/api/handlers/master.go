// master.go — master API (/api/v1): операции над таблицами каталога.
// Каждый handler держит guard лидерства от проверки гейта до записи ответа.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/bigkaa/goartstore/catalog-master/internal/api/errors"
	"github.com/bigkaa/goartstore/catalog-master/internal/api/middleware"
	"github.com/bigkaa/goartstore/catalog-master/internal/api/schema"
	"github.com/bigkaa/goartstore/catalog-master/internal/catalog"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/catalogstate"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-master/internal/leaderlock"
)

// Ограничения пагинации списка таблиц.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// MasterHandler — обработчик master API.
type MasterHandler struct {
	manager *catalog.Manager
	wait    lockWait
	logger  *slog.Logger
}

// NewMasterHandler создаёт обработчик master API.
// lockWaitTimeout — максимальное ожидание барьера лидерства (CM_LOCK_WAIT_TIMEOUT).
func NewMasterHandler(manager *catalog.Manager, lockWaitTimeout time.Duration, logger *slog.Logger) *MasterHandler {
	return &MasterHandler{
		manager: manager,
		wait:    lockWait(lockWaitTimeout),
		logger:  logger.With(slog.String("component", "master_api")),
	}
}

// createTableRequest — тело POST /api/v1/tables.
type createTableRequest struct {
	Namespace string         `json:"namespace"`
	Name      string         `json:"name"`
	Columns   []model.Column `json:"columns"`
}

// alterTableRequest — тело PATCH /api/v1/tables/{table_id}.
type alterTableRequest struct {
	Name            *string         `json:"name,omitempty"`
	Columns         *[]model.Column `json:"columns,omitempty"`
	ExpectedVersion *int64          `json:"expected_version,omitempty"`
}

type tableResponse struct {
	schema.MasterErrorHolder
	Table *tableDTO `json:"table,omitempty"`
}

type tablePage struct {
	Tables  []*tableDTO `json:"tables"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

type listTablesResponse struct {
	schema.MasterErrorHolder
	*tablePage
}

type catalogStatus struct {
	NodeID      string                   `json:"node_id"`
	Initialized bool                     `json:"initialized"`
	IsLeader    bool                     `json:"is_leader"`
	LeaderState catalogstate.LeaderState `json:"leader_state"`
	LeaderHint  string                   `json:"leader_hint,omitempty"`
}

type catalogStatusResponse struct {
	schema.MasterErrorHolder
	*catalogStatus
}

// CreateTable обрабатывает POST /api/v1/tables.
func (h *MasterHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
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

	var resp tableResponse
	if !g.CheckIsInitializedAndIsLeaderOrRespond(&resp) {
		writeMaster(w, http.StatusCreated, resp.Error, resp)
		return
	}

	desc, err := h.manager.CreateTable(g, catalog.TableSpec{
		Namespace: req.Namespace,
		Name:      req.Name,
		Columns:   req.Columns,
		CreatedBy: middleware.SubjectFromContext(r.Context()),
	})
	if err != nil {
		writeOpError(w, h.logger, err)
		return
	}
	resp.Table = domainToAPITable(desc)
	writeMaster(w, http.StatusCreated, nil, resp)
}

// ListTables обрабатывает GET /api/v1/tables.
// Пагинация: limit, offset. Фильтр: namespace.
func (h *MasterHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	var (
		limit     *int
		offset    *int
		namespace *string
	)
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный параметр limit: %s", err.Error()))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", r.URL.Query(), &offset); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный параметр offset: %s", err.Error()))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "namespace", r.URL.Query(), &namespace); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный параметр namespace: %s", err.Error()))
		return
	}

	page := tablePage{Limit: defaultListLimit}
	if limit != nil {
		page.Limit = *limit
		if page.Limit <= 0 || page.Limit > maxListLimit {
			errors.ValidationError(w, fmt.Sprintf("Параметр limit должен быть от 1 до %d", maxListLimit))
			return
		}
	}
	if offset != nil {
		page.Offset = *offset
		if page.Offset < 0 {
			errors.ValidationError(w, "Параметр offset не может быть отрицательным")
			return
		}
	}
	ns := ""
	if namespace != nil {
		ns = *namespace
	}

	ctx, cancel := h.wait.bound(r)
	defer cancel()
	g, err := leaderlock.NewContext(ctx, h.manager)
	if err != nil {
		lockWaitFailed(w, r, h.wait, err)
		return
	}
	defer g.Release()

	var resp listTablesResponse
	if !g.CheckIsInitializedAndIsLeaderOrRespond(&resp) {
		writeMaster(w, http.StatusOK, resp.Error, resp)
		return
	}

	res, err := h.manager.ListTables(g, ns, page.Limit, page.Offset)
	if err != nil {
		writeOpError(w, h.logger, err)
		return
	}
	page.Tables = make([]*tableDTO, 0, len(res.Tables))
	for _, desc := range res.Tables {
		page.Tables = append(page.Tables, domainToAPITable(desc))
	}
	page.Total = res.Total
	page.HasMore = page.Offset+page.Limit < res.Total
	resp.tablePage = &page
	writeMaster(w, http.StatusOK, nil, resp)
}

// GetTable обрабатывает GET /api/v1/tables/{table_id}.
func (h *MasterHandler) GetTable(w http.ResponseWriter, r *http.Request) {
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

	var resp tableResponse
	if !g.CheckIsInitializedAndIsLeaderOrRespond(&resp) {
		writeMaster(w, http.StatusOK, resp.Error, resp)
		return
	}

	desc, err := h.manager.GetTable(g, tableID.String())
	if err != nil {
		writeOpError(w, h.logger, err)
		return
	}
	resp.Table = domainToAPITable(desc)
	writeMaster(w, http.StatusOK, nil, resp)
}

// AlterTable обрабатывает PATCH /api/v1/tables/{table_id}.
func (h *MasterHandler) AlterTable(w http.ResponseWriter, r *http.Request) {
	tableID, ok := bindTableID(w, r)
	if !ok {
		return
	}
	var req alterTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}
	var spec catalog.AlterSpec
	if req.Name != nil {
		spec.Name = *req.Name
	}
	if req.Columns != nil {
		spec.Columns = *req.Columns
		if spec.Columns == nil {
			spec.Columns = []model.Column{}
		}
	}
	if req.ExpectedVersion != nil {
		spec.ExpectedVersion = *req.ExpectedVersion
	}

	ctx, cancel := h.wait.bound(r)
	defer cancel()
	g, err := leaderlock.NewContext(ctx, h.manager)
	if err != nil {
		lockWaitFailed(w, r, h.wait, err)
		return
	}
	defer g.Release()

	var resp tableResponse
	if !g.CheckIsInitializedAndIsLeaderOrRespond(&resp) {
		writeMaster(w, http.StatusOK, resp.Error, resp)
		return
	}

	desc, err := h.manager.AlterTable(g, tableID.String(), spec)
	if err != nil {
		writeOpError(w, h.logger, err)
		return
	}
	resp.Table = domainToAPITable(desc)
	writeMaster(w, http.StatusOK, nil, resp)
}

// DeleteTable обрабатывает DELETE /api/v1/tables/{table_id}.
func (h *MasterHandler) DeleteTable(w http.ResponseWriter, r *http.Request) {
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

	var resp tableResponse
	if !g.CheckIsInitializedAndIsLeaderOrRespond(&resp) {
		writeMaster(w, http.StatusNoContent, resp.Error, resp)
		return
	}

	if err := h.manager.DeleteTable(g, tableID.String()); err != nil {
		writeOpError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCatalogStatus обрабатывает GET /api/v1/catalog/status.
// Лидерство не требуется: follower отвечает, кто лидер.
func (h *MasterHandler) GetCatalogStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.wait.bound(r)
	defer cancel()
	g, err := leaderlock.NewContext(ctx, h.manager)
	if err != nil {
		lockWaitFailed(w, r, h.wait, err)
		return
	}
	defer g.Release()

	var resp catalogStatusResponse
	if !g.CheckIsInitializedOrRespond(&resp) {
		writeMaster(w, http.StatusOK, resp.Error, resp)
		return
	}

	st := &catalogStatus{
		NodeID:      h.manager.NodeID(),
		Initialized: true,
		IsLeader:    true,
		LeaderState: catalogstate.LeaderActive,
		LeaderHint:  g.LeaderHint(),
	}
	var notLeader *catalogstate.NotLeaderError
	if stderrors.As(g.LeaderStatus(), &notLeader) {
		st.IsLeader = false
		st.LeaderState = notLeader.State
	}
	resp.catalogStatus = st
	writeMaster(w, http.StatusOK, nil, resp)
}
