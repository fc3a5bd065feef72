// Пакет schema — две внешние схемы ошибок catalog master.
//
// Master API (/api/v1) и TServer API (/tserver/v1) версионируются
// независимо и несовместимы по формату ошибки:
//
//	master:  {"error": {"code": "NOT_THE_LEADER", "status": {...}, "leader_hint": "cm-1:8020"}}
//	tserver: {"tserver_error": {"code": "NOT_THE_LEADER", "status": {...}, "leader_hint": "cm-1:8020"}}
//
// Коды тоже разные: неинициализированный catalog manager в master API —
// CATALOG_MANAGER_NOT_INITIALIZED, в tserver API — UNKNOWN_ERROR.
package schema

import "net/http"

// StatusCode — класс статуса внутри ошибки (общий для обеих схем).
type StatusCode string

const (
	StatusServiceUnavailable StatusCode = "SERVICE_UNAVAILABLE"
	StatusIllegalState       StatusCode = "ILLEGAL_STATE"
	StatusTimedOut           StatusCode = "TIMED_OUT"
)

// StatusDetail — статус с человекочитаемым сообщением.
type StatusDetail struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message"`
}

// LeaderHintHeader — заголовок с адресом лидера для перенаправления клиента.
const LeaderHintHeader = "X-Catalog-Leader"

// --- Master API ---

// MasterErrorCode — код ошибки master API.
type MasterErrorCode string

const (
	MasterUnknownError                 MasterErrorCode = "UNKNOWN_ERROR"
	MasterCatalogManagerNotInitialized MasterErrorCode = "CATALOG_MANAGER_NOT_INITIALIZED"
	MasterNotTheLeader                 MasterErrorCode = "NOT_THE_LEADER"
	MasterLeaderTransitioning          MasterErrorCode = "LEADER_TRANSITIONING"
)

// MasterError — ошибка в ответе master API.
type MasterError struct {
	Code       MasterErrorCode `json:"code"`
	Status     StatusDetail    `json:"status"`
	LeaderHint string          `json:"leader_hint,omitempty"`
}

// HTTPStatus возвращает HTTP-статус ответа с этой ошибкой.
func (e *MasterError) HTTPStatus() int {
	if e.Code == MasterNotTheLeader {
		return http.StatusMisdirectedRequest
	}
	return http.StatusServiceUnavailable
}

// MasterErrorHolder — встраиваемое поле ошибки master-ответа.
type MasterErrorHolder struct {
	Error *MasterError `json:"error,omitempty"`
}

// SetMasterError устанавливает ошибку ответа.
func (h *MasterErrorHolder) SetMasterError(e *MasterError) {
	h.Error = e
}

// --- TServer API ---

// TServerErrorCode — код ошибки tserver API.
type TServerErrorCode string

const (
	TServerUnknownError          TServerErrorCode = "UNKNOWN_ERROR"
	TServerNotTheLeader          TServerErrorCode = "NOT_THE_LEADER"
	TServerLeaderNotReadyToServe TServerErrorCode = "LEADER_NOT_READY_TO_SERVE"
)

// TServerError — ошибка в ответе tserver API.
type TServerError struct {
	Code       TServerErrorCode `json:"code"`
	Status     StatusDetail     `json:"status"`
	LeaderHint string           `json:"leader_hint,omitempty"`
}

// HTTPStatus возвращает HTTP-статус ответа с этой ошибкой.
func (e *TServerError) HTTPStatus() int {
	if e.Code == TServerNotTheLeader {
		return http.StatusMisdirectedRequest
	}
	return http.StatusServiceUnavailable
}

// TServerErrorHolder — встраиваемое поле ошибки tserver-ответа.
type TServerErrorHolder struct {
	TServerError *TServerError `json:"tserver_error,omitempty"`
}

// SetTServerError устанавливает ошибку ответа.
func (h *TServerErrorHolder) SetTServerError(e *TServerError) {
	h.TServerError = e
}
