package leaderlock

import (
	"errors"

	"github.com/bigkaa/goartstore/catalog-master/internal/api/schema"
	"github.com/bigkaa/goartstore/catalog-master/internal/domain/catalogstate"
)

// OutcomeKind — итог проверки guard-а.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeNotInitialized
	OutcomeNotLeader
	OutcomeTransitioning
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeNotInitialized:
		return "not_initialized"
	case OutcomeNotLeader:
		return "not_leader"
	case OutcomeTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// Outcome — решение гейта, независимое от схемы ответа.
type Outcome struct {
	Kind OutcomeKind
	// Err — статус, вызвавший отказ (nil для OutcomeOK).
	Err error
	// LeaderHint — адрес лидера для перенаправления клиента.
	LeaderHint string
}

// OK возвращает true, если операция может продолжаться.
func (o Outcome) OK() bool { return o.Kind == OutcomeOK }

// RejectionObserver — необязательный интерфейс Authority: учёт отказов гейта.
// errorSet=false означает, что ошибка в ответ не записана.
type RejectionObserver interface {
	GateRejected(api string, origin Origin, outcome Outcome, errorSet bool)
}

// MasterResponder — ответ master API, в который гейт записывает ошибку.
type MasterResponder interface {
	SetMasterError(*schema.MasterError)
}

// TServerResponder — ответ tserver API, в который гейт записывает ошибку.
type TServerResponder interface {
	SetTServerError(*schema.TServerError)
}

// Имена API для RejectionObserver.
const (
	APIMaster  = "master"
	APITServer = "tserver"
)

// Decide проверяет снимок статусов. Инициализация проверяется раньше лидерства:
// для неинициализированного manager-а всегда OutcomeNotInitialized.
func (g *Guard) Decide(requireLeader bool) Outcome {
	if err := g.CatalogStatus(); err != nil {
		return Outcome{Kind: OutcomeNotInitialized, Err: err}
	}
	if !requireLeader {
		return Outcome{Kind: OutcomeOK}
	}
	err := g.LeaderStatus()
	if err == nil {
		return Outcome{Kind: OutcomeOK}
	}

	out := Outcome{Kind: OutcomeNotLeader, Err: err, LeaderHint: g.leaderHint}
	var nle *catalogstate.NotLeaderError
	if errors.As(err, &nle) && nle.LeaderHint != "" {
		out.LeaderHint = nle.LeaderHint
	}
	if errors.Is(err, catalogstate.ErrLeaderTransitioning) {
		out.Kind = OutcomeTransitioning
	}
	return out
}

// CheckIsInitializedOrRespond — для master-операций, не требующих лидерства.
func (g *Guard) CheckIsInitializedOrRespond(resp MasterResponder) bool {
	return g.respondMaster(g.Decide(false), resp)
}

// CheckIsInitializedAndIsLeaderOrRespond — для master-операций лидера.
func (g *Guard) CheckIsInitializedAndIsLeaderOrRespond(resp MasterResponder) bool {
	return g.respondMaster(g.Decide(true), resp)
}

// CheckIsInitializedAndIsLeaderOrRespondTServer — для tserver-операций лидера.
func (g *Guard) CheckIsInitializedAndIsLeaderOrRespondTServer(resp TServerResponder) bool {
	return g.respondTServer(g.Decide(true), resp, true)
}

// CheckIsInitializedOrRespondTServer — для tserver-операций, не требующих лидерства.
// При setError=false ответ не изменяется; вызывающий формирует свой.
func (g *Guard) CheckIsInitializedOrRespondTServer(resp TServerResponder, setError bool) bool {
	return g.respondTServer(g.Decide(false), resp, setError)
}

func (g *Guard) respondMaster(out Outcome, resp MasterResponder) bool {
	if out.OK() {
		return true
	}
	resp.SetMasterError(MasterError(out))
	g.reject(APIMaster, out, true)
	return false
}

func (g *Guard) respondTServer(out Outcome, resp TServerResponder, setError bool) bool {
	if out.OK() {
		return true
	}
	if setError {
		resp.SetTServerError(TServerError(out))
	}
	g.reject(APITServer, out, setError)
	return false
}

func (g *Guard) reject(api string, out Outcome, errorSet bool) {
	if g.rejections != nil {
		g.rejections.GateRejected(api, g.origin, out, errorSet)
	}
}

// MasterError отображает отказ в схему master API.
func MasterError(out Outcome) *schema.MasterError {
	e := &schema.MasterError{
		Code:       schema.MasterUnknownError,
		Status:     schema.StatusDetail{Code: schema.StatusServiceUnavailable},
		LeaderHint: out.LeaderHint,
	}
	if out.Err != nil {
		e.Status.Message = out.Err.Error()
	}
	switch out.Kind {
	case OutcomeNotInitialized:
		e.Code = schema.MasterCatalogManagerNotInitialized
	case OutcomeNotLeader:
		e.Code = schema.MasterNotTheLeader
		e.Status.Code = schema.StatusIllegalState
	case OutcomeTransitioning:
		e.Code = schema.MasterLeaderTransitioning
	}
	return e
}

// TServerError отображает отказ в схему tserver API.
func TServerError(out Outcome) *schema.TServerError {
	e := &schema.TServerError{
		Code:       schema.TServerUnknownError,
		Status:     schema.StatusDetail{Code: schema.StatusServiceUnavailable},
		LeaderHint: out.LeaderHint,
	}
	if out.Err != nil {
		e.Status.Message = out.Err.Error()
	}
	switch out.Kind {
	case OutcomeNotLeader:
		e.Code = schema.TServerNotTheLeader
		e.Status.Code = schema.StatusIllegalState
	case OutcomeTransitioning:
		e.Code = schema.TServerLeaderNotReadyToServe
	}
	return e
}
