// Пакет catalogstate — две оси состояния catalog manager и типизированные
// отказы, в которые они превращаются.
//
// Ось инициализации: uninitialized → initializing → initialized | init_failed.
// Ось лидерства (имеет смысл только после initialized):
// not_leader → becoming_leader → leader → stepping_down → not_leader.
package catalogstate

import (
	"errors"
	"fmt"
)

// InitState — состояние инициализации catalog manager.
type InitState string

const (
	InitUninitialized InitState = "uninitialized"
	InitInitializing  InitState = "initializing"
	InitInitialized   InitState = "initialized"
	InitFailed        InitState = "init_failed"
)

// LeaderState — состояние лидерства catalog manager.
type LeaderState string

const (
	// LeaderNotLeader — лидер другой узел (или неизвестен)
	LeaderNotLeader LeaderState = "not_leader"
	// LeaderBecoming — роль получена, идёт перезагрузка метаданных
	LeaderBecoming LeaderState = "becoming_leader"
	// LeaderActive — лидер, метаданные загружены
	LeaderActive LeaderState = "leader"
	// LeaderSteppingDown — сдача роли
	LeaderSteppingDown LeaderState = "stepping_down"
)

// Transitioning возвращает true для промежуточных состояний смены лидерства.
func (s LeaderState) Transitioning() bool {
	return s == LeaderBecoming || s == LeaderSteppingDown
}

// Sentinel-ошибки для errors.Is.
var (
	// ErrNotInitialized — catalog manager ещё запускается или не запустился.
	ErrNotInitialized = errors.New("catalog manager не инициализирован")
	// ErrNotTheLeader — catalog manager инициализирован, но не лидер.
	ErrNotTheLeader = errors.New("узел не является лидером")
	// ErrLeaderTransitioning — идёт смена лидерства (уточнение ErrNotTheLeader).
	ErrLeaderTransitioning = errors.New("идёт смена лидерства")
)

// NotInitializedError — отказ по оси инициализации.
type NotInitializedError struct {
	State  InitState
	Reason string // причина init_failed, пусто для остальных состояний
}

func (e *NotInitializedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("catalog manager не инициализирован (%s): %s", e.State, e.Reason)
	}
	return fmt.Sprintf("catalog manager не инициализирован (%s)", e.State)
}

// Unwrap позволяет errors.Is(err, ErrNotInitialized).
func (e *NotInitializedError) Unwrap() error {
	return ErrNotInitialized
}

// NotLeaderError — отказ по оси лидерства.
type NotLeaderError struct {
	State LeaderState
	// LeaderHint — адрес текущего или последнего известного лидера (host:port).
	// Пусто, если лидер неизвестен.
	LeaderHint string
}

func (e *NotLeaderError) Error() string {
	msg := fmt.Sprintf("узел не является лидером (%s)", e.State)
	if e.LeaderHint != "" {
		msg += ", лидер: " + e.LeaderHint
	}
	return msg
}

// Unwrap позволяет errors.Is(err, ErrNotTheLeader) и, для промежуточных
// состояний, errors.Is(err, ErrLeaderTransitioning).
func (e *NotLeaderError) Unwrap() []error {
	if e.State.Transitioning() {
		return []error{ErrNotTheLeader, ErrLeaderTransitioning}
	}
	return []error{ErrNotTheLeader}
}

// InitStatus превращает состояние инициализации в статус: nil — инициализирован.
func InitStatus(state InitState, reason string) error {
	if state == InitInitialized {
		return nil
	}
	return &NotInitializedError{State: state, Reason: reason}
}

// LeaderStatus превращает состояние лидерства в статус: nil — лидер.
func LeaderStatus(state LeaderState, hint string) error {
	if state == LeaderActive {
		return nil
	}
	return &NotLeaderError{State: state, LeaderHint: hint}
}

// ParseLeaderState преобразует строку в LeaderState.
func ParseLeaderState(s string) (LeaderState, error) {
	st := LeaderState(s)
	switch st {
	case LeaderNotLeader, LeaderBecoming, LeaderActive, LeaderSteppingDown:
		return st, nil
	default:
		return "", fmt.Errorf("недопустимое состояние лидерства: %q", s)
	}
}
