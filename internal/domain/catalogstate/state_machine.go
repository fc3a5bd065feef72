package catalogstate

import (
	"fmt"
	"time"
)

// TransitionRecord — запись о смене состояния лидерства.
type TransitionRecord struct {
	From      LeaderState `json:"from"`
	To        LeaderState `json:"to"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// maxHistory — сколько последних переходов хранит StateMachine.
const maxHistory = 64

// validTransitions — матрица допустимых переходов оси лидерства.
var validTransitions = map[LeaderState]map[LeaderState]bool{
	LeaderNotLeader: {LeaderBecoming: true},
	// becoming_leader → not_leader — перезагрузка метаданных не удалась
	LeaderBecoming:     {LeaderActive: true, LeaderNotLeader: true, LeaderSteppingDown: true},
	LeaderActive:       {LeaderSteppingDown: true},
	LeaderSteppingDown: {LeaderNotLeader: true},
}

// StateMachine — конечный автомат оси лидерства.
//
// Не потокобезопасен: владелец (catalog.Manager) меняет его только под
// эксклюзивной ролью барьера.
type StateMachine struct {
	current LeaderState
	history []TransitionRecord
}

// NewStateMachine создаёт автомат в состоянии not_leader.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: LeaderNotLeader,
		history: make([]TransitionRecord, 0),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() LeaderState {
	return sm.current
}

// CanTransitionTo проверяет допустимость перехода.
func (sm *StateMachine) CanTransitionTo(target LeaderState) bool {
	return validTransitions[sm.current][target]
}

// TransitionTo выполняет переход. Ошибка INVALID_TRANSITION, если переход недопустим.
func (sm *StateMachine) TransitionTo(target LeaderState, reason string) error {
	if _, err := ParseLeaderState(string(target)); err != nil {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: err.Error(),
		}
	}

	if !sm.CanTransitionTo(target) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", sm.current, target),
		}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if len(sm.history) > maxHistory {
		sm.history = sm.history[len(sm.history)-maxHistory:]
	}
	sm.current = target

	return nil
}

// History возвращает копию истории переходов.
func (sm *StateMachine) History() []TransitionRecord {
	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// CodeInvalidTransition — код ошибки недопустимого перехода.
const CodeInvalidTransition = "INVALID_TRANSITION"

// TransitionError — ошибка перехода между состояниями лидерства.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
