package catalogstate

import (
	"errors"
	"testing"
)

// TestStateMachine_FullCycle проверяет штатный цикл смены лидерства.
func TestStateMachine_FullCycle(t *testing.T) {
	sm := NewStateMachine()

	if sm.Current() != LeaderNotLeader {
		t.Fatalf("начальное состояние: ожидалось not_leader, получено %q", sm.Current())
	}

	steps := []LeaderState{LeaderBecoming, LeaderActive, LeaderSteppingDown, LeaderNotLeader}
	for _, target := range steps {
		if err := sm.TransitionTo(target, "test"); err != nil {
			t.Fatalf("переход в %s: неожиданная ошибка: %v", target, err)
		}
		if sm.Current() != target {
			t.Errorf("ожидалось %q, получено %q", target, sm.Current())
		}
	}

	history := sm.History()
	if len(history) != len(steps) {
		t.Fatalf("история: ожидалось %d записей, получено %d", len(steps), len(history))
	}
	if history[0].From != LeaderNotLeader || history[0].To != LeaderBecoming {
		t.Errorf("первая запись истории: %+v", history[0])
	}
}

// TestStateMachine_ReloadFailure проверяет откат becoming_leader → not_leader.
func TestStateMachine_ReloadFailure(t *testing.T) {
	sm := NewStateMachine()
	_ = sm.TransitionTo(LeaderBecoming, "election")

	if err := sm.TransitionTo(LeaderNotLeader, "reload failed"); err != nil {
		t.Fatalf("becoming_leader → not_leader: неожиданная ошибка: %v", err)
	}
}

// TestStateMachine_InvalidTransitions проверяет запрещённые переходы.
func TestStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		from   []LeaderState // путь до исходного состояния
		target LeaderState
	}{
		{nil, LeaderActive},
		{nil, LeaderSteppingDown},
		{[]LeaderState{LeaderBecoming, LeaderActive}, LeaderNotLeader},
		{[]LeaderState{LeaderBecoming, LeaderActive}, LeaderBecoming},
		{[]LeaderState{LeaderBecoming, LeaderActive, LeaderSteppingDown}, LeaderActive},
		{nil, LeaderState("bogus")},
	}

	for _, tt := range tests {
		sm := NewStateMachine()
		for _, s := range tt.from {
			if err := sm.TransitionTo(s, "setup"); err != nil {
				t.Fatalf("подготовка: %v", err)
			}
		}
		from := sm.Current()

		err := sm.TransitionTo(tt.target, "test")
		if err == nil {
			t.Errorf("%s → %s должен вернуть ошибку", from, tt.target)
			continue
		}
		var te *TransitionError
		if !errors.As(err, &te) || te.Code != CodeInvalidTransition {
			t.Errorf("%s → %s: ожидался TransitionError INVALID_TRANSITION, получено %v", from, tt.target, err)
		}
		if sm.Current() != from {
			t.Errorf("состояние изменилось после ошибки: %q → %q", from, sm.Current())
		}
	}
}

// TestStatus_Errors проверяет типизированные отказы и errors.Is.
func TestStatus_Errors(t *testing.T) {
	if err := InitStatus(InitInitialized, ""); err != nil {
		t.Errorf("initialized: ожидался nil, получено %v", err)
	}

	err := InitStatus(InitFailed, "диск недоступен")
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("init_failed: ожидался ErrNotInitialized, получено %v", err)
	}
	var nie *NotInitializedError
	if !errors.As(err, &nie) || nie.Reason != "диск недоступен" {
		t.Errorf("init_failed: причина потеряна: %v", err)
	}

	if err := LeaderStatus(LeaderActive, "self:8020"); err != nil {
		t.Errorf("leader: ожидался nil, получено %v", err)
	}

	err = LeaderStatus(LeaderNotLeader, "cm-1:8020")
	if !errors.Is(err, ErrNotTheLeader) {
		t.Errorf("not_leader: ожидался ErrNotTheLeader, получено %v", err)
	}
	if errors.Is(err, ErrLeaderTransitioning) {
		t.Error("not_leader не должен считаться промежуточным состоянием")
	}

	for _, st := range []LeaderState{LeaderBecoming, LeaderSteppingDown} {
		err = LeaderStatus(st, "")
		if !errors.Is(err, ErrNotTheLeader) || !errors.Is(err, ErrLeaderTransitioning) {
			t.Errorf("%s: ожидались ErrNotTheLeader и ErrLeaderTransitioning, получено %v", st, err)
		}
	}
}
