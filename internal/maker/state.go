package maker

import "sync"

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

type Event string

const (
	EventStart    Event = "start"
	EventStop     Event = "stop"
	EventStopDone Event = "stop_done"
)

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Apply advances the machine. Invalid events leave the state unchanged.
func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func nextState(current State, event Event) State {
	switch current {
	case StateIdle:
		if event == EventStart {
			return StateRunning
		}
		if event == EventStop {
			return StateStopped
		}
	case StateRunning:
		if event == EventStop {
			return StateStopping
		}
	case StateStopping:
		if event == EventStopDone {
			return StateStopped
		}
	}
	return current
}
