// internal/trigger/machine.go
// Package trigger converts a per-block confidence stream into a debounced
// one-shot trigger with cooldown.
package trigger

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrInvalidThreshold indicates the detection threshold must be in [0,1]
	ErrInvalidThreshold = errors.New("detection threshold must be between 0.0 and 1.0")
	// ErrInvalidDuration indicates durations must be non-negative
	ErrInvalidDuration = errors.New("durations must be non-negative")
)

// State is the trigger state machine state
type State int

const (
	// StateIdle waits for confidence to cross the detection threshold
	StateIdle State = iota
	// StateTraining is entered and exited only via StartTraining/StopTraining
	StateTraining
	// StateDetecting accumulates time while confidence stays above threshold
	StateDetecting
	// StateTriggered is held for exactly one update after the trigger fires
	StateTriggered
	// StateCooldown suppresses re-triggering until the cooldown elapses
	StateCooldown
)

// String returns the state name for logging
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTraining:
		return "Training"
	case StateDetecting:
		return "Detecting"
	case StateTriggered:
		return "Triggered"
	case StateCooldown:
		return "Cooldown"
	default:
		return "Unknown"
	}
}

// Callback is invoked once when the trigger fires.
// Must be non-blocking and fast - called from the audio processing path.
type Callback func()

// StateChangeCallback is invoked once per state transition.
type StateChangeCallback func(from, to State)

// Config holds the state machine tuning.
type Config struct {
	// DetectionThreshold is compared against the raw confidence stream,
	// independent of the detector's own gating
	DetectionThreshold float64
	// MinDetectionDuration is how long confidence must stay above threshold
	// before the trigger fires
	MinDetectionDuration time.Duration
	// CooldownDuration suppresses re-triggering after a fire
	CooldownDuration time.Duration
}

// Machine is the trigger state machine. Update is driven with explicit
// delta times by the block pipeline; control methods may be called from a
// separate goroutine.
type Machine struct {
	mu          sync.Mutex
	config      Config
	state       State
	timeInState time.Duration

	triggerPtr atomic.Pointer[Callback]
	changePtr  atomic.Pointer[StateChangeCallback]
}

// NewMachine creates a trigger state machine with the given configuration.
func NewMachine(config Config) (*Machine, error) {
	if config.DetectionThreshold < 0 || config.DetectionThreshold > 1 {
		return nil, ErrInvalidThreshold
	}
	if config.MinDetectionDuration < 0 || config.CooldownDuration < 0 {
		return nil, ErrInvalidDuration
	}
	return &Machine{
		config: config,
		state:  StateIdle,
	}, nil
}

// SetTriggerCallback sets the single trigger listener.
// The callback is invoked synchronously at the point of transition.
func (m *Machine) SetTriggerCallback(cb Callback) {
	if cb == nil {
		m.triggerPtr.Store(nil)
	} else {
		m.triggerPtr.Store(&cb)
	}
}

// SetStateChangeCallback sets the single state-change listener.
func (m *Machine) SetStateChangeCallback(cb StateChangeCallback) {
	if cb == nil {
		m.changePtr.Store(nil)
	} else {
		m.changePtr.Store(&cb)
	}
}

// Update advances the machine by dt with the current detection confidence.
// At most one transition happens per update; Triggered always becomes
// Cooldown on the following update.
func (m *Machine) Update(confidence float64, dt time.Duration) {
	var fireTrigger bool
	var from, to State
	transitioned := false

	m.mu.Lock()
	m.timeInState += dt

	switch m.state {
	case StateIdle:
		if confidence >= m.config.DetectionThreshold {
			from, to = m.transitionLocked(StateDetecting)
			transitioned = true
		}

	case StateTraining:
		// Managed externally via StartTraining/StopTraining.

	case StateDetecting:
		if confidence < m.config.DetectionThreshold {
			// Lost detection before the minimum duration.
			from, to = m.transitionLocked(StateIdle)
			transitioned = true
		} else if m.timeInState >= m.config.MinDetectionDuration {
			from, to = m.transitionLocked(StateTriggered)
			transitioned = true
			fireTrigger = true
		}

	case StateTriggered:
		from, to = m.transitionLocked(StateCooldown)
		transitioned = true

	case StateCooldown:
		if m.timeInState >= m.config.CooldownDuration {
			from, to = m.transitionLocked(StateIdle)
			transitioned = true
		}
	}
	m.mu.Unlock()

	if transitioned {
		m.emitStateChange(from, to)
	}
	if fireTrigger {
		m.emitTrigger()
	}
}

// StartTraining moves the machine into the Training state.
func (m *Machine) StartTraining() {
	m.mu.Lock()
	if m.state == StateTraining {
		m.mu.Unlock()
		return
	}
	from, to := m.transitionLocked(StateTraining)
	m.mu.Unlock()
	m.emitStateChange(from, to)
}

// StopTraining leaves the Training state back to Idle. No-op otherwise.
func (m *Machine) StopTraining() {
	m.mu.Lock()
	if m.state != StateTraining {
		m.mu.Unlock()
		return
	}
	from, to := m.transitionLocked(StateIdle)
	m.mu.Unlock()
	m.emitStateChange(from, to)
}

// Reset returns the machine to Idle from any state.
func (m *Machine) Reset() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.timeInState = 0
		m.mu.Unlock()
		return
	}
	from, to := m.transitionLocked(StateIdle)
	m.mu.Unlock()
	m.emitStateChange(from, to)
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TimeInState returns the accumulated time in the current state
func (m *Machine) TimeInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeInState
}

// IsTraining reports whether the machine is in the Training state
func (m *Machine) IsTraining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateTraining
}

// Config returns the current configuration
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// transitionLocked switches state and resets time-in-state. Caller holds
// the mutex and must emit the change after unlocking.
func (m *Machine) transitionLocked(to State) (State, State) {
	from := m.state
	m.state = to
	m.timeInState = 0
	return from, to
}

func (m *Machine) emitStateChange(from, to State) {
	if cb := m.changePtr.Load(); cb != nil {
		(*cb)(from, to)
	}
}

func (m *Machine) emitTrigger() {
	if cb := m.triggerPtr.Load(); cb != nil {
		(*cb)()
	}
}
