// Package loop implements the controlled execution cycle an attempt moves
// through: dispatch, await, evaluate, then continue or halt.
//
// Only this component advances loop state. The executor supplies the data
// that feeds a transition (its response); it can never request one. Any
// transition not in the legal table is rejected and the loop is forced to
// HALTED.
package loop

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/warden/core/pkg/contracts"
)

// ErrIllegalTransition is returned when a requested transition is not in the
// legal table. The machine is already HALTED by the time the caller sees it.
var ErrIllegalTransition = errors.New("loop: illegal transition")

// legal maps each state to the set of states it may move to.
var legal = map[contracts.LoopState]map[contracts.LoopState]bool{
	contracts.LoopInit: {
		contracts.LoopDispatched: true,
		contracts.LoopHalted:     true,
	},
	contracts.LoopDispatched: {
		contracts.LoopAwaitingResponse: true,
		contracts.LoopHalted:           true,
	},
	contracts.LoopAwaitingResponse: {
		contracts.LoopEvaluated: true,
		contracts.LoopHalted:    true,
	},
	contracts.LoopEvaluated: {
		contracts.LoopDispatched: true,
		contracts.LoopHalted:     true,
	},
	contracts.LoopHalted: {
		contracts.LoopHalted: true,
	},
}

// Allowed reports whether from→to is in the legal transition table.
// Unknown states are never allowed.
func Allowed(from, to contracts.LoopState) bool {
	targets, ok := legal[from]
	return ok && targets[to]
}

// Transition is one recorded state change.
type Transition struct {
	From   contracts.LoopState `json:"from"`
	To     contracts.LoopState `json:"to"`
	Reason string              `json:"reason"`
	At     time.Time           `json:"at"`
}

// Machine drives one LoopContext through the transition table and keeps the
// transition history for audit.
type Machine struct {
	mu      sync.Mutex
	ctx     contracts.LoopContext
	history []Transition
	clock   func() time.Time
}

// NewMachine creates a machine at INIT bound to the given instruction
// envelope fingerprint and executor.
func NewMachine(envelopeFingerprint, executorID string) *Machine {
	return &Machine{
		ctx: contracts.LoopContext{
			LoopID:              uuid.New().String(),
			EnvelopeFingerprint: envelopeFingerprint,
			State:               contracts.LoopInit,
			ExecutorID:          executorID,
			CreatedAt:           time.Now().UTC(),
		},
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Machine) WithClock(clock func() time.Time) *Machine {
	m.clock = clock
	return m
}

// Context returns a copy of the current loop context.
func (m *Machine) Context() contracts.LoopContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// State returns the current loop state.
func (m *Machine) State() contracts.LoopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.State
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Transition requests a move to the target state. An illegal request records
// a forced HALTED transition and returns ErrIllegalTransition.
func (m *Machine) Transition(target contracts.LoopState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.ctx.State
	if !target.Valid() || !Allowed(from, target) {
		m.record(from, contracts.LoopHalted, fmt.Sprintf("forced halt: illegal transition %s -> %s", from, target))
		m.ctx.State = contracts.LoopHalted
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, target)
	}

	m.record(from, target, reason)
	m.ctx.State = target
	return nil
}

// ForceHalt moves the machine to HALTED unconditionally. HALTED→HALTED is
// legal, so this never fails.
func (m *Machine) ForceHalt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(m.ctx.State, contracts.LoopHalted, reason)
	m.ctx.State = contracts.LoopHalted
}

func (m *Machine) record(from, to contracts.LoopState, reason string) {
	m.history = append(m.history, Transition{From: from, To: to, Reason: reason, At: m.clock().UTC()})
}
