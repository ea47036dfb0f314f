// Package ledger is the authoritative, per-attempt record of state
// transitions, evidence linkage, and retry accounting.
//
// The ledger is the only component that moves an execution between states.
// Transition legality is a closed table; anything outside it is rejected.
// An evidence fingerprint may be linked to at most one execution, ever:
// replay prevention is global, not per record. Once an execution is
// finalized, every mutating operation is rejected.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/warden/core/pkg/contracts"
)

var (
	// ErrFinalized is returned for any mutation of a finalized execution.
	ErrFinalized = errors.New("ledger: execution is finalized")
	// ErrIllegalTransition is returned for transitions outside the table.
	ErrIllegalTransition = errors.New("ledger: illegal transition")
	// ErrEvidenceNotLinked is returned when attaching evidence whose record
	// status is anything but LINKED.
	ErrEvidenceNotLinked = errors.New("ledger: evidence record is not LINKED")
	// ErrAttemptsExhausted is returned when no attempts remain.
	ErrAttemptsExhausted = errors.New("ledger: attempts exhausted")
)

// legal maps each execution state to the states it may move to. HALTED is
// terminal; FAILED re-enters ATTEMPTED only through retry accounting.
var legal = map[contracts.ExecutionState]map[contracts.ExecutionState]bool{
	contracts.ExecRequested: {
		contracts.ExecAttempted: true,
		contracts.ExecHalted:    true,
	},
	contracts.ExecAttempted: {
		contracts.ExecEvaluated: true,
		contracts.ExecFailed:    true,
		contracts.ExecHalted:    true,
	},
	contracts.ExecEvaluated: {
		contracts.ExecAttempted: true,
		contracts.ExecEscalated: true,
		contracts.ExecFailed:    true,
		contracts.ExecHalted:    true,
	},
	contracts.ExecFailed: {
		contracts.ExecAttempted: true,
		contracts.ExecHalted:    true,
	},
	contracts.ExecEscalated: {
		contracts.ExecAttempted: true,
		contracts.ExecHalted:    true,
	},
	contracts.ExecHalted: {},
}

// Allowed reports whether from→to is in the legal execution-state table.
// Unknown states are never allowed.
func Allowed(from, to contracts.ExecutionState) bool {
	targets, ok := legal[from]
	return ok && targets[to]
}

// TransitionEvent is emitted to the audit sink on every accepted or rejected
// transition.
type TransitionEvent struct {
	ExecutionID string                   `json:"execution_id"`
	From        contracts.ExecutionState `json:"from"`
	To          contracts.ExecutionState `json:"to"`
	Reason      string                   `json:"reason"`
	Accepted    bool                     `json:"accepted"`
	At          time.Time                `json:"at"`
}

// Sink receives ledger events for the audit trail.
type Sink func(event TransitionEvent)

// Ledger enforces execution lifecycle rules over a Store.
type Ledger struct {
	store Store
	sink  Sink
	clock func() time.Time
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store, clock: time.Now}
}

// WithSink attaches an audit sink for transition events.
func (l *Ledger) WithSink(sink Sink) *Ledger {
	l.sink = sink
	return l
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Create registers a new execution attempt at REQUESTED.
func (l *Ledger) Create(ctx context.Context, requestID string, maxAttempts int) (contracts.ExecutionRecord, error) {
	if requestID == "" {
		return contracts.ExecutionRecord{}, errors.New("ledger: request id must not be empty")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := l.clock().UTC()
	rec := contracts.ExecutionRecord{
		ID:          uuid.New().String(),
		RequestID:   requestID,
		State:       contracts.ExecRequested,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return contracts.ExecutionRecord{}, err
	}
	return rec, nil
}

// Get retrieves an execution by id.
func (l *Ledger) Get(ctx context.Context, id string) (contracts.ExecutionRecord, error) {
	return l.store.Get(ctx, id)
}

// RecordAttempt increments the attempt counter and moves the execution to
// ATTEMPTED. Exhausted attempts reject the call.
func (l *Ledger) RecordAttempt(ctx context.Context, id string) (contracts.ExecutionRecord, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return contracts.ExecutionRecord{}, err
	}
	if rec.Finalized {
		return contracts.ExecutionRecord{}, ErrFinalized
	}
	if rec.AttemptCount >= rec.MaxAttempts {
		return contracts.ExecutionRecord{}, fmt.Errorf("%w (%d/%d)", ErrAttemptsExhausted, rec.AttemptCount, rec.MaxAttempts)
	}
	from := rec.State
	if !Allowed(from, contracts.ExecAttempted) {
		l.emit(rec.ID, from, contracts.ExecAttempted, "record_attempt", false)
		return contracts.ExecutionRecord{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, contracts.ExecAttempted)
	}

	rec.AttemptCount++
	rec.State = contracts.ExecAttempted
	rec.UpdatedAt = l.clock().UTC()
	if err := l.store.Update(ctx, rec); err != nil {
		return contracts.ExecutionRecord{}, err
	}
	l.emit(rec.ID, from, contracts.ExecAttempted, "record_attempt", true)
	return rec, nil
}

// TransitionState moves the execution along the legal table. An illegal
// target is rejected, reported to the sink, and forces HALTED: unknown is
// always deny.
func (l *Ledger) TransitionState(ctx context.Context, id string, target contracts.ExecutionState, reason string) (contracts.ExecutionRecord, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return contracts.ExecutionRecord{}, err
	}
	if rec.Finalized {
		return contracts.ExecutionRecord{}, ErrFinalized
	}

	from := rec.State
	if !target.Valid() || !Allowed(from, target) {
		l.emit(rec.ID, from, target, reason, false)
		rec.State = contracts.ExecHalted
		rec.Finalized = true
		rec.UpdatedAt = l.clock().UTC()
		if uerr := l.store.Update(ctx, rec); uerr != nil {
			return contracts.ExecutionRecord{}, uerr
		}
		l.emit(rec.ID, from, contracts.ExecHalted, "forced halt: illegal transition", true)
		return rec, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, target)
	}

	rec.State = target
	if target == contracts.ExecHalted {
		rec.Finalized = true
	}
	rec.UpdatedAt = l.clock().UTC()
	if err := l.store.Update(ctx, rec); err != nil {
		return contracts.ExecutionRecord{}, err
	}
	l.emit(rec.ID, from, target, reason, true)
	return rec, nil
}

// AttachEvidence links an evidence record to the execution. The fingerprint
// must not be linked anywhere else, and the record's status must be LINKED.
func (l *Ledger) AttachEvidence(ctx context.Context, id string, evidence contracts.EvidenceRecord) error {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Finalized {
		return ErrFinalized
	}
	if evidence.Status != contracts.EvidenceLinked {
		return fmt.Errorf("%w: status is %s", ErrEvidenceNotLinked, evidence.Status)
	}
	if evidence.Fingerprint == "" {
		return fmt.Errorf("%w: empty fingerprint", ErrEvidenceNotLinked)
	}
	if owner, linked, err := l.store.FingerprintOwner(ctx, evidence.Fingerprint); err != nil {
		return err
	} else if linked {
		return fmt.Errorf("%w: fingerprint %s already linked to execution %s", ErrReplay, evidence.Fingerprint, owner)
	}

	evidence.ExecutionID = rec.ID
	return l.store.LinkEvidence(ctx, evidence)
}

// DecideRetry answers whether the execution may retry: ALLOWED while the
// execution is FAILED with attempts remaining, HUMAN_REQUIRED for ESCALATED,
// DENIED once finalized and for everything else.
func (l *Ledger) DecideRetry(ctx context.Context, id string) (contracts.RetryVerdict, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return contracts.RetryDenied, err
	}
	switch {
	case rec.Finalized:
		return contracts.RetryDenied, nil
	case rec.State == contracts.ExecEscalated:
		return contracts.RetryHumanRequired, nil
	case rec.State == contracts.ExecFailed && rec.AttemptCount < rec.MaxAttempts:
		return contracts.RetryAllowed, nil
	default:
		return contracts.RetryDenied, nil
	}
}

// Finalize marks the execution immutable.
func (l *Ledger) Finalize(ctx context.Context, id string) error {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Finalized {
		return nil
	}
	rec.Finalized = true
	rec.UpdatedAt = l.clock().UTC()
	return l.store.Update(ctx, rec)
}

// EvidenceFor lists the evidence linked to an execution.
func (l *Ledger) EvidenceFor(ctx context.Context, id string) ([]contracts.EvidenceRecord, error) {
	return l.store.EvidenceFor(ctx, id)
}

func (l *Ledger) emit(id string, from, to contracts.ExecutionState, reason string, accepted bool) {
	if l.sink == nil {
		return
	}
	l.sink(TransitionEvent{
		ExecutionID: id,
		From:        from,
		To:          to,
		Reason:      reason,
		Accepted:    accepted,
		At:          l.clock().UTC(),
	})
}
