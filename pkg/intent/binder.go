// Package intent binds one human decision to one immutable execution intent.
//
// An intent is permission-to-request, not permission-to-act: it freezes the
// decision, the evidence-chain head it was made against, and the loop state
// at binding time. Revocation is a one-way successor record; the binder never
// flips a flag on the intent itself, and revocation status is always answered
// from the authoritative revocation store.
package intent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/warden/core/pkg/canonicalize"
	"github.com/ledgerline/warden/core/pkg/contracts"
)

var (
	// ErrAlreadyBound is returned when a decision id already has an intent.
	ErrAlreadyBound = errors.New("intent: decision already bound")
	// ErrMalformedDecision is returned when the decision fails its type's
	// required-field validation.
	ErrMalformedDecision = errors.New("intent: malformed decision")
	// ErrNotFound is returned when the intent does not exist.
	ErrNotFound = errors.New("intent: not found")
	// ErrAlreadyRevoked is returned on a second revocation attempt.
	ErrAlreadyRevoked = errors.New("intent: already revoked")
	// ErrNotBindable is returned for decision types that never produce an
	// intent (ABORT terminates; nothing downstream may act on it).
	ErrNotBindable = errors.New("intent: decision type does not produce an intent")
)

// Binder creates intents and tracks revocations.
type Binder struct {
	mu          sync.RWMutex
	byDecision  map[string]string // decision id -> intent id
	intents     map[string]contracts.ExecutionIntent
	revocations map[string]contracts.IntentRevocation // intent id -> revocation
	clock       func() time.Time
}

// NewBinder creates an empty binder.
func NewBinder() *Binder {
	return &Binder{
		byDecision:  make(map[string]string),
		intents:     make(map[string]contracts.ExecutionIntent),
		revocations: make(map[string]contracts.IntentRevocation),
		clock:       time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Binder) WithClock(clock func() time.Time) *Binder {
	b.clock = clock
	return b
}

// Bind validates the decision and creates exactly one intent for it. The
// intent's fingerprint is computed over all bound fields; a second bind for
// the same decision id always fails.
func (b *Binder) Bind(decision contracts.DecisionRecord, loopState contracts.LoopState) (contracts.ExecutionIntent, error) {
	if err := validateDecision(decision); err != nil {
		return contracts.ExecutionIntent{}, err
	}
	if decision.Type == contracts.DecideAbort {
		return contracts.ExecutionIntent{}, fmt.Errorf("%w: ABORT", ErrNotBindable)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.byDecision[decision.ID]; ok {
		return contracts.ExecutionIntent{}, fmt.Errorf("%w: decision %s is bound to intent %s", ErrAlreadyBound, decision.ID, existing)
	}

	it := contracts.ExecutionIntent{
		ID:               uuid.New().String(),
		DecisionID:       decision.ID,
		DecisionType:     decision.Type,
		ChainFingerprint: decision.ChainFingerprint,
		SessionID:        decision.SessionID,
		LoopState:        loopState,
		CreatedBy:        decision.DecidedBy,
		CreatedAt:        b.clock().UTC(),
	}
	fp, err := canonicalize.Fingerprint(struct {
		DecisionID       string                 `json:"decision_id"`
		DecisionType     contracts.DecisionType `json:"decision_type"`
		ChainFingerprint string                 `json:"chain_fingerprint"`
		SessionID        string                 `json:"session_id"`
		LoopState        contracts.LoopState    `json:"loop_state"`
	}{it.DecisionID, it.DecisionType, it.ChainFingerprint, it.SessionID, it.LoopState})
	if err != nil {
		return contracts.ExecutionIntent{}, fmt.Errorf("intent: fingerprint: %w", err)
	}
	it.Fingerprint = fp

	b.byDecision[decision.ID] = it.ID
	b.intents[it.ID] = it
	return it, nil
}

// Get retrieves an intent by id.
func (b *Binder) Get(intentID string) (contracts.ExecutionIntent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.intents[intentID]
	if !ok {
		return contracts.ExecutionIntent{}, ErrNotFound
	}
	return it, nil
}

// Revoke permanently cancels the intent. Permitted at most once; the
// revocation is a new record referencing the intent, never a mutation of it.
func (b *Binder) Revoke(intentID, reason string, by contracts.Identity) (contracts.IntentRevocation, error) {
	if reason == "" {
		return contracts.IntentRevocation{}, fmt.Errorf("%w: revocation reason required", ErrMalformedDecision)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.intents[intentID]; !ok {
		return contracts.IntentRevocation{}, ErrNotFound
	}
	if _, revoked := b.revocations[intentID]; revoked {
		return contracts.IntentRevocation{}, ErrAlreadyRevoked
	}

	rev := contracts.IntentRevocation{
		ID:        uuid.New().String(),
		IntentID:  intentID,
		Reason:    reason,
		RevokedBy: by,
		Timestamp: b.clock().UTC(),
	}
	b.revocations[intentID] = rev
	return rev, nil
}

// IsRevoked consults the authoritative revocation store; there is no cached
// flag to drift out of date.
func (b *Binder) IsRevoked(intentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, revoked := b.revocations[intentID]
	return revoked
}

// Revocation returns the revocation record, if any.
func (b *Binder) Revocation(intentID string) (contracts.IntentRevocation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rev, ok := b.revocations[intentID]
	return rev, ok
}

// validateDecision checks the required fields per decision type. Anything
// malformed is rejected before an intent can exist.
func validateDecision(d contracts.DecisionRecord) error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing decision id", ErrMalformedDecision)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedDecision, d.Type)
	}
	if d.DecidedBy.Class != contracts.AuthorityHuman {
		return fmt.Errorf("%w: decided-by must be HUMAN", ErrMalformedDecision)
	}
	if d.ChainFingerprint == "" {
		return fmt.Errorf("%w: missing chain fingerprint", ErrMalformedDecision)
	}
	switch d.Type {
	case contracts.DecideRetry:
		if d.Reason == "" {
			return fmt.Errorf("%w: RETRY requires a reason", ErrMalformedDecision)
		}
	case contracts.DecideEscalate:
		if d.Reason == "" || d.EscalationTarget == "" {
			return fmt.Errorf("%w: ESCALATE requires reason and target", ErrMalformedDecision)
		}
	}
	return nil
}
