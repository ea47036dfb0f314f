// Package gate is the human decision point. It presents a restricted
// evidence summary — never raw executor output — and accepts exactly one
// decision per presentation.
//
// The wait for input is bounded: if no decision arrives before the timeout,
// the gate manufactures an ABORT decision tagged reason "TIMEOUT". Silent
// continuation is not an outcome this component can produce.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/warden/core/pkg/contracts"
)

const (
	// TimeoutReason tags the synthesized ABORT on gate expiry.
	TimeoutReason = "TIMEOUT"
	// warnFraction of the timeout after which the warning fires.
	warnFraction = 0.8
)

var (
	// ErrReasonRequired is returned when RETRY or ESCALATE omits a reason.
	ErrReasonRequired = errors.New("gate: reason is required for this decision")
	// ErrTargetRequired is returned when ESCALATE omits a target.
	ErrTargetRequired = errors.New("gate: escalation target is required")
	// ErrRetryBudget is returned when RETRY exceeds the configured maximum.
	ErrRetryBudget = errors.New("gate: retry budget exhausted")
	// ErrUnknownDecision is returned for decisions outside the closed set.
	ErrUnknownDecision = errors.New("gate: unknown decision type")
	// ErrNotHuman is returned when the submitter is not HUMAN authority.
	ErrNotHuman = errors.New("gate: only a human may decide")
)

// Submission is what the human operator sends back for one presentation.
type Submission struct {
	Type             contracts.DecisionType `json:"type"`
	Reason           string                 `json:"reason,omitempty"`
	EscalationTarget string                 `json:"escalation_target,omitempty"`
	DecidedBy        contracts.Identity     `json:"decided_by"`
}

// Options configures the gate.
type Options struct {
	Timeout    time.Duration                 // default 5 minutes
	MaxRetries int                           // per session, default 3
	OnWarning  func(remaining time.Duration) // fired at 80% of the timeout
}

// Gate runs presentations and keeps the per-session decision history that
// feeds retry accounting and summary context.
type Gate struct {
	mu        sync.Mutex
	opts      Options
	decisions map[string][]contracts.DecisionRecord // session id -> history
	clock     func() time.Time
}

// New creates a gate with safe defaults for anything unset.
func New(opts Options) *Gate {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Gate{
		opts:      opts,
		decisions: make(map[string][]contracts.DecisionRecord),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// History returns the recorded decisions for a session.
func (g *Gate) History(sessionID string) []contracts.DecisionRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	src := g.decisions[sessionID]
	out := make([]contracts.DecisionRecord, len(src))
	copy(out, src)
	return out
}

// PriorDecisionTypes returns the decision types already made in the session,
// for inclusion in the next evidence summary.
func (g *Gate) PriorDecisionTypes(sessionID string) []contracts.DecisionType {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]contracts.DecisionType, 0, len(g.decisions[sessionID]))
	for _, d := range g.decisions[sessionID] {
		out = append(out, d.Type)
	}
	return out
}

// Present offers the summary and waits for exactly one submission on input.
// Expiry of the timeout, or cancellation of ctx, synthesizes an ABORT record
// with reason "TIMEOUT". A malformed submission is rejected with no record:
// the presentation must be repeated.
func (g *Gate) Present(ctx context.Context, summary contracts.EvidenceSummary, input <-chan Submission) (contracts.DecisionRecord, error) {
	timeout := time.NewTimer(g.opts.Timeout)
	defer timeout.Stop()

	warnDelay := time.Duration(float64(g.opts.Timeout) * warnFraction)
	warn := time.NewTimer(warnDelay)
	defer warn.Stop()

	for {
		select {
		case sub := <-input:
			rec, err := g.accept(summary, sub)
			if err != nil {
				return contracts.DecisionRecord{}, err
			}
			return rec, nil

		case <-warn.C:
			if g.opts.OnWarning != nil {
				g.opts.OnWarning(g.opts.Timeout - warnDelay)
			}

		case <-timeout.C:
			return g.synthesizeAbort(summary), nil

		case <-ctx.Done():
			return g.synthesizeAbort(summary), nil
		}
	}
}

// Decide validates and records a submission without a bounded wait. It backs
// Present and is also the entry point for non-blocking frontends that manage
// their own prompt lifecycle.
func (g *Gate) Decide(summary contracts.EvidenceSummary, sub Submission) (contracts.DecisionRecord, error) {
	return g.accept(summary, sub)
}

func (g *Gate) accept(summary contracts.EvidenceSummary, sub Submission) (contracts.DecisionRecord, error) {
	if !sub.Type.Valid() {
		return contracts.DecisionRecord{}, fmt.Errorf("%w: %q", ErrUnknownDecision, sub.Type)
	}
	if sub.DecidedBy.Class != contracts.AuthorityHuman {
		return contracts.DecisionRecord{}, ErrNotHuman
	}

	switch sub.Type {
	case contracts.DecideRetry:
		if sub.Reason == "" {
			return contracts.DecisionRecord{}, fmt.Errorf("%w: RETRY", ErrReasonRequired)
		}
		if g.retryCount(summary.SessionID) >= g.opts.MaxRetries {
			return contracts.DecisionRecord{}, fmt.Errorf("%w: %d retries already recorded", ErrRetryBudget, g.opts.MaxRetries)
		}
	case contracts.DecideEscalate:
		if sub.Reason == "" {
			return contracts.DecisionRecord{}, fmt.Errorf("%w: ESCALATE", ErrReasonRequired)
		}
		if sub.EscalationTarget == "" {
			return contracts.DecisionRecord{}, ErrTargetRequired
		}
	}

	rec := contracts.DecisionRecord{
		ID:               uuid.New().String(),
		Type:             sub.Type,
		DecidedBy:        sub.DecidedBy,
		SessionID:        summary.SessionID,
		ChainFingerprint: summary.ChainHead,
		Reason:           sub.Reason,
		EscalationTarget: sub.EscalationTarget,
		Timestamp:        g.clock().UTC(),
	}
	g.record(rec)
	return rec, nil
}

// synthesizeAbort manufactures the timeout ABORT. It is attributed to the
// system identity so the audit trail shows no human made this call.
func (g *Gate) synthesizeAbort(summary contracts.EvidenceSummary) contracts.DecisionRecord {
	rec := contracts.DecisionRecord{
		ID:               uuid.New().String(),
		Type:             contracts.DecideAbort,
		DecidedBy:        contracts.SystemIdentity,
		SessionID:        summary.SessionID,
		ChainFingerprint: summary.ChainHead,
		Reason:           TimeoutReason,
		Timestamp:        g.clock().UTC(),
	}
	g.record(rec)
	return rec
}

func (g *Gate) record(rec contracts.DecisionRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decisions[rec.SessionID] = append(g.decisions[rec.SessionID], rec)
}

func (g *Gate) retryCount(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, d := range g.decisions[sessionID] {
		if d.Type == contracts.DecideRetry {
			n++
		}
	}
	return n
}
