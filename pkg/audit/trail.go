// Package audit implements the append-only governance trail with hash
// chaining, so every transition, decision, grant, and consumption can be
// recomputed by an external verifier.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/warden/core/pkg/canonicalize"
	"github.com/ledgerline/warden/core/pkg/ledger"
)

var (
	ErrEntryNotFound = errors.New("audit: entry not found")
	ErrChainBroken   = errors.New("audit: hash chain is broken")
)

// EventKind categorizes trail events.
type EventKind string

const (
	KindTransition  EventKind = "transition"
	KindDecision    EventKind = "decision"
	KindIntent      EventKind = "intent"
	KindRevocation  EventKind = "revocation"
	KindGrant       EventKind = "grant"
	KindConsumption EventKind = "consumption"
	KindEvidence    EventKind = "evidence"
	KindHalt        EventKind = "halt"
)

// Event is a single immutable entry in the trail.
type Event struct {
	EventID      string          `json:"event_id"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Kind         EventKind       `json:"kind"`
	SessionID    string          `json:"session_id"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	PreviousHash string          `json:"previous_hash"`
	EventHash    string          `json:"event_hash"`
}

// Trail is an append-only event log with hash chaining.
type Trail struct {
	mu        sync.RWMutex
	events    []*Event
	byID      map[string]*Event
	sequence  uint64
	chainHead string
	clock     func() time.Time
}

// NewTrail creates an empty trail.
func NewTrail() *Trail {
	return &Trail{
		byID:      make(map[string]*Event),
		chainHead: "genesis",
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

// Append records an event. The payload is serialized, fingerprinted, and
// folded into the chain; nothing recorded here is ever mutated.
func (t *Trail) Append(kind EventKind, sessionID, action string, payload any) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("audit: serializing payload: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sequence++
	ev := &Event{
		EventID:      uuid.New().String(),
		Sequence:     t.sequence,
		Timestamp:    t.clock().UTC(),
		Kind:         kind,
		SessionID:    sessionID,
		Action:       action,
		Payload:      payloadBytes,
		PayloadHash:  canonicalize.HashBytes(payloadBytes),
		PreviousHash: t.chainHead,
	}
	hash, err := eventHash(ev)
	if err != nil {
		t.sequence--
		return nil, err
	}
	ev.EventHash = hash
	t.chainHead = hash

	t.events = append(t.events, ev)
	t.byID[ev.EventID] = ev
	return ev, nil
}

// eventHash covers every chained field, previous hash included.
func eventHash(ev *Event) (string, error) {
	fp, err := canonicalize.Fingerprint(struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		Kind         EventKind `json:"kind"`
		SessionID    string    `json:"session_id"`
		Action       string    `json:"action"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{
		Sequence:     ev.Sequence,
		Timestamp:    ev.Timestamp,
		Kind:         ev.Kind,
		SessionID:    ev.SessionID,
		Action:       ev.Action,
		PayloadHash:  ev.PayloadHash,
		PreviousHash: ev.PreviousHash,
	})
	if err != nil {
		return "", fmt.Errorf("audit: hashing event: %w", err)
	}
	return fp, nil
}

// Get retrieves an event by id.
func (t *Trail) Get(eventID string) (*Event, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.byID[eventID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return ev, nil
}

// ChainHead returns the current chain head hash.
func (t *Trail) ChainHead() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chainHead
}

// Size returns the number of recorded events.
func (t *Trail) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Filter selects events for queries and exports.
type Filter struct {
	Kind      EventKind
	SessionID string
	StartTime *time.Time
	EndTime   *time.Time
}

func (f Filter) matches(ev *Event) bool {
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.StartTime != nil && ev.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && ev.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Query returns events matching the filter in append order.
func (t *Trail) Query(f Filter) []*Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Event, 0)
	for _, ev := range t.events {
		if f.matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Verify recomputes the whole chain and fails on the first break.
func (t *Trail) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	expectedPrev := "genesis"
	for i, ev := range t.events {
		if ev.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: event %d has previous_hash %s, expected %s",
				ErrChainBroken, i, ev.PreviousHash, expectedPrev)
		}
		computed, err := eventHash(ev)
		if err != nil {
			return err
		}
		if computed != ev.EventHash {
			return fmt.Errorf("%w: event %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = ev.EventHash
	}
	return nil
}

// WriteJSONL streams the trail as one JSON event per line, in append order.
func (t *Trail) WriteJSONL(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	enc := json.NewEncoder(w)
	for _, ev := range t.events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("audit: writing event %d: %w", ev.Sequence, err)
		}
	}
	return nil
}

// LoadJSONL reconstructs a trail from its JSONL form and verifies the whole
// chain before returning it.
func LoadJSONL(r io.Reader) (*Trail, error) {
	t := NewTrail()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("audit: parsing event: %w", err)
		}
		e := ev
		t.events = append(t.events, &e)
		t.byID[e.EventID] = &e
		t.sequence = e.Sequence
		t.chainHead = e.EventHash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: reading trail: %w", err)
	}
	if err := t.Verify(); err != nil {
		return nil, err
	}
	return t, nil
}

// SessionRecorder adapts the trail to the session's milestone recorder,
// scoped to one session id.
func (t *Trail) SessionRecorder(sessionID string) *SessionRecorder {
	return &SessionRecorder{trail: t, sessionID: sessionID}
}

// SessionRecorder appends session milestones under a fixed session id.
type SessionRecorder struct {
	trail     *Trail
	sessionID string
}

// Record appends one milestone. Serialization failures are swallowed; the
// trail never blocks the pipeline.
func (r *SessionRecorder) Record(kind, action string, payload any) {
	_, _ = r.trail.Append(EventKind(kind), r.sessionID, action, payload)
}

// LedgerSink adapts the trail to the ledger's event sink. The session id is
// fixed per sink so one trail can serve multiple sessions.
func (t *Trail) LedgerSink(sessionID string) ledger.Sink {
	return func(event ledger.TransitionEvent) {
		action := "transition"
		if !event.Accepted {
			action = "transition_rejected"
		}
		// Append only fails on unserializable payloads; TransitionEvent is
		// plain data.
		_, _ = t.Append(KindTransition, sessionID, action, event)
	}
}
