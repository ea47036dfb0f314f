// Package evidence implements the tamper-evident evidence layer: an
// append-only hash-linked chain of observation fingerprints, and the observer
// that captures records at fixed points during a loop iteration.
//
// The chain head is an explicit fold: head[n] = sha256(head[n-1] || fp[n]),
// with head[0] a fixed genesis constant. Verification recomputes the fold.
// A fingerprint may appear at most once in the chain's entire history;
// reappearance anywhere is a replay and is rejected.
package evidence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerline/warden/core/pkg/canonicalize"
	"github.com/ledgerline/warden/core/pkg/contracts"
)

// GenesisHead is the fixed head of an empty chain.
const GenesisHead = "genesis"

var (
	// ErrReplay is returned when a fingerprint already present anywhere in
	// the chain's history is appended again.
	ErrReplay = errors.New("evidence: replay detected")
	// ErrChainBroken is returned when recomputing the fold does not reproduce
	// the recorded heads.
	ErrChainBroken = errors.New("evidence: hash chain is broken")
	// ErrEmptyFingerprint is returned for appends without a fingerprint.
	ErrEmptyFingerprint = errors.New("evidence: fingerprint must not be empty")
)

// Chain is the ordered evidence history of one session. Appends are the only
// mutation; entries are never edited in place. Appends are serialized because
// the fold is inherently sequential.
type Chain struct {
	mu        sync.RWMutex
	sessionID string
	entries   []contracts.ChainEntry
	seen      map[string]uint64 // fingerprint -> sequence
	head      string
	clock     func() time.Time
}

// NewChain creates an empty chain for the session.
func NewChain(sessionID string) *Chain {
	return &Chain{
		sessionID: sessionID,
		seen:      make(map[string]uint64),
		head:      GenesisHead,
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// SessionID returns the owning session id.
func (c *Chain) SessionID() string { return c.sessionID }

// Head returns the current running chain hash.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Length returns the number of linked entries.
func (c *Chain) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a copy of the full chain history.
func (c *Chain) Entries() []contracts.ChainEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]contracts.ChainEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Contains reports whether the fingerprint is linked anywhere in the history.
func (c *Chain) Contains(fingerprint string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.seen[fingerprint]
	return ok
}

// Append links a new fingerprint and advances the head. Replayed fingerprints
// are rejected; the chain is left untouched.
func (c *Chain) Append(fingerprint string) (contracts.ChainEntry, error) {
	if fingerprint == "" {
		return contracts.ChainEntry{}, ErrEmptyFingerprint
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq, ok := c.seen[fingerprint]; ok {
		return contracts.ChainEntry{}, fmt.Errorf("%w: fingerprint %s already linked at sequence %d", ErrReplay, fingerprint, seq)
	}

	entry := contracts.ChainEntry{
		Sequence:    uint64(len(c.entries) + 1),
		Fingerprint: fingerprint,
		Head:        canonicalize.ChainFold(c.head, fingerprint),
		AppendedAt:  c.clock().UTC(),
	}
	c.entries = append(c.entries, entry)
	c.seen[fingerprint] = entry.Sequence
	c.head = entry.Head
	return entry, nil
}

// Verify recomputes the fold over the full history and compares it against
// the recorded heads. Any discontinuity makes the chain INVALID.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return VerifyEntries(c.entries)
}

// VerifyEntries recomputes the fold over exported entries. External auditors
// use this to independently check an evidence pack.
func VerifyEntries(entries []contracts.ChainEntry) error {
	head := GenesisHead
	for i, e := range entries {
		if e.Sequence != uint64(i+1) {
			return fmt.Errorf("%w: sequence gap at index %d", ErrChainBroken, i)
		}
		head = canonicalize.ChainFold(head, e.Fingerprint)
		if head != e.Head {
			return fmt.Errorf("%w: head mismatch at sequence %d", ErrChainBroken, e.Sequence)
		}
	}
	return nil
}
