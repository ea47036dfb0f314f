package ledger

import (
	"context"
	"sync"

	"github.com/ledgerline/warden/core/pkg/contracts"
)

// MemoryStore is the in-process Store used for tests and single-session runs.
type MemoryStore struct {
	mu          sync.RWMutex
	executions  map[string]contracts.ExecutionRecord
	evidence    map[string][]contracts.EvidenceRecord
	fingerprint map[string]string // fingerprint -> execution id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions:  make(map[string]contracts.ExecutionRecord),
		evidence:    make(map[string][]contracts.EvidenceRecord),
		fingerprint: make(map[string]string),
	}
}

// Insert implements Store.
func (m *MemoryStore) Insert(ctx context.Context, rec contracts.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[rec.ID]; exists {
		return ErrDuplicate
	}
	m.executions[rec.ID] = rec
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, id string) (contracts.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[id]
	if !ok {
		return contracts.ExecutionRecord{}, ErrNotFound
	}
	return rec, nil
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, rec contracts.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[rec.ID]; !ok {
		return ErrNotFound
	}
	m.executions[rec.ID] = rec
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context) ([]contracts.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.ExecutionRecord, 0, len(m.executions))
	for _, rec := range m.executions {
		out = append(out, rec)
	}
	return out, nil
}

// LinkEvidence implements Store. The fingerprint index is global across all
// executions.
func (m *MemoryStore) LinkEvidence(ctx context.Context, rec contracts.EvidenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, linked := m.fingerprint[rec.Fingerprint]; linked {
		return ErrReplay
	}
	m.fingerprint[rec.Fingerprint] = rec.ExecutionID
	m.evidence[rec.ExecutionID] = append(m.evidence[rec.ExecutionID], rec)
	return nil
}

// EvidenceFor implements Store.
func (m *MemoryStore) EvidenceFor(ctx context.Context, executionID string) ([]contracts.EvidenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.evidence[executionID]
	out := make([]contracts.EvidenceRecord, len(src))
	copy(out, src)
	return out, nil
}

// FingerprintOwner implements Store.
func (m *MemoryStore) FingerprintOwner(ctx context.Context, fingerprint string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.fingerprint[fingerprint]
	return owner, ok, nil
}
