package ledger

import (
	"context"
	"errors"

	"github.com/ledgerline/warden/core/pkg/contracts"
)

var (
	// ErrNotFound is returned when an execution is not in the store.
	ErrNotFound = errors.New("ledger: execution not found")
	// ErrDuplicate is returned when inserting an execution id that exists.
	ErrDuplicate = errors.New("ledger: execution already exists")
	// ErrReplay is returned when a fingerprint is already linked anywhere.
	ErrReplay = errors.New("ledger: replay detected")
)

// Store is the durable interface behind the ledger. The ledger owns all
// legality checks; stores only persist and enforce the global fingerprint
// uniqueness that backs replay prevention.
type Store interface {
	// Insert persists a new execution record.
	Insert(ctx context.Context, rec contracts.ExecutionRecord) error

	// Get retrieves an execution by id.
	Get(ctx context.Context, id string) (contracts.ExecutionRecord, error)

	// Update overwrites an existing execution record.
	Update(ctx context.Context, rec contracts.ExecutionRecord) error

	// List retrieves all executions, for observability and export.
	List(ctx context.Context) ([]contracts.ExecutionRecord, error)

	// LinkEvidence persists an evidence linkage. The store must reject a
	// fingerprint already linked to any execution.
	LinkEvidence(ctx context.Context, rec contracts.EvidenceRecord) error

	// EvidenceFor retrieves evidence linked to an execution.
	EvidenceFor(ctx context.Context, executionID string) ([]contracts.EvidenceRecord, error)

	// FingerprintOwner returns the execution a fingerprint is linked to.
	FingerprintOwner(ctx context.Context, fingerprint string) (string, bool, error)
}
