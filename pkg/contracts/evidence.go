package contracts

import "time"

// EvidenceRecord is one observed fact. Created once per observation, never
// mutated. Its fingerprint must be globally unique across all linked
// evidence; reuse anywhere is a replay.
type EvidenceRecord struct {
	ID          string           `json:"id"`
	ExecutionID string           `json:"execution_id"`
	Point       ObservationPoint `json:"point"`
	Kind        string           `json:"kind"`
	Fingerprint string           `json:"fingerprint"`
	Status      EvidenceStatus   `json:"status"`
	CapturedAt  time.Time        `json:"captured_at"`
}

// ChainEntry is one link of the evidence chain: the record fingerprint plus
// the running head after folding it in.
type ChainEntry struct {
	Sequence    uint64    `json:"sequence"`
	Fingerprint string    `json:"fingerprint"`
	Head        string    `json:"head"`
	AppendedAt  time.Time `json:"appended_at"`
}

// EvidenceSummary is what the human gate presents. It carries derived facts
// only: never raw executor output, never payload bytes. Anything the executor
// self-reported is surfaced under ClaimedStatus, explicitly marked unverified.
type EvidenceSummary struct {
	SessionID      string           `json:"session_id"`
	Point          ObservationPoint `json:"point"`
	EvidenceKind   string           `json:"evidence_kind"`
	CapturedAt     time.Time        `json:"captured_at"`
	LoopState      LoopState        `json:"loop_state"`
	ChainLength    int              `json:"chain_length"`
	ChainHead      string           `json:"chain_head"`
	Confidence     float64          `json:"confidence"`
	ClaimedStatus  string           `json:"claimed_status,omitempty"` // "CLAIMED, not verified"
	PriorDecisions []DecisionType   `json:"prior_decisions,omitempty"`
}
