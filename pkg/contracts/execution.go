package contracts

import "time"

// ExecutionRecord is the ledger's view of one execution attempt. It is
// created at REQUESTED and mutated only through explicit ledger operations;
// once Finalized is set, every mutating operation is rejected.
type ExecutionRecord struct {
	ID           string         `json:"id"`
	RequestID    string         `json:"request_id"`
	State        ExecutionState `json:"state"`
	AttemptCount int            `json:"attempt_count"`
	MaxAttempts  int            `json:"max_attempts"`
	Finalized    bool           `json:"finalized"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LoopContext is the state of one loop iteration. HALTED is terminal.
type LoopContext struct {
	LoopID              string    `json:"loop_id"`
	EnvelopeFingerprint string    `json:"envelope_fingerprint"`
	State               LoopState `json:"state"`
	ExecutorID          string    `json:"executor_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// EvaluationResult is the outcome of evaluating one executor response.
// Produced once per evaluation, immutable.
type EvaluationResult struct {
	Verdict EvaluationVerdict `json:"verdict"`
	Reason  string            `json:"reason"`
}

// NormalizedResponse pairs the governance-owned classification of an executor
// response with the confidence the table assigns it. Confidence never reaches
// 1.0: certainty requires human confirmation, which is a separate act.
type NormalizedResponse struct {
	Decision   NormalizedDecision `json:"decision"`
	Confidence float64            `json:"confidence"`
}

// InstructionEnvelope is what the (out-of-scope) executor receives.
type InstructionEnvelope struct {
	InstructionID string        `json:"instruction_id"`
	ExecutionID   string        `json:"execution_id"`
	CommandType   string        `json:"command_type"`
	Target        string        `json:"target"`
	Timeout       time.Duration `json:"timeout"`
}

// ResponseEnvelope is the executor's untrusted reply. A SUCCESS without an
// evidence fingerprint, or an instruction id that does not match the
// outstanding request, is rejected before the normalizer ever sees it.
type ResponseEnvelope struct {
	InstructionID       string       `json:"instruction_id"`
	ResponseType        ResponseType `json:"response_type"`
	EvidenceFingerprint string       `json:"evidence_fingerprint,omitempty"`
	Timestamp           time.Time    `json:"timestamp"`
}
