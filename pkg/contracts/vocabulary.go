// Package contracts defines the shared vocabulary of the governance core:
// the closed variant sets (loop states, decisions, reasons), the identity and
// authority model, and the immutable record types that flow between
// components.
//
// Every set here is closed. Components validate inputs against these sets and
// resolve anything unrecognized to the most restrictive outcome; an optimistic
// default is never the fallback.
package contracts

// LoopState is the state of one execution-loop iteration.
type LoopState string

const (
	LoopInit             LoopState = "INIT"
	LoopDispatched       LoopState = "DISPATCHED"
	LoopAwaitingResponse LoopState = "AWAITING_RESPONSE"
	LoopEvaluated        LoopState = "EVALUATED"
	LoopHalted           LoopState = "HALTED" // terminal
)

// Valid reports whether s is a member of the closed loop-state set.
func (s LoopState) Valid() bool {
	switch s {
	case LoopInit, LoopDispatched, LoopAwaitingResponse, LoopEvaluated, LoopHalted:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s LoopState) Terminal() bool { return s == LoopHalted }

// ExecutionState is the ledger-side lifecycle of one execution attempt.
type ExecutionState string

const (
	ExecRequested ExecutionState = "REQUESTED"
	ExecAttempted ExecutionState = "ATTEMPTED"
	ExecEvaluated ExecutionState = "EVALUATED"
	ExecFailed    ExecutionState = "FAILED"
	ExecEscalated ExecutionState = "ESCALATED"
	ExecHalted    ExecutionState = "HALTED"
)

// Valid reports whether s is a member of the closed execution-state set.
func (s ExecutionState) Valid() bool {
	switch s {
	case ExecRequested, ExecAttempted, ExecEvaluated, ExecFailed, ExecEscalated, ExecHalted:
		return true
	}
	return false
}

// RawOutcome is the executor's self-reported claim about an attempt. It is
// untrusted input: the normalizer classifies it, nothing else consumes it.
type RawOutcome string

const (
	OutcomeSuccess   RawOutcome = "SUCCESS"
	OutcomeFailure   RawOutcome = "FAILURE"
	OutcomeTimeout   RawOutcome = "TIMEOUT"
	OutcomePartial   RawOutcome = "PARTIAL"
	OutcomeMalformed RawOutcome = "MALFORMED"
)

// NormalizedDecision is the governance-owned classification of an executor
// response.
type NormalizedDecision string

const (
	DecisionAccept   NormalizedDecision = "ACCEPT"
	DecisionReject   NormalizedDecision = "REJECT"
	DecisionEscalate NormalizedDecision = "ESCALATE"
)

// EvaluationVerdict is the loop's evaluation of one cycle.
type EvaluationVerdict string

const (
	VerdictContinue EvaluationVerdict = "CONTINUE"
	VerdictStop     EvaluationVerdict = "STOP"
	VerdictEscalate EvaluationVerdict = "ESCALATE"
)

// DecisionType is the human operator's decision at the gate.
type DecisionType string

const (
	DecideContinue DecisionType = "CONTINUE"
	DecideRetry    DecisionType = "RETRY"
	DecideAbort    DecisionType = "ABORT"
	DecideEscalate DecisionType = "ESCALATE"
)

// Valid reports whether d is a member of the closed decision set.
func (d DecisionType) Valid() bool {
	switch d {
	case DecideContinue, DecideRetry, DecideAbort, DecideEscalate:
		return true
	}
	return false
}

// RetryVerdict is the ledger's answer to "may this execution retry?".
type RetryVerdict string

const (
	RetryAllowed       RetryVerdict = "ALLOWED"
	RetryDenied        RetryVerdict = "DENIED"
	RetryHumanRequired RetryVerdict = "HUMAN_REQUIRED"
)

// EvidenceStatus is the linkage state of one evidence record.
type EvidenceStatus string

const (
	EvidenceMissing  EvidenceStatus = "MISSING"
	EvidenceLinked   EvidenceStatus = "LINKED"
	EvidenceInvalid  EvidenceStatus = "INVALID"
	EvidenceVerified EvidenceStatus = "VERIFIED"
)

// ObservationPoint is a fixed capture point during one loop iteration.
type ObservationPoint string

const (
	PointPreDispatch  ObservationPoint = "PRE_DISPATCH"
	PointPostDispatch ObservationPoint = "POST_DISPATCH"
	PointPreEvaluate  ObservationPoint = "PRE_EVALUATE"
	PointPostEvaluate ObservationPoint = "POST_EVALUATE"
	PointHaltEntry    ObservationPoint = "HALT_ENTRY"
)

// Valid reports whether p is a member of the closed observation-point set.
func (p ObservationPoint) Valid() bool {
	switch p {
	case PointPreDispatch, PointPostDispatch, PointPreEvaluate, PointPostEvaluate, PointHaltEntry:
		return true
	}
	return false
}

// StopCondition is a condition that, when true, forces the loop to halt.
// The set is closed; evaluation happens after every evidence capture.
type StopCondition string

const (
	StopMissingAuthorization  StopCondition = "MISSING_AUTHORIZATION"
	StopUnregisteredExecutor  StopCondition = "UNREGISTERED_EXECUTOR"
	StopEnvelopeHashMismatch  StopCondition = "ENVELOPE_HASH_MISMATCH"
	StopUninitializedContext  StopCondition = "UNINITIALIZED_CONTEXT"
	StopBrokenEvidenceChain   StopCondition = "BROKEN_EVIDENCE_CHAIN"
	StopResourceLimitExceeded StopCondition = "RESOURCE_LIMIT_EXCEEDED"
	StopInvalidTimestamp      StopCondition = "INVALID_TIMESTAMP"
	StopExecutionPending      StopCondition = "PRIOR_EXECUTION_PENDING"
	StopAmbiguousIntent       StopCondition = "AMBIGUOUS_INTENT"
	StopHumanAbort            StopCondition = "HUMAN_ABORT"
)

// StopConditions is the full closed set, in evaluation order.
var StopConditions = []StopCondition{
	StopMissingAuthorization,
	StopUnregisteredExecutor,
	StopEnvelopeHashMismatch,
	StopUninitializedContext,
	StopBrokenEvidenceChain,
	StopResourceLimitExceeded,
	StopInvalidTimestamp,
	StopExecutionPending,
	StopAmbiguousIntent,
	StopHumanAbort,
}

// ResponseType tags the executor's response envelope at the boundary.
type ResponseType string

const (
	ResponseSuccess ResponseType = "SUCCESS"
	ResponseFailure ResponseType = "FAILURE"
	ResponseTimeout ResponseType = "TIMEOUT"
	ResponseError   ResponseType = "ERROR"
	ResponseRefused ResponseType = "REFUSED"
)

// Valid reports whether r is a member of the closed response-type set.
func (r ResponseType) Valid() bool {
	switch r {
	case ResponseSuccess, ResponseFailure, ResponseTimeout, ResponseError, ResponseRefused:
		return true
	}
	return false
}
