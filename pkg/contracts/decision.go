package contracts

import "time"

// DecisionRecord captures one human decision at the gate. Created once,
// immutable, appended to the audit trail. Reason is required for RETRY and
// ESCALATE; EscalationTarget is required for ESCALATE.
type DecisionRecord struct {
	ID               string       `json:"id"`
	Type             DecisionType `json:"type"`
	DecidedBy        Identity     `json:"decided_by"`
	SessionID        string       `json:"session_id"`
	ChainFingerprint string       `json:"chain_fingerprint"` // chain head at decision time
	Reason           string       `json:"reason,omitempty"`
	EscalationTarget string       `json:"escalation_target,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// ExecutionIntent binds exactly one human decision to a specific
// evidence-chain state. It represents permission-to-request, not
// permission-to-act. Immutable; revocation is a successor record, not a
// field flip.
type ExecutionIntent struct {
	ID               string       `json:"id"`
	DecisionID       string       `json:"decision_id"`
	DecisionType     DecisionType `json:"decision_type"`
	ChainFingerprint string       `json:"chain_fingerprint"`
	SessionID        string       `json:"session_id"`
	LoopState        LoopState    `json:"loop_state"`
	CreatedBy        Identity     `json:"created_by"`
	Fingerprint      string       `json:"fingerprint"` // content-derived over bound fields
	CreatedAt        time.Time    `json:"created_at"`
}

// IntentRevocation permanently cancels an intent. At most one exists per
// intent; once present the intent can never be authorized.
type IntentRevocation struct {
	ID        string    `json:"id"`
	IntentID  string    `json:"intent_id"`
	Reason    string    `json:"reason"`
	RevokedBy Identity  `json:"revoked_by"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionAuthorization is single-use permission to execute, derived from an
// unrevoked, fresh intent. Consumption is recorded as a successor fact by the
// authorizer; no other component may consume.
type ExecutionAuthorization struct {
	ID        string    `json:"id"`
	IntentID  string    `json:"intent_id"`
	Token     string    `json:"token"` // signed, carries id and expiry
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthorizationConsumption is the successor fact recording that an
// authorization was used. At most one exists per authorization.
type AuthorizationConsumption struct {
	AuthorizationID string    `json:"authorization_id"`
	ConsumedAt      time.Time `json:"consumed_at"`
}
