package authz

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/warden/core/pkg/contracts"
	"github.com/ledgerline/warden/core/pkg/policy"
)

// Stable deny reason codes, reported with every refusal.
const (
	ReasonIntentMissing  = "intent_missing"
	ReasonIntentRevoked  = "intent_revoked"
	ReasonIntentStale    = "intent_stale"
	ReasonChainMismatch  = "chain_mismatch"
	ReasonPolicyDenied   = "policy_denied"
	ReasonNotAuthorized  = "authority_denied"
	ReasonTypeNotGranted = "decision_type_not_grantable"
)

var (
	// ErrDenied is returned for every authorization refusal. The reason code
	// is carried in the Denial.
	ErrDenied = errors.New("authz: denied")
	// ErrAlreadyConsumed is returned on a second consumption attempt. It is
	// fatal for the session: the exactly-once invariant cannot be repaired
	// at runtime.
	ErrAlreadyConsumed = errors.New("authz: authorization already consumed")
	// ErrExpired is returned when consuming after the token expiry.
	ErrExpired = errors.New("authz: authorization expired")
	// ErrUnknownAuthorization is returned for tokens the authorizer never
	// granted.
	ErrUnknownAuthorization = errors.New("authz: unknown authorization")
)

// Denial explains a refusal with a stable code plus description.
type Denial struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (d *Denial) Error() string {
	return fmt.Sprintf("authz: denied (%s): %s", d.Code, d.Description)
}

// Unwrap makes every Denial match ErrDenied.
func (d *Denial) Unwrap() error { return ErrDenied }

// RevocationChecker answers whether an intent has a revocation record.
type RevocationChecker interface {
	IsRevoked(intentID string) bool
}

// ChainHead supplies the ledger's current evidence-chain head.
type ChainHead interface {
	Head() string
}

// UpstreamGate evaluates the read-only policy signals.
type UpstreamGate interface {
	Allow(signals policy.Signals) (bool, string)
}

// Options configures freshness and token lifetime. Both windows are short by
// default; neither is hard-coded downstream.
type Options struct {
	IntentFreshness time.Duration // default 10 minutes
	TokenTTL        time.Duration // default 2 minutes
}

// Authorizer grants and consumes single-use execution authorizations.
type Authorizer struct {
	mu          sync.Mutex
	opts        Options
	signer      *TokenSigner
	revocations RevocationChecker
	chain       ChainHead
	gate        UpstreamGate
	granted     map[string]contracts.ExecutionAuthorization
	consumed    map[string]contracts.AuthorizationConsumption
	clock       func() time.Time
}

// New creates an authorizer.
func New(signer *TokenSigner, revocations RevocationChecker, chain ChainHead, gate UpstreamGate, opts Options) *Authorizer {
	if opts.IntentFreshness <= 0 {
		opts.IntentFreshness = 10 * time.Minute
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 2 * time.Minute
	}
	return &Authorizer{
		opts:        opts,
		signer:      signer,
		revocations: revocations,
		chain:       chain,
		gate:        gate,
		granted:     make(map[string]contracts.ExecutionAuthorization),
		consumed:    make(map[string]contracts.AuthorizationConsumption),
		clock:       time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Authorizer) WithClock(clock func() time.Time) *Authorizer {
	a.clock = clock
	return a
}

// Authorize converts an intent into a single-use authorization. Every check
// is deny-by-default: a missing intent, a revocation record, staleness, a
// chain-head mismatch, a non-human creator, or any false upstream signal
// refuses with a stable reason code.
func (a *Authorizer) Authorize(it *contracts.ExecutionIntent, signals policy.Signals) (contracts.ExecutionAuthorization, error) {
	if it == nil || it.ID == "" {
		return contracts.ExecutionAuthorization{}, &Denial{Code: ReasonIntentMissing, Description: "no intent presented"}
	}
	if a.revocations != nil && a.revocations.IsRevoked(it.ID) {
		return contracts.ExecutionAuthorization{}, &Denial{Code: ReasonIntentRevoked, Description: fmt.Sprintf("intent %s has a revocation record", it.ID)}
	}
	if !it.CreatedBy.Class.CanAuthorize() {
		return contracts.ExecutionAuthorization{}, &Denial{Code: ReasonNotAuthorized, Description: fmt.Sprintf("%s authority cannot back an authorization", it.CreatedBy.Class)}
	}
	if it.DecisionType == contracts.DecideAbort {
		return contracts.ExecutionAuthorization{}, &Denial{Code: ReasonTypeNotGranted, Description: "ABORT decisions grant nothing"}
	}

	now := a.clock().UTC()
	if now.Sub(it.CreatedAt) > a.opts.IntentFreshness {
		return contracts.ExecutionAuthorization{}, &Denial{
			Code:        ReasonIntentStale,
			Description: fmt.Sprintf("intent created %s ago exceeds freshness window %s", now.Sub(it.CreatedAt).Round(time.Second), a.opts.IntentFreshness),
		}
	}
	if a.chain != nil && it.ChainFingerprint != a.chain.Head() {
		return contracts.ExecutionAuthorization{}, &Denial{Code: ReasonChainMismatch, Description: "intent chain fingerprint does not match the current chain head"}
	}
	if a.gate != nil {
		if ok, reason := a.gate.Allow(signals); !ok {
			return contracts.ExecutionAuthorization{}, &Denial{Code: ReasonPolicyDenied, Description: reason}
		}
	}

	auth := contracts.ExecutionAuthorization{
		ID:        uuid.New().String(),
		IntentID:  it.ID,
		GrantedAt: now,
		ExpiresAt: now.Add(a.opts.TokenTTL),
	}
	token, err := a.signer.Mint(auth.ID, it.ID, auth.GrantedAt, auth.ExpiresAt)
	if err != nil {
		return contracts.ExecutionAuthorization{}, fmt.Errorf("authz: minting failed closed: %w", err)
	}
	auth.Token = token

	a.mu.Lock()
	a.granted[auth.ID] = auth
	a.mu.Unlock()
	return auth, nil
}

// Consume redeems a token exactly once. A second attempt, a token past
// expiry, or a token the authorizer never granted is rejected; double
// consumption is the fatal case the session must halt on.
func (a *Authorizer) Consume(tokenString string) (contracts.AuthorizationConsumption, error) {
	claims, err := a.signer.Verify(tokenString)
	if err != nil {
		return contracts.AuthorizationConsumption{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	auth, ok := a.granted[claims.ID]
	if !ok {
		return contracts.AuthorizationConsumption{}, ErrUnknownAuthorization
	}
	if _, used := a.consumed[auth.ID]; used {
		return contracts.AuthorizationConsumption{}, fmt.Errorf("%w: %s", ErrAlreadyConsumed, auth.ID)
	}
	now := a.clock().UTC()
	if now.After(auth.ExpiresAt) {
		return contracts.AuthorizationConsumption{}, fmt.Errorf("%w: at %s", ErrExpired, auth.ExpiresAt)
	}

	c := contracts.AuthorizationConsumption{AuthorizationID: auth.ID, ConsumedAt: now}
	a.consumed[auth.ID] = c
	return c, nil
}

// Consumed reports whether an authorization has a consumption record.
func (a *Authorizer) Consumed(authorizationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, used := a.consumed[authorizationID]
	return used
}
