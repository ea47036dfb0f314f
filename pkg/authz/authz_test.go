package authz

import (
	"errors"
	"testing"
	"time"

	"github.com/ledgerline/warden/core/pkg/contracts"
	"github.com/ledgerline/warden/core/pkg/policy"
)

type stubRevocations struct{ revoked map[string]bool }

func (s stubRevocations) IsRevoked(intentID string) bool { return s.revoked[intentID] }

type stubHead struct{ head string }

func (s stubHead) Head() string { return s.head }

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestAuthorizer(t *testing.T, now time.Time, head string, revoked map[string]bool) *Authorizer {
	t.Helper()
	gate, err := policy.NewGate()
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	signer, err := NewTokenSigner([]byte("test-master-key"))
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	signer.WithClock(fixedClock(now))
	return New(signer, stubRevocations{revoked: revoked}, stubHead{head: head}, gate, Options{}).WithClock(fixedClock(now))
}

func humanIntent(now time.Time, head string) *contracts.ExecutionIntent {
	return &contracts.ExecutionIntent{
		ID:               "intent-1",
		DecisionID:       "decision-1",
		DecisionType:     contracts.DecideContinue,
		ChainFingerprint: head,
		SessionID:        "session-1",
		CreatedBy:        contracts.Identity{ID: "operator-7", Class: contracts.AuthorityHuman},
		CreatedAt:        now,
	}
}

func allTrue() policy.Signals {
	return policy.Signals{Confidence: true, Readiness: true, ContractValid: true}
}

func TestAuthorizeGrantsSingleUseToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthorizer(t, now, "sha256:head", nil)

	auth, err := a.Authorize(humanIntent(now, "sha256:head"), allTrue())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if auth.Token == "" {
		t.Fatal("expected a minted token")
	}
	if got, want := auth.ExpiresAt, now.Add(2*time.Minute); !got.Equal(want) {
		t.Errorf("ExpiresAt = %s, want %s", got, want)
	}

	c, err := a.Consume(auth.Token)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if c.AuthorizationID != auth.ID {
		t.Errorf("consumption bound to %s, want %s", c.AuthorizationID, auth.ID)
	}
	if !a.Consumed(auth.ID) {
		t.Error("authorization not recorded as consumed")
	}
}

func TestConsumeTwiceIsFatal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthorizer(t, now, "sha256:head", nil)

	auth, err := a.Authorize(humanIntent(now, "sha256:head"), allTrue())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if _, err := a.Consume(auth.Token); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if _, err := a.Consume(auth.Token); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("second Consume error = %v, want ErrAlreadyConsumed", err)
	}
}

func TestAuthorizeDenyReasons(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	head := "sha256:head"

	cases := []struct {
		name    string
		revoked map[string]bool
		mutate  func(*contracts.ExecutionIntent)
		signals policy.Signals
		code    string
	}{
		{
			name:    "revoked intent",
			revoked: map[string]bool{"intent-1": true},
			mutate:  func(*contracts.ExecutionIntent) {},
			signals: allTrue(),
			code:    ReasonIntentRevoked,
		},
		{
			name:    "stale intent",
			mutate:  func(it *contracts.ExecutionIntent) { it.CreatedAt = now.Add(-11 * time.Minute) },
			signals: allTrue(),
			code:    ReasonIntentStale,
		},
		{
			name:    "chain head moved",
			mutate:  func(it *contracts.ExecutionIntent) { it.ChainFingerprint = "sha256:older" },
			signals: allTrue(),
			code:    ReasonChainMismatch,
		},
		{
			name:    "policy signal false",
			mutate:  func(*contracts.ExecutionIntent) {},
			signals: policy.Signals{Confidence: true, Readiness: false, ContractValid: true},
			code:    ReasonPolicyDenied,
		},
		{
			name: "system-created intent",
			mutate: func(it *contracts.ExecutionIntent) {
				it.CreatedBy = contracts.SystemIdentity
			},
			signals: allTrue(),
			code:    ReasonNotAuthorized,
		},
		{
			name:    "abort grants nothing",
			mutate:  func(it *contracts.ExecutionIntent) { it.DecisionType = contracts.DecideAbort },
			signals: allTrue(),
			code:    ReasonTypeNotGranted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAuthorizer(t, now, head, tc.revoked)
			it := humanIntent(now, head)
			tc.mutate(it)
			_, err := a.Authorize(it, tc.signals)
			if !errors.Is(err, ErrDenied) {
				t.Fatalf("Authorize error = %v, want ErrDenied", err)
			}
			var denial *Denial
			if !errors.As(err, &denial) {
				t.Fatalf("error %v does not carry a Denial", err)
			}
			if denial.Code != tc.code {
				t.Errorf("deny code = %q, want %q", denial.Code, tc.code)
			}
		})
	}
}

func TestAuthorizeNilIntent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthorizer(t, now, "sha256:head", nil)
	_, err := a.Authorize(nil, allTrue())
	var denial *Denial
	if !errors.As(err, &denial) || denial.Code != ReasonIntentMissing {
		t.Fatalf("Authorize(nil) = %v, want %s denial", err, ReasonIntentMissing)
	}
}

func TestConsumeExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthorizer(t, now, "sha256:head", nil)

	auth, err := a.Authorize(humanIntent(now, "sha256:head"), allTrue())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	a.WithClock(fixedClock(now.Add(3 * time.Minute)))
	if _, err := a.Consume(auth.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("Consume after expiry = %v, want ErrExpired", err)
	}
}

func TestConsumeForgedToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthorizer(t, now, "sha256:head", nil)

	forger, err := NewTokenSigner([]byte("some-other-master"))
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	token, err := forger.Mint("auth-x", "intent-1", now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := a.Consume(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Consume forged token = %v, want ErrTokenInvalid", err)
	}
}

func TestRevocationOutlivesReinstatement(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	revoked := map[string]bool{"intent-1": true}
	a := newTestAuthorizer(t, now, "sha256:head", revoked)

	for i := 0; i < 3; i++ {
		_, err := a.Authorize(humanIntent(now, "sha256:head"), allTrue())
		var denial *Denial
		if !errors.As(err, &denial) || denial.Code != ReasonIntentRevoked {
			t.Fatalf("attempt %d: %v, want %s denial", i, err, ReasonIntentRevoked)
		}
	}
}
