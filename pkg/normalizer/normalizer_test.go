package normalizer

import (
	"testing"

	"github.com/ledgerline/warden/core/pkg/contracts"
)

func TestNormalize_FixedTable(t *testing.T) {
	cases := []struct {
		outcome    contracts.RawOutcome
		decision   contracts.NormalizedDecision
		confidence float64
	}{
		{contracts.OutcomeSuccess, contracts.DecisionAccept, 0.85},
		{contracts.OutcomeFailure, contracts.DecisionReject, 0.30},
		{contracts.OutcomeTimeout, contracts.DecisionReject, 0.20},
		{contracts.OutcomePartial, contracts.DecisionEscalate, 0.50},
		{contracts.OutcomeMalformed, contracts.DecisionReject, 0.10},
	}
	for _, tc := range cases {
		got := Normalize(tc.outcome)
		if got.Decision != tc.decision {
			t.Errorf("%s: expected %s, got %s", tc.outcome, tc.decision, got.Decision)
		}
		if got.Confidence != tc.confidence {
			t.Errorf("%s: expected confidence %.2f, got %.2f", tc.outcome, tc.confidence, got.Confidence)
		}
	}
}

func TestNormalize_UnknownOutcomeDenied(t *testing.T) {
	got := Normalize(contracts.RawOutcome("TOTALLY_FINE"))
	if got.Decision == contracts.DecisionAccept {
		t.Error("unknown outcome must never be accepted")
	}
	if got.Confidence != 0 {
		t.Errorf("unknown outcome must carry zero confidence, got %.2f", got.Confidence)
	}
}

func TestNormalize_ConfidenceBelowOne(t *testing.T) {
	outcomes := []contracts.RawOutcome{
		contracts.OutcomeSuccess, contracts.OutcomeFailure, contracts.OutcomeTimeout,
		contracts.OutcomePartial, contracts.OutcomeMalformed, contracts.RawOutcome("?"),
	}
	for _, o := range outcomes {
		got := Normalize(o)
		if got.Confidence >= 1.0 {
			t.Errorf("%s: confidence %.2f reaches certainty", o, got.Confidence)
		}
		if got.Confidence > MaxConfidence {
			t.Errorf("%s: confidence %.2f above ceiling %.2f", o, got.Confidence, MaxConfidence)
		}
	}
}

func TestNormalize_CeilingClampsTableEdits(t *testing.T) {
	orig := table[contracts.OutcomeSuccess]
	table[contracts.OutcomeSuccess] = contracts.NormalizedResponse{Decision: contracts.DecisionAccept, Confidence: 1.0}
	defer func() { table[contracts.OutcomeSuccess] = orig }()

	if got := Normalize(contracts.OutcomeSuccess); got.Confidence != MaxConfidence {
		t.Errorf("confidence = %.2f, want clamp to %.2f", got.Confidence, MaxConfidence)
	}
}

func TestFromResponseType(t *testing.T) {
	if FromResponseType(contracts.ResponseRefused) != contracts.OutcomeFailure {
		t.Error("REFUSED should map to FAILURE")
	}
	if FromResponseType(contracts.ResponseType("junk")) != contracts.OutcomeMalformed {
		t.Error("unknown response type should map to MALFORMED")
	}
}
