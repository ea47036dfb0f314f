// Package normalizer classifies untrusted executor responses into
// governance-owned decisions.
//
// The mapping is a fixed table, not an inference: the executor's self-report
// selects a row, and the row's decision and confidence are what the rest of
// the core sees. The executor's claim of success is never itself trusted.
package normalizer

import "github.com/ledgerline/warden/core/pkg/contracts"

// MaxConfidence is the ceiling the table may assign. Certainty requires human
// confirmation, which is a separate act, not a normalizer output.
const MaxConfidence = 0.99

var table = map[contracts.RawOutcome]contracts.NormalizedResponse{
	contracts.OutcomeSuccess:   {Decision: contracts.DecisionAccept, Confidence: 0.85},
	contracts.OutcomeFailure:   {Decision: contracts.DecisionReject, Confidence: 0.30},
	contracts.OutcomeTimeout:   {Decision: contracts.DecisionReject, Confidence: 0.20},
	contracts.OutcomePartial:   {Decision: contracts.DecisionEscalate, Confidence: 0.50},
	contracts.OutcomeMalformed: {Decision: contracts.DecisionReject, Confidence: 0.10},
}

// Normalize maps a raw executor outcome to a (decision, confidence) pair.
// Unrecognized outcomes resolve to REJECT with zero confidence. Confidence is
// clamped to MaxConfidence so no table edit can ever express certainty.
func Normalize(outcome contracts.RawOutcome) contracts.NormalizedResponse {
	resp, ok := table[outcome]
	if !ok {
		return contracts.NormalizedResponse{Decision: contracts.DecisionReject, Confidence: 0}
	}
	if resp.Confidence > MaxConfidence {
		resp.Confidence = MaxConfidence
	}
	return resp
}

// FromResponseType maps a boundary response type onto the normalizer's input
// set. ERROR and REFUSED carry no usable claim and collapse to MALFORMED and
// FAILURE respectively; anything unknown collapses to MALFORMED.
func FromResponseType(rt contracts.ResponseType) contracts.RawOutcome {
	switch rt {
	case contracts.ResponseSuccess:
		return contracts.OutcomeSuccess
	case contracts.ResponseFailure:
		return contracts.OutcomeFailure
	case contracts.ResponseTimeout:
		return contracts.OutcomeTimeout
	case contracts.ResponseRefused:
		return contracts.OutcomeFailure
	case contracts.ResponseError:
		return contracts.OutcomeMalformed
	}
	return contracts.OutcomeMalformed
}
