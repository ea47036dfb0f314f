package gate

import (
	"fmt"

	"github.com/ledgerline/warden/core/pkg/contracts"
	"github.com/ledgerline/warden/core/pkg/evidence"
)

// ClaimedSuffix marks executor self-reports in the summary. The human sees
// the claim; they are told it is unverified.
const ClaimedSuffix = " (CLAIMED, not verified)"

// MarkClaimed annotates an executor self-reported status for presentation.
func MarkClaimed(claim string) string {
	if claim == "" {
		return ""
	}
	return fmt.Sprintf("%s%s", claim, ClaimedSuffix)
}

// BuildSummary derives the restricted view the human is shown. It carries
// observation metadata, chain position, and classification confidence; raw
// payload bytes never cross this boundary.
func (g *Gate) BuildSummary(
	chain *evidence.Chain,
	capture evidence.Capture,
	loopState contracts.LoopState,
	confidence float64,
	claimedStatus string,
) contracts.EvidenceSummary {
	return contracts.EvidenceSummary{
		SessionID:      chain.SessionID(),
		Point:          capture.Record.Point,
		EvidenceKind:   capture.Record.Kind,
		CapturedAt:     capture.Record.CapturedAt,
		LoopState:      loopState,
		ChainLength:    chain.Length(),
		ChainHead:      chain.Head(),
		Confidence:     confidence,
		ClaimedStatus:  MarkClaimed(claimedStatus),
		PriorDecisions: g.PriorDecisionTypes(chain.SessionID()),
	}
}
