package audit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/warden/core/pkg/audit"
	"github.com/ledgerline/warden/core/pkg/contracts"
	"github.com/ledgerline/warden/core/pkg/ledger"
)

func TestTrail_AppendChains(t *testing.T) {
	trail := audit.NewTrail()

	first, err := trail.Append(audit.KindDecision, "session-1", "decide", map[string]string{"type": "CONTINUE"})
	require.NoError(t, err)
	second, err := trail.Append(audit.KindGrant, "session-1", "authorize", map[string]string{"intent": "intent-1"})
	require.NoError(t, err)

	assert.Equal(t, "genesis", first.PreviousHash)
	assert.Equal(t, first.EventHash, second.PreviousHash)
	assert.Equal(t, second.EventHash, trail.ChainHead())
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	require.NoError(t, trail.Verify())
}

func TestTrail_VerifyDetectsTampering(t *testing.T) {
	trail := audit.NewTrail()
	ev, err := trail.Append(audit.KindHalt, "session-1", "halt", map[string]string{"condition": "BROKEN_EVIDENCE_CHAIN"})
	require.NoError(t, err)
	_, err = trail.Append(audit.KindHalt, "session-1", "halt", map[string]string{"condition": "LOOP_DETECTED"})
	require.NoError(t, err)

	// Mutating a recorded event must break verification.
	ev.Action = "rewritten"
	assert.ErrorIs(t, trail.Verify(), audit.ErrChainBroken)
}

func TestTrail_QueryFilters(t *testing.T) {
	trail := audit.NewTrail()
	_, err := trail.Append(audit.KindDecision, "session-1", "decide", nil)
	require.NoError(t, err)
	_, err = trail.Append(audit.KindDecision, "session-2", "decide", nil)
	require.NoError(t, err)
	_, err = trail.Append(audit.KindRevocation, "session-1", "revoke", nil)
	require.NoError(t, err)

	assert.Len(t, trail.Query(audit.Filter{SessionID: "session-1"}), 2)
	assert.Len(t, trail.Query(audit.Filter{Kind: audit.KindRevocation}), 1)
	assert.Len(t, trail.Query(audit.Filter{Kind: audit.KindDecision, SessionID: "session-2"}), 1)
}

func TestTrail_LedgerSink(t *testing.T) {
	trail := audit.NewTrail()
	sink := trail.LedgerSink("session-1")

	sink(ledger.TransitionEvent{
		ExecutionID: "exec-1",
		From:        contracts.ExecRequested,
		To:          contracts.ExecAttempted,
		Accepted:    true,
		At:          time.Now().UTC(),
	})
	sink(ledger.TransitionEvent{
		ExecutionID: "exec-1",
		From:        contracts.ExecAttempted,
		To:          contracts.ExecRequested,
		Reason:      "illegal transition",
		Accepted:    false,
		At:          time.Now().UTC(),
	})

	events := trail.Query(audit.Filter{Kind: audit.KindTransition})
	require.Len(t, events, 2)
	assert.Equal(t, "transition", events[0].Action)
	assert.Equal(t, "transition_rejected", events[1].Action)
}

func TestExporter_GeneratePackAndVerify(t *testing.T) {
	trail := audit.NewTrail()
	_, err := trail.Append(audit.KindDecision, "session-1", "decide", map[string]string{"type": "CONTINUE"})
	require.NoError(t, err)
	_, err = trail.Append(audit.KindGrant, "session-1", "authorize", map[string]string{"intent": "intent-1"})
	require.NoError(t, err)

	exporter := audit.NewExporter(trail)
	pack, checksum, err := exporter.GeneratePack(audit.ExportRequest{SessionID: "session-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, pack)
	assert.Contains(t, checksum, "sha256:")

	manifest, err := audit.VerifyPack(pack)
	require.NoError(t, err)
	assert.Equal(t, "session-1", manifest.SessionID)
	assert.Equal(t, 2, manifest.EventCount)
	assert.Equal(t, trail.ChainHead(), manifest.ChainHead)
}

func TestExporter_GeneratePack_EmptySessionID(t *testing.T) {
	exporter := audit.NewExporter(audit.NewTrail())
	_, _, err := exporter.GeneratePack(audit.ExportRequest{SessionID: ""})
	assert.ErrorIs(t, err, audit.ErrEmptySessionID)
}

func TestExporter_GeneratePack_InvalidTimeRange(t *testing.T) {
	exporter := audit.NewExporter(audit.NewTrail())
	_, _, err := exporter.GeneratePack(audit.ExportRequest{
		SessionID: "session-1",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)
}

func TestExporter_GeneratePack_FailClosedWithoutTrail(t *testing.T) {
	exporter := audit.NewExporter(nil)
	_, _, err := exporter.GeneratePack(audit.ExportRequest{SessionID: "session-1"})
	assert.ErrorIs(t, err, audit.ErrTrailNotConfigured)
}

func TestVerifyPack_RejectsGarbage(t *testing.T) {
	_, err := audit.VerifyPack([]byte("not a zip"))
	assert.ErrorIs(t, err, audit.ErrPackCorrupt)
}
