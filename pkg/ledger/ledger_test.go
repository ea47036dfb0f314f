package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ledgerline/warden/core/pkg/contracts"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newTestLedger() *Ledger {
	return New(NewMemoryStore()).WithClock(fixedClock)
}

func linked(fp string) contracts.EvidenceRecord {
	return contracts.EvidenceRecord{
		ID:          "ev-" + fp,
		Point:       contracts.PointPostDispatch,
		Kind:        "response",
		Fingerprint: fp,
		Status:      contracts.EvidenceLinked,
		CapturedAt:  fixedClock(),
	}
}

func TestLedger_CreateStartsRequested(t *testing.T) {
	l := newTestLedger()
	rec, err := l.Create(context.Background(), "req-1", 3)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rec.State != contracts.ExecRequested {
		t.Errorf("expected REQUESTED, got %s", rec.State)
	}
	if rec.AttemptCount != 0 || rec.MaxAttempts != 3 || rec.Finalized {
		t.Error("fresh execution has wrong accounting")
	}
}

func TestLedger_RecordAttempt(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	rec, _ := l.Create(ctx, "req-1", 2)

	rec, err := l.RecordAttempt(ctx, rec.ID)
	if err != nil {
		t.Fatalf("record attempt failed: %v", err)
	}
	if rec.State != contracts.ExecAttempted || rec.AttemptCount != 1 {
		t.Errorf("expected ATTEMPTED/1, got %s/%d", rec.State, rec.AttemptCount)
	}
}

func TestLedger_RecordAttempt_Exhausted(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	rec, _ := l.Create(ctx, "req-1", 1)

	if _, err := l.RecordAttempt(ctx, rec.ID); err != nil {
		t.Fatalf("first attempt failed: %v", err)
	}
	_, _ = l.TransitionState(ctx, rec.ID, contracts.ExecFailed, "executor failure")

	if _, err := l.RecordAttempt(ctx, rec.ID); !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("expected ErrAttemptsExhausted, got %v", err)
	}
}

func TestLedger_IllegalTransitionForcesHalt(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	rec, _ := l.Create(ctx, "req-1", 3)

	// REQUESTED -> EVALUATED skips ATTEMPTED; not in the table.
	got, err := l.TransitionState(ctx, rec.ID, contracts.ExecEvaluated, "skip")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if got.State != contracts.ExecHalted || !got.Finalized {
		t.Error("illegal transition must force a finalized HALTED record")
	}
}

func TestLedger_UnknownTargetRejected(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	rec, _ := l.Create(ctx, "req-1", 3)
	_, _ = l.RecordAttempt(ctx, rec.ID)
	_, _ = l.TransitionState(ctx, rec.ID, contracts.ExecEvaluated, "evaluated")

	// COMPLETED does not exist in this lifecycle's state set.
	got, err := l.TransitionState(ctx, rec.ID, contracts.ExecutionState("COMPLETED"), "done")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if got.State != contracts.ExecHalted {
		t.Errorf("unknown target must force HALTED, got %s", got.State)
	}
}

func TestLedger_FinalizedRejectsMutation(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	rec, _ := l.Create(ctx, "req-1", 3)
	if err := l.Finalize(ctx, rec.ID); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if _, err := l.RecordAttempt(ctx, rec.ID); !errors.Is(err, ErrFinalized) {
		t.Errorf("record attempt on finalized: expected ErrFinalized, got %v", err)
	}
	if _, err := l.TransitionState(ctx, rec.ID, contracts.ExecAttempted, "x"); !errors.Is(err, ErrFinalized) {
		t.Errorf("transition on finalized: expected ErrFinalized, got %v", err)
	}
	if err := l.AttachEvidence(ctx, rec.ID, linked("sha256:z")); !errors.Is(err, ErrFinalized) {
		t.Errorf("attach on finalized: expected ErrFinalized, got %v", err)
	}
}

func TestLedger_AttachEvidence_ReplayAcrossExecutions(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	e1, _ := l.Create(ctx, "req-1", 3)
	e2, _ := l.Create(ctx, "req-2", 3)

	if err := l.AttachEvidence(ctx, e1.ID, linked("sha256:abc123")); err != nil {
		t.Fatalf("first attach failed: %v", err)
	}
	err := l.AttachEvidence(ctx, e2.ID, linked("sha256:abc123"))
	if !errors.Is(err, ErrReplay) {
		t.Errorf("expected ErrReplay for cross-execution reuse, got %v", err)
	}
}

func TestLedger_AttachEvidence_RequiresLinkedStatus(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	rec, _ := l.Create(ctx, "req-1", 3)

	ev := linked("sha256:xyz")
	ev.Status = contracts.EvidenceMissing
	if err := l.AttachEvidence(ctx, rec.ID, ev); !errors.Is(err, ErrEvidenceNotLinked) {
		t.Errorf("expected ErrEvidenceNotLinked, got %v", err)
	}
}

func TestLedger_DecideRetry(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	failed, _ := l.Create(ctx, "req-1", 3)
	_, _ = l.RecordAttempt(ctx, failed.ID)
	_, _ = l.TransitionState(ctx, failed.ID, contracts.ExecFailed, "executor failure")
	if v, _ := l.DecideRetry(ctx, failed.ID); v != contracts.RetryAllowed {
		t.Errorf("FAILED with attempts left: expected ALLOWED, got %s", v)
	}

	escalated, _ := l.Create(ctx, "req-2", 3)
	_, _ = l.RecordAttempt(ctx, escalated.ID)
	_, _ = l.TransitionState(ctx, escalated.ID, contracts.ExecEvaluated, "partial")
	_, _ = l.TransitionState(ctx, escalated.ID, contracts.ExecEscalated, "needs judgment")
	if v, _ := l.DecideRetry(ctx, escalated.ID); v != contracts.RetryHumanRequired {
		t.Errorf("ESCALATED: expected HUMAN_REQUIRED, got %s", v)
	}

	done, _ := l.Create(ctx, "req-3", 3)
	_ = l.Finalize(ctx, done.ID)
	if v, _ := l.DecideRetry(ctx, done.ID); v != contracts.RetryDenied {
		t.Errorf("finalized: expected DENIED, got %s", v)
	}
}

func TestLedger_SinkSeesRejections(t *testing.T) {
	var events []TransitionEvent
	l := New(NewMemoryStore()).WithClock(fixedClock).WithSink(func(e TransitionEvent) {
		events = append(events, e)
	})
	ctx := context.Background()
	rec, _ := l.Create(ctx, "req-1", 3)
	_, _ = l.TransitionState(ctx, rec.ID, contracts.ExecEvaluated, "skip")

	var sawRejection bool
	for _, e := range events {
		if !e.Accepted {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Error("the audit sink must see rejected transitions")
	}
}
