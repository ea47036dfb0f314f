package observability

import (
	"context"
	"errors"
	"testing"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(context.Background())

	// Every recording path must be safe without initialized instruments.
	ctx := context.Background()
	p.RecordCycle(ctx)
	p.RecordHalt(ctx, "LOOP_DETECTED")
	p.RecordDenial(ctx, "intent_revoked")

	ctx, done := p.TrackStage(ctx, "normalize")
	done(errors.New("boom"))
	if p.Tracer() == nil {
		t.Fatal("Tracer must never be nil")
	}
	_ = ctx
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "warden-core" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", cfg.SampleRate)
	}
	if cfg.Insecure {
		t.Error("default must be secure")
	}
}
