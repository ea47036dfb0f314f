package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ledgerline/warden/core/pkg/audit"
	"github.com/ledgerline/warden/core/pkg/authz"
	"github.com/ledgerline/warden/core/pkg/canonicalize"
	"github.com/ledgerline/warden/core/pkg/config"
	"github.com/ledgerline/warden/core/pkg/contracts"
	"github.com/ledgerline/warden/core/pkg/envelope"
	"github.com/ledgerline/warden/core/pkg/gate"
	"github.com/ledgerline/warden/core/pkg/intent"
	"github.com/ledgerline/warden/core/pkg/ledger"
	"github.com/ledgerline/warden/core/pkg/observability"
	"github.com/ledgerline/warden/core/pkg/policy"
	"github.com/ledgerline/warden/core/pkg/session"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "warden - governed execution authorization core")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  warden demo   [-audit file] [-profile name] [-decision CONTINUE|RETRY|ABORT|ESCALATE]")
	fmt.Fprintln(w, "                run one scripted governed cycle against a stub executor")
	fmt.Fprintln(w, "  warden export -audit file -out pack.zip [-session id]")
	fmt.Fprintln(w, "                build an evidence pack from a recorded trail")
	fmt.Fprintln(w, "  warden verify -pack pack.zip")
	fmt.Fprintln(w, "                recompute the hash chain of an exported pack")
}

// runDemoCmd wires the full pipeline around a stub executor and runs one
// governed cycle with a scripted human decision.
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	auditPath := fs.String("audit", "", "write the audit trail as JSONL to this file")
	decisionFlag := fs.String("decision", "CONTINUE", "scripted human decision")
	outcomeFlag := fs.String("outcome", "SUCCESS", "stub executor response type")
	profileFlag := fs.String("profile", "", "governance profile to overlay (from PROFILE_DIR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	var policyRules []string
	if *profileFlag != "" {
		prof, err := config.LoadProfile(cfg.ProfileDir, *profileFlag)
		if err != nil {
			fmt.Fprintf(stderr, "loading profile: %v\n", err)
			return 1
		}
		prof.Apply(cfg)
		policyRules = prof.PolicyRules
		fmt.Fprintf(stdout, "profile:        %s\n", prof.Name)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "warden-core",
		ServiceVersion: "1.0.0",
		Environment:    "demo",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "observability: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	decisionType := contracts.DecisionType(strings.ToUpper(*decisionFlag))
	if !decisionType.Valid() {
		fmt.Fprintf(stderr, "unknown decision type %q\n", *decisionFlag)
		return 2
	}
	responseType := contracts.ResponseType(strings.ToUpper(*outcomeFlag))
	if !responseType.Valid() {
		fmt.Fprintf(stderr, "unknown response type %q\n", *outcomeFlag)
		return 2
	}

	trail := audit.NewTrail()
	sessionID := fmt.Sprintf("demo-%d", time.Now().Unix())

	binder := intent.NewBinder()
	signer, err := authz.NewTokenSigner([]byte(cfg.TokenSecret))
	if err != nil {
		fmt.Fprintf(stderr, "token signer: %v\n", err)
		return 1
	}
	gatePolicy, err := policy.NewGate(policyRules...)
	if err != nil {
		fmt.Fprintf(stderr, "policy gate: %v\n", err)
		return 1
	}
	validator, err := envelope.NewValidator()
	if err != nil {
		fmt.Fprintf(stderr, "envelope validator: %v\n", err)
		return 1
	}

	ledg := ledger.New(ledger.NewMemoryStore()).WithSink(trail.LedgerSink(sessionID))
	humanGate := gate.New(gate.Options{
		Timeout:    cfg.GateTimeout,
		MaxRetries: cfg.MaxRetries,
		OnWarning: func(remaining time.Duration) {
			logger.Warn("gate expires soon", "remaining", remaining)
		},
	})

	var sess *session.Session
	authorizer := authz.New(signer, binder, chainHeadFunc(func() string { return sess.Chain().Head() }), gatePolicy, authz.Options{
		IntentFreshness: cfg.IntentFreshness,
		TokenTTL:        cfg.TokenTTL,
	})
	sess = session.New(sessionID, session.Options{
		MaxAttempts:   cfg.MaxRetries,
		DispatchRate:  cfg.DispatchRate,
		DispatchBurst: cfg.DispatchBurst,
	}, ledg, humanGate, binder, authorizer, validator, trail.SessionRecorder(sessionID), logger).WithObservability(obs)

	stub := session.ExecutorFunc(func(_ context.Context, instruction contracts.InstructionEnvelope) ([]byte, error) {
		resp := map[string]any{
			"instruction_id": instruction.InstructionID,
			"response_type":  string(responseType),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		}
		if responseType == contracts.ResponseSuccess {
			resp["evidence_fingerprint"] = canonicalize.HashBytes([]byte("demo evidence"))
		}
		return json.Marshal(resp)
	})

	input := make(chan gate.Submission, 1)
	input <- gate.Submission{
		Type:             decisionType,
		Reason:           scriptedReason(decisionType),
		EscalationTarget: scriptedTarget(decisionType),
		DecidedBy:        contracts.Identity{ID: "demo-operator", Class: contracts.AuthorityHuman},
	}

	res, runErr := sess.RunCycle(ctx, stub, session.Request{
		CommandType: "deploy",
		Target:      "demo-cluster",
		ExecutorID:  "demo-executor",
	}, input)

	fmt.Fprintf(stdout, "session:        %s\n", sessionID)
	fmt.Fprintf(stdout, "execution:      %s (%s)\n", res.Execution.ID, res.Execution.State)
	fmt.Fprintf(stdout, "classification: %s (confidence %.2f)\n", res.Normalized.Decision, res.Normalized.Confidence)
	fmt.Fprintf(stdout, "decision:       %s by %s\n", res.Decision.Type, res.Decision.DecidedBy.ID)
	fmt.Fprintf(stdout, "chain head:     %s (%d entries)\n", sess.Chain().Head(), sess.Chain().Length())
	if res.Intent != nil {
		fmt.Fprintf(stdout, "intent:         %s\n", res.Intent.ID)
	}
	if res.Authorization != nil {
		fmt.Fprintf(stdout, "authorization:  %s (expires %s)\n", res.Authorization.ID,
			res.Authorization.ExpiresAt.Format(time.RFC3339))
	}
	if res.Halt != nil {
		fmt.Fprintf(stdout, "halted:         %s\n", res.Halt.Condition)
	}
	if runErr != nil {
		fmt.Fprintf(stdout, "outcome:        %v\n", runErr)
	}

	if *auditPath != "" {
		f, err := os.Create(*auditPath)
		if err != nil {
			fmt.Fprintf(stderr, "writing audit trail: %v\n", err)
			return 1
		}
		defer f.Close()
		if err := trail.WriteJSONL(f); err != nil {
			fmt.Fprintf(stderr, "writing audit trail: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "audit trail:    %s (%d events)\n", *auditPath, trail.Size())
	}
	return 0
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	auditPath := fs.String("audit", "", "JSONL audit trail to export from")
	out := fs.String("out", "evidence-pack.zip", "output pack path")
	sessionID := fs.String("session", "", "session id to export (default: all events' session)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *auditPath == "" {
		fmt.Fprintln(stderr, "export requires -audit")
		return 2
	}

	f, err := os.Open(*auditPath)
	if err != nil {
		fmt.Fprintf(stderr, "opening trail: %v\n", err)
		return 1
	}
	defer f.Close()

	trail, err := audit.LoadJSONL(f)
	if err != nil {
		fmt.Fprintf(stderr, "loading trail: %v\n", err)
		return 1
	}

	sid := *sessionID
	if sid == "" {
		events := trail.Query(audit.Filter{})
		if len(events) == 0 {
			fmt.Fprintln(stderr, "trail holds no events")
			return 1
		}
		sid = events[0].SessionID
	}

	pack, checksum, err := audit.NewExporter(trail).GeneratePack(audit.ExportRequest{SessionID: sid})
	if err != nil {
		fmt.Fprintf(stderr, "generating pack: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*out, pack, 0o644); err != nil {
		fmt.Fprintf(stderr, "writing pack: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "pack:     %s\n", *out)
	fmt.Fprintf(stdout, "session:  %s\n", sid)
	fmt.Fprintf(stdout, "checksum: %s\n", checksum)
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	packPath := fs.String("pack", "", "evidence pack to verify")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *packPath == "" {
		fmt.Fprintln(stderr, "verify requires -pack")
		return 2
	}

	data, err := os.ReadFile(*packPath)
	if err != nil {
		fmt.Fprintf(stderr, "reading pack: %v\n", err)
		return 1
	}
	manifest, err := audit.VerifyPack(data)
	if err != nil {
		fmt.Fprintf(stderr, "FAIL: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OK: session %s, %d events, chain head %s\n",
		manifest.SessionID, manifest.EventCount, manifest.ChainHead)
	return 0
}

type chainHeadFunc func() string

func (f chainHeadFunc) Head() string { return f() }

func scriptedReason(d contracts.DecisionType) string {
	switch d {
	case contracts.DecideRetry:
		return "demo retry"
	case contracts.DecideEscalate:
		return "demo escalation"
	}
	return ""
}

func scriptedTarget(d contracts.DecisionType) string {
	if d == contracts.DecideEscalate {
		return "demo-supervisor"
	}
	return ""
}
