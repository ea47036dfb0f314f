// Package session orchestrates one governed execution session: dispatch,
// boundary validation, normalization, evidence capture, ledger transitions,
// the human gate, intent binding, and authorization, in that order. Every
// stage is fail-closed; a stop condition at any point halts the loop and
// finalizes the execution.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/ledgerline/warden/core/pkg/authz"
	"github.com/ledgerline/warden/core/pkg/canonicalize"
	"github.com/ledgerline/warden/core/pkg/contracts"
	"github.com/ledgerline/warden/core/pkg/envelope"
	"github.com/ledgerline/warden/core/pkg/evidence"
	"github.com/ledgerline/warden/core/pkg/gate"
	"github.com/ledgerline/warden/core/pkg/intent"
	"github.com/ledgerline/warden/core/pkg/ledger"
	"github.com/ledgerline/warden/core/pkg/loop"
	"github.com/ledgerline/warden/core/pkg/normalizer"
	"github.com/ledgerline/warden/core/pkg/observability"
	"github.com/ledgerline/warden/core/pkg/policy"
)

var (
	// ErrHalted is returned when a stop condition terminated the session.
	ErrHalted = errors.New("session: halted")
	// ErrAborted is returned when the human (or the gate timeout) aborted.
	ErrAborted = errors.New("session: aborted")
)

// timestampSkew bounds how far a response timestamp may drift from the
// dispatch window before it reads as INVALID_TIMESTAMP.
const timestampSkew = 5 * time.Minute

// Executor delivers an instruction to the external executor and returns its
// raw, untrusted response bytes.
type Executor interface {
	Execute(ctx context.Context, instruction contracts.InstructionEnvelope) ([]byte, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, instruction contracts.InstructionEnvelope) ([]byte, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, instruction contracts.InstructionEnvelope) ([]byte, error) {
	return f(ctx, instruction)
}

// Recorder receives session milestones for the audit trail. It mirrors the
// trail's Append without importing it, so the session does not depend on the
// trail implementation.
type Recorder interface {
	Record(kind, action string, payload any)
}

// Request describes the work one cycle should dispatch.
type Request struct {
	RequestID   string
	CommandType string
	Target      string
	ExecutorID  string
	Timeout     time.Duration
}

// Options carries the session thresholds.
type Options struct {
	MaxAttempts   int     // execution attempts before exhaustion, default 3
	DispatchRate  float64 // dispatches per second, default 1
	DispatchBurst int     // default 3
	PolicySignals func() policy.Signals
	// KnownExecutors, when non-empty, is the set of executor ids this
	// session may dispatch to. An empty executor id never dispatches.
	KnownExecutors []string
}

// Result is the outcome of one governed cycle.
type Result struct {
	Execution     contracts.ExecutionRecord
	Normalized    contracts.NormalizedResponse
	Decision      contracts.DecisionRecord
	Intent        *contracts.ExecutionIntent
	Authorization *contracts.ExecutionAuthorization
	Halt          *evidence.Halt
}

// Session wires the governance components around one evidence chain.
type Session struct {
	id         string
	opts       Options
	observer   *evidence.Observer
	ledger     *ledger.Ledger
	gate       *gate.Gate
	binder     *intent.Binder
	authorizer *authz.Authorizer
	validator  *envelope.Validator
	recorder   Recorder
	limiter    *rate.Limiter
	logger     *slog.Logger
	obs        *observability.Provider
	clock      func() time.Time

	mu               sync.Mutex
	machine          *loop.Machine
	inFlight         bool
	priorPending     bool
	executorUnknown  bool
	envelopeMismatch bool
	badTimestamp     bool
	rateTripped      bool
	humanAbort       bool
}

// New assembles a session. The stop evaluator the observer needs is the
// session itself, so construction happens in two steps.
func New(
	sessionID string,
	opts Options,
	ledg *ledger.Ledger,
	g *gate.Gate,
	binder *intent.Binder,
	authorizer *authz.Authorizer,
	validator *envelope.Validator,
	recorder Recorder,
	logger *slog.Logger,
) *Session {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.DispatchRate <= 0 {
		opts.DispatchRate = 1
	}
	if opts.DispatchBurst <= 0 {
		opts.DispatchBurst = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:         sessionID,
		opts:       opts,
		ledger:     ledg,
		gate:       g,
		binder:     binder,
		authorizer: authorizer,
		validator:  validator,
		recorder:   recorder,
		limiter:    rate.NewLimiter(rate.Limit(opts.DispatchRate), opts.DispatchBurst),
		logger:     logger.With("session_id", sessionID),
		clock:      time.Now,
	}
	chain := evidence.NewChain(sessionID)
	s.observer = evidence.NewObserver(chain, evidence.StopEvaluatorFunc(s.evaluateStop))
	return s
}

// WithObservability attaches the telemetry provider.
func (s *Session) WithObservability(p *observability.Provider) *Session {
	s.obs = p
	return s
}

// WithClock overrides the clock for deterministic testing.
func (s *Session) WithClock(clock func() time.Time) *Session {
	s.clock = clock
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Chain exposes the session evidence chain for read-side consumers.
func (s *Session) Chain() *evidence.Chain { return s.observer.Chain() }

// Binder exposes the intent binder, for revocation by an operator surface.
func (s *Session) Binder() *intent.Binder { return s.binder }

// Loop exposes the current cycle's loop machine.
func (s *Session) Loop() *loop.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine
}

// evaluateStop implements the session's view of the closed stop-condition
// set. The chain's own integrity condition is evaluated by the observer.
// MISSING_AUTHORIZATION and AMBIGUOUS_INTENT are enforced at their own
// boundaries: the authorizer denies ungranted execution and the binder
// rejects a second intent per decision, so the session holds no state for
// them.
func (s *Session) evaluateStop(cond contracts.StopCondition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cond {
	case contracts.StopUnregisteredExecutor:
		return s.executorUnknown
	case contracts.StopEnvelopeHashMismatch:
		return s.envelopeMismatch
	case contracts.StopUninitializedContext:
		return s.machine == nil || s.machine.Context().LoopID == ""
	case contracts.StopResourceLimitExceeded:
		return s.rateTripped
	case contracts.StopInvalidTimestamp:
		return s.badTimestamp
	case contracts.StopExecutionPending:
		return s.priorPending
	case contracts.StopHumanAbort:
		return s.humanAbort
	}
	return false
}

// RunCycle executes one governed cycle: dispatch the request, validate and
// classify the response, present the evidence summary at the gate, and — for
// a CONTINUE or ESCALATE decision — bind the intent and grant a single-use
// authorization. The returned Result always carries whatever records were
// produced before a halt.
func (s *Session) RunCycle(ctx context.Context, executor Executor, req Request, input <-chan gate.Submission) (*Result, error) {
	res := &Result{}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.Timeout <= 0 {
		req.Timeout = 30 * time.Second
	}

	s.mu.Lock()
	if s.inFlight {
		s.priorPending = true
	} else {
		s.inFlight = true
		defer func() {
			s.mu.Lock()
			s.inFlight = false
			s.mu.Unlock()
		}()
	}
	s.executorUnknown = !s.knownExecutor(req.ExecutorID)
	s.envelopeMismatch = false
	s.badTimestamp = false
	s.mu.Unlock()

	if s.obs != nil {
		defer s.obs.RecordCycle(ctx, attribute.String("session_id", s.id))
	}

	exec, err := s.ledger.Create(ctx, req.RequestID, s.opts.MaxAttempts)
	if err != nil {
		return res, fmt.Errorf("session: creating execution: %w", err)
	}
	res.Execution = exec

	// The machine binds the fingerprint of the exact envelope that will be
	// dispatched; the envelope is complete before the binding happens.
	instruction := envelope.NewInstruction(exec.ID, req.CommandType, req.Target, req.Timeout)
	machine := loop.NewMachine(mustFingerprint(instruction), req.ExecutorID)
	s.mu.Lock()
	s.machine = machine
	s.mu.Unlock()
	s.logger.Info("cycle started", "execution_id", exec.ID, "command", req.CommandType)

	// Dispatch rate is a hard resource bound; exceeding it is a stop
	// condition, not a wait.
	if !s.limiter.Allow() {
		s.mu.Lock()
		s.rateTripped = true
		s.mu.Unlock()
	}

	capture, halt, err := s.observer.Observe(exec.ID, contracts.PointPreDispatch, "instruction", instruction)
	if err != nil || halt != nil {
		return res, s.haltCycle(ctx, res, machine, halt, err)
	}
	if err := s.ledger.AttachEvidence(ctx, exec.ID, capture.Record); err != nil {
		return res, fmt.Errorf("session: attaching pre-dispatch evidence: %w", err)
	}

	if err := machine.Transition(contracts.LoopDispatched, "instruction dispatched"); err != nil {
		return res, fmt.Errorf("session: loop: %w", err)
	}
	if res.Execution, err = s.ledger.RecordAttempt(ctx, exec.ID); err != nil {
		return res, fmt.Errorf("session: recording attempt: %w", err)
	}

	dispatchedAt := s.clock()
	dctx, endDispatch := s.trackStage(ctx, "dispatch")
	raw, execErr := executor.Execute(dctx, instruction)
	endDispatch(execErr)
	if err := machine.Transition(contracts.LoopAwaitingResponse, "response pending"); err != nil {
		return res, fmt.Errorf("session: loop: %w", err)
	}

	s.mu.Lock()
	s.envelopeMismatch = mustFingerprint(instruction) != machine.Context().EnvelopeFingerprint
	s.mu.Unlock()

	capture, halt, err = s.observer.Observe(exec.ID, contracts.PointPostDispatch, "raw_response", map[string]any{
		"instruction_id": instruction.InstructionID,
		"raw":            canonicalize.HashBytes(raw),
		"transport_err":  errString(execErr),
	})
	if err != nil || halt != nil {
		return res, s.haltCycle(ctx, res, machine, halt, err)
	}
	if err := s.ledger.AttachEvidence(ctx, exec.ID, capture.Record); err != nil {
		return res, fmt.Errorf("session: attaching response evidence: %w", err)
	}

	_, endClassify := s.trackStage(ctx, "classify")
	outcome, claimed := s.classify(instruction, raw, execErr, dispatchedAt)
	endClassify(nil)

	capture, halt, err = s.observer.Observe(exec.ID, contracts.PointPreEvaluate, "outcome", map[string]string{
		"execution_id": exec.ID,
		"raw_outcome":  string(outcome),
	})
	if err != nil || halt != nil {
		return res, s.haltCycle(ctx, res, machine, halt, err)
	}
	if err := s.ledger.AttachEvidence(ctx, exec.ID, capture.Record); err != nil {
		return res, fmt.Errorf("session: attaching outcome evidence: %w", err)
	}

	res.Normalized = normalizer.Normalize(outcome)
	if err := machine.Transition(contracts.LoopEvaluated, "response evaluated"); err != nil {
		return res, fmt.Errorf("session: loop: %w", err)
	}
	if res.Execution, err = s.transitionForDecision(ctx, exec.ID, res.Normalized.Decision); err != nil {
		return res, err
	}

	capture, halt, err = s.observer.Observe(exec.ID, contracts.PointPostEvaluate, "normalized", res.Normalized)
	if err != nil || halt != nil {
		return res, s.haltCycle(ctx, res, machine, halt, err)
	}
	if err := s.ledger.AttachEvidence(ctx, exec.ID, capture.Record); err != nil {
		return res, fmt.Errorf("session: attaching evaluation evidence: %w", err)
	}

	summary := s.gate.BuildSummary(s.Chain(), *capture, machine.State(), res.Normalized.Confidence, claimed)
	gctx, endGate := s.trackStage(ctx, "gate")
	decision, err := s.gate.Present(gctx, summary, input)
	endGate(err)
	if err != nil {
		return res, fmt.Errorf("session: gate: %w", err)
	}
	res.Decision = decision
	s.record("decision", "decide", decision)

	if decision.Type == contracts.DecideAbort {
		s.mu.Lock()
		s.humanAbort = true
		s.mu.Unlock()
		_, haltRec, _ := s.observer.Observe(exec.ID, contracts.PointPostEvaluate, "decision", map[string]string{
			"decision_id": decision.ID,
			"type":        string(decision.Type),
		})
		return res, s.haltCycle(ctx, res, machine, haltRec, nil)
	}

	if decision.Type == contracts.DecideRetry {
		verdict, err := s.ledger.DecideRetry(ctx, exec.ID)
		if err != nil {
			return res, fmt.Errorf("session: retry verdict: %w", err)
		}
		s.record("transition", "retry_verdict", map[string]string{"verdict": string(verdict)})
		if verdict != contracts.RetryAllowed {
			return res, fmt.Errorf("%w: retry %s", ErrAborted, verdict)
		}
		return res, nil
	}

	if decision.Type == contracts.DecideEscalate && res.Execution.State == contracts.ExecEvaluated {
		if rec, err := s.ledger.TransitionState(ctx, exec.ID, contracts.ExecEscalated, "escalated: "+decision.Reason); err == nil {
			res.Execution = rec
		}
	}

	it, err := s.binder.Bind(decision, machine.State())
	if err != nil {
		return res, fmt.Errorf("session: binding intent: %w", err)
	}
	res.Intent = &it
	s.record("intent", "bind", it)

	signals := policy.Signals{Confidence: true, Readiness: true, ContractValid: true}
	if s.opts.PolicySignals != nil {
		signals = s.opts.PolicySignals()
	}
	_, endAuthorize := s.trackStage(ctx, "authorize")
	auth, err := s.authorizer.Authorize(&it, signals)
	endAuthorize(err)
	if err != nil {
		if s.obs != nil {
			code := "unknown"
			var denial *authz.Denial
			if errors.As(err, &denial) {
				code = denial.Code
			}
			s.obs.RecordDenial(ctx, code)
		}
		s.record("grant", "deny", map[string]string{"error": err.Error()})
		return res, fmt.Errorf("session: authorizing: %w", err)
	}
	res.Authorization = &auth
	s.record("grant", "authorize", auth)

	s.logger.Info("cycle authorized", "execution_id", exec.ID, "intent_id", it.ID, "authorization_id", auth.ID)
	return res, nil
}

// knownExecutor reports whether the session may dispatch to the executor.
func (s *Session) knownExecutor(id string) bool {
	if id == "" {
		return false
	}
	if len(s.opts.KnownExecutors) == 0 {
		return true
	}
	for _, known := range s.opts.KnownExecutors {
		if known == id {
			return true
		}
	}
	return false
}

// classify runs boundary validation and converts the untrusted reply into a
// raw outcome plus the executor's claimed status for the summary. A response
// timestamp outside the dispatch window flags INVALID_TIMESTAMP for the next
// observation.
func (s *Session) classify(instruction contracts.InstructionEnvelope, raw []byte, execErr error, dispatchedAt time.Time) (contracts.RawOutcome, string) {
	if execErr != nil {
		return contracts.OutcomeTimeout, ""
	}
	resp, err := s.validator.Decode(raw)
	if err != nil {
		s.logger.Warn("response rejected at boundary", "error", err)
		return contracts.OutcomeMalformed, ""
	}
	if err := s.validator.Accept(instruction, resp); err != nil {
		s.logger.Warn("response rejected at boundary", "error", err)
		return contracts.OutcomeMalformed, ""
	}
	if resp.Timestamp.IsZero() ||
		resp.Timestamp.After(s.clock().Add(timestampSkew)) ||
		resp.Timestamp.Before(dispatchedAt.Add(-timestampSkew)) {
		s.mu.Lock()
		s.badTimestamp = true
		s.mu.Unlock()
		s.logger.Warn("response timestamp outside the dispatch window", "timestamp", resp.Timestamp)
	}
	return normalizer.FromResponseType(resp.ResponseType), string(resp.ResponseType)
}

// transitionForDecision maps the normalized classification onto the ledger
// lifecycle.
func (s *Session) transitionForDecision(ctx context.Context, execID string, d contracts.NormalizedDecision) (contracts.ExecutionRecord, error) {
	target := contracts.ExecEvaluated
	reason := "classified " + string(d)
	if d == contracts.DecisionReject {
		target = contracts.ExecFailed
	}
	if target == contracts.ExecFailed {
		// FAILED is reached through EVALUATED.
		if _, err := s.ledger.TransitionState(ctx, execID, contracts.ExecEvaluated, reason); err != nil {
			return contracts.ExecutionRecord{}, fmt.Errorf("session: ledger: %w", err)
		}
	}
	rec, err := s.ledger.TransitionState(ctx, execID, target, reason)
	if err != nil {
		return contracts.ExecutionRecord{}, fmt.Errorf("session: ledger: %w", err)
	}
	return rec, nil
}

// haltCycle drives the forced shutdown: loop halt, ledger halt, finalize,
// audit record. The stop condition travels in the returned error.
func (s *Session) haltCycle(ctx context.Context, res *Result, machine *loop.Machine, halt *evidence.Halt, cause error) error {
	cond := contracts.StopBrokenEvidenceChain
	if halt != nil {
		cond = halt.Condition
		res.Halt = halt
	}
	if machine != nil {
		machine.ForceHalt(string(cond))
	}
	execID := res.Execution.ID
	if execID != "" {
		_, _ = s.ledger.TransitionState(ctx, execID, contracts.ExecHalted, string(cond))
		_ = s.ledger.Finalize(ctx, execID)
		if rec, err := s.ledger.Get(ctx, execID); err == nil {
			res.Execution = rec
		}
	}
	if s.obs != nil {
		s.obs.RecordHalt(ctx, string(cond))
	}
	s.record("halt", "forced_halt", map[string]string{
		"condition":    string(cond),
		"execution_id": execID,
	})
	s.logger.Error("session halted", "condition", cond, "cause", errString(cause))
	if cause != nil {
		return fmt.Errorf("%w: %s: %v", ErrHalted, cond, cause)
	}
	return fmt.Errorf("%w: %s", ErrHalted, cond)
}

// trackStage opens a telemetry span when a provider is attached.
func (s *Session) trackStage(ctx context.Context, stage string) (context.Context, func(error)) {
	if s.obs == nil {
		return ctx, func(error) {}
	}
	return s.obs.TrackStage(ctx, stage)
}

func (s *Session) record(kind, action string, payload any) {
	if s.recorder != nil {
		s.recorder.Record(kind, action, payload)
	}
}

func mustFingerprint(v any) string {
	fp, err := canonicalize.Fingerprint(v)
	if err != nil {
		// Instruction envelopes are plain data; this cannot fail for them.
		return ""
	}
	return fp
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
