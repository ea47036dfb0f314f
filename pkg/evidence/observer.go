package evidence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/warden/core/pkg/canonicalize"
	"github.com/ledgerline/warden/core/pkg/contracts"
)

// StopEvaluator answers the closed set of stop conditions for the session.
// Implementations read state; they never mutate it.
type StopEvaluator interface {
	Evaluate(cond contracts.StopCondition) bool
}

// StopEvaluatorFunc adapts a function to the StopEvaluator interface.
type StopEvaluatorFunc func(cond contracts.StopCondition) bool

// Evaluate implements StopEvaluator.
func (f StopEvaluatorFunc) Evaluate(cond contracts.StopCondition) bool { return f(cond) }

// Capture is the result of one observation: the immutable evidence record and
// its chain linkage.
type Capture struct {
	Record contracts.EvidenceRecord `json:"record"`
	Entry  contracts.ChainEntry     `json:"entry"`
}

// Halt reports why the observer terminated the loop.
type Halt struct {
	Condition contracts.StopCondition  `json:"condition"`
	Capture   *Capture                 `json:"capture,omitempty"`
	Record    contracts.EvidenceRecord `json:"record"`
}

// Observer captures raw evidence at fixed observation points, link-hashes
// each record into the chain, and evaluates stop conditions after every
// capture. Any true condition forces a HALT_ENTRY capture and terminates the
// loop.
type Observer struct {
	chain *Chain
	eval  StopEvaluator
	clock func() time.Time
}

// NewObserver creates an observer over the session chain.
func NewObserver(chain *Chain, eval StopEvaluator) *Observer {
	return &Observer{chain: chain, eval: eval, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (o *Observer) WithClock(clock func() time.Time) *Observer {
	o.clock = clock
	return o
}

// Chain exposes the underlying chain for read-side consumers.
func (o *Observer) Chain() *Chain { return o.chain }

// Observe captures one record at the given point, links it into the chain,
// and evaluates the stop-condition set. A non-nil Halt means the loop must
// terminate now.
//
// Failure semantics: an unknown observation point, a replayed fingerprint, or
// a broken chain never yields a linked capture; the record comes back INVALID
// and the chain reports the corresponding halt.
func (o *Observer) Observe(executionID string, point contracts.ObservationPoint, kind string, content any) (*Capture, *Halt, error) {
	if !point.Valid() {
		return nil, nil, fmt.Errorf("evidence: unknown observation point %q", point)
	}

	fp, err := canonicalize.Fingerprint(content)
	if err != nil {
		return nil, nil, fmt.Errorf("evidence: fingerprint capture at %s: %w", point, err)
	}

	rec := o.newRecord(executionID, point, kind, fp, contracts.EvidenceLinked)
	entry, err := o.chain.Append(fp)
	if err != nil {
		rec.Status = contracts.EvidenceInvalid
		halt := o.forcedHalt(executionID, contracts.StopBrokenEvidenceChain, rec)
		return nil, halt, err
	}

	cap := &Capture{Record: rec, Entry: entry}

	if cond, tripped := o.checkStops(); tripped {
		halt := o.forcedHalt(executionID, cond, rec)
		halt.Capture = cap
		return cap, halt, nil
	}
	return cap, nil, nil
}

// checkStops evaluates the closed stop-condition set in order; the chain's
// own integrity check does not depend on the evaluator.
func (o *Observer) checkStops() (contracts.StopCondition, bool) {
	if o.chain.Verify() != nil {
		return contracts.StopBrokenEvidenceChain, true
	}
	if o.eval == nil {
		return "", false
	}
	for _, cond := range contracts.StopConditions {
		if cond == contracts.StopBrokenEvidenceChain {
			continue // handled above, authoritatively
		}
		if o.eval.Evaluate(cond) {
			return cond, true
		}
	}
	return "", false
}

// forcedHalt captures the HALT_ENTRY record. The halt record itself is
// fingerprinted over the condition and the moment of capture so it links like
// any other evidence.
func (o *Observer) forcedHalt(executionID string, cond contracts.StopCondition, trigger contracts.EvidenceRecord) *Halt {
	haltContent := map[string]any{
		"condition":   string(cond),
		"trigger":     trigger.Fingerprint,
		"happened_at": o.clock().UTC().Format(time.RFC3339Nano),
	}
	fp, err := canonicalize.Fingerprint(haltContent)
	rec := o.newRecord(executionID, contracts.PointHaltEntry, "halt", fp, contracts.EvidenceLinked)
	if err != nil {
		rec.Status = contracts.EvidenceInvalid
		return &Halt{Condition: cond, Record: rec}
	}
	if _, err := o.chain.Append(fp); err != nil {
		rec.Status = contracts.EvidenceInvalid
	}
	return &Halt{Condition: cond, Record: rec}
}

func (o *Observer) newRecord(executionID string, point contracts.ObservationPoint, kind, fp string, status contracts.EvidenceStatus) contracts.EvidenceRecord {
	return contracts.EvidenceRecord{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Point:       point,
		Kind:        kind,
		Fingerprint: fp,
		Status:      status,
		CapturedAt:  o.clock().UTC(),
	}
}
