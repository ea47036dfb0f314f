// Package envelope is the untrusted executor boundary. Every inbound
// response is validated against the wire schema and the outstanding
// instruction before anything downstream classifies it.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ledgerline/warden/core/pkg/contracts"
)

var (
	// ErrSchema is returned when the raw bytes fail wire-schema validation.
	ErrSchema = errors.New("envelope: schema violation")
	// ErrInstructionMismatch is returned when a response does not answer the
	// outstanding instruction.
	ErrInstructionMismatch = errors.New("envelope: instruction id mismatch")
	// ErrMissingFingerprint is returned for a SUCCESS with no evidence
	// fingerprint. Claims of success without evidence never pass the boundary.
	ErrMissingFingerprint = errors.New("envelope: success response missing evidence fingerprint")
	// ErrUnknownResponseType is returned for response types outside the wire
	// vocabulary.
	ErrUnknownResponseType = errors.New("envelope: unknown response type")
)

// responseSchema is the wire contract for executor replies. Unknown fields
// are rejected so executors cannot smuggle extra context past the boundary.
const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["instruction_id", "response_type", "timestamp"],
  "properties": {
    "instruction_id": {"type": "string", "minLength": 1},
    "response_type": {"type": "string", "enum": ["SUCCESS", "FAILURE", "TIMEOUT", "ERROR", "REFUSED"]},
    "evidence_fingerprint": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"},
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

// Validator checks inbound executor responses against the wire schema and
// the outstanding instruction.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the wire schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource("response.schema.json", strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("envelope: adding schema resource: %w", err)
	}
	schema, err := c.Compile("response.schema.json")
	if err != nil {
		return nil, fmt.Errorf("envelope: compiling schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// NewInstruction builds an instruction envelope for one dispatch.
func NewInstruction(executionID, commandType, target string, timeout time.Duration) contracts.InstructionEnvelope {
	return contracts.InstructionEnvelope{
		InstructionID: uuid.New().String(),
		ExecutionID:   executionID,
		CommandType:   commandType,
		Target:        target,
		Timeout:       timeout,
	}
}

// Decode validates raw response bytes against the wire schema and returns
// the decoded envelope. Semantic checks against an instruction happen in
// Accept.
func (v *Validator) Decode(raw []byte) (contracts.ResponseEnvelope, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return contracts.ResponseEnvelope{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return contracts.ResponseEnvelope{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	var resp contracts.ResponseEnvelope
	if err := json.Unmarshal(raw, &resp); err != nil {
		return contracts.ResponseEnvelope{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return resp, nil
}

// Accept checks a decoded response against the outstanding instruction. A
// response that answers a different instruction, claims SUCCESS without an
// evidence fingerprint, or carries an unknown type is rejected here, before
// the normalizer ever classifies it.
func (v *Validator) Accept(instruction contracts.InstructionEnvelope, resp contracts.ResponseEnvelope) error {
	if resp.InstructionID != instruction.InstructionID {
		return fmt.Errorf("%w: got %q, outstanding %q", ErrInstructionMismatch, resp.InstructionID, instruction.InstructionID)
	}
	if !resp.ResponseType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownResponseType, resp.ResponseType)
	}
	if resp.ResponseType == contracts.ResponseSuccess && resp.EvidenceFingerprint == "" {
		return ErrMissingFingerprint
	}
	return nil
}
