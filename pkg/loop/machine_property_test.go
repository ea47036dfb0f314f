//go:build property
// +build property

// Package loop_test contains property-based tests for the transition table.
package loop_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ledgerline/warden/core/pkg/contracts"
	"github.com/ledgerline/warden/core/pkg/loop"
)

var loopStates = []contracts.LoopState{
	contracts.LoopInit,
	contracts.LoopDispatched,
	contracts.LoopAwaitingResponse,
	contracts.LoopEvaluated,
	contracts.LoopHalted,
	contracts.LoopState("COMPLETED"), // outside the closed set
	contracts.LoopState(""),
}

func genLoopState() gopter.Gen {
	return gen.IntRange(0, len(loopStates)-1).Map(func(i int) contracts.LoopState {
		return loopStates[i]
	})
}

// TestMachineNeverLeavesHalted verifies that under any transition sequence,
// a machine that reaches HALTED stays there, and an illegal request always
// lands it there.
func TestMachineNeverLeavesHalted(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("HALTED is absorbing, illegal requests force it", prop.ForAll(
		func(targets []contracts.LoopState) bool {
			m := loop.NewMachine("sha256:prop", "prop-executor")
			halted := false
			for _, target := range targets {
				err := m.Transition(target, "prop")
				if halted && m.State() != contracts.LoopHalted {
					return false
				}
				if err != nil {
					// Any rejection must have forced the halt.
					if m.State() != contracts.LoopHalted {
						return false
					}
					halted = true
					continue
				}
				// A successful transition lands exactly on its target.
				if m.State() != target {
					return false
				}
				if m.State() == contracts.LoopHalted {
					halted = true
				}
			}
			return true
		},
		gen.SliceOf(genLoopState()),
	))

	properties.TestingRun(t)
}
