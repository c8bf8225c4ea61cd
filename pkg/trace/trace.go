// Package trace implements the execution trace recorder (component E):
// it runs a model's operators in topological order and records the
// per-step (input_hash, output_hash) pair that the bisection driver later
// searches over.
package trace

import (
	"github.com/certen/zk-opml/pkg/external"
	"github.com/certen/zk-opml/pkg/model"
	"github.com/certen/zk-opml/pkg/xerrors"
)

// Step is one entry of the trace: the map_hash of the inputs map
// immediately before, and immediately after, operator i ran.
type Step struct {
	InputHash  [32]byte
	OutputHash [32]byte
}

// Snapshot is the pre-state of a step, retained for a prospective
// challenger per spec.md §4.E ("retention is mandatory for a prospective
// challenger and optional for the responder").
type Snapshot struct {
	Step   int
	Inputs model.InputsMap
}

// Trace is the full result of recording an execution: the (input_hash,
// output_hash) pairs for every step, and — if requested — the deep-copied
// pre-state at each step.
type Trace struct {
	Steps       []Step
	Snapshots   []Snapshot // empty unless KeepSnapshots was set
	FinalInputs model.InputsMap
}

// Options controls whether per-step snapshots are retained.
type Options struct {
	KeepSnapshots bool
}

// cloneInputs returns a deep copy of m (Tensor.Clone on every value).
func cloneInputs(m model.InputsMap) model.InputsMap {
	out := make(model.InputsMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Record runs mdl's operators in graph order against initial, injecting the
// graph's initializers before operator 0, and returns the full trace.
//
// On an eval_one failure at step i, the trace returned is truncated at i
// (Steps has length i) and the error is an *xerrors.Error of kind
// KindExecution with At == i (spec.md §4.E).
func Record(mdl external.OnnxModel, initial model.InputsMap, opts Options) (*Trace, error) {
	graph := mdl.Graph()
	inputs := model.WithInjectedInitializers(graph, initial)

	n := mdl.NumOperators()
	tr := &Trace{Steps: make([]Step, 0, n)}

	for i := 0; i < n; i++ {
		inputHash := model.MapHash(inputs)

		if opts.KeepSnapshots {
			tr.Snapshots = append(tr.Snapshots, Snapshot{Step: i, Inputs: cloneInputs(inputs)})
		}

		node := mdl.GetNode(i)
		if err := mdl.EvalOne(node, inputs); err != nil {
			return tr, xerrors.Execution(i, err)
		}

		outputHash := model.MapHash(inputs)
		tr.Steps = append(tr.Steps, Step{InputHash: inputHash, OutputHash: outputHash})
	}

	tr.FinalInputs = inputs
	return tr, nil
}

// SnapshotAt returns the retained pre-state for step i, or false if it was
// never kept.
func (t *Trace) SnapshotAt(i int) (model.InputsMap, bool) {
	for _, s := range t.Snapshots {
		if s.Step == i {
			return s.Inputs, true
		}
	}
	return nil, false
}
