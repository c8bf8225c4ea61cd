package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/certen/zk-opml/pkg/bisection"
	"github.com/certen/zk-opml/pkg/external"
	"github.com/certen/zk-opml/pkg/merkle"
	"github.com/certen/zk-opml/pkg/model"
	"github.com/certen/zk-opml/pkg/trace"
	"github.com/certen/zk-opml/pkg/zkprogram"
)

// SessionParams bundles what each side of one dispute needs to run it
// end-to-end. A real deployment runs the challenger and the responder as
// separate agent processes, talking through the on-chain interface spec.md
// §6 names; this module leaves that transport abstract (pkg/external),
// so RunDisputeSession plays both sides in-process against their own
// execution kernels, the way a single operator running both roles locally
// (or a test) would.
type SessionParams struct {
	ChallengeID  uuid.UUID
	InferenceID  uuid.UUID
	Responder    string
	Challenger   string
	ModelRoot    [32]byte
	VerifyingKey []byte

	ChallengerModel external.OnnxModel
	ResponderModel  external.OnnxModel
	Initial         model.InputsMap
}

// RunDisputeSession drives components E, F and H for one challenge: it
// records both parties' execution traces (component E, trace.Record), runs
// the bisection driver (component F, pkg/bisection) proposal-by-proposal
// until it either collapses (the challenger concedes) or lands on a single
// disputed operator, and in the latter case invokes the zk prover
// (component H, zkprogram.Backend.Prove) and submits the resulting proof.
// Every step is translated into the same Events a.dispatch already applies
// to the dispute.Machine and persists through the registry, so this is not
// a parallel code path — it is what produces those Events in a process
// that has no external on-chain event feed (spec.md §9's agent event loop).
func RunDisputeSession(ctx context.Context, a *Agent, prover external.Prover, p SessionParams) error {
	challengerTrace, err := trace.Record(p.ChallengerModel, p.Initial, trace.Options{KeepSnapshots: true})
	if err != nil {
		return fmt.Errorf("agent: record challenger trace: %w", err)
	}
	responderTrace, err := trace.Record(p.ResponderModel, p.Initial, trace.Options{})
	if err != nil {
		return fmt.Errorf("agent: record responder trace: %w", err)
	}

	n := p.ChallengerModel.NumOperators()
	a.dispatch(ctx, Event{
		Kind:         EventChallengeOpened,
		ChallengeID:  p.ChallengeID,
		InferenceID:  p.InferenceID,
		Responder:    p.Responder,
		Challenger:   p.Challenger,
		ModelRoot:    p.ModelRoot,
		NumOperators: n,
	})

	driver := bisection.NewDriver(n, challengerTrace)

	for {
		prop := driver.Propose()
		a.dispatch(ctx, Event{
			Kind:        EventProposed,
			ChallengeID: p.ChallengeID,
			InputHash:   prop.InputHash,
			OutputHash:  prop.OutputHash,
		})

		ans := bisection.Respond(responderTrace, prop)
		a.dispatch(ctx, Event{
			Kind:        EventResponded,
			ChallengeID: p.ChallengeID,
			InputMatch:  ans.InputMatch,
			OutputMatch: ans.OutputMatch,
		})

		switch driver.Apply(ans) {
		case bisection.Continue:
			continue
		case bisection.Concede:
			return nil
		case bisection.InvokeProof:
			return a.submitProof(ctx, prover, p, driver.Mid, challengerTrace)
		}
	}
}

// submitProof builds a zkprogram.Request for the operator bisection landed
// on, from the challenger's retained pre-state snapshot, runs component H,
// and feeds the resulting proof into the machine as an EventProofSubmitted.
func (a *Agent) submitProof(ctx context.Context, prover external.Prover, p SessionParams, mid int, tr *trace.Trace) error {
	before, ok := tr.SnapshotAt(mid)
	if !ok {
		return fmt.Errorf("agent: no retained pre-state for operator %d (trace.Record must set KeepSnapshots)", mid)
	}

	graph := p.ChallengerModel.Graph()
	node := p.ChallengerModel.GetNode(mid)

	kind, ok := zkprogram.KindFromString(node.Kind)
	if !ok {
		return fmt.Errorf("agent: operator kind %q has no single-operator circuit", node.Kind)
	}

	leaves := make([][32]byte, p.ChallengerModel.NumOperators())
	for i := range leaves {
		leaves[i] = model.NodeHash(p.ChallengerModel.GetNode(i), graph)
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return fmt.Errorf("agent: build merkle tree: %w", err)
	}
	proof, err := tree.Prove([]int{mid})
	if err != nil {
		return fmt.Errorf("agent: prove operator %d: %w", mid, err)
	}

	after := make(model.InputsMap, len(before))
	for k, v := range before {
		after[k] = v.Clone()
	}
	if err := p.ChallengerModel.EvalOne(node, after); err != nil {
		return fmt.Errorf("agent: re-execute disputed operator: %w", err)
	}

	operandA, operandB, err := operands(node, before)
	if err != nil {
		return err
	}
	output, err := singleOutput(node, after)
	if err != nil {
		return err
	}

	req := zkprogram.Request{
		ModelRoot:           tree.Root(),
		LeafIndex:           mid,
		Proof:               proof,
		Node:                node,
		Graph:               graph,
		InputsBefore:        before,
		Kind:                kind,
		A:                   operandA,
		B:                   operandB,
		Output:              output,
		CommittedInputHash:  model.MapHash(before),
		CommittedOutputHash: model.MapHash(after),
	}

	stdin, err := zkprogram.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("agent: encode zk request: %w", err)
	}
	proofBytes, publicValues, err := prover.Prove(nil, stdin)
	if err != nil {
		return fmt.Errorf("agent: prove disputed operator: %w", err)
	}

	a.dispatch(ctx, Event{
		Kind:         EventProofSubmitted,
		ChallengeID:  p.ChallengeID,
		VerifyingKey: p.VerifyingKey,
		Proof:        proofBytes,
		PublicValues: publicValues,
	})
	return nil
}

// operands extracts the circuit's fixed two operand slices from node's
// declared inputs; a unary operator (Relu) leaves the second zero-filled,
// matching witness.go's BuildAssignment convention.
func operands(node model.Node, inputs model.InputsMap) (a, b []float64, err error) {
	if len(node.Inputs) == 0 {
		return nil, nil, fmt.Errorf("agent: operator %q declares no inputs", node.Kind)
	}
	at, ok := inputs[node.Inputs[0]]
	if !ok {
		return nil, nil, fmt.Errorf("agent: missing input %q", node.Inputs[0])
	}
	a = at.Elements

	if len(node.Inputs) > 1 {
		bt, ok := inputs[node.Inputs[1]]
		if !ok {
			return nil, nil, fmt.Errorf("agent: missing input %q", node.Inputs[1])
		}
		b = bt.Elements
	} else {
		b = make([]float64, len(a))
	}
	return a, b, nil
}

// singleOutput extracts the circuit's single output tensor, since
// OperatorCircuit only proves single-output operators (see circuit.go).
func singleOutput(node model.Node, inputs model.InputsMap) ([]float64, error) {
	if len(node.Outputs) != 1 {
		return nil, fmt.Errorf("agent: operator %q must have exactly one output for the single-operator circuit", node.Kind)
	}
	t, ok := inputs[node.Outputs[0]]
	if !ok {
		return nil, fmt.Errorf("agent: missing output %q after eval_one", node.Outputs[0])
	}
	return t.Elements, nil
}
