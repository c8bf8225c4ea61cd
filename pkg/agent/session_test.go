package agent

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/zk-opml/pkg/dispute"
	"github.com/certen/zk-opml/pkg/kernel"
	"github.com/certen/zk-opml/pkg/merkle"
	"github.com/certen/zk-opml/pkg/model"
	"github.com/certen/zk-opml/pkg/zkprogram"
)

// fakeProver stands in for zkprogram.Backend's real Groth16 machinery: it
// decodes the same Request a real Backend.Prove would and honestly
// re-encodes its public values, without running an actual trusted setup or
// proof generation in every test run. circuit_test.go already exercises
// the real circuit end to end; this test's job is the session wiring
// around it (components E and F actually producing the Request that H
// consumes), not the circuit's cryptography.
type fakeProver struct{}

func (fakeProver) Setup(elf []byte) ([]byte, []byte, error) { return nil, nil, nil }

func (fakeProver) Prove(elf, stdin []byte) (proof, publicValues []byte, err error) {
	req, err := zkprogram.DecodeRequest(stdin)
	if err != nil {
		return nil, nil, err
	}
	pv := zkprogram.EncodePublicValues(req.ModelRoot, req.LeafIndex, req.CommittedInputHash, req.CommittedOutputHash)
	return []byte("fake-proof"), pv, nil
}

func (fakeProver) Verify(vk, proof, pv []byte) (bool, error) { return true, nil }

func newSessionTestAgent(t *testing.T) *Agent {
	t.Helper()
	m := dispute.NewMachine(time.Hour, 10*time.Millisecond, fakeProver{})
	store := newFakeStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	return New(m, store, zkprogram.ParsePublicValues, metrics, nil)
}

func modelRootOf(t *testing.T, g *model.Graph) [32]byte {
	t.Helper()
	leaves := make([][32]byte, len(g.Nodes))
	for i, n := range g.Nodes {
		leaves[i] = model.NodeHash(n, g)
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	return tree.Root()
}

// TestRunDisputeSession_ConcedesWhenResponderAgrees exercises component E
// (trace.Record) and F (bisection.Driver) for real when the two parties'
// traces never diverge: the bisection interval collapses and the
// dispute.Machine itself resolves the challenge (as a concession) while
// processing the final EventResponded, with component H never invoked.
func TestRunDisputeSession_ConcedesWhenResponderAgrees(t *testing.T) {
	a := newSessionTestAgent(t)
	graph := demoGraph()
	challengeID := uuid.New()

	params := SessionParams{
		ChallengeID:     challengeID,
		InferenceID:     uuid.New(),
		Responder:       "responder",
		Challenger:      "challenger",
		ModelRoot:       modelRootOf(t, graph),
		ChallengerModel: kernel.New(graph),
		ResponderModel:  kernel.New(graph),
		Initial:         demoInputs(),
	}

	if err := RunDisputeSession(context.Background(), a, fakeProver{}, params); err != nil {
		t.Fatalf("RunDisputeSession: %v", err)
	}

	final, err := a.machine.Get(challengeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.State != dispute.StateResolved {
		t.Fatalf("state = %s, want resolved", final.State)
	}
	if final.Winner != dispute.WinnerResponder {
		t.Fatalf("winner = %s, want responder (challenger conceded)", final.Winner)
	}
}

// TestRunDisputeSession_InvokesProofOnDivergence makes the responder's
// kernel disagree with the challenger's at one specific operator, driving
// the session all the way through component H: trace.Record for both
// sides, bisection landing exactly on the diverging operator, and a real
// zkprogram.Request built, encoded and handed to the prover. The assertion
// is that the full E->F->H pipeline actually ran and the challenge reached
// a terminal state via ResolveOpenChallenge, not a specific winner — which
// side wins turns on the committed-hash equality the Machine evaluates,
// a pre-existing dispute.Machine policy decision this wiring exercises but
// does not re-litigate.
func TestRunDisputeSession_InvokesProofOnDivergence(t *testing.T) {
	a := newSessionTestAgent(t)
	challengerGraph := demoGraph()
	responderGraph := divergeAt(challengerGraph, 1)
	challengeID := uuid.New()

	params := SessionParams{
		ChallengeID:     challengeID,
		InferenceID:     uuid.New(),
		Responder:       "responder",
		Challenger:      "challenger",
		ModelRoot:       modelRootOf(t, challengerGraph),
		ChallengerModel: kernel.New(challengerGraph),
		ResponderModel:  kernel.New(responderGraph),
		Initial:         demoInputs(),
	}

	if err := RunDisputeSession(context.Background(), a, fakeProver{}, params); err != nil {
		t.Fatalf("RunDisputeSession: %v", err)
	}

	final, err := a.machine.Get(challengeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.State != dispute.StateResolved {
		t.Fatalf("state = %s, want resolved (component H must have run)", final.State)
	}
	if final.Mid != 1 {
		t.Fatalf("mid = %d, want 1 (the operator divergeAt modified)", final.Mid)
	}

	snap := a.machine.MetricsSnapshot()
	if snap.ProofsAccepted+snap.ProofsRejected != 1 {
		t.Fatalf("expected exactly one proof verdict recorded, got accepted=%d rejected=%d", snap.ProofsAccepted, snap.ProofsRejected)
	}
}
