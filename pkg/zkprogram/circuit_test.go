package zkprogram

import (
	"strings"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"

	"github.com/certen/zk-opml/pkg/merkle"
	"github.com/certen/zk-opml/pkg/model"
)

// buildAddRequest constructs a single-leaf model (one Add operator) and a
// witness for it, choosing the node's Kind string length so its canonical
// encoding fills CanonicalBytes exactly (128 bytes) — that keeps
// deriveLeaf's fixed-size hash identical to model.NodeHash's real,
// unpadded hash, so the test exercises a genuinely real Merkle leaf rather
// than one constructed to match the circuit's padding.
func buildAddRequest(t *testing.T) Request {
	t.Helper()

	node := model.Node{
		Kind:    strings.Repeat("k", 107),
		Outputs: []string{"y"},
	}
	graph := &model.Graph{Nodes: []model.Node{node}, Initializers: map[string]model.Tensor{}}

	leaf := model.NodeHash(node, graph)
	tree, err := merkle.Build([][32]byte{leaf})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	proof, err := tree.Prove([]int{0})
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	inputsBefore := model.InputsMap{}
	a := []float64{1, 2, 3, 4}
	b := []float64{5, 6, 7, 8}
	output := []float64{6, 8, 10, 12}

	return Request{
		ModelRoot:           tree.Root(),
		LeafIndex:           0,
		Proof:               proof,
		Node:                node,
		Graph:               graph,
		InputsBefore:        inputsBefore,
		Kind:                KindAdd,
		A:                   a,
		B:                   b,
		Output:              output,
		CommittedInputHash:  claimedInputHash(inputsBefore),
		CommittedOutputHash: claimedOutputHash(inputsBefore, node, output),
	}
}

// TestOperatorCircuit_SatisfiesForHonestWitness exercises Define's actual
// R1CS constraints (not just BuildAssignment's Go-level validation): a
// witness built from a real Merkle tree and a real eval_one(Add) step must
// solve the circuit, including the CommittedInputHash/CommittedOutputHash
// equalities this package's witness construction feeds it.
func TestOperatorCircuit_SatisfiesForHonestWitness(t *testing.T) {
	req := buildAddRequest(t)

	assignment, err := BuildAssignment(req)
	if err != nil {
		t.Fatalf("BuildAssignment: %v", err)
	}

	var circuit OperatorCircuit
	if err := test.IsSolved(&circuit, assignment, ecc.BN254.ScalarField()); err != nil {
		t.Fatalf("circuit not solved by honest witness: %v", err)
	}
}

// TestOperatorCircuit_RejectsWrongOutput confirms a dishonest Output (not
// equal to eval_one(InputA, InputB)) fails to solve the circuit.
func TestOperatorCircuit_RejectsWrongOutput(t *testing.T) {
	req := buildAddRequest(t)
	req.Output = []float64{0, 0, 0, 0} // wrong: InputA+InputB != 0
	req.CommittedOutputHash = claimedOutputHash(req.InputsBefore, req.Node, req.Output)

	assignment, err := BuildAssignment(req)
	if err != nil {
		t.Fatalf("BuildAssignment: %v", err)
	}

	var circuit OperatorCircuit
	if err := test.IsSolved(&circuit, assignment, ecc.BN254.ScalarField()); err == nil {
		t.Fatal("expected circuit to reject a witness with the wrong output")
	}
}

// TestOperatorCircuit_RejectsMismatchedCommittedHash confirms the fix for
// the committed-hash equality: a CommittedInputHash that isn't literally
// map_hash(inputs_hashes) must be rejected by BuildAssignment before any
// witness is built, not silently accepted because of an extra hash wrap.
func TestOperatorCircuit_RejectsMismatchedCommittedHash(t *testing.T) {
	req := buildAddRequest(t)
	req.CommittedInputHash[0] ^= 0xFF // corrupt it

	if _, err := BuildAssignment(req); err == nil {
		t.Fatal("expected BuildAssignment to reject a mismatched committed input hash")
	}
}
