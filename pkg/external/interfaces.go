// Package external holds the opaque collaborator interfaces spec.md §6
// names but deliberately leaves unimplemented: the operator execution
// kernel, the zk proving-system backend, and blob storage. Only their
// shape is specified here; CLI parsing, key management/signing, wallet/node
// RPC, IPFS, and ONNX parsing are out of scope (§1) and have no home in
// this module at all.
package external

import "github.com/certen/zk-opml/pkg/model"

// OnnxModel exposes a model graph and its operator execution kernel.
// eval_one is treated as a pure function with a large internal switch over
// operator kind (spec.md §9: "the core does not subclass operators").
type OnnxModel interface {
	Graph() *model.Graph
	GetNode(i int) model.Node
	NumOperators() int
	// EvalOne mutates inputs in place: it reads node's declared inputs from
	// inputs and writes node's declared outputs back into inputs.
	EvalOne(node model.Node, inputs model.InputsMap) error
}

// Prover is the external SP1/Groth16/PLONK proving-system backend, treated
// as the pair prove/verify plus a one-time setup (spec.md §1, §6).
type Prover interface {
	Setup(elf []byte) (provingKey, verifyingKey []byte, err error)
	Prove(elf, stdin []byte) (proof, publicValues []byte, err error)
	Verify(verifyingKey, proof, publicValues []byte) (bool, error)
}

// Storage is the model-distribution blob store (spec.md §6); used only to
// move model bytes around, never consulted for protocol-critical hashes.
type Storage interface {
	Put(data []byte) (uri string, err error)
	Get(uri string) (data []byte, err error)
}
