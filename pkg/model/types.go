// Package model defines the data model of spec.md §3: tensors, operator
// nodes and the graph they form, plus the operator leaf hash (component C).
package model

import (
	"sort"

	"github.com/certen/zk-opml/pkg/encoding"
	"github.com/certen/zk-opml/pkg/hashing"
)

// ElementType is the tensor element type tag (§3: 0x01=f32, 0x02=f64).
type ElementType uint8

const (
	F32 ElementType = 1
	F64 ElementType = 2
)

// Tensor is a multi-dimensional array with a row-major element buffer.
// Tensors are values; callers may clone them freely.
type Tensor struct {
	Type     ElementType
	Shape    []uint64
	Elements []float64 // always stored as float64; Type governs wire width
}

// Clone returns a deep copy of t.
func (t Tensor) Clone() Tensor {
	shape := append([]uint64(nil), t.Shape...)
	elems := append([]float64(nil), t.Elements...)
	return Tensor{Type: t.Type, Shape: shape, Elements: elems}
}

// Attribute is a single named, typed operator attribute.
type Attribute struct {
	Name  string
	Value encoding.AttrValue
}

// Node is one element of the model graph (§3: "Operator (node)").
type Node struct {
	Kind       string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Graph is an ordered, topologically-sorted sequence of operators plus the
// bound initializers and declared graph inputs/outputs.
type Graph struct {
	Nodes        []Node
	Initializers map[string]Tensor
	Inputs       []string
	Outputs      []string
}

// NumOperators returns the number of operators in the graph.
func (g *Graph) NumOperators() int { return len(g.Nodes) }

// GetNode returns the i-th operator.
func (g *Graph) GetNode(i int) Node { return g.Nodes[i] }

// TensorHash is component B's tensor_hash applied to t.
func TensorHash(t Tensor) [32]byte {
	return hashing.Hash(encoding.EncodeTensor(encoding.TensorView{
		Type:     uint8(t.Type),
		Shape:    t.Shape,
		Elements: t.Elements,
	}))
}

func toNodeView(n Node) encoding.NodeView {
	attrs := make([]encoding.AttrPair, len(n.Attributes))
	for i, a := range n.Attributes {
		attrs[i] = encoding.AttrPair{Name: a.Name, Value: a.Value}
	}
	return encoding.NodeView{
		Kind:       n.Kind,
		Inputs:     n.Inputs,
		Outputs:    n.Outputs,
		Attributes: attrs,
	}
}

// NodeHash computes the operator leaf hash (§3, §4.C):
//
//	node_hash(node, graph) = SHA256(
//	    canonical_node_bytes(node) ||
//	    Σ_{i ∈ sort(node.input ∩ graph.initializers)} tensor_hash(initializer[i])
//	)
//
// Inputs that are not initializers contribute nothing: the leaf commits to
// code + bound weights, not runtime inputs. Duplicate initializer input
// names are deduplicated after sorting (§4.C edge case).
func NodeHash(node Node, graph *Graph) [32]byte {
	boundNames := make([]string, 0, len(node.Inputs))
	seen := make(map[string]bool, len(node.Inputs))
	for _, name := range node.Inputs {
		if seen[name] {
			continue
		}
		if _, isInitializer := graph.Initializers[name]; isInitializer {
			boundNames = append(boundNames, name)
			seen[name] = true
		}
	}
	sort.Strings(boundNames)

	buf := encoding.EncodeNode(toNodeView(node))
	for _, name := range boundNames {
		h := TensorHash(graph.Initializers[name])
		buf = append(buf, h[:]...)
	}
	return hashing.Hash(buf)
}

// Leaves computes node_hash for every operator in graph order — the input
// to the Merkle tree build (component D).
func Leaves(graph *Graph) [][32]byte {
	out := make([][32]byte, graph.NumOperators())
	for i, n := range graph.Nodes {
		out[i] = NodeHash(n, graph)
	}
	return out
}

// InputsMap is a mapping name -> Tensor (§3: "Inputs map"). It is the live
// state threaded through execution by the trace recorder (component E).
type InputsMap map[string]Tensor

// MapHash is component B's map_hash applied to m: collect (name,
// tensor_hash(tensor)) pairs, sort by name, hash the canonical encoding.
// Independent of map iteration or insertion order.
func MapHash(m InputsMap) [32]byte {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]encoding.HashPair, len(names))
	for i, name := range names {
		pairs[i] = encoding.HashPair{Name: name, Hash: TensorHash(m[name])}
	}
	return hashing.Hash(encoding.EncodeMapOfHashes(pairs))
}

// WithInjectedInitializers returns a copy of inputs with graph's
// initializers injected, as required before operator 0 runs (§4.E).
func WithInjectedInitializers(graph *Graph, inputs InputsMap) InputsMap {
	out := make(InputsMap, len(inputs)+len(graph.Initializers))
	for k, v := range inputs {
		out[k] = v
	}
	for k, v := range graph.Initializers {
		out[k] = v
	}
	return out
}
