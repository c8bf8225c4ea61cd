// Package kernel implements external.OnnxModel for the handful of operator
// kinds pkg/zkprogram's single-operator circuit can re-execute in zero
// knowledge: elementwise add, elementwise mul, relu (see zkprogram.Kind).
// It is NOT a general ONNX runtime — that is explicitly out of scope
// (spec.md §1) — it exists so a real end-to-end dispute (component E's
// trace.Record, component F's bisection, component H's proof) has a
// concrete eval_one to drive, the way the teacher's own CLI subcommands
// exercise real packages rather than stub ones.
package kernel

import "github.com/certen/zk-opml/pkg/model"

// Model adapts a model.Graph into external.OnnxModel.
type Model struct {
	graph *model.Graph
}

// New wraps graph for execution. graph's nodes must all be kinds this
// kernel supports (Add, Mul, Relu); anything else fails at EvalOne time.
func New(graph *model.Graph) *Model {
	return &Model{graph: graph}
}

func (m *Model) Graph() *model.Graph { return m.graph }

func (m *Model) GetNode(i int) model.Node { return m.graph.Nodes[i] }

func (m *Model) NumOperators() int { return len(m.graph.Nodes) }

// EvalOne mutates inputs in place: it reads node's declared inputs and
// writes its declared output back, matching external.OnnxModel's contract.
func (m *Model) EvalOne(node model.Node, inputs model.InputsMap) error {
	switch node.Kind {
	case "Add", "Mul":
		return m.evalBinary(node, inputs)
	case "Relu":
		return m.evalRelu(node, inputs)
	default:
		return &UnsupportedKindError{Kind: node.Kind}
	}
}

// UnsupportedKindError is returned when a graph names an operator kind
// this kernel cannot execute.
type UnsupportedKindError struct{ Kind string }

func (e *UnsupportedKindError) Error() string {
	return "kernel: unsupported operator kind " + e.Kind
}

func (m *Model) evalBinary(node model.Node, inputs model.InputsMap) error {
	if len(node.Inputs) != 2 || len(node.Outputs) != 1 {
		return &shapeError{node.Kind, "requires exactly 2 inputs and 1 output"}
	}
	a, ok := inputs[node.Inputs[0]]
	if !ok {
		return &missingInputError{node.Inputs[0]}
	}
	b, ok := inputs[node.Inputs[1]]
	if !ok {
		return &missingInputError{node.Inputs[1]}
	}
	if len(a.Elements) != len(b.Elements) {
		return &shapeError{node.Kind, "operand element counts differ"}
	}

	out := make([]float64, len(a.Elements))
	for i := range out {
		if node.Kind == "Add" {
			out[i] = a.Elements[i] + b.Elements[i]
		} else {
			out[i] = a.Elements[i] * b.Elements[i]
		}
	}
	inputs[node.Outputs[0]] = model.Tensor{Type: a.Type, Shape: append([]uint64(nil), a.Shape...), Elements: out}
	return nil
}

func (m *Model) evalRelu(node model.Node, inputs model.InputsMap) error {
	if len(node.Inputs) != 1 || len(node.Outputs) != 1 {
		return &shapeError{node.Kind, "requires exactly 1 input and 1 output"}
	}
	a, ok := inputs[node.Inputs[0]]
	if !ok {
		return &missingInputError{node.Inputs[0]}
	}

	out := make([]float64, len(a.Elements))
	for i, v := range a.Elements {
		if v > 0 {
			out[i] = v
		}
	}
	inputs[node.Outputs[0]] = model.Tensor{Type: a.Type, Shape: append([]uint64(nil), a.Shape...), Elements: out}
	return nil
}

type shapeError struct {
	kind, reason string
}

func (e *shapeError) Error() string { return "kernel: " + e.kind + " " + e.reason }

type missingInputError struct{ name string }

func (e *missingInputError) Error() string { return "kernel: missing input " + e.name }
