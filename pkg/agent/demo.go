package agent

import "github.com/certen/zk-opml/pkg/model"

// demoGraph is a tiny three-operator model (add, mul, relu) wide enough to
// exercise every kind pkg/kernel and pkg/zkprogram support, and no wider:
// this module does not parse real ONNX files (out of scope, spec.md §1),
// so `agent dispute` needs a graph it can build in memory.
func demoGraph() *model.Graph {
	return &model.Graph{
		Nodes: []model.Node{
			{Kind: "Add", Inputs: []string{"x", "y"}, Outputs: []string{"h0"}},
			{Kind: "Mul", Inputs: []string{"h0", "y"}, Outputs: []string{"h1"}},
			{Kind: "Relu", Inputs: []string{"h1"}, Outputs: []string{"out"}},
		},
		Initializers: map[string]model.Tensor{},
	}
}

func demoInputs() model.InputsMap {
	return model.InputsMap{
		"x": model.Tensor{Type: model.F32, Shape: []uint64{4}, Elements: []float64{1, 2, 3, 4}},
		"y": model.Tensor{Type: model.F32, Shape: []uint64{4}, Elements: []float64{1, -1, 2, -2}},
	}
}

// divergeAt returns a copy of g whose operator at index mismatchAt has a
// different kind (Add<->Mul), simulating a responder whose kernel
// disagrees with the challenger from that operator on. mismatchAt < 0 or
// out of range returns g unchanged, so the responder's trace matches
// exactly and the session ends in Concede once bisection collapses.
func divergeAt(g *model.Graph, mismatchAt int) *model.Graph {
	nodes := make([]model.Node, len(g.Nodes))
	copy(nodes, g.Nodes)
	if mismatchAt >= 0 && mismatchAt < len(nodes) {
		n := nodes[mismatchAt]
		if n.Kind == "Add" {
			n.Kind = "Mul"
		} else {
			n.Kind = "Add"
		}
		nodes[mismatchAt] = n
	}
	return &model.Graph{Nodes: nodes, Initializers: g.Initializers, Inputs: g.Inputs, Outputs: g.Outputs}
}
