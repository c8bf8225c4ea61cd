package kernel

import (
	"testing"

	"github.com/certen/zk-opml/pkg/model"
)

func tensor(vals ...float64) model.Tensor {
	return model.Tensor{Type: model.F32, Shape: []uint64{uint64(len(vals))}, Elements: vals}
}

func TestEvalOne_Add(t *testing.T) {
	node := model.Node{Kind: "Add", Inputs: []string{"a", "b"}, Outputs: []string{"c"}}
	inputs := model.InputsMap{"a": tensor(1, 2, 3), "b": tensor(4, 5, 6)}

	if err := New(&model.Graph{Nodes: []model.Node{node}}).EvalOne(node, inputs); err != nil {
		t.Fatalf("EvalOne: %v", err)
	}

	got := inputs["c"].Elements
	want := []float64{5, 7, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("c[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEvalOne_Relu(t *testing.T) {
	node := model.Node{Kind: "Relu", Inputs: []string{"a"}, Outputs: []string{"c"}}
	inputs := model.InputsMap{"a": tensor(-1, 0, 2, -3)}

	if err := New(&model.Graph{Nodes: []model.Node{node}}).EvalOne(node, inputs); err != nil {
		t.Fatalf("EvalOne: %v", err)
	}

	got := inputs["c"].Elements
	want := []float64{0, 0, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("c[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEvalOne_UnsupportedKind(t *testing.T) {
	node := model.Node{Kind: "Conv", Inputs: []string{"a"}, Outputs: []string{"c"}}
	inputs := model.InputsMap{"a": tensor(1)}

	err := New(&model.Graph{Nodes: []model.Node{node}}).EvalOne(node, inputs)
	if err == nil {
		t.Fatal("expected an error for an unsupported operator kind")
	}
}

func TestEvalOne_MissingInput(t *testing.T) {
	node := model.Node{Kind: "Add", Inputs: []string{"a", "b"}, Outputs: []string{"c"}}
	inputs := model.InputsMap{"a": tensor(1)}

	if err := New(&model.Graph{Nodes: []model.Node{node}}).EvalOne(node, inputs); err == nil {
		t.Fatal("expected an error when a declared input is missing")
	}
}
