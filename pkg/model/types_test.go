package model

import "testing"

func tensorF32(elems ...float64) Tensor {
	return Tensor{Type: F32, Shape: []uint64{uint64(len(elems))}, Elements: elems}
}

// Invariant 1: tensor hash stability under sub-rounding-threshold noise.
func TestTensorHash_StableUnderRounding(t *testing.T) {
	t1 := tensorF32(1.0001, 2.0002, 3.0003)
	t2 := tensorF32(1.00015, 2.00024, 3.00029) // within 5e-4 after rounding to 3dp
	if TensorHash(t1) != TensorHash(t2) {
		t.Fatal("tensor_hash differs for values that round identically to 3 decimals")
	}
}

func TestTensorHash_DiffersOnShape(t *testing.T) {
	t1 := Tensor{Type: F32, Shape: []uint64{2}, Elements: []float64{1, 2}}
	t2 := Tensor{Type: F32, Shape: []uint64{1, 2}, Elements: []float64{1, 2}}
	if TensorHash(t1) == TensorHash(t2) {
		t.Fatal("tensor_hash must depend on shape")
	}
}

// Invariant 2: map_hash permutation-invariance.
func TestMapHash_PermutationInvariant(t *testing.T) {
	m1 := InputsMap{"a": tensorF32(1), "b": tensorF32(2), "c": tensorF32(3)}
	m2 := InputsMap{"c": tensorF32(3), "a": tensorF32(1), "b": tensorF32(2)}
	if MapHash(m1) != MapHash(m2) {
		t.Fatal("map_hash must not depend on map iteration/insertion order")
	}
}

// Invariant 4: operator-leaf determinism under initializer-input reordering.
func TestNodeHash_InvariantUnderInitializerInputOrder(t *testing.T) {
	graph := &Graph{
		Initializers: map[string]Tensor{
			"w": tensorF32(1, 2, 3),
			"b": tensorF32(0.5),
		},
	}
	n1 := Node{Kind: "Conv", Inputs: []string{"x", "w", "b"}, Outputs: []string{"y"}}
	n2 := Node{Kind: "Conv", Inputs: []string{"x", "b", "w"}, Outputs: []string{"y"}}

	if NodeHash(n1, graph) != NodeHash(n2, graph) {
		t.Fatal("node_hash must not depend on input-list order among initializers")
	}
}

func TestNodeHash_RuntimeInputsDoNotContribute(t *testing.T) {
	graph := &Graph{Initializers: map[string]Tensor{"w": tensorF32(1, 2)}}
	n1 := Node{Kind: "MatMul", Inputs: []string{"x", "w"}, Outputs: []string{"y"}}
	n2 := Node{Kind: "MatMul", Inputs: []string{"z", "w"}, Outputs: []string{"y"}}
	// "x" vs "z" are both non-initializer runtime inputs; leaf must be identical.
	if NodeHash(n1, graph) != NodeHash(n2, graph) {
		t.Fatal("node_hash must not depend on non-initializer input names")
	}
}

func TestNodeHash_DuplicateInitializerInputDeduplicated(t *testing.T) {
	graph := &Graph{Initializers: map[string]Tensor{"w": tensorF32(1, 2)}}
	n1 := Node{Kind: "Add", Inputs: []string{"w", "w"}, Outputs: []string{"y"}}
	n2 := Node{Kind: "Add", Inputs: []string{"w"}, Outputs: []string{"y"}}
	if NodeHash(n1, graph) != NodeHash(n2, graph) {
		t.Fatal("duplicate initializer inputs must be deduplicated after sorting")
	}
}
