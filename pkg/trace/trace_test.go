package trace

import (
	"errors"
	"testing"

	"github.com/certen/zk-opml/pkg/model"
)

// fakeModel is a tiny in-memory OnnxModel used only by these tests: each
// node multiplies its single input by 2 and writes it to its single output.
type fakeModel struct {
	graph    *model.Graph
	failAt   int // -1 disables
}

func newFakeModel(n int, failAt int) *fakeModel {
	nodes := make([]model.Node, n)
	names := make([]string, n+1)
	names[0] = "x0"
	for i := 0; i < n; i++ {
		out := "x" + string(rune('1'+i))
		nodes[i] = model.Node{Kind: "Double", Inputs: []string{names[i]}, Outputs: []string{out}}
		names[i+1] = out
	}
	return &fakeModel{
		graph:  &model.Graph{Nodes: nodes, Initializers: map[string]model.Tensor{}},
		failAt: failAt,
	}
}

func (m *fakeModel) Graph() *model.Graph         { return m.graph }
func (m *fakeModel) GetNode(i int) model.Node    { return m.graph.Nodes[i] }
func (m *fakeModel) NumOperators() int           { return len(m.graph.Nodes) }

func (m *fakeModel) EvalOne(node model.Node, inputs model.InputsMap) error {
	for i, out := range node.Outputs {
		in := node.Inputs[i]
		t := inputs[in]
		doubled := make([]float64, len(t.Elements))
		for j, e := range t.Elements {
			doubled[j] = e * 2
		}
		inputs[out] = model.Tensor{Type: t.Type, Shape: t.Shape, Elements: doubled}
	}
	return nil
}

type failingModel struct {
	*fakeModel
	calls int
}

func (m *failingModel) EvalOne(node model.Node, inputs model.InputsMap) error {
	step := m.calls
	m.calls++
	if step == m.failAt {
		return errors.New("boom")
	}
	return m.fakeModel.EvalOne(node, inputs)
}

func initial() model.InputsMap {
	return model.InputsMap{"x0": {Type: model.F32, Shape: []uint64{3}, Elements: []float64{1, 2, 3}}}
}

func TestRecord_HonestTraceLength(t *testing.T) {
	// S2 — Honest trace: N=4 operators.
	m := newFakeModel(4, -1)
	tr, err := Record(m, initial(), Options{})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(tr.Steps) != 4 {
		t.Fatalf("len(Steps) = %d, want 4", len(tr.Steps))
	}

	wantInput0 := model.MapHash(initial())
	if tr.Steps[0].InputHash != wantInput0 {
		t.Fatal("step 0 input_hash must equal map_hash of the initial inputs map")
	}
}

// Invariant 5: two honest recorders against the same graph/inputs agree.
func TestRecord_TraceAgreement(t *testing.T) {
	m1 := newFakeModel(5, -1)
	m2 := newFakeModel(5, -1)

	tr1, err := Record(m1, initial(), Options{})
	if err != nil {
		t.Fatalf("Record 1: %v", err)
	}
	tr2, err := Record(m2, initial(), Options{})
	if err != nil {
		t.Fatalf("Record 2: %v", err)
	}
	if len(tr1.Steps) != len(tr2.Steps) {
		t.Fatalf("trace lengths differ: %d vs %d", len(tr1.Steps), len(tr2.Steps))
	}
	for i := range tr1.Steps {
		if tr1.Steps[i] != tr2.Steps[i] {
			t.Fatalf("step %d diverges: %+v vs %+v", i, tr1.Steps[i], tr2.Steps[i])
		}
	}
}

func TestRecord_KeepsSnapshotsWhenRequested(t *testing.T) {
	m := newFakeModel(3, -1)
	tr, err := Record(m, initial(), Options{KeepSnapshots: true})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(tr.Snapshots) != 3 {
		t.Fatalf("len(Snapshots) = %d, want 3", len(tr.Snapshots))
	}
	if _, ok := tr.SnapshotAt(1); !ok {
		t.Fatal("SnapshotAt(1) missing")
	}
}

func TestRecord_TruncatesTraceOnExecutionError(t *testing.T) {
	fm := newFakeModel(5, 2)
	m := &failingModel{fakeModel: fm}
	tr, err := Record(m, initial(), Options{})
	if err == nil {
		t.Fatal("expected an execution error")
	}
	if len(tr.Steps) != 2 {
		t.Fatalf("truncated trace len = %d, want 2 (failure at step 2)", len(tr.Steps))
	}
}
