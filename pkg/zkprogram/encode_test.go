package zkprogram

import "testing"

func TestEncodeDecodePublicValues_RoundTrip(t *testing.T) {
	root := [32]byte{1, 2, 3}
	in := [32]byte{4, 5, 6}
	out := [32]byte{7, 8, 9}

	b := EncodePublicValues(root, 42, in, out)
	pv, err := DecodePublicValues(b)
	if err != nil {
		t.Fatalf("DecodePublicValues: %v", err)
	}
	if pv.ClaimedRoot != root || pv.ClaimedInputHash != in || pv.ClaimedOutputHash != out {
		t.Fatal("round trip changed a hash field")
	}
	if pv.Idx != 42 {
		t.Fatalf("Idx = %d, want 42", pv.Idx)
	}
}

func TestDecodePublicValues_RejectsWrongLength(t *testing.T) {
	if _, err := DecodePublicValues([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for malformed public values")
	}
}

func TestEncodeDecodeRequest_RoundTrip(t *testing.T) {
	req := Request{
		LeafIndex: 3,
		Kind:      KindAdd,
		A:         []float64{1, 2, 3, 4},
		B:         []float64{5, 6, 7, 8},
		Output:    []float64{6, 8, 10, 12},
	}
	b, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	got, err := DecodeRequest(b)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.LeafIndex != req.LeafIndex || got.Kind != req.Kind {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, req)
	}
}

func TestBuildAssignment_RejectsMissingProof(t *testing.T) {
	req := Request{
		Kind:   KindAdd,
		A:      make([]float64, Width),
		Output: make([]float64, Width),
		Proof:  nil,
	}
	if _, err := BuildAssignment(req); err == nil {
		t.Fatal("expected an error for a request with no merkle proof")
	}
}
