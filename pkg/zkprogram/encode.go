package zkprogram

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/certen/zk-opml/pkg/dispute"
)

// EncodePublicValues produces the bit-exact layout spec.md §4.H mandates:
//
//	modelRoot(32) || LE_u32(len=1) || LE_u64(leaf_indices[0]) ||
//	committed_input_hash(32) || committed_output_hash(32)
//
// This is the single place that layout is written; pkg/dispute only
// consumes it through the parse callback passed to ResolveOpenChallenge.
func EncodePublicValues(modelRoot [32]byte, leafIndex int, inHash, outHash [32]byte) []byte {
	buf := make([]byte, 0, 32+4+8+32+32)
	buf = append(buf, modelRoot[:]...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], 1)
	buf = append(buf, lenBuf[:]...)

	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], uint64(leafIndex))
	buf = append(buf, idxBuf[:]...)

	buf = append(buf, inHash[:]...)
	buf = append(buf, outHash[:]...)
	return buf
}

// DecodePublicValues parses the layout EncodePublicValues writes into
// pkg/dispute's PublicValues, rejecting anything malformed rather than
// panicking (spec.md §4.G requires resolveOpenChallenge to fail closed).
func DecodePublicValues(b []byte) (dispute.PublicValues, error) {
	const want = 32 + 4 + 8 + 32 + 32
	if len(b) != want {
		return dispute.PublicValues{}, fmt.Errorf("zkprogram: public values length %d, want %d", len(b), want)
	}

	var pv dispute.PublicValues
	copy(pv.ClaimedRoot[:], b[0:32])

	n := binary.LittleEndian.Uint32(b[32:36])
	if n != 1 {
		return dispute.PublicValues{}, fmt.Errorf("zkprogram: public values declare %d leaf indices, want 1", n)
	}
	pv.Idx = binary.LittleEndian.Uint64(b[36:44])
	copy(pv.ClaimedInputHash[:], b[44:76])
	copy(pv.ClaimedOutputHash[:], b[76:108])
	return pv, nil
}

// ParsePublicValues adapts DecodePublicValues to the `parse` function shape
// pkg/dispute.Machine.ResolveOpenChallenge expects.
func ParsePublicValues(b []byte) (dispute.PublicValues, error) { return DecodePublicValues(b) }

// EncodeRequest/DecodeRequest carry a Request across the pkg/external.Prover
// byte-oriented Prove(elf, stdin) boundary. gob is sufficient here: Request
// never crosses a process/language boundary in this module, unlike the
// public values layout above which is consumed by on-chain verifiers too.
func EncodeRequest(r Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("zkprogram: encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest is EncodeRequest's inverse.
func DecodeRequest(b []byte) (*Request, error) {
	var r Request
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&r); err != nil {
		return nil, fmt.Errorf("zkprogram: decode request: %w", err)
	}
	return &r, nil
}

// countingBuffer is a minimal io.Writer gnark's WriteTo methods can target
// without pulling in bytes.Buffer's wider API at its call sites in prover.go.
type countingBuffer struct{ data []byte }

func (c *countingBuffer) Write(p []byte) (int, error) {
	c.data = append(c.data, p...)
	return len(p), nil
}

func newByteReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
