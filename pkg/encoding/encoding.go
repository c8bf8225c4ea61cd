// Package encoding implements the canonical encoder (component A):
// encode_tensor, encode_node, encode_map_of_hashes. Every encoding here is
// byte-exact across platforms: integer fields are big-endian, floats are
// little-endian IEEE-754 (after rounding, for tensors), there is no padding
// and no implementation-defined tags.
//
// spec.md's own open questions note that the system this was distilled from
// serialized inputs_hashes through a JSON-of-sorted-pairs detour; this
// package is the explicit replacement — any implementation diverging from
// the byte format below will not interoperate.
package encoding

import (
	"encoding/binary"
	"math"
	"sort"
)

// roundPlaces is the sole mechanism reconciling floating-point reassociation
// non-determinism across implementations (spec.md §3, §9 Open Questions:
// fixed at 3, never configurable).
const roundPlaces = 3

func round3(f float64) float64 {
	const scale = 1000.0 // 10^roundPlaces
	return math.Round(f*scale) / scale
}

// EncodeTensor implements encode_tensor. It takes a TensorView rather than
// pkg/model.Tensor directly so this package never imports pkg/model (which
// imports this package) and creates a cycle; pkg/model converts at the
// call site.
func EncodeTensor(t TensorView) []byte {
	dims := t.Shape
	elems := t.Elements

	width := 4
	if t.Type == 2 {
		width = 8
	}

	buf := make([]byte, 0, 1+4+8*len(dims)+width*len(elems))
	buf = append(buf, byte(t.Type))

	var dimCount [4]byte
	binary.BigEndian.PutUint32(dimCount[:], uint32(len(dims)))
	buf = append(buf, dimCount[:]...)

	var dimBuf [8]byte
	for _, d := range dims {
		binary.BigEndian.PutUint64(dimBuf[:], d)
		buf = append(buf, dimBuf[:]...)
	}

	for _, e := range elems {
		rounded := round3(e)
		if t.Type == 2 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(rounded))
			buf = append(buf, b[:]...)
		} else {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(rounded)))
			buf = append(buf, b[:]...)
		}
	}
	return buf
}

// TensorView is the minimal shape needed to encode a tensor, decoupling this
// package from pkg/model's concrete Tensor type.
type TensorView struct {
	Type     uint8
	Shape    []uint64
	Elements []float64
}

// AttrValue is a typed attribute value. Exactly one field is meaningful,
// selected by Kind.
type AttrValue struct {
	Kind    AttrKind
	Int     int64
	Float   float64
	Str     string
	Ints    []int64
	Floats  []float64
	Strs    []string
}

type AttrKind uint8

const (
	AttrInt AttrKind = iota
	AttrFloat
	AttrString
	AttrInts
	AttrFloats
	AttrStrings
)

// NodeView is the minimal shape needed to encode a node.
type NodeView struct {
	Kind       string
	Inputs     []string
	Outputs    []string
	Attributes []AttrPair
}

type AttrPair struct {
	Name  string
	Value AttrValue
}

func encodeString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func encodeStringList(buf []byte, list []string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(list)))
	buf = append(buf, lenBuf[:]...)
	for _, s := range list {
		buf = encodeString(buf, s)
	}
	return buf
}

func encodeAttrValue(buf []byte, v AttrValue) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case AttrInt:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int))
		buf = append(buf, b[:]...)
	case AttrFloat:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Float))
		buf = append(buf, b[:]...)
	case AttrString:
		buf = encodeString(buf, v.Str)
	case AttrInts:
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v.Ints)))
		buf = append(buf, lenBuf[:]...)
		for _, i := range v.Ints {
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(i))
			buf = append(buf, b[:]...)
		}
	case AttrFloats:
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v.Floats)))
		buf = append(buf, lenBuf[:]...)
		for _, f := range v.Floats {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
			buf = append(buf, b[:]...)
		}
	case AttrStrings:
		buf = encodeStringList(buf, v.Strs)
	}
	return buf
}

// EncodeNode implements encode_node: operator kind, input-name list,
// output-name list, and attributes in stable key-sorted form (attribute
// keys lexicographically ascending; lists in declared order).
func EncodeNode(n NodeView) []byte {
	var buf []byte
	buf = encodeString(buf, n.Kind)
	buf = encodeStringList(buf, n.Inputs)
	buf = encodeStringList(buf, n.Outputs)

	attrs := append([]AttrPair(nil), n.Attributes...)
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(attrs)))
	buf = append(buf, countBuf[:]...)
	for _, a := range attrs {
		buf = encodeString(buf, a.Name)
		buf = encodeAttrValue(buf, a.Value)
	}
	return buf
}

// HashPair is a (name, tensor_hash) pair to be encoded by EncodeMapOfHashes.
type HashPair struct {
	Name string
	Hash [32]byte
}

// EncodeMapOfHashes implements encode_map_of_hashes: the caller has already
// collected and sorted the (name, tensor_hash) pairs; this only serializes
// them to a stable key-value list.
func EncodeMapOfHashes(pairs []HashPair) []byte {
	var buf []byte
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(pairs)))
	buf = append(buf, countBuf[:]...)
	for _, p := range pairs {
		buf = encodeString(buf, p.Name)
		buf = append(buf, p.Hash[:]...)
	}
	return buf
}
