// Package xerrors defines the small, stable error taxonomy shared across the
// core (spec.md §7). Every other package in this module constructs or
// compares against these instead of ad-hoc error strings, the way
// pkg/database used sentinel errors rather than bare nil/ok returns.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind identifies which of the taxonomy's six buckets an error belongs to.
type Kind string

const (
	// KindEncoding: malformed canonical buffers. Should be unreachable from
	// honest inputs; any occurrence is a bug, not a recovered condition.
	KindEncoding Kind = "encoding_error"
	// KindProof: Merkle or zk proof rejection. Always fatal for the
	// producing party; resolves the challenge against them.
	KindProof Kind = "proof_error"
	// KindExecution: eval_one failure at a specific step.
	KindExecution Kind = "execution_error"
	// KindProtocol: out-of-turn message, stale or unknown challenge id.
	KindProtocol Kind = "protocol_violation"
	// KindTimeout: response deadline passed.
	KindTimeout Kind = "timeout"
	// KindTransport: transient RPC/network failure. Nothing in this module
	// retries these.
	KindTransport Kind = "transport"
)

// Error is the concrete type for every taxonomy member.
type Error struct {
	Kind Kind
	Msg  string
	// At is set only for KindExecution: the operator index that failed.
	At  int
	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindExecution {
		return fmt.Sprintf("%s: step %d: %s", e.Kind, e.At, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Encoding wraps a malformed-canonical-buffer failure.
func Encoding(msg string, err error) *Error {
	return &Error{Kind: KindEncoding, Msg: msg, Err: err}
}

// Proof wraps a Merkle or zk verification rejection.
func Proof(msg string, err error) *Error {
	return &Error{Kind: KindProof, Msg: msg, Err: err}
}

// Execution wraps an eval_one failure at step `at`. The trace is truncated
// at `at` and returned alongside this error (spec.md §4.E).
func Execution(at int, err error) *Error {
	return &Error{Kind: KindExecution, Msg: "eval_one failed", At: at, Err: err}
}

// Protocol wraps an out-of-turn or unknown-challenge message. The state
// machine rejects it without a state change.
func Protocol(msg string) *Error {
	return &Error{Kind: KindProtocol, Msg: msg}
}

// TimeoutErr wraps a response-window expiry.
func TimeoutErr(msg string) *Error {
	return &Error{Kind: KindTimeout, Msg: msg}
}

// Transport wraps a transient RPC/network failure.
func Transport(msg string, err error) *Error {
	return &Error{Kind: KindTransport, Msg: msg, Err: err}
}

// Is lets callers use errors.Is(err, &xerrors.Error{Kind: xerrors.KindProof})
// style checks by comparing Kind; standard library errors.As should be used
// to retrieve At.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf extracts the Kind of an error, or "" if it is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
