// Package bisection implements the off-chain bisection driver (component
// F): binary search over the operator sequence, run independently by the
// challenger and the responder, mediated on-chain by pkg/dispute.
package bisection

import "github.com/certen/zk-opml/pkg/trace"

// Proposal is what the party-to-move posts at the current mid (spec.md
// §4.F, §6 proposeOperatorExecution).
type Proposal struct {
	Mid        int
	InputHash  [32]byte
	OutputHash [32]byte
}

// Answer is the responder's reply to a Proposal (§6 respondOperatorExecution).
type Answer struct {
	InputMatch  bool
	OutputMatch bool
}

// Outcome is what the challenger side should do after an Answer.
type Outcome int

const (
	// Continue: divergence is strictly after mid or at/before mid; low/high
	// have been narrowed and the driver should propose again at the new mid.
	Continue Outcome = iota
	// InvokeProof: divergence is exactly at mid (input matched, output did
	// not); the challenger must invoke component H and submit the proof.
	InvokeProof
	// Concede: the interval collapsed (low > high) before a proof step; the
	// challenger's own trace must have been wrong.
	Concede
)

// Driver tracks one open challenge's bisection state for one side. The
// interval is over operator indices, initial [0, N-1] (spec.md §4.F).
type Driver struct {
	Low, High int
	Mid       int
	Trace     *trace.Trace
}

// NewDriver starts a fresh bisection over n operators using own as the
// party's own recorded trace.
func NewDriver(n int, own *trace.Trace) *Driver {
	d := &Driver{Low: 0, High: n - 1, Trace: own}
	d.Mid = (d.Low + d.High) / 2
	return d
}

// Propose returns the Proposal for the driver's current mid, drawn from the
// party's own trace.
func (d *Driver) Propose() Proposal {
	step := d.Trace.Steps[d.Mid]
	return Proposal{Mid: d.Mid, InputHash: step.InputHash, OutputHash: step.OutputHash}
}

// Apply advances the challenger-side driver given the responder's Answer to
// the current proposal, per the table in spec.md §4.F:
//
//	input_match  output_match  meaning                                action
//	true         true          divergence strictly after mid          low = mid+1
//	true         false         divergence exactly at mid               invoke proof
//	false        true          invalid combination (inconsistent)      treat as false/false
//	false        false         divergence at or before mid             high = mid-1
//
// If the interval collapses (low > high) before a proof step is reached,
// the caller should treat that as Concede.
func (d *Driver) Apply(ans Answer) Outcome {
	if !ans.InputMatch && ans.OutputMatch {
		// Invalid combination: responder inconsistent, treat as false/false.
		ans = Answer{InputMatch: false, OutputMatch: false}
	}

	switch {
	case ans.InputMatch && ans.OutputMatch:
		d.Low = d.Mid + 1
	case ans.InputMatch && !ans.OutputMatch:
		return InvokeProof
	default: // false, false
		d.High = d.Mid - 1
	}

	if d.Low > d.High {
		return Concede
	}
	d.Mid = (d.Low + d.High) / 2
	return Continue
}

// Respond implements the responder's loop (spec.md §4.F): answer a proposed
// (h_in, h_out) at mid by comparing against the responder's own trace.
func Respond(own *trace.Trace, p Proposal) Answer {
	step := own.Steps[p.Mid]
	return Answer{
		InputMatch:  p.InputHash == step.InputHash,
		OutputMatch: p.OutputHash == step.OutputHash,
	}
}

// MaxTurns returns the ⌈log₂ N⌉ + 1 bound on proposal/answer turns before a
// zk proof step (spec.md §4.F termination guarantee).
func MaxTurns(n int) int {
	turns := 0
	for (1 << uint(turns)) < n {
		turns++
	}
	return turns + 1
}
