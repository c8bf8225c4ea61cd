// Package dispute implements the on-chain dispute state machine (component
// G): challenge lifecycle, turn enforcement, timeouts and resolution. The
// state/transition-table/listener/metrics shape is adapted from the
// teacher's ProofLifecycleManager (pkg/proof/lifecycle.go in the original
// source tree): a State type, a []StateTransition table of valid edges, a
// StateChangeListener callback, and a small counters struct, generalized
// here to spec.md §4.G's states: a five-state main chain plus Expired.
package dispute

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/zk-opml/pkg/xerrors"
)

// State is the lifecycle state of one challenge (spec.md §4.G).
type State string

const (
	StateOpen              State = "open"
	StateAwaitingResponder  State = "awaiting_responder"
	StateAwaitingChallenger State = "awaiting_challenger"
	StateAwaitingProof      State = "awaiting_proof"
	StateResolved           State = "resolved"
	StateExpired            State = "expired"
)

// Winner identifies who a Resolved/Expired challenge favors.
type Winner string

const (
	WinnerChallenger Winner = "challenger"
	WinnerResponder  Winner = "responder"
	WinnerNone       Winner = "" // not yet decided
)

// Transition is one valid (From, To) edge.
type Transition struct {
	From State
	To   State
}

// ValidTransitions enumerates every edge the machine permits. Expired is
// reachable from any non-terminal state (spec.md §4.G) and is added for
// each of them below rather than written as a wildcard, to keep the table
// exhaustive and inspectable the way the teacher's ValidTransitions is.
var ValidTransitions = []Transition{
	{StateOpen, StateAwaitingChallenger},
	{StateAwaitingChallenger, StateAwaitingResponder},
	{StateAwaitingResponder, StateAwaitingChallenger},
	{StateAwaitingResponder, StateAwaitingProof},
	{StateAwaitingProof, StateResolved},
	{StateAwaitingResponder, StateResolved}, // challenger concedes: interval collapsed, no proof needed
	{StateOpen, StateExpired},
	{StateAwaitingChallenger, StateExpired},
	{StateAwaitingResponder, StateExpired},
	{StateAwaitingProof, StateExpired},
}

func isValidTransition(from, to State) bool {
	for _, tr := range ValidTransitions {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

// Challenge is the persisted state of one dispute (spec.md §6: FaultProof
// challenges[id]).
type Challenge struct {
	ID            uuid.UUID
	InferenceID   uuid.UUID
	Responder     string
	Challenger    string
	State         State
	Winner        Winner
	Mid           int
	LastInHash    [32]byte
	LastOutHash   [32]byte
	Deadline      time.Time
	ModelRoot     [32]byte
	NumOperators  int
	Low, High     int // the reconstructed bisection interval, per §9 Open Questions
}

// StateChangeListener is notified after every successful transition.
type StateChangeListener func(challengeID uuid.UUID, from, to State, details map[string]interface{})

// Metrics mirrors the teacher's LifecycleMetrics shape (counters plus a
// last-transition timestamp), generalized to dispute outcomes.
type Metrics struct {
	mu                 sync.Mutex
	ChallengesOpened   int64
	ChallengesResolved int64
	ChallengesExpired  int64
	ProofsAccepted     int64
	ProofsRejected     int64
	LastTransitionAt   time.Time
}

func (m *Metrics) record(f func(*Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(m)
	m.LastTransitionAt = time.Now()
}

// ProofVerifier checks an external zk proof as required by
// resolveOpenChallenge (spec.md §4.G step a). It is satisfied by adapting
// pkg/zkprogram's verifier.
type ProofVerifier interface {
	Verify(verifyingKey, proof, publicValues []byte) (bool, error)
}

// Machine manages every open challenge for a registry-wide
// challengeWindow/responseWindow pair (spec.md §6).
type Machine struct {
	mu              sync.RWMutex
	challenges      map[uuid.UUID]*Challenge
	challengeWindow time.Duration
	responseWindow  time.Duration
	verifier        ProofVerifier
	listeners       []StateChangeListener
	metrics         *Metrics
	logger          *log.Logger
}

// Option configures a Machine, following the teacher's functional-options
// style (pkg/database.ClientOption).
type Option func(*Machine)

func WithLogger(l *log.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

func WithListener(l StateChangeListener) Option {
	return func(m *Machine) { m.listeners = append(m.listeners, l) }
}

// NewMachine constructs a Machine. verifier adjudicates resolveOpenChallenge.
func NewMachine(challengeWindow, responseWindow time.Duration, verifier ProofVerifier, opts ...Option) *Machine {
	m := &Machine{
		challenges:      make(map[uuid.UUID]*Challenge),
		challengeWindow: challengeWindow,
		responseWindow:  responseWindow,
		verifier:        verifier,
		metrics:         &Metrics{},
		logger:          log.New(os.Stderr, "[dispute] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) notify(id uuid.UUID, from, to State, details map[string]interface{}) {
	for _, l := range m.listeners {
		l(id, from, to, details)
	}
}

// CreateChallenge opens a new challenge in AwaitingChallenger, valid only
// while within the challenge window from responseTime (spec.md §4.G). id is
// the on-chain challenge identifier callers must reuse for every subsequent
// propose/respond/resolve call; it is assigned by whatever opened the
// challenge on-chain, not generated here.
func (m *Machine) CreateChallenge(id, inferenceID uuid.UUID, responder, challenger string, modelRoot [32]byte, numOperators int, responseTime time.Time) (*Challenge, error) {
	if time.Since(responseTime) > m.challengeWindow {
		return nil, xerrors.Protocol("challenge window elapsed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := &Challenge{
		ID:           id,
		InferenceID:  inferenceID,
		Responder:    responder,
		Challenger:   challenger,
		State:        StateAwaitingChallenger,
		Winner:       WinnerNone,
		Low:          0,
		High:         numOperators - 1,
		ModelRoot:    modelRoot,
		NumOperators: numOperators,
		Deadline:     time.Now().Add(m.responseWindow),
	}
	c.Mid = (c.Low + c.High) / 2
	m.challenges[c.ID] = c
	m.metrics.record(func(mm *Metrics) { mm.ChallengesOpened++ })
	m.notify(c.ID, StateOpen, StateAwaitingChallenger, nil)
	return c, nil
}

func (m *Machine) get(id uuid.UUID) (*Challenge, error) {
	c, ok := m.challenges[id]
	if !ok {
		return nil, xerrors.Protocol(fmt.Sprintf("unknown challenge %s", id))
	}
	return c, nil
}

// ProposeOperatorExecution stores (mid, h_in, h_out), valid only in
// AwaitingChallenger (spec.md §4.G). The protocol does not trust the
// claimed mid; per §9's Open Questions this implementation has both
// parties reconstruct mid deterministically from turn history rather than
// accept a caller-supplied value, so mid here is always the machine's own
// Challenge.Mid.
func (m *Machine) ProposeOperatorExecution(id uuid.UUID, hIn, hOut [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.get(id)
	if err != nil {
		return err
	}
	if c.State != StateAwaitingChallenger {
		return xerrors.Protocol("proposeOperatorExecution out of turn")
	}

	c.LastInHash, c.LastOutHash = hIn, hOut
	c.Deadline = time.Now().Add(m.responseWindow)
	from := c.State
	c.State = StateAwaitingResponder
	m.notify(id, from, c.State, map[string]interface{}{"mid": c.Mid})
	return nil
}

// RespondOperatorExecution answers the outstanding proposal, valid only in
// AwaitingResponder. On (true, false) — divergence exactly at mid — the
// state moves to AwaitingProof; otherwise the bisection interval narrows
// and the state returns to AwaitingChallenger.
func (m *Machine) RespondOperatorExecution(id uuid.UUID, inputMatch, outputMatch bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.get(id)
	if err != nil {
		return err
	}
	if c.State != StateAwaitingResponder {
		return xerrors.Protocol("respondOperatorExecution out of turn")
	}

	if !inputMatch && outputMatch {
		// Invalid combination: treat as false/false (spec.md §4.F).
		inputMatch, outputMatch = false, false
	}

	from := c.State
	c.Deadline = time.Now().Add(m.responseWindow)

	switch {
	case inputMatch && !outputMatch:
		c.State = StateAwaitingProof
	case inputMatch && outputMatch:
		c.Low = c.Mid + 1
		c.State = StateAwaitingChallenger
	default:
		c.High = c.Mid - 1
		c.State = StateAwaitingChallenger
	}

	if c.State == StateAwaitingChallenger {
		if c.Low > c.High {
			// Challenger's interval collapsed without narrowing to a
			// disagreement: it concedes (spec.md §4.G edge case).
			return m.resolve(c, WinnerResponder, from)
		}
		c.Mid = (c.Low + c.High) / 2
	}

	m.notify(id, from, c.State, nil)
	return nil
}

// PublicValues is the bit-exact layout §4.H produces and §4.G consumes:
// modelRoot || LE_u32(len=1) || LE_u64(leaf_indices[0]) || committed_input_hash || committed_output_hash.
type PublicValues struct {
	ClaimedRoot       [32]byte
	Idx               uint64
	ClaimedInputHash  [32]byte
	ClaimedOutputHash [32]byte
}

// ResolveOpenChallenge implements spec.md §4.G's resolveOpenChallenge:
// verify the external zk proof, then check the four conditions against the
// challenge's recorded state. Valid only in AwaitingProof.
func (m *Machine) ResolveOpenChallenge(id uuid.UUID, verifyingKey, proof, publicValuesBytes []byte, parse func([]byte) (PublicValues, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.get(id)
	if err != nil {
		return err
	}
	if c.State != StateAwaitingProof {
		return xerrors.Protocol("resolveOpenChallenge out of turn")
	}

	from := c.State

	ok, err := m.verifier.Verify(verifyingKey, proof, publicValuesBytes)
	if err != nil {
		return xerrors.Proof("external verifier error", err)
	}
	if !ok {
		m.metrics.record(func(mm *Metrics) { mm.ProofsRejected++ })
		return m.resolve(c, WinnerResponder, from)
	}

	pv, err := parse(publicValuesBytes)
	if err != nil {
		m.metrics.record(func(mm *Metrics) { mm.ProofsRejected++ })
		return m.resolve(c, WinnerResponder, from)
	}

	valid := pv.ClaimedRoot == c.ModelRoot &&
		int(pv.Idx) == c.Mid &&
		pv.ClaimedInputHash == c.LastInHash &&
		pv.ClaimedOutputHash != c.LastOutHash

	if !valid {
		m.metrics.record(func(mm *Metrics) { mm.ProofsRejected++ })
		return m.resolve(c, WinnerResponder, from)
	}

	m.metrics.record(func(mm *Metrics) { mm.ProofsAccepted++ })
	return m.resolve(c, WinnerChallenger, from)
}

// ExpireChallenge implements §6's expireChallenge(id): any observer may
// call it once the response window elapses; the non-acting party loses.
func (m *Machine) ExpireChallenge(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.get(id)
	if err != nil {
		return err
	}
	if c.State == StateResolved || c.State == StateExpired {
		return xerrors.Protocol("challenge already terminal")
	}
	if time.Now().Before(c.Deadline) {
		return xerrors.TimeoutErr("response window has not elapsed")
	}

	from := c.State
	// The party waiting for the other to move wins: whichever side is
	// "to move" in AwaitingResponder/AwaitingChallenger/AwaitingProof is
	// the one that failed to act in time.
	var winner Winner
	switch from {
	case StateAwaitingResponder:
		winner = WinnerChallenger
	default:
		winner = WinnerResponder
	}

	c.State = StateExpired
	c.Winner = winner
	m.metrics.record(func(mm *Metrics) { mm.ChallengesExpired++ })
	m.notify(id, from, StateExpired, map[string]interface{}{"winner": winner})
	return nil
}

func (m *Machine) resolve(c *Challenge, winner Winner, from State) error {
	if !isValidTransition(from, StateResolved) {
		return xerrors.Protocol(fmt.Sprintf("invalid resolve transition from %s", from))
	}
	c.State = StateResolved
	c.Winner = winner
	m.metrics.record(func(mm *Metrics) { mm.ChallengesResolved++ })
	m.notify(c.ID, from, StateResolved, map[string]interface{}{"winner": winner})
	return nil
}

// Get returns a copy of the challenge's public fields (the struct holds no
// pointers requiring a deep copy).
func (m *Machine) Get(id uuid.UUID) (Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.get(id)
	if err != nil {
		return Challenge{}, err
	}
	return *c, nil
}

// MetricsSnapshot returns a snapshot of the machine's counters.
func (m *Machine) MetricsSnapshot() Metrics {
	m.metrics.mu.Lock()
	defer m.metrics.mu.Unlock()
	return Metrics{
		ChallengesOpened:   m.metrics.ChallengesOpened,
		ChallengesResolved: m.metrics.ChallengesResolved,
		ChallengesExpired:  m.metrics.ChallengesExpired,
		ProofsAccepted:     m.metrics.ProofsAccepted,
		ProofsRejected:     m.metrics.ProofsRejected,
		LastTransitionAt:   m.metrics.LastTransitionAt,
	}
}
