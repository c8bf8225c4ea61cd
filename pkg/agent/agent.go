// Package agent is the runnable event loop (spec.md §5, §9): it consumes a
// stream of on-chain events and dispatches each one, by (challenge id,
// kind), into the right pkg/dispute.Machine call, persisting the result
// through pkg/registry and reporting Prometheus metrics. Concurrency and
// graceful shutdown follow the errgroup pattern used throughout the
// example pack's service entrypoints (golang.org/x/sync/errgroup), bounded
// per challenge so that events for a single dispute are never reordered.
package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/certen/zk-opml/pkg/dispute"
	"github.com/certen/zk-opml/pkg/xerrors"
)

// ChallengeStore is the slice of pkg/registry.Store the agent needs:
// accepted as an interface so tests can supply an in-memory fake instead
// of a live PostgreSQL connection.
type ChallengeStore interface {
	SaveChallenge(ctx context.Context, c dispute.Challenge) error
	LoadOpenChallenges(ctx context.Context) ([]dispute.Challenge, error)
}

// EventKind identifies what an Event carries (spec.md §6 operations).
type EventKind string

const (
	EventChallengeOpened EventKind = "challenge_opened"
	EventProposed        EventKind = "proposed"
	EventResponded       EventKind = "responded"
	EventProofSubmitted  EventKind = "proof_submitted"
)

// Event is one on-chain occurrence the agent must react to.
type Event struct {
	ChallengeID uuid.UUID
	Kind        EventKind

	// EventChallengeOpened
	InferenceID  uuid.UUID
	Responder    string
	Challenger   string
	ModelRoot    [32]byte
	NumOperators int

	// EventProposed
	InputHash  [32]byte
	OutputHash [32]byte

	// EventResponded
	InputMatch  bool
	OutputMatch bool

	// EventProofSubmitted
	VerifyingKey  []byte
	Proof         []byte
	PublicValues  []byte
}

// ParsePublicValues adapts a byte blob into dispute.PublicValues; the agent
// is wired with a concrete implementation (pkg/zkprogram.ParsePublicValues)
// at construction time so this package never imports gnark directly.
type ParsePublicValues func([]byte) (dispute.PublicValues, error)

// Agent drives the dispute.Machine from a stream of Events.
type Agent struct {
	machine *dispute.Machine
	store   ChallengeStore
	parse   ParsePublicValues
	metrics *Metrics
	logger  *log.Logger

	locks sync.Map // uuid.UUID -> *sync.Mutex, one per challenge in flight
}

// New builds an Agent. logger defaults to a component-prefixed stdlib
// logger, matching the rest of this module's packages.
func New(machine *dispute.Machine, store ChallengeStore, parse ParsePublicValues, metrics *Metrics, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.New(log.Writer(), "[agent] ", log.LstdFlags)
	}
	return &Agent{machine: machine, store: store, parse: parse, metrics: metrics, logger: logger}
}

func (a *Agent) lockFor(id uuid.UUID) *sync.Mutex {
	v, _ := a.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Run consumes events until ctx is cancelled or the channel closes,
// processing distinct challenges concurrently (bounded by maxInFlight) and
// forcing events about the same challenge to happen in channel order.
func (a *Agent) Run(ctx context.Context, events <-chan Event, maxInFlight int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)

	// last[id] is closed once the most recently started event for challenge
	// id has been dispatched; the next event for id waits on it first.
	last := make(map[uuid.UUID]chan struct{})

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case ev, ok := <-events:
			if !ok {
				return g.Wait()
			}
			prev := last[ev.ChallengeID]
			done := make(chan struct{})
			last[ev.ChallengeID] = done
			g.Go(func() error {
				defer close(done)
				if prev != nil {
					<-prev
				}
				a.dispatch(ctx, ev)
				return nil
			})
		}
	}
}

// dispatch handles one Event. Errors are logged and counted, never
// propagated to Run: a malformed or out-of-turn event must not take down
// the rest of the agent's in-flight challenges.
func (a *Agent) dispatch(ctx context.Context, ev Event) {
	mu := a.lockFor(ev.ChallengeID)
	mu.Lock()
	defer mu.Unlock()

	var err error
	switch ev.Kind {
	case EventChallengeOpened:
		_, err = a.machine.CreateChallenge(ev.ChallengeID, ev.InferenceID, ev.Responder, ev.Challenger, ev.ModelRoot, ev.NumOperators, time.Now())
		if err == nil {
			a.metrics.ChallengesOpened.Inc()
		}
	case EventProposed:
		err = a.machine.ProposeOperatorExecution(ev.ChallengeID, ev.InputHash, ev.OutputHash)
	case EventResponded:
		err = a.machine.RespondOperatorExecution(ev.ChallengeID, ev.InputMatch, ev.OutputMatch)
	case EventProofSubmitted:
		err = a.machine.ResolveOpenChallenge(ev.ChallengeID, ev.VerifyingKey, ev.Proof, ev.PublicValues, a.parse)
		if err == nil {
			a.metrics.ProofsAccepted.Inc()
		} else if xerrors.KindOf(err) == xerrors.KindProof {
			a.metrics.ProofsRejected.Inc()
		}
	default:
		err = fmt.Errorf("agent: unknown event kind %q", ev.Kind)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		a.logger.Printf("event %s for challenge %s failed: %v", ev.Kind, ev.ChallengeID, err)
	}
	a.metrics.EventsProcessed.WithLabelValues(string(ev.Kind), outcome).Inc()

	a.persist(ctx, ev.ChallengeID)
}

// persist writes the challenge's current snapshot to the registry so a
// restart can rehydrate in-flight disputes (spec.md §9).
func (a *Agent) persist(ctx context.Context, id uuid.UUID) {
	c, err := a.machine.Get(id)
	if err != nil {
		return // unknown challenge id; nothing to persist
	}
	if err := a.store.SaveChallenge(ctx, c); err != nil {
		a.logger.Printf("persist challenge %s: %v", id, err)
	}
	if c.State == dispute.StateResolved {
		a.metrics.ChallengesResolved.Inc()
	}
}

// ExpireOverdue scans open challenges and expires any past their deadline;
// intended to run on a ticker alongside Run.
func (a *Agent) ExpireOverdue(ctx context.Context) {
	open, err := a.store.LoadOpenChallenges(ctx)
	if err != nil {
		a.logger.Printf("load open challenges: %v", err)
		return
	}
	a.metrics.OpenChallenges.Set(float64(len(open)))

	now := time.Now()
	for _, c := range open {
		if now.Before(c.Deadline) {
			continue
		}
		mu := a.lockFor(c.ID)
		mu.Lock()
		if err := a.machine.ExpireChallenge(c.ID); err != nil {
			a.logger.Printf("expire challenge %s: %v", c.ID, err)
		} else {
			a.metrics.ChallengesExpired.Inc()
			a.persist(ctx, c.ID)
		}
		mu.Unlock()
	}
}
