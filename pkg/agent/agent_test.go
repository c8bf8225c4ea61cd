package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/zk-opml/pkg/dispute"
)

type fakeStore struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]dispute.Challenge
}

func newFakeStore() *fakeStore {
	return &fakeStore{challenges: make(map[uuid.UUID]dispute.Challenge)}
}

func (f *fakeStore) SaveChallenge(_ context.Context, c dispute.Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges[c.ID] = c
	return nil
}

func (f *fakeStore) LoadOpenChallenges(_ context.Context) ([]dispute.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dispute.Challenge
	for _, c := range f.challenges {
		if c.State != dispute.StateResolved && c.State != dispute.StateExpired {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubVerifier struct{ ok bool }

func (s stubVerifier) Verify(vk, proof, pv []byte) (bool, error) { return s.ok, nil }

func newTestAgent(t *testing.T) (*Agent, *fakeStore) {
	t.Helper()
	m := dispute.NewMachine(time.Hour, 10*time.Millisecond, stubVerifier{ok: true})
	store := newFakeStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	parse := func(b []byte) (dispute.PublicValues, error) { return dispute.PublicValues{}, nil }
	return New(m, store, parse, metrics, nil), store
}

func TestDispatch_ChallengeOpenedIsPersisted(t *testing.T) {
	a, store := newTestAgent(t)
	id := uuid.New()

	a.dispatch(context.Background(), Event{
		ChallengeID: id, Kind: EventChallengeOpened,
		InferenceID: uuid.New(), Responder: "r", Challenger: "c",
		ModelRoot: [32]byte{1}, NumOperators: 4,
	})

	store.mu.Lock()
	c, ok := store.challenges[id]
	store.mu.Unlock()
	if !ok {
		t.Fatal("challenge not persisted after dispatch")
	}
	if c.State != dispute.StateAwaitingChallenger {
		t.Fatalf("state = %s, want awaiting_challenger", c.State)
	}
}

func TestDispatch_UnknownChallengeIsSilentlyDropped(t *testing.T) {
	a, _ := newTestAgent(t)
	// No CreateChallenge was ever called for this id; dispatch must not panic.
	a.dispatch(context.Background(), Event{ChallengeID: uuid.New(), Kind: EventProposed})
}

func TestExpireOverdue_ExpiresPastDeadlineChallenges(t *testing.T) {
	a, store := newTestAgent(t)
	id := uuid.New()
	a.dispatch(context.Background(), Event{
		ChallengeID: id, Kind: EventChallengeOpened,
		InferenceID: uuid.New(), Responder: "r", Challenger: "c",
		ModelRoot: [32]byte{1}, NumOperators: 4,
	})

	time.Sleep(15 * time.Millisecond)
	a.ExpireOverdue(context.Background())

	store.mu.Lock()
	c := store.challenges[id]
	store.mu.Unlock()
	if c.State != dispute.StateExpired {
		t.Fatalf("state = %s, want expired", c.State)
	}
}
