package registry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/zk-opml/pkg/config"
	"github.com/certen/zk-opml/pkg/dispute"
)

// newTestStore connects to a real database only when ZKOPML_TEST_DB is set,
// following the teacher's pkg/database test pattern of skipping rather than
// mocking *sql.DB.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("ZKOPML_TEST_DB")
	if url == "" {
		t.Skip("ZKOPML_TEST_DB not set, skipping registry integration test")
	}
	cfg := &config.Config{DatabaseURL: url, DBMaxOpenConns: 5, DBMaxIdleConns: 1, DBConnMaxLifetime: time.Minute}
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.MigrateUp(context.Background()); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return s
}

func TestStore_RegisterAndLookupModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := [32]byte{1, 2, 3}
	if err := s.RegisterModel(ctx, root, "ipfs://deadbeef", 7); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
	uri, n, err := s.ModelStorageURI(ctx, root)
	if err != nil {
		t.Fatalf("ModelStorageURI: %v", err)
	}
	if uri != "ipfs://deadbeef" || n != 7 {
		t.Fatalf("got (%s, %d), want (ipfs://deadbeef, 7)", uri, n)
	}
}

func TestStore_ModelStorageURI_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.ModelStorageURI(context.Background(), [32]byte{9, 9, 9})
	if err != ErrModelNotFound {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
}

func TestStore_SaveAndLoadOpenChallenges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := [32]byte{5}
	if err := s.RegisterModel(ctx, root, "ipfs://m", 3); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
	infID := uuid.New()
	if err := s.RecordInference(ctx, infID, root, "responder-1", [32]byte{6}); err != nil {
		t.Fatalf("RecordInference: %v", err)
	}

	c := dispute.Challenge{
		ID: uuid.New(), InferenceID: infID, Responder: "responder-1", Challenger: "challenger-1",
		State: dispute.StateAwaitingResponder, Winner: dispute.WinnerNone,
		Low: 0, High: 2, Mid: 1, ModelRoot: root, NumOperators: 3,
		Deadline: time.Now().Add(time.Hour),
	}
	if err := s.SaveChallenge(ctx, c); err != nil {
		t.Fatalf("SaveChallenge: %v", err)
	}

	open, err := s.LoadOpenChallenges(ctx)
	if err != nil {
		t.Fatalf("LoadOpenChallenges: %v", err)
	}
	found := false
	for _, got := range open {
		if got.ID == c.ID {
			found = true
			if got.Mid != 1 || got.State != dispute.StateAwaitingResponder {
				t.Fatalf("loaded challenge mismatch: %+v", got)
			}
		}
	}
	if !found {
		t.Fatal("saved challenge not found among open challenges")
	}
}
