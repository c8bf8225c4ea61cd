package agent

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/zk-opml/pkg/config"
	"github.com/certen/zk-opml/pkg/dispute"
	"github.com/certen/zk-opml/pkg/kernel"
	"github.com/certen/zk-opml/pkg/merkle"
	"github.com/certen/zk-opml/pkg/model"
	"github.com/certen/zk-opml/pkg/registry"
	"github.com/certen/zk-opml/pkg/zkprogram"

	"github.com/prometheus/client_golang/prometheus"
)

func decodeRoot(s string) ([32]byte, error) {
	var root [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return root, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return root, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(root[:], b)
	return root, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// RunCLI dispatches one of this module's subcommands. Flag parsing is
// intentionally shallow — spec.md leaves CLI argument parsing out of scope
// — each subcommand exists only to exercise the packages wired above it.
func RunCLI(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: agent <register|request|serve|dispute|zksetup> [flags]")
	}

	switch args[0] {
	case "register":
		return runRegister(args[1:])
	case "request":
		return runRequest(args[1:])
	case "serve":
		return runServe(args[1:])
	case "dispute":
		return runDispute(args[1:])
	case "zksetup":
		return runZKSetup(args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runRegister implements `agent register -model <uri> -root <hex> -ops <n>`:
// records a committed model in the registry so inferences against it can
// later be challenged (spec.md §6 registerModel).
func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	modelURI := fs.String("model", "", "storage URI of the committed model")
	rootHex := fs.String("root", "", "hex-encoded model root")
	numOps := fs.Int("ops", 0, "number of operators in the model")
	if err := fs.Parse(args); err != nil {
		return err
	}

	root, err := decodeRoot(*rootHex)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := registry.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.MigrateUp(ctx); err != nil {
		return err
	}
	return store.RegisterModel(ctx, root, *modelURI, *numOps)
}

// runRequest implements `agent request -inference <uuid> -root <hex> -responder <name> -output <hex>`:
// records a completed inference run as disputable (spec.md §6 submitInference).
func runRequest(args []string) error {
	fs := flag.NewFlagSet("request", flag.ExitOnError)
	inferenceID := fs.String("inference", "", "inference id (uuid)")
	rootHex := fs.String("root", "", "hex-encoded model root")
	responder := fs.String("responder", "", "responder identity")
	outputHex := fs.String("output", "", "hex-encoded final output hash")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := parseUUID(*inferenceID)
	if err != nil {
		return err
	}
	root, err := decodeRoot(*rootHex)
	if err != nil {
		return err
	}
	out, err := decodeRoot(*outputHex)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := registry.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.RecordInference(context.Background(), id, root, *responder, out)
}

// runServe implements `agent serve`: rehydrates open challenges from the
// registry and runs the event loop (spec.md §5/§9). The event source
// itself (on-chain log subscription, a message queue, ...) is out of
// scope, so this wires an empty channel that only timeout-driven
// ExpireOverdue activity runs against — a real deployment replaces
// `events` with its transport's event feed; see `dispute` for the
// subcommand that actually drives a challenge's events end to end.
func runServe(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := registry.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.MigrateUp(ctx); err != nil {
		return err
	}

	backend := zkprogram.NewBackend()
	if err := backend.InitializeFromKeys(
		cfg.ProverKeyDir+"/circuit.cs",
		cfg.ProverKeyDir+"/proving.key",
		cfg.ProverKeyDir+"/verifying.key",
	); err != nil {
		return fmt.Errorf("load prover keys: %w", err)
	}

	machine := dispute.NewMachine(cfg.ChallengeWindow, cfg.ResponseWindow, backend)
	metrics := NewMetrics(prometheus.DefaultRegisterer)
	a := New(machine, store, zkprogram.ParsePublicValues, metrics, nil)

	events := make(chan Event) // replaced by a real transport in production
	ticker := time.NewTicker(cfg.ResponseWindow / 4)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			a.ExpireOverdue(ctx)
		}
	}()

	return a.Run(ctx, events, 16)
}

// runDispute implements `agent dispute -mismatch-at <n>`: drives one full
// dispute — record, bisect, prove — end to end against an in-memory demo
// model (pkg/kernel), exercising components E, F and H for real rather than
// only reacting to externally-supplied events the way `serve` does. A real
// deployment replaces the in-memory challenger/responder models here with
// whatever their own on-chain event feed and ONNX execution kernel are
// (both out of scope for this module); this subcommand exists so the
// dispute game can actually be run end-to-end with this binary.
//
// -mismatch-at selects which demo operator the responder's kernel diverges
// on; -1 (the default) makes the responder agree on every operator, so
// bisection collapses and the challenger concedes without a proof.
func runDispute(args []string) error {
	fs := flag.NewFlagSet("dispute", flag.ExitOnError)
	mismatchAt := fs.Int("mismatch-at", -1, "operator index at which the responder's kernel diverges (-1 = no divergence)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := registry.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.MigrateUp(ctx); err != nil {
		return err
	}

	backend := zkprogram.NewBackend()
	if err := backend.InitializeFromKeys(
		cfg.ProverKeyDir+"/circuit.cs",
		cfg.ProverKeyDir+"/proving.key",
		cfg.ProverKeyDir+"/verifying.key",
	); err != nil {
		return fmt.Errorf("load prover keys: %w", err)
	}

	challengerGraph := demoGraph()
	responderGraph := divergeAt(challengerGraph, *mismatchAt)

	leaves := make([][32]byte, len(challengerGraph.Nodes))
	for i, n := range challengerGraph.Nodes {
		leaves[i] = model.NodeHash(n, challengerGraph)
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return fmt.Errorf("build model tree: %w", err)
	}
	root := tree.Root()

	if err := store.RegisterModel(ctx, root, "demo://in-memory", len(challengerGraph.Nodes)); err != nil {
		return fmt.Errorf("register demo model: %w", err)
	}

	machine := dispute.NewMachine(cfg.ChallengeWindow, cfg.ResponseWindow, backend)
	metrics := NewMetrics(prometheus.DefaultRegisterer)
	a := New(machine, store, zkprogram.ParsePublicValues, metrics, nil)

	challengeID := uuid.New()
	inferenceID := uuid.New()

	err = RunDisputeSession(ctx, a, backend, SessionParams{
		ChallengeID:     challengeID,
		InferenceID:     inferenceID,
		Responder:       "responder-demo",
		Challenger:      "challenger-demo",
		ModelRoot:       root,
		ChallengerModel: kernel.New(challengerGraph),
		ResponderModel:  kernel.New(responderGraph),
		Initial:         demoInputs(),
	})
	if err != nil {
		return err
	}

	final, err := machine.Get(challengeID)
	if err != nil {
		return err
	}
	fmt.Printf("challenge %s: state=%s winner=%s\n", challengeID, final.State, final.Winner)
	return nil
}

// runZKSetup implements `agent zksetup -out <dir>`: runs the one-time
// Groth16 trusted setup for the single-operator circuit and saves the
// resulting keys, mirroring the teacher's bls-zk-setup CLI.
func runZKSetup(args []string) error {
	fs := flag.NewFlagSet("zksetup", flag.ExitOnError)
	out := fs.String("out", "./keys", "directory to write circuit/proving/verifying keys to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	backend := zkprogram.NewBackend()
	if err := backend.Initialize(); err != nil {
		return err
	}
	return backend.SaveKeys(*out+"/circuit.cs", *out+"/proving.key", *out+"/verifying.key")
}
