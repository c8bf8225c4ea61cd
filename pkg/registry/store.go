// Package registry is this module's persistence layer: PostgreSQL-backed
// storage for registered models, recorded inferences and dispute
// challenges (spec.md §6's "persisted state"), adapted from the teacher's
// pkg/database.Client — same connection-pool/go:embed-migrations/
// functional-options shape, repointed at this module's schema.
package registry

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/google/uuid"

	"github.com/certen/zk-opml/pkg/config"
	"github.com/certen/zk-opml/pkg/dispute"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a PostgreSQL-backed registry of models, inferences and
// challenges.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Option is a functional option for configuring the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore opens a connection pool per cfg and verifies connectivity.
func NewStore(cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("registry: config cannot be nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("registry: database URL cannot be empty")
	}

	s := &Store{logger: log.New(log.Writer(), "[registry] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	s.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: ping database: %w", err)
	}

	s.logger.Printf("connected to database (max_open=%d, max_idle=%d)", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	return s, nil
}

// DB returns the underlying *sql.DB for call sites that need it directly.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Println("closing database connection")
		return s.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ---------------------------------------------------------------------
// Migrations
// ---------------------------------------------------------------------

// Migration is one embedded schema file.
type Migration struct {
	Version  string
	Filename string
	SQL      string
}

// MigrateUp applies every pending migration under migrations/*.sql.
func (s *Store) MigrateUp(ctx context.Context) error {
	s.logger.Println("running database migrations...")

	migrations, err := s.getMigrations()
	if err != nil {
		return fmt.Errorf("registry: list migrations: %w", err)
	}

	applied, err := s.getAppliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("registry: list applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			s.logger.Printf("  skipping %s (already applied)", m.Version)
			continue
		}
		s.logger.Printf("  applying %s...", m.Version)
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("registry: apply migration %s: %w", m.Version, err)
		}
	}
	s.logger.Println("migrations complete")
	return nil
}

func (s *Store) getMigrations() ([]Migration, error) {
	var migrations []Migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		version := strings.TrimSuffix(d.Name(), ".sql")
		migrations = append(migrations, Migration{Version: version, Filename: d.Name(), SQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (s *Store) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("exec migration sql: %w", err)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------
// Models
// ---------------------------------------------------------------------

// RegisterModel records a committed model's root and where its bytes live.
func (s *Store) RegisterModel(ctx context.Context, modelRoot [32]byte, storageURI string, numOperators int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (model_root, storage_uri, num_operators) VALUES ($1, $2, $3)
		 ON CONFLICT (model_root) DO NOTHING`,
		modelRoot[:], storageURI, numOperators)
	if err != nil {
		return fmt.Errorf("registry: register model: %w", err)
	}
	return nil
}

// ModelStorageURI returns where a committed model's bytes are stored.
func (s *Store) ModelStorageURI(ctx context.Context, modelRoot [32]byte) (string, int, error) {
	var uri string
	var numOperators int
	err := s.db.QueryRowContext(ctx,
		`SELECT storage_uri, num_operators FROM models WHERE model_root = $1`, modelRoot[:]).
		Scan(&uri, &numOperators)
	if err == sql.ErrNoRows {
		return "", 0, ErrModelNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("registry: lookup model: %w", err)
	}
	return uri, numOperators, nil
}

// ---------------------------------------------------------------------
// Inferences
// ---------------------------------------------------------------------

// RecordInference persists a completed inference run available for dispute.
func (s *Store) RecordInference(ctx context.Context, id uuid.UUID, modelRoot [32]byte, responder string, finalOutputHash [32]byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inferences (inference_id, model_root, responder, final_output_hash) VALUES ($1, $2, $3, $4)`,
		id, modelRoot[:], responder, finalOutputHash[:])
	if err != nil {
		return fmt.Errorf("registry: record inference: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------
// Challenges
// ---------------------------------------------------------------------

// SaveChallenge upserts a challenge's full state, called after every
// transition the in-memory dispute.Machine makes.
func (s *Store) SaveChallenge(ctx context.Context, c dispute.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges
			(challenge_id, inference_id, responder, challenger, state, winner,
			 low_idx, high_idx, mid_idx, model_root, num_operators, deadline, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
		ON CONFLICT (challenge_id) DO UPDATE SET
			state = EXCLUDED.state,
			winner = EXCLUDED.winner,
			low_idx = EXCLUDED.low_idx,
			high_idx = EXCLUDED.high_idx,
			mid_idx = EXCLUDED.mid_idx,
			deadline = EXCLUDED.deadline,
			updated_at = now()`,
		c.ID, c.InferenceID, c.Responder, c.Challenger, string(c.State), string(c.Winner),
		c.Low, c.High, c.Mid, c.ModelRoot[:], c.NumOperators, c.Deadline)
	if err != nil {
		return fmt.Errorf("registry: save challenge: %w", err)
	}
	return nil
}

// LoadOpenChallenges returns every challenge not yet Resolved/Expired, used
// to rehydrate a dispute.Machine after a restart (spec.md §9: the agent
// loop must survive restarts without losing in-flight disputes).
func (s *Store) LoadOpenChallenges(ctx context.Context) ([]dispute.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT challenge_id, inference_id, responder, challenger, state, winner,
		       low_idx, high_idx, mid_idx, model_root, num_operators, deadline
		FROM challenges
		WHERE state NOT IN ('resolved', 'expired')`)
	if err != nil {
		return nil, fmt.Errorf("registry: load open challenges: %w", err)
	}
	defer rows.Close()

	var out []dispute.Challenge
	for rows.Next() {
		var c dispute.Challenge
		var state, winner string
		var modelRoot []byte
		if err := rows.Scan(&c.ID, &c.InferenceID, &c.Responder, &c.Challenger, &state, &winner,
			&c.Low, &c.High, &c.Mid, &modelRoot, &c.NumOperators, &c.Deadline); err != nil {
			return nil, fmt.Errorf("registry: scan challenge: %w", err)
		}
		c.State = dispute.State(state)
		c.Winner = dispute.Winner(winner)
		copy(c.ModelRoot[:], modelRoot)
		out = append(out, c)
	}
	return out, rows.Err()
}
