package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/ocky/internal/vector"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the training log and model checkpoints.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "ocky.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

// --- Respond examples ---

func (s *Store) SaveRespondExample(ctx context.Context, e RespondExample) error {
	feats, err := json.Marshal(e.Features)
	if err != nil {
		return fmt.Errorf("encoding features: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO respond_examples (id, message_ref, channel_id, author_id, text, features, label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageRef, e.ChannelID, e.AuthorID, e.Text, string(feats), e.Label, formatTime(e.CreatedAt),
	)
	return err
}

// PromoteRespondExample sets label 1 on the example logged for messageRef.
// Labels are never lowered. Returns ErrNotFound when no example matches.
func (s *Store) PromoteRespondExample(ctx context.Context, messageRef string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE respond_examples SET label = 1 WHERE message_ref = ?`, messageRef)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRespondExamples returns every respond example in the order it was saved.
func (s *Store) ListRespondExamples(ctx context.Context) ([]RespondExample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_ref, channel_id, author_id, text, features, label, created_at
		FROM respond_examples ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RespondExample
	for rows.Next() {
		var e RespondExample
		var feats, createdAt string
		if err := rows.Scan(&e.ID, &e.MessageRef, &e.ChannelID, &e.AuthorID, &e.Text, &feats, &e.Label, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(feats), &e.Features); err != nil {
			return nil, fmt.Errorf("decoding features of %s: %w", e.ID, err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Feedback examples ---

func (s *Store) SaveFeedbackExample(ctx context.Context, e FeedbackExample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_examples (id, category, response_hash, input_embedding, score, bot_message_ref, channel_id, original_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Category, e.ResponseHash, vector.Encode(e.InputEmbedding), e.Score,
		e.BotMessageRef, e.ChannelID, e.OriginalText, formatTime(e.CreatedAt),
	)
	return err
}

const feedbackColumns = `id, category, response_hash, input_embedding, score, bot_message_ref, channel_id, original_text, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFeedback(row scanner) (FeedbackExample, error) {
	var e FeedbackExample
	var blob []byte
	var createdAt string
	if err := row.Scan(&e.ID, &e.Category, &e.ResponseHash, &blob, &e.Score, &e.BotMessageRef, &e.ChannelID, &e.OriginalText, &createdAt); err != nil {
		return FeedbackExample{}, err
	}
	emb, err := vector.Decode(blob)
	if err != nil {
		return FeedbackExample{}, fmt.Errorf("decoding embedding of %s: %w", e.ID, err)
	}
	e.InputEmbedding = emb
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return FeedbackExample{}, err
	}
	return e, nil
}

// UpdateFeedbackScore replaces the score of the example emitted as
// botMessageRef with update(old), reading and writing in one transaction.
func (s *Store) UpdateFeedbackScore(ctx context.Context, botMessageRef string, update func(old float64) float64) (FeedbackExample, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FeedbackExample{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := scanFeedback(tx.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback_examples WHERE bot_message_ref = ?`, botMessageRef))
	if err == sql.ErrNoRows {
		return FeedbackExample{}, ErrNotFound
	}
	if err != nil {
		return FeedbackExample{}, err
	}

	e.Score = update(e.Score)
	if _, err := tx.ExecContext(ctx, `UPDATE feedback_examples SET score = ? WHERE id = ?`, e.Score, e.ID); err != nil {
		return FeedbackExample{}, err
	}
	if err := tx.Commit(); err != nil {
		return FeedbackExample{}, fmt.Errorf("committing score update: %w", err)
	}
	return e, nil
}

// GetFeedbackExample returns the example emitted as botMessageRef.
func (s *Store) GetFeedbackExample(ctx context.Context, botMessageRef string) (FeedbackExample, error) {
	e, err := scanFeedback(s.db.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback_examples WHERE bot_message_ref = ?`, botMessageRef))
	if err == sql.ErrNoRows {
		return FeedbackExample{}, ErrNotFound
	}
	return e, err
}

// ListFeedbackExamples returns every feedback example in the order it was saved.
func (s *Store) ListFeedbackExamples(ctx context.Context) ([]FeedbackExample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback_examples ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FeedbackExample
	for rows.Next() {
		e, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// Counts summarizes both example tables.
func (s *Store) Counts(ctx context.Context) (ExampleCounts, error) {
	var c ExampleCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM respond_examples),
			(SELECT COUNT(*) FROM respond_examples WHERE label = 1),
			(SELECT COUNT(*) FROM feedback_examples),
			(SELECT COUNT(*) FROM feedback_examples WHERE score != 0)`,
	).Scan(&c.Respond, &c.RespondPositive, &c.Feedback, &c.FeedbackScored)
	return c, err
}

// --- Model blobs ---

// SaveBlobs writes every named blob in one transaction. Either all of them
// replace their previous versions or none do.
func (s *Store) SaveBlobs(ctx context.Context, blobs map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_blobs (name, data, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			name, blobs[name], now,
		); err != nil {
			return fmt.Errorf("saving blob %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing blobs: %w", err)
	}
	return nil
}

// LoadBlob returns the named blob, or ErrNotFound.
func (s *Store) LoadBlob(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM model_blobs WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
