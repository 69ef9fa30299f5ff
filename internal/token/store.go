// Package token issues and redeems the single-use authorization tokens that
// gate session creation. Tokens are persisted in SQLite so a consumed token
// stays consumed across restarts.
package token

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/rohmanhakim/article-archiver/pkg/failure"
	"github.com/rohmanhakim/article-archiver/pkg/hashutil"
)

// idPattern matches a well-formed token id: a class prefix followed by
// four groups of four uppercase hex digits.
var idPattern = regexp.MustCompile(`^[SB]-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

// Store persists tokens in a SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the token database inside dataDir.
func Open(dataDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dataDir, "tokens.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("token database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check token database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dataDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating new
	// files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open token database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		class TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		issued_at DATETIME NOT NULL,
		consumed INTEGER NOT NULL DEFAULT 0,
		consumed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_tokens_consumed ON tokens(consumed);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Issue mints a new token of the given class and persists it.
// The id is derived from 16 bytes of system randomness, so ids are
// unguessable and collisions are not a practical concern.
func (s *Store) Issue(ctx context.Context, class Class, note string) (Token, failure.ClassifiedError) {
	if !class.Valid() {
		return Token{}, &TokenError{
			Message:   fmt.Sprintf("unknown token class %q", class),
			Retryable: false,
			Cause:     ErrCauseMalformedFormat,
		}
	}

	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return Token{}, &TokenError{
			Message:   fmt.Sprintf("failed to draw randomness: %s", err),
			Retryable: true,
			Cause:     ErrCauseStorageFailure,
		}
	}

	digest, err := hashutil.HashBytes(seed, hashutil.HashAlgoBLAKE3)
	if err != nil {
		return Token{}, &TokenError{
			Message:   fmt.Sprintf("failed to hash token seed: %s", err),
			Retryable: false,
			Cause:     ErrCauseStorageFailure,
		}
	}

	id := formatID(class, digest)
	issuedAt := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, class, note, issued_at, consumed) VALUES (?, ?, ?, ?, 0)`,
		id, string(class), note, issuedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Token{}, &TokenError{
			Message:   fmt.Sprintf("failed to persist token: %s", err),
			Retryable: true,
			Cause:     ErrCauseStorageFailure,
		}
	}

	return Token{
		id:       id,
		class:    class,
		note:     note,
		issuedAt: issuedAt,
	}, nil
}

// formatID turns the first sixteen hex digits of a digest into the
// canonical <class>-XXXX-XXXX-XXXX-XXXX form.
func formatID(class Class, digest string) string {
	hex := strings.ToUpper(digest[:16])
	groups := []string{
		string(class),
		hex[0:4],
		hex[4:8],
		hex[8:12],
		hex[12:16],
	}
	return strings.Join(groups, "-")
}

// TryConsume atomically redeems the token with the given id for a session of
// the given class. Exactly one caller can ever succeed for a given id; every
// other outcome is reported through the error's cause, checked in a fixed
// order: malformed format, class mismatch, already used, not found.
func (s *Store) TryConsume(ctx context.Context, id string, want Class) failure.ClassifiedError {
	if !idPattern.MatchString(id) {
		return &TokenError{
			Message:   "token id does not match the expected shape",
			Retryable: false,
			Cause:     ErrCauseMalformedFormat,
		}
	}

	// The class is encoded in the prefix, so a mismatch is detectable
	// without touching storage.
	if Class(id[:1]) != want {
		return &TokenError{
			Message:   fmt.Sprintf("token class %q cannot authorize a %q session", id[:1], want),
			Retryable: false,
			Cause:     ErrCauseClassMismatch,
		}
	}

	// Compare-and-set: only one caller observes RowsAffected == 1.
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET consumed = 1, consumed_at = ? WHERE id = ? AND consumed = 0`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return &TokenError{
			Message:   fmt.Sprintf("failed to redeem token: %s", err),
			Retryable: true,
			Cause:     ErrCauseStorageFailure,
		}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &TokenError{
			Message:   fmt.Sprintf("failed to read redeem result: %s", err),
			Retryable: true,
			Cause:     ErrCauseStorageFailure,
		}
	}
	if affected == 1 {
		return nil
	}

	// Nothing was updated: the token either never existed or was already
	// redeemed. Distinguish the two for the caller.
	var consumed int
	err = s.db.QueryRowContext(ctx, `SELECT consumed FROM tokens WHERE id = ?`, id).Scan(&consumed)
	if err == sql.ErrNoRows {
		return &TokenError{
			Message:   "no token with this id was ever issued",
			Retryable: false,
			Cause:     ErrCauseNotFound,
		}
	}
	if err != nil {
		return &TokenError{
			Message:   fmt.Sprintf("failed to inspect token: %s", err),
			Retryable: true,
			Cause:     ErrCauseStorageFailure,
		}
	}

	return &TokenError{
		Message:   "token was already redeemed",
		Retryable: false,
		Cause:     ErrCauseAlreadyUsed,
	}
}

// List returns issued tokens, newest first. When includeUsed is false,
// consumed tokens are filtered out.
func (s *Store) List(ctx context.Context, includeUsed bool) ([]Token, error) {
	query := `SELECT id, class, note, issued_at, consumed, consumed_at FROM tokens`
	if !includeUsed {
		query += ` WHERE consumed = 0`
	}
	query += ` ORDER BY issued_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		var t Token
		var class string
		var issuedAt string
		var consumed int
		var consumedAt sql.NullString

		if err := rows.Scan(&t.id, &class, &t.note, &issuedAt, &consumed, &consumedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}

		t.class = Class(class)
		t.issuedAt = parseTimestamp(issuedAt)
		t.consumed = consumed != 0
		if consumedAt.Valid && consumedAt.String != "" {
			at := parseTimestamp(consumedAt.String)
			t.consumedAt = &at
		}

		tokens = append(tokens, t)
	}

	return tokens, rows.Err()
}

// CollectStats summarizes the token table per class. Classes with no
// issued tokens are absent from the result.
func (s *Store) CollectStats(ctx context.Context) (map[Class]Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class, COUNT(*), COALESCE(SUM(consumed), 0) FROM tokens GROUP BY class`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to collect token stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Class]Stats)
	for rows.Next() {
		var class string
		var issued, consumed int
		if err := rows.Scan(&class, &issued, &consumed); err != nil {
			return nil, fmt.Errorf("failed to scan token stats: %w", err)
		}
		stats[Class(class)] = Stats{
			issued:      issued,
			consumed:    consumed,
			outstanding: issued - consumed,
		}
	}

	return stats, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
