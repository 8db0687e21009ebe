package database

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "github.com/lib/pq"
)

// NewDB creates a new database connection
func NewDB() (*sql.DB, error) {
	dbURL, err := loadDatabaseURL()
	if err != nil {
		return nil, fmt.Errorf("failed to get database URL: %w", err)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return db, nil
}

// DatabaseURL resolves the connection string the same way NewDB does, for
// callers that need the raw URL (the job queue opens its own pgx pool).
func DatabaseURL() (string, error) {
	return loadDatabaseURL()
}

func loadDatabaseURL() (string, error) {
	if direct := strings.TrimSpace(os.Getenv("DATABASE_URL")); direct != "" {
		return direct, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	envPath, err := findEnvFile(wd)
	if err != nil {
		return "", err
	}

	file, err := os.Open(envPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", envPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		eqIdx := strings.IndexRune(line, '=')
		if eqIdx <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:eqIdx])
		if key != "DATABASE_URL" {
			continue
		}

		value := strings.TrimSpace(line[eqIdx+1:])
		value = strings.Trim(value, "\"'")
		value = strings.TrimFunc(value, unicode.IsSpace)
		if value == "" {
			return "", errors.New("DATABASE_URL is empty in .env")
		}
		return value, nil
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", envPath, err)
	}

	return "", errors.New("DATABASE_URL not found in environment or .env")
}

func findEnvFile(start string) (string, error) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf(".env not found starting from %s", start)
}

// schemaStatements is the bootstrapped schema. Column names and nullability
// must stay in lockstep with the SQL in the Postgres stores; the tests in
// this package cross-check them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		tenant_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		channel_id TEXT NOT NULL DEFAULT '',
		step TEXT NOT NULL DEFAULT 'idle',
		pending_action TEXT NOT NULL DEFAULT '',
		pending_payload JSONB,
		ui_version INTEGER NOT NULL DEFAULT 0,
		default_intent TEXT,
		default_intent_expiry TIMESTAMPTZ,
		last_event_id TEXT,
		last_event_type TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, thread_id)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		tenant_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_events_processed_at
		ON processed_events (processed_at)`,
	`CREATE TABLE IF NOT EXISTS facts (
		tenant_id TEXT NOT NULL,
		canonical_id TEXT NOT NULL,
		fact_type TEXT NOT NULL,
		scope TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		text TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		source_ts TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, canonical_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_facts_scope
		ON facts (tenant_id, scope, scope_id)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		tenant_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		state TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		summary TEXT NOT NULL DEFAULT '',
		patches JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, thread_id)
	)`,
	`CREATE TABLE IF NOT EXISTS review_artifacts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source_thread_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		summary TEXT NOT NULL,
		version INTEGER NOT NULL,
		frozen_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_review_artifacts_thread
		ON review_artifacts (tenant_id, source_thread_id, frozen_at)`,
	`CREATE TABLE IF NOT EXISTS pending_batches (
		tenant_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, thread_id)
	)`,
}

// EnsureSchema creates the tables the stores expect. Statements are
// idempotent so it is safe to run on every startup.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
