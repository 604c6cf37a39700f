// Package db owns the Postgres connection and schema for llmshotgun: the
// four tables named in the external interfaces (llm_requests, llm_attempts,
// llm_token_log, provider_status) plus the env-var-driven connection helper
// the rest of the codebase uses to reach them.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// Config is loaded once from the environment: either a single DATABASE_URL
// or the DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME quintet.
type Config struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
}

// LoadConfig reads the database configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Host:        os.Getenv("DB_HOST"),
		Port:        os.Getenv("DB_PORT"),
		User:        os.Getenv("DB_USER"),
		Password:    os.Getenv("DB_PASSWORD"),
		Name:        os.Getenv("DB_NAME"),
	}
}

// DSN resolves the configuration to a single connection string, preferring
// an explicit DATABASE_URL when set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// Connect opens a pooled connection to Postgres via lib/pq and verifies it
// with a ping before returning.
func Connect(ctx context.Context, cfg *Config) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return conn, nil
}

// schemaStatements is run in order by EnsureSchema. request_id/attempt_seq/
// token_index form the llm_token_log primary key so a replayed WAL batch can
// be inserted with ON CONFLICT DO NOTHING and stay idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS llm_requests (
		request_id     TEXT PRIMARY KEY,
		prompt         TEXT NOT NULL,
		ordered_models TEXT[] NOT NULL,
		user_id        TEXT,
		status         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS llm_attempts (
		request_id       TEXT NOT NULL REFERENCES llm_requests(request_id),
		attempt_seq      INTEGER NOT NULL,
		provider         TEXT NOT NULL,
		model_id         TEXT NOT NULL,
		status           TEXT NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL,
		completed_at     TIMESTAMPTZ,
		error            TEXT,
		tokens_estimated INTEGER,
		estimated_cost   NUMERIC(12, 6),
		PRIMARY KEY (request_id, attempt_seq)
	)`,
	`CREATE TABLE IF NOT EXISTS llm_token_log (
		request_id  TEXT NOT NULL,
		attempt_seq INTEGER NOT NULL,
		token_index INTEGER NOT NULL,
		model_id    TEXT NOT NULL,
		token_text  TEXT NOT NULL,
		ts          TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (request_id, attempt_seq, token_index)
	)`,
	`CREATE TABLE IF NOT EXISTS provider_status (
		provider_name TEXT PRIMARY KEY,
		circuit_state TEXT NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_failure  TIMESTAMPTZ,
		last_success  TIMESTAMPTZ,
		enabled       BOOLEAN NOT NULL DEFAULT true,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates all four tables if they don't already exist. Safe to
// call on every process start.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	return nil
}
