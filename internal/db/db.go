package db

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/unclebandit/voicecast-backend/internal/config"
)

// Open connects to Postgres and verifies the connection.
func Open(cfg config.DBConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name,
	)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	if err = conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	log.Println("✅ Connected to database")
	return conn, nil
}

// Schema is applied by cmd/seeder and by Migrate. Statements are
// idempotent so re-running is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS broadcasts (
    id              SERIAL PRIMARY KEY,
    name            TEXT NOT NULL,
    template        TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'draft',
    owner_id        TEXT NOT NULL DEFAULT '',
    voice_provider  TEXT NOT NULL DEFAULT '',
    voice_id        TEXT NOT NULL DEFAULT '',
    voice_language  TEXT NOT NULL DEFAULT 'en-US',
    max_concurrent  INT  NOT NULL DEFAULT 10,
    max_retries     INT  NOT NULL DEFAULT 2,
    retry_delay_ms  BIGINT NOT NULL DEFAULT 300000,
    disclaimer_text TEXT NOT NULL DEFAULT '',
    optout_enabled  BOOLEAN NOT NULL DEFAULT TRUE,
    dnd_respect     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ,
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audio_assets (
    id           SERIAL PRIMARY KEY,
    broadcast_id INT NOT NULL REFERENCES broadcasts(id) ON DELETE CASCADE,
    unique_key   TEXT NOT NULL,
    text         TEXT NOT NULL,
    audio_url    TEXT NOT NULL,
    duration     INT NOT NULL DEFAULT 0,
    generated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (broadcast_id, unique_key)
);

CREATE TABLE IF NOT EXISTS calls (
    id                     SERIAL PRIMARY KEY,
    broadcast_id           INT NOT NULL REFERENCES broadcasts(id) ON DELETE CASCADE,
    phone                  TEXT NOT NULL,
    name                   TEXT NOT NULL DEFAULT '',
    custom_fields          JSONB NOT NULL DEFAULT '{}',
    message                TEXT NOT NULL DEFAULT '',
    audio_url              TEXT NOT NULL DEFAULT '',
    audio_asset_id         INT,
    provider_sid           TEXT,
    status                 TEXT NOT NULL DEFAULT 'queued',
    attempts               INT NOT NULL DEFAULT 0,
    retry_after            TIMESTAMPTZ,
    duration               INT NOT NULL DEFAULT 0,
    start_time             TIMESTAMPTZ,
    answer_time            TIMESTAMPTZ,
    end_time               TIMESTAMPTZ,
    provider_error_code    TEXT NOT NULL DEFAULT '',
    provider_error_message TEXT NOT NULL DEFAULT '',
    dnd_status             TEXT NOT NULL DEFAULT 'unchecked',
    opted_out              BOOLEAN NOT NULL DEFAULT FALSE,
    metadata               JSONB NOT NULL DEFAULT '{}',
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_calls_broadcast_status ON calls (broadcast_id, status);
CREATE INDEX IF NOT EXISTS idx_calls_retry ON calls (broadcast_id, attempts, retry_after);
CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_provider_sid ON calls (provider_sid) WHERE provider_sid IS NOT NULL;

CREATE TABLE IF NOT EXISTS opt_outs (
    id           SERIAL PRIMARY KEY,
    phone        TEXT NOT NULL UNIQUE,
    source       TEXT NOT NULL,
    opted_out_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at   TIMESTAMPTZ NOT NULL,
    metadata     JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_opt_outs_expires ON opt_outs (expires_at);
`

// Migrate applies the schema.
func Migrate(conn *sql.DB) error {
	if _, err := conn.Exec(Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
