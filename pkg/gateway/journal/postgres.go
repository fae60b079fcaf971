package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresJournal writes one bot_conversations row per connection.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, applies pending migrations and returns a ready journal.
func Open(ctx context.Context, dsn string) (*PostgresJournal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	if err := Migrate(ctx, dsn); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresJournal{pool: pool}, nil
}

// Migrate applies the embedded migrations to the database at dsn.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (j *PostgresJournal) ConversationStarted(ctx context.Context, e Entry) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	_, err := j.pool.Exec(ctx, `
		INSERT INTO bot_conversations
			(connection_id, conversation_id, request_id, remote_addr, caller, media_format, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			media_format = EXCLUDED.media_format`,
		e.ConnectionID, e.ConversationID, e.RequestID, e.RemoteAddr, e.Caller, e.MediaFormat, e.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// ConversationEnded stamps the end of a conversation. Connections that never
// initiated have no row and are ignored.
func (j *PostgresJournal) ConversationEnded(ctx context.Context, connectionID, reason string, at time.Time) error {
	_, err := j.pool.Exec(ctx, `
		UPDATE bot_conversations
		SET ended_at = $2, end_reason = $3
		WHERE connection_id = $1 AND ended_at IS NULL`,
		connectionID, at.UTC(), reason,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// Lookup returns the recorded entry and end reason for connectionID.
func (j *PostgresJournal) Lookup(ctx context.Context, connectionID string) (Entry, *string, error) {
	var e Entry
	var reason *string
	err := j.pool.QueryRow(ctx, `
		SELECT connection_id, conversation_id, request_id, remote_addr, caller, media_format, started_at, end_reason
		FROM bot_conversations
		WHERE connection_id = $1`,
		connectionID,
	).Scan(&e.ConnectionID, &e.ConversationID, &e.RequestID, &e.RemoteAddr, &e.Caller, &e.MediaFormat, &e.StartedAt, &reason)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("lookup conversation: %w", err)
	}
	return e, reason, nil
}

func (j *PostgresJournal) Close() {
	if j == nil || j.pool == nil {
		return
	}
	j.pool.Close()
}
