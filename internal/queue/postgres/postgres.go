// Package postgres implements queue.Queue backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/mredag/eformLockerRoom-sub013/internal/idgen"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
	"github.com/mredag/eformLockerRoom-sub013/internal/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Queue implements queue.Queue on the commands table.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

var _ queue.Queue = (*Queue)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*Queue, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already-migrated database handle.
func NewWithDB(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Ping checks database connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

func (q *Queue) Enqueue(ctx context.Context, kioskID string, t model.CommandType, payload model.CommandPayload) (string, error) {
	id, err := idgen.CommandID()
	if err != nil {
		return "", fmt.Errorf("generating command id: %w", err)
	}
	now := q.now().UTC()
	c := &model.Command{
		ID:        id,
		KioskID:   kioskID,
		Type:      t,
		Payload:   payload,
		Status:    model.CommandPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := queryInsertCommand(ctx, q.db, c); err != nil {
		return "", fmt.Errorf("enqueue command: %w", err)
	}
	return id, nil
}

func (q *Queue) GetPendingCommands(ctx context.Context, kioskID string) ([]*model.Command, error) {
	return queryPendingCommands(ctx, q.db, kioskID)
}

func (q *Queue) MarkCommandCompleted(ctx context.Context, commandID string) error {
	return queryFinishCommand(ctx, q.db, commandID, model.CommandCompleted, "", q.now().UTC())
}

func (q *Queue) MarkCommandFailed(ctx context.Context, commandID, errMsg string) error {
	return queryFinishCommand(ctx, q.db, commandID, model.CommandFailed, errMsg, q.now().UTC())
}

func (q *Queue) GetCommand(ctx context.Context, commandID string) (*model.Command, error) {
	return queryGetCommand(ctx, q.db, commandID)
}
