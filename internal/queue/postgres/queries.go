package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// commandColumns is the column list used for SELECT statements on the
// commands table.
const commandColumns = `id, kiosk_id, type, payload, status, error,
	created_at, updated_at, completed_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryInsertCommand(ctx context.Context, db executor, c *model.Command) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO commands (
			id, kiosk_id, type, payload, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID,
		c.KioskID,
		string(c.Type),
		payload,
		string(c.Status),
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func queryPendingCommands(ctx context.Context, db executor, kioskID string) ([]*model.Command, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+commandColumns+` FROM commands
		WHERE kiosk_id = $1 AND status IN ('pending', 'executing')
		ORDER BY created_at, id`, kioskID)
	if err != nil {
		return nil, fmt.Errorf("query pending commands: %w", err)
	}
	defer rows.Close()
	return scanCommands(rows)
}

func queryGetCommand(ctx context.Context, db executor, id string) (*model.Command, error) {
	row := db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = $1`, id)
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("command %s: %w", id, model.ErrNotFound)
	}
	return c, err
}

// queryFinishCommand settles a pending or executing command. A command
// that exists but is already settled yields ErrAlreadySettled.
func queryFinishCommand(ctx context.Context, db executor, id string, status model.CommandStatus, errMsg string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE commands SET status = $2, error = $3, updated_at = $4, completed_at = $4
		WHERE id = $1 AND status IN ('pending', 'executing')`,
		id, string(status), nullString(errMsg), now)
	if err != nil {
		return fmt.Errorf("update command %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update command %s: %w", id, err)
	}
	if n == 0 {
		var current string
		err := db.QueryRowContext(ctx, `SELECT status FROM commands WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("command %s: %w", id, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read command %s status: %w", id, err)
		}
		return fmt.Errorf("command %s is %s: %w", id, current, model.ErrAlreadySettled)
	}
	return nil
}
