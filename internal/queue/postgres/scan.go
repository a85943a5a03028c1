package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanCommand scans a single row into a model.Command.
// The row must contain columns in the order defined by commandColumns.
func scanCommand(row scannable) (*model.Command, error) {
	var c model.Command
	var (
		payload     []byte
		errMsg      sql.NullString
		completedAt sql.NullTime
	)

	err := row.Scan(
		&c.ID,
		&c.KioskID,
		&c.Type,
		&payload,
		&c.Status,
		&errMsg,
		&c.CreatedAt,
		&c.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &c.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of command %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

// scanCommands scans multiple rows into a slice of model.Command pointers.
func scanCommands(rows *sql.Rows) ([]*model.Command, error) {
	var out []*model.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullString converts an empty string to a NULL value.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
