package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// FormatVersion is written in every export header.
const FormatVersion = "1"

// Snapshotter is the read side of the event store used for export.
type Snapshotter interface {
	Snapshot() []model.StoredEvent
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int       `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string             `json:"type"`
	Data *model.StoredEvent `json:"data"`
}

// ExportJSONL writes a header followed by every stored event, in
// persistence order, as JSONL to w. It returns the number of events written.
func ExportJSONL(src Snapshotter, w io.Writer, at time.Time) (int, error) {
	snap := src.Snapshot()

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    FormatVersion,
		Type:       "header",
		Timestamp:  at,
		EventCount: len(snap),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	for i := range snap {
		if err := enc.Encode(record{Type: "event", Data: &snap[i]}); err != nil {
			return i, fmt.Errorf("encode event %s: %w", snap[i].Event.ID, err)
		}
	}
	return len(snap), nil
}
