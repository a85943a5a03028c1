package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mredag/eformLockerRoom-sub013/internal/client"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// readData returns the JSON payload given on the command line, read from a
// file when prefixed with "@", or from stdin for "-".
func readData(arg string) (json.RawMessage, error) {
	var raw []byte
	var err error
	switch {
	case arg == "-":
		raw, err = io.ReadAll(os.Stdin)
	case strings.HasPrefix(arg, "@"):
		raw, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		raw = []byte(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("data is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

var emitCmd = &cobra.Command{
	Use:   "emit <type> <data>",
	Short: "Emit a typed event (data is JSON, @file, or - for stdin)",
	Example: `  lockerd emit locker_state_changed '{"lockerId":"7","oldState":"closed","newState":"open"}' --room kiosk-1
  lockerd emit help_requested @help.json --room kiosk-2`,
	GroupID: "events",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readData(args[1])
		if err != nil {
			return err
		}
		namespace, _ := cmd.Flags().GetString("namespace")
		room, _ := cmd.Flags().GetString("room")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		ev, err := lockerClient.Emit(context.Background(), &client.EmitRequest{
			Type:       model.EventType(args[0]),
			Data:       data,
			Namespace:  namespace,
			Room:       room,
			TTLSeconds: int(ttl / time.Second),
		})
		if err != nil {
			return fmt.Errorf("emitting event: %w", err)
		}

		if jsonOutput {
			return printJSON(ev)
		}
		fmt.Printf("Emitted %s %s to %s", ev.Type, ev.ID, ev.Namespace)
		if ev.Room != "" {
			fmt.Printf(" room %s", ev.Room)
		}
		fmt.Println()
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:     "replay",
	Short:   "List stored events, oldest first",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")
		room, _ := cmd.Flags().GetString("room")
		types, _ := cmd.Flags().GetStringSlice("type")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		expired, _ := cmd.Flags().GetBool("include-expired")

		req := &client.ReplayRequest{
			Namespace:      namespace,
			Room:           room,
			Types:          types,
			Limit:          limit,
			IncludeExpired: expired,
		}
		if since > 0 {
			req.Since = time.Now().Add(-since)
		}
		evs, err := lockerClient.Replay(context.Background(), req)
		if err != nil {
			return fmt.Errorf("replaying events: %w", err)
		}
		if jsonOutput {
			return printJSON(evs)
		}
		printEventTable(evs)
		return nil
	},
}

var broadcastCmd = &cobra.Command{
	Use:     "broadcast <namespace> <type> [data]",
	Short:   "Send an unpersisted frame to a namespace or room",
	GroupID: "events",
	Args:    cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, _ := cmd.Flags().GetString("room")
		req := &client.BroadcastRequest{Namespace: args[0], Type: args[1], Room: room}
		if len(args) == 3 {
			data, err := readData(args[2])
			if err != nil {
				return err
			}
			req.Data = data
		}
		n, err := lockerClient.Broadcast(context.Background(), req)
		if err != nil {
			return fmt.Errorf("broadcasting: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]int{"delivered": n})
		}
		fmt.Printf("Delivered to %d connections\n", n)
		return nil
	},
}

func init() {
	emitCmd.Flags().String("namespace", "", "override the event type's default namespace")
	emitCmd.Flags().String("room", "", "target room (usually the kiosk id)")
	emitCmd.Flags().Duration("ttl", 0, "retention for this event (default: server event TTL)")

	replayCmd.Flags().String("namespace", "", "filter by namespace")
	replayCmd.Flags().String("room", "", "filter by room")
	replayCmd.Flags().StringSlice("type", nil, "filter by event type (repeatable)")
	replayCmd.Flags().Duration("since", 0, "only events persisted within this window")
	replayCmd.Flags().Int("limit", 50, "maximum events to return (0 = all)")
	replayCmd.Flags().Bool("include-expired", false, "include expired events not yet swept")

	broadcastCmd.Flags().String("room", "", "target room")
}
