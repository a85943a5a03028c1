package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mredag/eformLockerRoom-sub013/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show connection, event and latency statistics",
	GroupID: "server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := lockerClient.Stats(ctx)
		if err != nil {
			return fmt.Errorf("fetching stats: %w", err)
		}
		lat, err := lockerClient.Latency(ctx)
		if err != nil {
			return fmt.Errorf("fetching latency: %w", err)
		}

		if jsonOutput {
			return printJSON(map[string]any{"stats": st, "latency": lat})
		}

		fmt.Println(ui.RenderAccent("Connections:"))
		fmt.Printf("  total: %d\n", st.Engine.TotalConnections)
		for _, path := range sortedKeys(st.Engine.Namespaces) {
			ns := st.Engine.Namespaces[path]
			auth := ""
			if ns.RequireAuth {
				auth = ui.RenderMuted(" (auth)")
			}
			fmt.Printf("  %s%s: %d connections, %d rooms\n", path, auth, ns.Connections, len(ns.Rooms))
		}

		fmt.Println(ui.RenderAccent("Events:"))
		fmt.Printf("  stored: %d\n", st.Events.TotalEvents)
		for _, t := range sortedKeys(st.Events.EventsByType) {
			fmt.Printf("  %s: %d\n", t, st.Events.EventsByType[t])
		}

		fmt.Println(ui.RenderAccent("Commands:"))
		fmt.Printf("  in flight: %d\n", st.CommandsInFlight)

		fmt.Println(ui.RenderAccent("Broadcast latency:"))
		fmt.Printf("  median %.2fms  p95 %.2fms  p99 %.2fms  %s\n",
			lat.Median, lat.P95, lat.P99, ui.RenderMuted(fmt.Sprintf("(%d samples)", lat.Samples)))
		return nil
	},
}
