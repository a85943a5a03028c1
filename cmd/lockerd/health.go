package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mredag/eformLockerRoom-sub013/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of a running lockerd",
	GroupID: "server",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := lockerClient.Health(context.Background())
		if resp == nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(resp); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health: %s\n", ui.RenderStatus(resp.Status))
			for _, name := range sortedKeys(resp.Components) {
				fmt.Printf("  %-10s %s\n", name, ui.RenderStatus(resp.Components[name]))
			}
		}

		if resp.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", resp.Status)
		}
		return nil
	},
}
