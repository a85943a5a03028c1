package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mredag/eformLockerRoom-sub013/internal/client"
	"github.com/mredag/eformLockerRoom-sub013/internal/ui"
)

var (
	httpURL    string
	apiToken   string
	jsonOutput bool

	lockerClient client.Client
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var rootCmd = &cobra.Command{
	Use:           "lockerd <command>",
	Short:         "Real-time locker event and command coordination service",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Setup(os.Stdout)
		lockerClient = client.NewHTTPClient(httpURL, apiToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if lockerClient != nil {
			lockerClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOrDefault("LOCKERD_HTTP_URL", "http://localhost:8080"), "lockerd HTTP URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("LOCKERD_AUTH_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "commands", Title: "Commands:"},
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(broadcastCmd)

	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(lockCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
