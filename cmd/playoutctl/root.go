package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8080"

// globals are the persistent flags shared by every command.
type globals struct {
	server  string
	token   string
	jsonOut bool
}

func (g *globals) client() *apiClient {
	return newAPIClient(g.server, g.token)
}

func newRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "playoutctl",
		Short:         "Control a playoutd studio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.server, "server", envOr("PLAYOUT_SERVER", defaultServer), "playoutd base URL")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("PLAYOUT_TOKEN"), "Bearer token for the API")
	rootCmd.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newRundownsCommand(g))
	rootCmd.AddCommand(newPartsCommand(g))
	rootCmd.AddCommand(newStatusCommand(g))
	rootCmd.AddCommand(newAsRunCommand(g))
	for _, cmd := range newPlayoutCommands(g) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
