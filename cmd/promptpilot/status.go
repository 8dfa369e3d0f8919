package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health, storage usage, and sync progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var health map[string]any
		if err := client.getJSON("/healthz", &health); err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}

		var storage map[string]any
		if err := client.getJSON(apiBase+"/storage", &storage); err != nil {
			return fmt.Errorf("read storage status: %w", err)
		}

		var sync map[string]any
		if err := client.getJSON(apiBase+"/sync/status", &sync); err != nil {
			return fmt.Errorf("read sync status: %w", err)
		}

		return printJSON(map[string]any{
			"health":  health,
			"storage": storage,
			"sync":    sync,
		})
	},
}
