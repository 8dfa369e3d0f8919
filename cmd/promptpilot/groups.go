package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all prompt groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := newClient().getJSON(apiBase+"/groups", &resp); err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
		return printJSON(resp)
	},
}

var getCmd = &cobra.Command{
	Use:   "get [group-id]",
	Short: "Get a prompt group with its versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := newClient().getJSON(apiBase+"/groups/"+args[0], &resp); err != nil {
			return fmt.Errorf("get group: %w", err)
		}
		return printJSON(resp)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search versions by name, content, description, or group name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := newClient().getJSON(apiBase+"/search?q="+queryEscape(args[0]), &resp); err != nil {
			return fmt.Errorf("search versions: %w", err)
		}
		return printJSON(resp)
	},
}
