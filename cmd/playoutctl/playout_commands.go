package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/playout-core/internal/playout"
)

// snapshotAction builds a command that POSTs to a rundown action and prints
// the snapshot the server answers with.
func snapshotAction(g *globals, use, short, action string, body func() any) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rundown>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req any
			if body != nil {
				req = body()
			}
			var snap playout.Snapshot
			if err := g.client().do(cmd.Context(), "POST", rundownPath(args[0], action), req, &snap); err != nil {
				return err
			}
			return printSnapshot(cmd, g, snap)
		},
	}
}

func newPlayoutCommands(g *globals) []*cobra.Command {
	var rehearsal, resetActivate, resetRehearsal bool

	activate := snapshotAction(g, "activate", "Put a rundown on air", "/activate", func() any {
		return map[string]bool{"rehearsal": rehearsal}
	})
	activate.Flags().BoolVar(&rehearsal, "rehearsal", false, "Activate in rehearsal mode")

	reset := snapshotAction(g, "reset", "Reset a rundown, optionally activating it", "/reset", func() any {
		return map[string]bool{"activate": resetActivate, "rehearsal": resetRehearsal}
	})
	reset.Flags().BoolVar(&resetActivate, "activate", false, "Activate after the reset")
	reset.Flags().BoolVar(&resetRehearsal, "rehearsal", false, "Activate in rehearsal mode")

	return []*cobra.Command{
		activate,
		reset,
		snapshotAction(g, "deactivate", "Take a rundown off air", "/deactivate", nil),
		snapshotAction(g, "take", "Take the next part", "/take", nil),
		snapshotAction(g, "hold", "Arm a hold between current and next", "/hold", nil),
		snapshotAction(g, "unhold", "Cancel a pending or active hold", "/hold/cancel", nil),
		newNextCommand(g),
		newMoveCommand(g),
	}
}

func newNextCommand(g *globals) *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:   "next <rundown> <part>",
		Short: "Set the next part",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manual := !auto
			req := map[string]any{"part_id": args[1], "manual": manual}
			var snap playout.Snapshot
			if err := g.client().do(cmd.Context(), "POST", rundownPath(args[0], "/next"), req, &snap); err != nil {
				return err
			}
			return printSnapshot(cmd, g, snap)
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "Mark the choice as automatic so ingest may move it")
	return cmd
}

func newMoveCommand(g *globals) *cobra.Command {
	var parts, segments int
	cmd := &cobra.Command{
		Use:   "move <rundown>",
		Short: "Move the next part by parts and segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parts == 0 && segments == 0 {
				return fmt.Errorf("one of --parts or --segments is required")
			}
			req := map[string]any{"horizontal": parts, "vertical": segments, "manual": true}
			var resp struct {
				PartID string `json:"part_id"`
			}
			if err := g.client().do(cmd.Context(), "POST", rundownPath(args[0], "/move-next"), req, &resp); err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd, resp)
			}
			if resp.PartID == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "next cleared")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "next: %s\n", resp.PartID)
			return nil
		},
	}
	cmd.Flags().IntVar(&parts, "parts", 0, "Parts to move by (negative moves back)")
	cmd.Flags().IntVar(&segments, "segments", 0, "Segments to move by (negative moves back)")
	return cmd
}
