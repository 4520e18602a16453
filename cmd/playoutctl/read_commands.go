package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/playout-core/internal/asrun"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/rundown"
)

func newRundownsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rundowns",
		Short: "List rundowns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Rundowns []rundown.Rundown `json:"rundowns"`
			}
			if err := g.client().do(cmd.Context(), "GET", "/rundowns", nil, &resp); err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd, resp.Rundowns)
			}
			rows := make([][]string, 0, len(resp.Rundowns))
			for _, rd := range resp.Rundowns {
				rows = append(rows, []string{rd.ID, rd.StudioID, rd.Name, onAir(rd.Active, rd.Rehearsal), rd.HoldState.String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Studio", "Name", "State", "Hold"}, rows, nil))
			return nil
		},
	}
}

func newPartsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "parts <rundown>",
		Short: "List a rundown's parts in running order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Parts []rundown.Part `json:"parts"`
			}
			if err := g.client().do(cmd.Context(), "GET", rundownPath(args[0], "/parts"), nil, &resp); err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd, resp.Parts)
			}
			rows := make([][]string, 0, len(resp.Parts))
			for i, p := range resp.Parts {
				flags := ""
				if p.Invalid {
					flags = "invalid"
				} else if p.AutoNext {
					flags = "auto-next"
				}
				rows = append(rows, []string{strconv.Itoa(i + 1), p.ID, p.SegmentID, p.Title, formatMillis(p.ExpectedDuration), flags})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Part", "Segment", "Title", "Duration", "Flags"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
}

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "status <rundown>",
		Aliases: []string{"snapshot"},
		Short:   "Show the previous, current and next parts",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap playout.Snapshot
			if err := g.client().do(cmd.Context(), "GET", rundownPath(args[0], "/snapshot"), nil, &snap); err != nil {
				return err
			}
			return printSnapshot(cmd, g, snap)
		},
	}
}

func newAsRunCommand(g *globals) *cobra.Command {
	var limit, offset int
	var scope string

	cmd := &cobra.Command{
		Use:   "asrun <rundown>",
		Short: "Show the as-run log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			if scope != "" {
				q.Set("content2", scope)
			}
			path := rundownPath(args[0], "/asrun")
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var res asrun.ListResult
			if err := g.client().do(cmd.Context(), "GET", path, nil, &res); err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd, res)
			}
			rows := make([][]string, 0, len(res.Events))
			for _, ev := range res.Events {
				target := ev.PartInstanceID
				if ev.PieceInstanceID != "" {
					target = ev.PieceInstanceID
				}
				rows = append(rows, []string{
					time.UnixMilli(ev.Timestamp).UTC().Format("15:04:05.000"),
					ev.Content2, ev.Content, target,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Time (UTC)", "Scope", "Event", "Instance"}, rows, nil))
			fmt.Fprintf(out, "%d of %d events\n", len(res.Events), res.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum events to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Events to skip")
	cmd.Flags().StringVar(&scope, "scope", "", "Only rundown, part or piece events")
	return cmd
}

// printSnapshot renders a playout snapshot as a three-row table.
func printSnapshot(cmd *cobra.Command, g *globals, snap playout.Snapshot) error {
	if g.jsonOut {
		return writeJSON(cmd, snap)
	}
	row := func(label string, is *playout.InstanceSnapshot) []string {
		if is == nil {
			return []string{label, "-", "-", "-", ""}
		}
		started := ""
		if is.Timings.StartedPlayback != nil {
			started = time.UnixMilli(*is.Timings.StartedPlayback).UTC().Format("15:04:05")
		}
		return []string{label, is.Part.ID, is.Part.Title, strconv.Itoa(len(is.Pieces)), started}
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s  hold: %s  generation: %d\n",
		snap.RundownID, onAir(snap.Active, snap.Rehearsal), snap.HoldState, snap.Generation)
	fmt.Fprintln(out, renderTable(
		[]string{"", "Part", "Title", "Pieces", "Started"},
		[][]string{row("previous", snap.Previous), row("current", snap.Current), row("next", snap.Next)},
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
	return nil
}

func onAir(active, rehearsal bool) string {
	switch {
	case active && rehearsal:
		return "rehearsal"
	case active:
		return "on air"
	default:
		return "inactive"
	}
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return (time.Duration(ms) * time.Millisecond).String()
}

func rundownPath(id, suffix string) string {
	return "/rundowns/" + url.PathEscape(id) + suffix
}
