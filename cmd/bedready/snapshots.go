package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"bedready-go/internal/panel"
	"bedready-go/internal/popup"
	"bedready-go/internal/types"
)

func newSnapshotsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"snapshot"},
		Short:   "Manage reference snapshots",
	}
	cmd.AddCommand(newSnapshotsListCommand(ctx))
	cmd.AddCommand(newSnapshotsTakeCommand(ctx))
	cmd.AddCommand(newSnapshotsDeleteCommand(ctx))
	cmd.AddCommand(newSnapshotsDefaultCommand(ctx))
	return cmd
}

func newSnapshotsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored reference snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := ctx.initPanel(cmd)
			if err != nil {
				return err
			}
			printSnapshots(cmd.OutOrStdout(), p.State())
			return nil
		},
	}
}

func newSnapshotsTakeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "take",
		Short: "Take a new reference snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := ctx.initPanel(cmd)
			if err != nil {
				return err
			}
			name := p.SnapshotName()
			if err := p.TakeSnapshot(cmd.Context()); err != nil {
				return reportFailure(cmd.OutOrStdout(), p.State(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requested %s\n", name)
			printSnapshots(cmd.OutOrStdout(), p.State())
			return nil
		},
	}
}

func newSnapshotsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <filename>",
		Short: "Delete a reference snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := ctx.initPanel(cmd)
			if err != nil {
				return err
			}
			if err := p.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return reportFailure(cmd.OutOrStdout(), p.State(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot Deleted: %s\n", args[0])
			return nil
		},
	}
}

func newSnapshotsDefaultCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "default <filename>",
		Short: "Select the reference snapshot and save the settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := ctx.initPanel(cmd)
			if err != nil {
				return err
			}
			p.SetDefaultSnapshot(args[0])
			if err := p.SaveSettings(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reference image set to %s\n", args[0])
			return nil
		},
	}
}

func printSnapshots(w io.Writer, state types.PanelState) {
	if len(state.Snapshots) == 0 {
		fmt.Fprintln(w, "No snapshots stored")
		return
	}
	rows := make([][]string, 0, len(state.Snapshots))
	for i, name := range state.Snapshots {
		marker := ""
		if name == state.Settings.ReferenceImage {
			marker = "*"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), name, marker})
	}
	fmt.Fprintln(w, renderTable([]string{"#", "Snapshot", "Default"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))
}

// reportFailure prints what the panel showed for err: the popup for
// application errors, the latest notice otherwise.
func reportFailure(w io.Writer, state types.PanelState, err error) error {
	var appErr *panel.AppError
	if errors.As(err, &appErr) && state.Popup != nil {
		if md, mdErr := popup.Markdown(state.Popup); mdErr == nil {
			fmt.Fprint(w, md)
		}
		return err
	}
	if n := len(state.Notices); n > 0 {
		last := state.Notices[n-1]
		return fmt.Errorf("%s: %s", last.Title, last.Text)
	}
	return err
}
