package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bedready-go/internal/popup"
	"bedready-go/internal/types"
)

var errBedNotReady = errors.New("bed not ready")

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var reference string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the current bed against the reference snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := ctx.initPanel(cmd)
			if err != nil {
				return err
			}
			if reference != "" {
				p.SetDefaultSnapshot(reference)
			}
			if _, err := p.TestSnapshot(cmd.Context()); err != nil {
				return reportFailure(cmd.OutOrStdout(), p.State(), err)
			}
			state := p.State()
			md, err := popup.Markdown(state.Popup)
			if err != nil {
				return fmt.Errorf("render result: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), md)
			if state.Popup != nil && state.Popup.Severity == types.SeverityError {
				return errBedNotReady
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reference, "reference", "", "Reference snapshot to compare against (defaults to the configured one)")
	return cmd
}
