package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"bedready-go/internal/mask"
)

func newMaskCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mask",
		Short: "Inspect and edit the comparison mask",
	}
	cmd.AddCommand(newMaskShowCommand(ctx))
	cmd.AddCommand(newMaskSetCommand(ctx))
	cmd.AddCommand(newMaskPreviewCommand(ctx))
	return cmd
}

func newMaskShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the mask polygon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := ctx.buildDeps(cmd)
			if err != nil {
				return err
			}
			s, err := d.store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Enabled: %s\n", yesNo(s.Plugin.EnableMask))
			poly, err := mask.Parse(s.Plugin.MaskPoints)
			if err != nil {
				return fmt.Errorf("stored mask is invalid: %w", err)
			}
			rows := make([][]string, 0, len(poly))
			for i, pt := range poly {
				rows = append(rows, []string{strconv.Itoa(i + 1), strconv.Itoa(pt.X), strconv.Itoa(pt.Y)})
			}
			fmt.Fprintln(out, renderTable([]string{"#", "X", "Y"}, rows, []columnAlignment{alignRight, alignRight, alignRight}))
			if !poly.Valid() {
				fmt.Fprintln(out, "Warning: the polygon needs at least three points")
			}
			return nil
		},
	}
}

func newMaskSetCommand(ctx *commandContext) *cobra.Command {
	var enable, disable bool

	cmd := &cobra.Command{
		Use:   "set [points]",
		Short: `Write the mask polygon ("x,y x,y ...") and save the settings`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if enable && disable {
				return fmt.Errorf("--enable and --disable are mutually exclusive")
			}
			if len(args) == 0 && !enable && !disable {
				return fmt.Errorf("nothing to change: pass points, --enable or --disable")
			}
			_, p, err := ctx.initPanel(cmd)
			if err != nil {
				return err
			}
			if enable || disable {
				p.SetMaskEnabled(enable)
			}
			if len(args) == 1 {
				if err := p.UpdateMask(args[0]); err != nil {
					return err
				}
			}
			if err := p.SaveSettings(cmd.Context()); err != nil {
				return err
			}
			v := p.Settings()
			fmt.Fprintf(cmd.OutOrStdout(), "Mask %s: %s\n", enabledWord(v.EnableMask), v.MaskPoints)
			return nil
		},
	}

	cmd.Flags().BoolVar(&enable, "enable", false, "Enable the mask")
	cmd.Flags().BoolVar(&disable, "disable", false, "Disable the mask")
	return cmd
}

func newMaskPreviewCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the mask over the reference image as PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := ctx.buildDeps(cmd)
			if err != nil {
				return err
			}
			s, err := d.store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			reference := s.Plugin.ReferenceImage
			if reference == "" {
				return fmt.Errorf("no reference image selected")
			}
			rc, _, err := d.images.Open(cmd.Context(), reference)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", reference, err)
			}
			defer rc.Close()

			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := mask.RenderPreview(f, rc, s.Plugin.MaskPoints); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "mask_preview.png", "Output PNG path")
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func enabledWord(value bool) string {
	if value {
		return "enabled"
	}
	return "disabled"
}
