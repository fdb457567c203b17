package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Dates print like "2021-03-04 05:06:07+00:00".
const listDateLayout = "2006-01-02 15:04:05-07:00"

func newListCmd(a *app) *cobra.Command {
	var maxN int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dialogs with their IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(cmd, maxN)
		},
	}

	cmd.Flags().IntVar(&maxN, "max-n", 0, "list at most this many dialogs (0 for all)")
	return cmd
}

func (a *app) runList(cmd *cobra.Command, maxN int) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if maxN < 0 {
		return errors.New("--max-n must not be negative")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Dialogs:")

	client := a.connect(a.cfg, a.log)
	return client.Run(cmd.Context(), func(ctx context.Context) error {
		dialogs, err := client.Dialogs(ctx, maxN)
		if err != nil {
			return fmt.Errorf("list dialogs: %w", err)
		}
		for _, d := range dialogs {
			fmt.Fprintln(out, d.ID, d.Name, d.Date.UTC().Format(listDateLayout))
		}
		fmt.Fprintf(out, "%d dialogs total.\n", len(dialogs))
		return nil
	})
}
