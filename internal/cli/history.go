package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/leostore/pkg/version"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		window string
		asOf   string
	)

	cmd := &cobra.Command{
		Use:   "history [uid]",
		Short: "Print earlier versions of a document",
		Long: `Prints the document followed by its earlier versions, newest first.
--window limits the output to changes made in the last day, week, month
or year. --as-of prints the single version current at an RFC 3339 time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, kv, err := a.service(false, nil)
			if err != nil {
				return err
			}
			defer kv.Close()

			uid := args[0]
			ctx := cmd.Context()

			if asOf != "" {
				at, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				content, err := svc.AsOf(ctx, a.cfg.Class, uid, at)
				if err != nil {
					return err
				}
				return printJSON(cmd, content)
			}

			var snaps []version.Snapshot
			if window != "" {
				w, err := version.ParseWindow(window)
				if err != nil {
					return err
				}
				snaps, err = svc.Window(ctx, a.cfg.Class, uid, w)
				if err != nil {
					return err
				}
			} else {
				snaps, err = svc.History(ctx, a.cfg.Class, uid, version.Query{Limit: limit})
				if err != nil {
					return err
				}
			}
			return printJSON(cmd, snaps)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", -1, "maximum number of versions, negative for all")
	cmd.Flags().StringVarP(&window, "window", "w", "", "only changes within day, week, month or year")
	cmd.Flags().StringVar(&asOf, "as-of", "", "print the version current at this RFC 3339 time")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
