package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nainya/leostore/internal/service"
)

func newIngestCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest [file|-]...",
		Short: "Extract records from pages and store them",
		Long: `Parses each page and upserts every record into the document store,
keyed by the parser identity field. Prints one line per record with its
outcome (new, updated or unchanged) and the recorded changes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, kv, err := a.service(true, nil)
			if err != nil {
				return err
			}
			defer kv.Close()

			var all []service.Outcome
			for _, name := range args {
				raw, err := readInput(cmd, name)
				if err != nil {
					return err
				}
				report, err := svc.Ingest(cmd.Context(), a.cfg.Class, raw)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", name, err)
				}
				all = append(all, report.Outcomes...)
			}

			if asJSON {
				data, err := json.MarshalIndent(all, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal outcomes: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			for _, o := range all {
				cmd.Printf("%s %s\n", o.UID, o.Status())
				for _, op := range o.Delta {
					cmd.Printf("  %s\n", op)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output outcomes as JSON")
	return cmd
}
