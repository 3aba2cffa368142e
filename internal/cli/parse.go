package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newParseCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Extract records from a page and print them",
		Long: `Applies the extraction rules to one HTML page and prints the records
without storing them. Rule faults are reported on stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			res, err := engine.Parse(raw)
			if err != nil {
				return fmt.Errorf("parse failed: %w", err)
			}

			for _, f := range res.Faults {
				a.log.Warn("Rule fault").
					Int("section", f.Section).
					Str("rule", f.Rule).
					Str("kind", f.Kind.String()).
					Err(f.Err).
					Send()
			}

			switch format {
			case "json":
				data, err := res.JSON(true)
				if err != nil {
					return err
				}
				cmd.Println(string(data))
			case "text":
				cmd.Print(res.Text())
			default:
				return fmt.Errorf("unknown format %q: use json or text", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format (json or text)")
	return cmd
}
