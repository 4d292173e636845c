package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/calibration-cli/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export SESSION_ID",
	Short: "Export a persisted session to an xlsx workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = args[0] + ".xlsx"
		}

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "export: migrate")
		}

		snap, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}

		if err := report.WriteWorkbook(*snap, out); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output path (default SESSION_ID.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
