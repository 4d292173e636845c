package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/model"
	"github.com/sells-group/calibration-cli/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Query and import persisted calibration sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent calibration sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "sessions list: migrate")
		}

		filter, err := sessionFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		snaps, err := st.ListSessions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}

		if len(snaps) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, snaps)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Show a session snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "sessions show: migrate")
		}

		snap, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

var sessionsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import terminal session snapshots from a JSON file",
	Long:  "Reads a JSON array of session snapshots (as printed by \"sessions show\") and upserts them by id.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		snaps, err := readSnapshots(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "sessions import")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "sessions import: migrate")
		}

		n, err := st.ImportSessions(ctx, snaps)
		if err != nil {
			return eris.Wrap(err, "sessions import")
		}

		zap.L().Info("sessions imported", zap.String("file", args[0]), zap.Int64("rows", n))
		fmt.Printf("Imported %d sessions.\n", n)
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().String("state", "", "filter by state (COMPLETED, ABORTED)")
	sessionsListCmd.Flags().String("equipment", "", "filter by equipment id")
	sessionsListCmd.Flags().String("verdict", "", "filter by verdict (PASS, CONDITIONAL, FAIL)")
	sessionsListCmd.Flags().Duration("since", 0, "only sessions opened within this window (e.g. 24h)")
	sessionsListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsImportCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionFilterFromFlags(cmd *cobra.Command) (store.SessionFilter, error) {
	state, _ := cmd.Flags().GetString("state")
	equipment, _ := cmd.Flags().GetString("equipment")
	verdict, _ := cmd.Flags().GetString("verdict")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.SessionFilter{
		State:       model.SessionState(strings.ToUpper(state)),
		EquipmentID: equipment,
		Verdict:     model.Verdict(strings.ToUpper(verdict)),
		Limit:       limit,
	}
	if filter.Verdict != "" && !filter.Verdict.Valid() {
		return filter, eris.Errorf("sessions list: unknown verdict %q", verdict)
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}
	return filter, nil
}

// readSnapshots decodes a JSON array of snapshots from path.
func readSnapshots(path string) ([]model.SessionSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sessions import: read %s", path)
	}
	var snaps []model.SessionSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, eris.Wrapf(err, "sessions import: parse %s", path)
	}
	for i, s := range snaps {
		if !s.State.IsTerminal() {
			return nil, eris.Errorf("sessions import: entry %d (%s) is %s, only terminal sessions can be imported", i+1, s.ID, s.State)
		}
	}
	return snaps, nil
}

// formatSessionsList writes a tabular list of sessions to out.
func formatSessionsList(out io.Writer, snaps []model.SessionSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEQUIPMENT\tCLASS\tSTATE\tVERDICT\tSCORE\tOPENED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---------\t-----\t-----\t-------\t-----\t------\t--------")

	for _, s := range snaps {
		verdict, score := "", ""
		if s.Result != nil {
			verdict = string(s.Result.Verdict)
			score = fmt.Sprintf("%d", s.Result.Score)
			if s.Result.Degraded {
				verdict += "*"
			}
		}
		dur := ""
		if s.ClosedAt != nil {
			dur = s.ClosedAt.Sub(s.OpenedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(s.ID),
			s.EquipmentID,
			s.EquipmentClass,
			s.State,
			verdict,
			score,
			s.OpenedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}
