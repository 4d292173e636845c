package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/calibration-cli/internal/calibration"
	"github.com/sells-group/calibration-cli/internal/model"
)

// sessionInput is one calibration run read from a YAML or JSON file.
type sessionInput struct {
	EquipmentID    string                        `json:"equipment_id" yaml:"equipment_id"`
	EquipmentClass string                        `json:"equipment_class" yaml:"equipment_class"`
	Environmental  model.EnvironmentalConditions `json:"environmental" yaml:"environmental"`
	Measurements   model.Measurements            `json:"measurements" yaml:"measurements"`

	source string
}

// sessionFile holds either a single session or a list under "sessions".
type sessionFile struct {
	sessionInput `yaml:",inline"`
	Sessions     []sessionInput `json:"sessions" yaml:"sessions"`
}

type validateResult struct {
	Source      string             `json:"source"`
	EquipmentID string             `json:"equipment_id"`
	SessionID   string             `json:"session_id,omitempty"`
	State       model.SessionState `json:"state,omitempty"`
	Verdict     model.Verdict      `json:"verdict,omitempty"`
	Score       int                `json:"score"`
	ResultSrc   model.ResultSource `json:"result_source,omitempty"`
	Degraded    bool               `json:"degraded"`
	Error       string             `json:"error,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Run calibration sessions from YAML or JSON files",
	Long:  "Each file holds one session (equipment_id, equipment_class, environmental, measurements) or a list of them under \"sessions\". Sessions run concurrently up to batch.max_concurrent_sessions.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("batch"); err != nil {
			return err
		}
		ctx := cmd.Context()

		noStore, _ := cmd.Flags().GetBool("no-store")
		asJSON, _ := cmd.Flags().GetBool("json")
		strict, _ := cmd.Flags().GetBool("strict")

		var inputs []sessionInput
		for _, path := range args {
			in, err := readSessionFile(path)
			if err != nil {
				return err
			}
			inputs = append(inputs, in...)
		}

		env, err := initService(ctx, !noStore)
		if err != nil {
			return err
		}
		defer env.Close()

		results := runValidations(ctx, env.Service, inputs, cfg.Batch.MaxConcurrentSessions)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return eris.Wrap(err, "validate: encode results")
			}
		} else {
			formatValidateResults(os.Stdout, results)
		}

		if strict {
			if n := countProblems(results); n > 0 {
				return eris.Errorf("validate: %d of %d sessions failed or errored", n, len(results))
			}
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Bool("no-store", false, "keep sessions in memory only")
	validateCmd.Flags().Bool("json", false, "print results as JSON")
	validateCmd.Flags().Bool("strict", false, "exit non-zero when any session fails or errors")
	rootCmd.AddCommand(validateCmd)
}

// readSessionFile parses path as YAML (JSON is accepted as a YAML subset).
func readSessionFile(path string) ([]sessionInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: read %s", path)
	}
	var f sessionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "validate: parse %s", path)
	}

	base := filepath.Base(path)
	if len(f.Sessions) > 0 {
		for i := range f.Sessions {
			f.Sessions[i].source = fmt.Sprintf("%s#%d", base, i+1)
		}
		return f.Sessions, nil
	}
	if f.EquipmentID == "" && f.EquipmentClass == "" {
		return nil, eris.Errorf("validate: %s contains no sessions", path)
	}
	f.sessionInput.source = base
	return []sessionInput{f.sessionInput}, nil
}

// runValidations drives each input through a full session. Per-session
// errors are recorded in the results rather than cancelling the batch.
func runValidations(ctx context.Context, svc *calibration.Service, inputs []sessionInput, concurrency int) []validateResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]validateResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, in := range inputs {
		g.Go(func() error {
			results[i] = runOne(gctx, svc, in)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func runOne(ctx context.Context, svc *calibration.Service, in sessionInput) validateResult {
	res := validateResult{Source: in.source, EquipmentID: in.EquipmentID}
	log := zap.L().With(zap.String("source", in.source), zap.String("equipment_id", in.EquipmentID))

	class, err := model.ParseEquipmentClass(in.EquipmentClass)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	id, err := svc.Open(in.EquipmentID, class)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.SessionID = id

	fail := func(step string, err error) validateResult {
		log.Warn("validate: session step failed", zap.String("step", step), zap.String("session_id", id), zap.Error(err))
		res.Error = err.Error()
		res.State, _ = svc.Abort(ctx, id, step+": "+err.Error())
		return res
	}

	if _, err := svc.ConfirmReadiness(id); err != nil {
		return fail("readiness", err)
	}
	if _, err := svc.RecordEnvironmental(id, in.Environmental); err != nil {
		return fail("environmental", err)
	}
	if _, err := svc.RecordMeasurements(id, in.Measurements); err != nil {
		return fail("measurements", err)
	}
	out, err := svc.RunValidation(ctx, id)
	if err != nil {
		return fail("validation", err)
	}

	res.State = model.SessionStateCompleted
	res.Verdict = out.Verdict
	res.Score = out.Score
	res.ResultSrc = out.Source
	res.Degraded = out.Degraded
	log.Info("validate: session complete",
		zap.String("session_id", id),
		zap.String("verdict", string(out.Verdict)),
		zap.Int("score", out.Score),
	)
	return res
}

func countProblems(results []validateResult) int {
	n := 0
	for _, r := range results {
		if r.Error != "" || r.Verdict == model.VerdictFail {
			n++
		}
	}
	return n
}

// formatValidateResults writes a tabular summary of results to out.
func formatValidateResults(out io.Writer, results []validateResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tEQUIPMENT\tSESSION\tVERDICT\tSCORE\tSOURCE_TYPE\tERROR")
	_, _ = fmt.Fprintln(w, "------\t---------\t-------\t-------\t-----\t-----------\t-----")

	for _, r := range results {
		score := ""
		if r.Verdict != "" {
			score = fmt.Sprintf("%d", r.Score)
		}
		srcType := string(r.ResultSrc)
		if r.Degraded {
			srcType += " (degraded)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Source,
			r.EquipmentID,
			truncateID(r.SessionID),
			r.Verdict,
			score,
			srcType,
			r.Error,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
