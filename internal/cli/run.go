package cli

import (
	"cmp"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Session   string
	Snapshots bool
}

// RunResult is the run command's output.
type RunResult struct {
	Scenario  string          `json:"scenario"`
	Session   string          `json:"session"`
	Pass      bool            `json:"pass"`
	Events    int             `json:"events"`
	Snapshots []SnapshotEntry `json:"snapshots,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
}

// SnapshotEntry names the snapshot saved for one entity.
type SnapshotEntry struct {
	Alias string `json:"alias"`
	ID    string `json:"id"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario and journal its events",
		Long: `Run a scenario with its change events journaled to a SQLite database.

Every event delivered to a listened entity or collection is written under
the scenario's session (or --session). The final values of each live
entity are saved as content-addressed snapshots.

Exit codes:
  0 - Scenario passed
  1 - Scenario failed
  2 - Command error (invalid paths, database errors, etc.)

Examples:
  tessera run ./scenarios/toggle.yaml --db ./tessera.db
  tessera run ./scenarios/toggle.yaml --db ./tessera.db --session demo
  TESSERA_DB=./tessera.db tessera run ./scenarios/toggle.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "journal session (default: the scenario's session)")
	cmd.Flags().BoolVar(&opts.Snapshots, "snapshots", true, "save final entity snapshots")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	ctx := cmp.Or(cmd.Context(), context.Background())
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenario not found: %s", path), nil)
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScenario, "failed to load scenario", err)
	}
	if opts.Session != "" {
		scenario.Session = opts.Session
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	hOpts := append(opts.harnessOptions(), harness.WithStore(st))
	result, err := harness.Run(ctx, scenario, hOpts...)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeScenario, "scenario execution failed", err)
	}

	out := RunResult{
		Scenario: scenario.Name,
		Session:  result.Session,
		Pass:     result.Pass,
		Events:   len(result.Trace),
		Errors:   result.Errors,
	}

	if opts.Snapshots {
		for _, ent := range result.Entities {
			id, err := st.SaveSnapshot(ctx, ent.Type, cmp.Or(ent.ID, ent.Alias), ent.Values)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to save snapshot", err)
			}
			out.Snapshots = append(out.Snapshots, SnapshotEntry{Alias: ent.Alias, ID: id})
		}
	}
	formatter.VerboseLog("Journaled %d event(s) to session %s", out.Events, out.Session)

	if formatter.JSON() {
		if out.Pass {
			return formatter.Success(out)
		}
		msg := fmt.Sprintf("scenario %s failed", out.Scenario)
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   out,
			Error:  &CLIError{Code: ErrCodeTestFailed, Message: msg},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return writeRunText(cmd, out)
}

func writeRunText(cmd *cobra.Command, out RunResult) error {
	w := cmd.OutOrStdout()
	if out.Pass {
		fmt.Fprintf(w, "✓ %s\n", out.Scenario)
	} else {
		fmt.Fprintf(w, "✗ %s\n", out.Scenario)
		for _, e := range out.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "Session: %s\n", out.Session)
	fmt.Fprintf(w, "Events:  %d\n", out.Events)
	for _, s := range out.Snapshots {
		fmt.Fprintf(w, "Snapshot %s: %s\n", s.Alias, s.ID)
	}

	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", out.Scenario))
	}
	return nil
}
