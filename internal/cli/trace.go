package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Session string
	Kind    string // optional - filter to one event kind
}

// JournalEvent is one journaled change event.
type JournalEvent struct {
	Seq    int64  `json:"seq"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Entity string `json:"entity,omitempty"`
	Attr   string `json:"attr,omitempty"`
	Old    string `json:"old,omitempty"`
	New    string `json:"new,omitempty"`
}

// TraceResult holds a session's journal.
type TraceResult struct {
	Session  string         `json:"session"`
	Timeline []JournalEvent `json:"timeline"`
	Stats    TraceStats     `json:"stats"`
}

// TraceStats counts a session's events by kind.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind"`
}

// SessionList is the trace command's output when no session is given.
type SessionList struct {
	Sessions []string `json:"sessions"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journaled events of a session",
		Long: `Show the change events journaled for a session, in firing order.

Without --session, lists the sessions in the database.

Examples:
  tessera trace --db ./tessera.db
  tessera trace --db ./tessera.db --session demo
  tessera trace --db ./tessera.db --session demo --kind ValueChanged
  tessera trace --db ./tessera.db --session demo --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "session to trace")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one event kind (e.g. ValueChanged)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmp.Or(cmd.Context(), context.Background())
	formatter := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Session == "" {
		sessions, err := st.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		if formatter.JSON() {
			return formatter.Success(SessionList{Sessions: sessions})
		}
		writeSessionsText(cmd.OutOrStdout(), sessions)
		return nil
	}

	entries, err := st.ReadJournal(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if len(entries) == 0 {
		return formatter.Fail(ExitFailure, ErrCodeNoSession, fmt.Sprintf("no events found for session: %s", opts.Session), nil)
	}

	result := buildTrace(opts.Session, entries, opts.Kind)
	if formatter.JSON() {
		return formatter.Success(result)
	}
	writeTraceText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

// buildTrace converts journal entries into a timeline, keeping only
// events of the given kind when kind is set. Stats count the whole
// session.
func buildTrace(session string, entries []store.JournalEntry, kind string) TraceResult {
	result := TraceResult{
		Session:  session,
		Timeline: []JournalEvent{},
		Stats:    TraceStats{TotalEvents: len(entries), ByKind: make(map[string]int)},
	}
	for _, e := range entries {
		result.Stats.ByKind[e.Kind]++
		if kind != "" && e.Kind != kind {
			continue
		}
		result.Timeline = append(result.Timeline, JournalEvent{
			Seq:    e.Seq,
			Kind:   e.Kind,
			Source: e.Source,
			Entity: e.Entity,
			Attr:   e.Attr,
			Old:    e.Old,
			New:    e.New,
		})
	}
	return result
}

func writeSessionsText(w io.Writer, sessions []string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}
	fmt.Fprintf(w, "Sessions (%d):\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(w, "  %s\n", s)
	}
}

func writeTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Session: %s\n\n", result.Session)
	for _, e := range result.Timeline {
		line := fmt.Sprintf("[%d] %s %s", e.Seq, e.Source, e.Kind)
		if e.Entity != "" {
			line += " " + e.Entity
		}
		if e.Attr != "" {
			line += "." + e.Attr
		}
		if e.Old != "" || e.New != "" {
			line += fmt.Sprintf(" %s -> %s", cmp.Or(e.Old, "null"), cmp.Or(e.New, "null"))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%d event(s)", result.Stats.TotalEvents)
	if verbose && len(result.Stats.ByKind) > 0 {
		fmt.Fprint(w, ":")
		for _, kind := range slices.Sorted(maps.Keys(result.Stats.ByKind)) {
			fmt.Fprintf(w, " %s=%d", kind, result.Stats.ByKind[kind])
		}
	}
	fmt.Fprintln(w)
}
