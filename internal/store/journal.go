package store

import (
	"context"
	"fmt"
)

// JournalEntry is one persisted change event. Old and New are canonical
// JSON; handles are those of the runtime that recorded the session.
type JournalEntry struct {
	Session string
	Seq     int64
	Kind    string
	Source  string
	Entity  string
	Attr    string
	Old     string
	New     string
}

// AppendEvents writes entries in one transaction.
// Uses ON CONFLICT(session, seq) DO NOTHING for idempotency - rewriting an
// already stored entry is silently ignored.
func (s *Store) AppendEvents(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO journal
		(session, seq, kind, source, entity, attr, old_value, new_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append events: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		old, nw := e.Old, e.New
		if old == "" {
			old = "null"
		}
		if nw == "" {
			nw = "null"
		}
		if _, err := stmt.ExecContext(ctx,
			e.Session, e.Seq, e.Kind, e.Source, e.Entity, e.Attr, old, nw,
		); err != nil {
			return fmt.Errorf("append event seq=%d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append events: commit: %w", err)
	}
	return nil
}

// ReadJournal returns a session's entries ordered by seq.
//
// Returns an empty slice (not nil) if the session has no entries.
func (s *Store) ReadJournal(ctx context.Context, session string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, seq, kind, source, entity, attr, old_value, new_value
		FROM journal
		WHERE session = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.Session, &e.Seq, &e.Kind, &e.Source, &e.Entity, &e.Attr, &e.Old, &e.New); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// Sessions lists every journal session, oldest first by rowid.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session FROM journal
		GROUP BY session
		ORDER BY MIN(rowid) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LastSeq returns the highest seq stored for a session, or 0.
func (s *Store) LastSeq(ctx context.Context, session string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM journal WHERE session = ?
	`, session).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}
