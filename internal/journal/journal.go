package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/tessera/internal/core"
	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/store"
)

// DefaultBatchSize bounds how many entries one store transaction writes.
const DefaultBatchSize = 256

// TokenGenerator produces session tokens.
type TokenGenerator interface {
	Generate() string
}

// Journal stamps, queues and writes change events for one session.
type Journal struct {
	store   *store.Store
	session string
	clock   *Clock
	queue   *entryQueue
	logger  *slog.Logger
	batch   int
	dropped atomic.Int64
}

// Option configures a Journal.
type Option func(*config)

type config struct {
	session string
	tokens  TokenGenerator
	logger  *slog.Logger
	batch   int
}

// WithSession resumes or names a session explicitly. The clock continues
// after the session's last stored seq.
func WithSession(session string) Option {
	return func(c *config) {
		c.session = session
	}
}

// WithTokenGenerator sets the generator for new session tokens
// (default core.UUIDv7Generator).
func WithTokenGenerator(g TokenGenerator) Option {
	return func(c *config) {
		c.tokens = g
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithBatchSize sets the maximum entries per write.
func WithBatchSize(n int) Option {
	return func(c *config) {
		c.batch = n
	}
}

// New creates a journal writing to st.
func New(ctx context.Context, st *store.Store, opts ...Option) (*Journal, error) {
	cfg := config{
		tokens: core.UUIDv7Generator{},
		logger: slog.Default(),
		batch:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batch <= 0 {
		cfg.batch = DefaultBatchSize
	}

	session := cfg.session
	if session == "" {
		session = cfg.tokens.Generate()
	}
	last, err := st.LastSeq(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	return &Journal{
		store:   st,
		session: session,
		clock:   NewClockAt(last),
		queue:   newEntryQueue(),
		logger:  cfg.logger,
		batch:   cfg.batch,
	}, nil
}

// Session returns the session token.
func (j *Journal) Session() string { return j.session }

// Seq returns the last seq handed out.
func (j *Journal) Seq() int64 { return j.clock.Current() }

// Pending returns the number of entries not yet written.
func (j *Journal) Pending() int { return j.queue.Len() }

// Listener returns the function to register on entities and collections.
func (j *Journal) Listener() core.ListenerFunc {
	return j.Record
}

// Record stamps ev and queues it. Events recorded after Close are counted
// and dropped.
func (j *Journal) Record(ev core.Event) {
	entry := store.JournalEntry{
		Session: j.session,
		Kind:    ev.Kind.String(),
		Source:  handleOf(ev.Source),
		Old:     j.encode(ev.Old),
		New:     j.encode(ev.New),
	}
	if ev.Entity != nil {
		entry.Entity = ev.Entity.Handle().String()
	}
	if ev.Attr != nil {
		entry.Attr = ev.Attr.Name()
	}

	entry.Seq = j.clock.Next()
	if !j.queue.Enqueue(entry) {
		j.dropped.Add(1)
		j.logger.Warn("journal closed, event dropped",
			"session", j.session,
			"seq", entry.Seq,
			"kind", entry.Kind)
	}
}

func (j *Journal) encode(v model.Value) string {
	if v == nil {
		return "null"
	}
	data, err := model.MarshalCanonical(v)
	if err != nil {
		j.logger.Error("journal value not encodable", "session", j.session, "error", err)
		return "null"
	}
	return string(data)
}

func handleOf(n model.Node) string {
	if n == nil {
		return ""
	}
	return n.Handle().String()
}

// Run writes queued entries until ctx is cancelled or the journal is
// closed and drained.
//
// CRITICAL: only one Run per journal - it is the single writer.
func (j *Journal) Run(ctx context.Context) error {
	j.logger.Info("journal writer starting", "session", j.session)

	for {
		if batch := j.queue.DrainUpTo(j.batch); len(batch) > 0 {
			j.write(ctx, batch)
			continue
		}

		select {
		case <-ctx.Done():
			j.logger.Info("journal writer stopping: context cancelled", "session", j.session)
			return ctx.Err()

		case <-j.queue.Wait():
			// The signal channel closes with the queue; exit once drained.
			if j.queue.Closed() && j.queue.Len() == 0 {
				j.logger.Info("journal writer stopping: closed", "session", j.session)
				return nil
			}
		}
	}
}

// Flush synchronously writes everything queued so far.
func (j *Journal) Flush(ctx context.Context) error {
	for {
		batch := j.queue.DrainUpTo(j.batch)
		if len(batch) == 0 {
			return nil
		}
		if err := j.store.AppendEvents(ctx, batch); err != nil {
			return fmt.Errorf("journal flush: %w", err)
		}
	}
}

// Close stops accepting events. Run returns after writing what is queued.
func (j *Journal) Close() {
	j.queue.Close()
}

// Dropped returns how many events arrived after Close.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// write stores one batch; failures are logged, not retried.
func (j *Journal) write(ctx context.Context, batch []store.JournalEntry) {
	if err := j.store.AppendEvents(ctx, batch); err != nil {
		logBatchError(j.logger, batch, err)
	}
}

// logBatchError records enough context to replay a failed batch by hand.
func logBatchError(logger *slog.Logger, batch []store.JournalEntry, err error) {
	first, last := batch[0], batch[len(batch)-1]
	logger.Error("journal write failed",
		"session", first.Session,
		"first_seq", first.Seq,
		"last_seq", last.Seq,
		"entries", len(batch),
		"error", err)
}
