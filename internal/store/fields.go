package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/source"
)

// Fields is a source.Fields whose slots are rows of entity_values.
//
// Rows are keyed by attribute name, and each name belongs to one
// descriptor at a time: a descriptor other than the name's owner has no
// slot, and creating one fails with source.ErrNameTaken. Removing the row
// releases the name. Reads go through the store's cache. The source.Fields
// methods cannot return errors from Get and All; the first such failure is
// kept and reported by Err.
type Fields struct {
	s *Store
	// ctx is held because the source.Fields methods take no context.
	ctx      context.Context
	entityID string
	typeName string
	resolve  model.Resolver

	mu    sync.Mutex
	known map[string]*model.Descriptor
	err   error
}

var _ source.Fields = (*Fields)(nil)

// Fields returns the DB-backed source for one entity. ctx bounds every
// statement the source runs. Attribute names found in the database are
// matched to typ's descriptors; resolve maps stored refs back to nodes
// and may be nil.
func (s *Store) Fields(ctx context.Context, entityID string, typ *schema.Type, resolve model.Resolver) *Fields {
	f := &Fields{
		s:        s,
		ctx:      ctx,
		entityID: entityID,
		typeName: typ.Name(),
		resolve:  resolve,
		known:    make(map[string]*model.Descriptor),
	}
	for _, d := range typ.Descriptors() {
		f.known[d.Name()] = d
	}
	return f
}

// EntityID returns the row key of the entity.
func (f *Fields) EntityID() string { return f.entityID }

// Err returns the first database error hit by Get or All.
func (f *Fields) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fields) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
	f.s.logger.Error("entity source failed", "entity", f.entityID, "error", err)
}

// owns reports whether attr may use its name's row: either the name is
// unclaimed or attr is the descriptor that claimed it.
func (f *Fields) owns(attr *model.Descriptor) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.known[attr.Name()]
	return !ok || d == attr
}

// Get implements source.Fields.
func (f *Fields) Get(attr *model.Descriptor) (model.Value, bool) {
	if !f.owns(attr) {
		return nil, false
	}
	if v, ok := f.s.cache.get(f.entityID, attr.Name()); ok {
		return v, true
	}

	var text string
	err := f.s.db.QueryRowContext(f.ctx, `
		SELECT value FROM entity_values
		WHERE entity_id = ? AND attr = ?
	`, f.entityID, attr.Name()).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		f.fail(fmt.Errorf("get %s: %w", attr.Name(), err))
		return nil, false
	}

	v, err := unmarshalValue(text, f.resolve)
	if err != nil {
		f.fail(fmt.Errorf("get %s: %w", attr.Name(), err))
		return nil, false
	}
	f.s.cache.set(f.entityID, attr.Name(), v)
	return v, true
}

// Set implements source.Fields.
func (f *Fields) Set(attr *model.Descriptor, v model.Value, allowNew bool) error {
	if !f.owns(attr) {
		if allowNew {
			return fmt.Errorf("set %s: %w", attr.Name(), source.ErrNameTaken)
		}
		return fmt.Errorf("set %s: %w", attr.Name(), source.ErrNotStored)
	}

	text, err := marshalValue(v)
	if err != nil {
		return fmt.Errorf("set %s: %w", attr.Name(), err)
	}

	tx, err := f.s.db.BeginTx(f.ctx, nil)
	if err != nil {
		return fmt.Errorf("set %s: begin tx: %w", attr.Name(), err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(f.ctx, `
		UPDATE entity_values SET value = ?
		WHERE entity_id = ? AND attr = ?
	`, text, f.entityID, attr.Name())
	if err != nil {
		return fmt.Errorf("set %s: %w", attr.Name(), err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set %s: %w", attr.Name(), err)
	}

	if updated == 0 {
		if !allowNew {
			return fmt.Errorf("set %s: %w", attr.Name(), source.ErrNotStored)
		}
		_, err = tx.ExecContext(f.ctx, `
			INSERT INTO entity_values (entity_id, type_name, attr, position, value)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM entity_values WHERE entity_id = ?), ?)
		`, f.entityID, f.typeName, attr.Name(), f.entityID, text)
		if err != nil {
			return fmt.Errorf("set %s: insert: %w", attr.Name(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set %s: commit: %w", attr.Name(), err)
	}

	f.mu.Lock()
	f.known[attr.Name()] = attr
	f.mu.Unlock()
	f.s.cache.set(f.entityID, attr.Name(), orNull(v))
	return nil
}

// Remove implements source.Fields.
func (f *Fields) Remove(attr *model.Descriptor) error {
	if !f.owns(attr) {
		return fmt.Errorf("remove %s: %w", attr.Name(), source.ErrNotStored)
	}

	result, err := f.s.db.ExecContext(f.ctx, `
		DELETE FROM entity_values WHERE entity_id = ? AND attr = ?
	`, f.entityID, attr.Name())
	if err != nil {
		return fmt.Errorf("remove %s: %w", attr.Name(), err)
	}
	f.s.cache.delete(f.entityID, attr.Name())

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove %s: %w", attr.Name(), err)
	}
	if n == 0 {
		return fmt.Errorf("remove %s: %w", attr.Name(), source.ErrNotStored)
	}

	f.mu.Lock()
	delete(f.known, attr.Name())
	f.mu.Unlock()
	return nil
}

// All implements source.Fields. Rows whose attribute name matches no known
// descriptor are skipped.
func (f *Fields) All() iter.Seq2[*model.Descriptor, model.Value] {
	return func(yield func(*model.Descriptor, model.Value) bool) {
		rows, err := f.s.db.QueryContext(f.ctx, `
			SELECT attr, value FROM entity_values
			WHERE entity_id = ?
			ORDER BY position ASC
		`, f.entityID)
		if err != nil {
			f.fail(fmt.Errorf("query values: %w", err))
			return
		}

		type row struct {
			attr *model.Descriptor
			v    model.Value
		}
		var out []row
		for rows.Next() {
			var name, text string
			if err := rows.Scan(&name, &text); err != nil {
				rows.Close()
				f.fail(fmt.Errorf("scan value: %w", err))
				return
			}
			f.mu.Lock()
			attr, ok := f.known[name]
			f.mu.Unlock()
			if !ok {
				continue
			}
			v, err := unmarshalValue(text, f.resolve)
			if err != nil {
				rows.Close()
				f.fail(err)
				return
			}
			out = append(out, row{attr: attr, v: v})
		}
		if err := rows.Err(); err != nil {
			f.fail(fmt.Errorf("iterate values: %w", err))
		}
		rows.Close()

		// Rows are drained before yielding: the single connection must be
		// free for statements the caller runs inside the loop.
		for _, r := range out {
			if !yield(r.attr, r.v) {
				return
			}
		}
	}
}

// EntityIDs lists persisted entities of a type, in first-write order.
func (s *Store) EntityIDs(ctx context.Context, typeName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id FROM entity_values
		WHERE type_name = ?
		GROUP BY entity_id
		ORDER BY MIN(rowid) ASC
	`, typeName)
	if err != nil {
		return nil, fmt.Errorf("query entity ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity ids: %w", err)
	}
	return ids, nil
}

func orNull(v model.Value) model.Value {
	if v == nil {
		return model.Null{}
	}
	return v
}
