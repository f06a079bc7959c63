package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tessera/internal/model"
)

// Snapshot is a stored, content-addressed copy of an entity's values.
type Snapshot struct {
	ID       string
	TypeName string
	EntityID string
	Values   model.Record
}

// SaveSnapshot stores values under their content address and returns it.
// Saving identical content again is a no-op returning the same ID.
func (s *Store) SaveSnapshot(ctx context.Context, typeName, entityID string, values model.Record) (string, error) {
	id, err := model.SnapshotID(typeName, values)
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	body, err := marshalValue(values)
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, type_name, entity_id, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, typeName, entityID, body)
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return id, nil
}

// LoadSnapshot reads a snapshot by ID. resolve may be nil, in which case
// refs stay as {"$ref": ...} records.
func (s *Store) LoadSnapshot(ctx context.Context, id string, resolve model.Resolver) (Snapshot, error) {
	snap := Snapshot{ID: id}
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT type_name, entity_id, body FROM snapshots WHERE id = ?
	`, id).Scan(&snap.TypeName, &snap.EntityID, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	v, err := unmarshalValue(body, resolve)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	rec, ok := v.(model.Record)
	if !ok {
		return Snapshot{}, fmt.Errorf("load snapshot %s: body is not a record", id)
	}
	snap.Values = rec
	return snap, nil
}

// SnapshotsFor lists the snapshot IDs of one entity in save order.
func (s *Store) SnapshotsFor(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM snapshots WHERE entity_id = ? ORDER BY rowid ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return ids, nil
}
