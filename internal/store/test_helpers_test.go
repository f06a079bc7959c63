package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/schema"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// widgetType is the type used by most store tests.
func widgetType() *schema.Type {
	return schema.NewBuilder("Widget").
		Attr("id", model.KindString, model.WithFlags(model.FlagIdentifier|model.FlagNeverNull)).
		Attr("count", model.KindInt, model.WithDefault(model.Int(0))).
		Attr("label", model.KindString).
		Attr("link", model.KindRef).
		MustBuild()
}
