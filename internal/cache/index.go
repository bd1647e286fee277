package cache

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// Index is the SQLite-backed layer metadata index.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenIndex opens the index database at dbPath, creating the schema if
// needed. Use ":memory:" for an ephemeral index.
func OpenIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryCache, "open cache index")
	}

	idx := &Index{db: db}
	if err := idx.initialize(); err != nil {
		_ = db.Close()
		return nil, kilnerr.Wrap(err, kilnerr.CategoryCache, "initialize cache index schema")
	}
	return idx, nil
}

func (i *Index) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS layers (
		digest TEXT PRIMARY KEY,
		diff_id TEXT NOT NULL,
		name TEXT NOT NULL,
		size INTEGER NOT NULL,
		media_type TEXT,
		created_at INTEGER NOT NULL,
		last_used INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_layers_diff_id ON layers(diff_id);
	CREATE INDEX IF NOT EXISTS idx_layers_last_used ON layers(last_used);
	`
	_, err := i.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

// Put records a layer, replacing any previous entry for the same digest.
func (i *Index) Put(layer image.Layer) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now().Unix()
	_, err := i.db.Exec(
		`INSERT INTO layers (digest, diff_id, name, size, media_type, created_at, last_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(digest) DO UPDATE SET last_used = excluded.last_used`,
		string(layer.Descriptor.Digest), string(layer.DiffID), layer.Name,
		layer.Descriptor.Size, layer.Descriptor.MediaType, now, now,
	)
	if err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryCache, "record layer")
	}
	return nil
}

// Get looks up a layer by blob digest and touches its last-used time.
func (i *Index) Get(digest image.Digest) (image.Layer, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var layer image.Layer
	var d, diffID string
	err := i.db.QueryRow(
		"SELECT digest, diff_id, name, size, media_type FROM layers WHERE digest = ?",
		string(digest),
	).Scan(&d, &diffID, &layer.Name, &layer.Descriptor.Size, &layer.Descriptor.MediaType)
	if errors.Is(err, sql.ErrNoRows) {
		return image.Layer{}, false, nil
	}
	if err != nil {
		return image.Layer{}, false, kilnerr.Wrap(err, kilnerr.CategoryCache, "query layer")
	}
	layer.Descriptor.Digest = image.Digest(d)
	layer.DiffID = image.Digest(diffID)

	_, err = i.db.Exec("UPDATE layers SET last_used = ? WHERE digest = ?", time.Now().Unix(), string(digest))
	if err != nil {
		return image.Layer{}, false, kilnerr.Wrap(err, kilnerr.CategoryCache, "touch layer")
	}
	return layer, true, nil
}

// Count returns the number of indexed layers.
func (i *Index) Count() (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var n int
	if err := i.db.QueryRow("SELECT COUNT(*) FROM layers").Scan(&n); err != nil {
		return 0, kilnerr.Wrap(err, kilnerr.CategoryCache, "count layers")
	}
	return n, nil
}
