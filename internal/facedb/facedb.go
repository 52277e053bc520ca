// Package facedb holds the persisted collection of known faces. The
// collection is small and owned by a single process, so every mutation
// rewrites the whole blob through the configured Store (write-through).
package facedb

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Region is a face bounding box in pixel coordinates.
type Region struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// KnownFace is one enrolled person. The encoding backend fills Encoding; the
// detection-only fallback records the Region it saw at enrollment time.
type KnownFace struct {
	Name     string    `json:"name"`
	Encoding []float32 `json:"encoding,omitempty"`
	Region   *Region   `json:"region,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// Store persists the full collection. Load of an absent backing file or
// empty table returns (nil, nil).
type Store interface {
	Load() ([]KnownFace, error)
	Save(faces []KnownFace) error
}

// Database is the in-memory collection plus its store. Entries keep
// insertion order: matching scans front to back, so distance ties resolve to
// the earliest-enrolled name, and re-adding a name updates the entry in
// place without moving it.
//
// One mutex spans every read-modify-persist sequence. A failed save is
// reported to the caller but the in-memory state keeps the new value; the
// next successful save rewrites the whole collection, so disk catches up.
type Database struct {
	mu      sync.RWMutex
	entries []KnownFace
	store   Store
	logger  *slog.Logger
}

// Open loads the collection from the store. An empty store yields an empty
// database, not an error.
func Open(store Store, logger *slog.Logger) (*Database, error) {
	entries, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading face database: %w", err)
	}
	logger.Info("face database loaded", "known_faces", len(entries))
	return &Database{entries: entries, store: store, logger: logger}, nil
}

// Add enrolls a face, overwriting any existing entry with the same name in
// place, and persists the collection.
func (d *Database) Add(face KnownFace) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	replaced := false
	for i := range d.entries {
		if d.entries[i].Name == face.Name {
			d.entries[i] = face
			replaced = true
			break
		}
	}
	if !replaced {
		d.entries = append(d.entries, face)
	}
	return d.save()
}

// Remove deletes a face by name. Returns false without touching the store
// when the name is not enrolled.
func (d *Database) Remove(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.entries {
		if d.entries[i].Name == name {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return true, d.save()
		}
	}
	return false, nil
}

// Clear removes every entry. Idempotent: clearing an empty database persists
// an empty collection and succeeds.
func (d *Database) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = nil
	return d.save()
}

// save persists the current collection; callers hold the write lock.
func (d *Database) save() error {
	if err := d.store.Save(d.entries); err != nil {
		d.logger.Error("persisting face database failed", "error", err)
		return fmt.Errorf("persisting face database: %w", err)
	}
	return nil
}

// Names returns enrolled names in insertion order.
func (d *Database) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(d.entries))
	for i, e := range d.entries {
		names[i] = e.Name
	}
	return names
}

// Count returns the number of enrolled faces.
func (d *Database) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Snapshot returns a copy of the collection for lock-free scanning.
func (d *Database) Snapshot() []KnownFace {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]KnownFace, len(d.entries))
	copy(entries, d.entries)
	return entries
}
