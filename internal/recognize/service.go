// Package recognize matches camera frames against a database of known
// faces. Two backends exist: the dlib encoding matcher (vector distance over
// 128-d descriptors) and a detection-only fallback used when the dlib models
// cannot be loaded. The backend is chosen once at startup and fixed for the
// process lifetime.
package recognize

import (
	"errors"
	"log/slog"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/facedb"
)

// ErrBadImage reports input bytes that could not be decoded as an image.
// The face database is never touched when this is returned.
var ErrBadImage = errors.New("image could not be decoded")

// UnknownName labels a detected face whose descriptor matches nothing
// within tolerance.
const UnknownName = "Unknown"

// Backend variants. They double as the persistence key, so each backend
// reads and writes only its own collection.
const (
	VariantEncoding  = "encoding"
	VariantDetection = "detection"
)

// Result describes one detected face in a frame. Transient, never persisted.
type Result struct {
	Name       string
	Confidence float64 // in [0, 1]
	Region     facedb.Region
}

// TrainReport summarizes a dataset training pass.
type TrainReport struct {
	KnownFaces    []string
	DatasetCounts map[string]int
	TotalImages   int
}

// Service is the recognition backend. "No face found" is a normal negative
// (false result), not an error; errors mean malformed input or a failed
// persistence write.
type Service interface {
	// AddKnownFace enrolls a face found in image under name. Returns
	// (false, nil) when the image contains no face.
	AddKnownFace(name string, image []byte) (bool, error)
	// Recognize labels every face detected in the frame. Never returns
	// more results than detected regions.
	Recognize(frame []byte) ([]Result, error)
	// KnownNames returns enrolled names in stable insertion order.
	KnownNames() []string
	Count() int
	Remove(name string) (bool, error)
	ClearAll() error
	// TrainFromDataset enrolls every sample under dir (one subdirectory
	// per person) and reports what it processed.
	TrainFromDataset(dir string) (TrainReport, error)
	// Backend reports the active variant.
	Backend() string
	Close() error
}

// StoreFactory builds the persistence store for a backend variant.
type StoreFactory func(variant string) (facedb.Store, error)

// New selects the backend: the dlib encoding matcher when its model files
// load, otherwise the detection-only fallback with a logged warning. The
// choice is final for the life of the process.
func New(cfg config.RecognitionConfig, newStore StoreFactory, logger *slog.Logger) (Service, error) {
	svc, err := newEncodingMatcher(cfg, newStore, logger)
	if err == nil {
		logger.Info("using dlib encoding backend", "models_dir", cfg.ModelsDir, "tolerance", cfg.Tolerance)
		return svc, nil
	}

	logger.Warn("encoding backend unavailable, degrading to detection-only matching", "error", err)
	return newDetectionMatcher(cfg, newStore, logger)
}

// dbOps is the database surface shared by both backends.
type dbOps struct {
	db *facedb.Database
}

func (o dbOps) KnownNames() []string { return o.db.Names() }

func (o dbOps) Count() int { return o.db.Count() }

func (o dbOps) Remove(name string) (bool, error) { return o.db.Remove(name) }

func (o dbOps) ClearAll() error { return o.db.Clear() }
