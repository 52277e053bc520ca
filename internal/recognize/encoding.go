package recognize

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/Kagami/go-face"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/dataset"
	"github.com/facegate/facegate/internal/facedb"
)

// encodingMatcher recognizes faces by Euclidean distance between dlib
// 128-d descriptors and the enrolled encodings.
type encodingMatcher struct {
	dbOps
	rec       *face.Recognizer
	tolerance float64
	logger    *slog.Logger
}

func newEncodingMatcher(cfg config.RecognitionConfig, newStore StoreFactory, logger *slog.Logger) (*encodingMatcher, error) {
	rec, err := face.NewRecognizer(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("initializing dlib recognizer: %w", err)
	}

	store, err := newStore(VariantEncoding)
	if err != nil {
		rec.Close()
		return nil, err
	}
	db, err := facedb.Open(store, logger)
	if err != nil {
		rec.Close()
		return nil, err
	}

	return &encodingMatcher{
		dbOps:     dbOps{db: db},
		rec:       rec,
		tolerance: cfg.Tolerance,
		logger:    logger,
	}, nil
}

func (m *encodingMatcher) AddKnownFace(name string, img []byte) (bool, error) {
	descriptor, found, err := m.describe(img)
	if err != nil {
		return false, err
	}
	if !found {
		m.logger.Warn("no face found in enrollment image", "name", name)
		return false, nil
	}

	entry := facedb.KnownFace{Name: name, Encoding: descriptor, AddedAt: time.Now()}
	if err := m.db.Add(entry); err != nil {
		return false, err
	}
	m.logger.Info("face enrolled", "name", name)
	return true, nil
}

// describe extracts the descriptor of the first face in the image.
func (m *encodingMatcher) describe(img []byte) ([]float32, bool, error) {
	jpegData, err := toJPEG(img)
	if err != nil {
		return nil, false, err
	}
	faces, err := m.rec.Recognize(jpegData)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if len(faces) == 0 {
		return nil, false, nil
	}
	descriptor := make([]float32, len(faces[0].Descriptor))
	copy(descriptor, faces[0].Descriptor[:])
	return descriptor, true, nil
}

func (m *encodingMatcher) Recognize(frame []byte) ([]Result, error) {
	jpegData, err := toJPEG(frame)
	if err != nil {
		return nil, err
	}
	faces, err := m.rec.Recognize(jpegData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	known := m.db.Snapshot()
	results := make([]Result, 0, len(faces))
	for _, f := range faces {
		name, confidence := matchDescriptor(known, f.Descriptor[:], m.tolerance)
		results = append(results, Result{
			Name:       name,
			Confidence: confidence,
			Region:     regionFromRect(f.Rectangle),
		})
	}
	return results, nil
}

func (m *encodingMatcher) TrainFromDataset(dir string) (TrainReport, error) {
	samples, err := dataset.Samples(dir)
	if err != nil {
		return TrainReport{}, err
	}

	report := TrainReport{DatasetCounts: make(map[string]int)}
	for name, files := range samples {
		var (
			sum  []float64
			used int
		)
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				m.logger.Warn("skipping unreadable sample", "path", path, "error", err)
				continue
			}
			descriptor, found, err := m.describe(data)
			if err != nil || !found {
				m.logger.Warn("skipping sample without a usable face", "path", path)
				continue
			}
			if sum == nil {
				sum = make([]float64, len(descriptor))
			}
			for i, v := range descriptor {
				sum[i] += float64(v)
			}
			used++
		}
		if used == 0 {
			continue
		}

		mean := make([]float32, len(sum))
		for i, v := range sum {
			mean[i] = float32(v / float64(used))
		}
		if err := m.db.Add(facedb.KnownFace{Name: name, Encoding: mean, AddedAt: time.Now()}); err != nil {
			return report, err
		}
		report.DatasetCounts[name] = used
		report.TotalImages += used
	}

	report.KnownFaces = m.db.Names()
	return report, nil
}

func (m *encodingMatcher) Backend() string { return VariantEncoding }

func (m *encodingMatcher) Close() error {
	m.rec.Close()
	return nil
}

// regionFromRect converts an image rectangle to the wire/database region.
func regionFromRect(r image.Rectangle) facedb.Region {
	return facedb.Region{
		Top:    r.Min.Y,
		Right:  r.Max.X,
		Bottom: r.Max.Y,
		Left:   r.Min.X,
	}
}
