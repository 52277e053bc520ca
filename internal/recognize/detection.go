package recognize

import (
	"image"
	"log/slog"
	"os"
	"time"

	pigo "github.com/esimov/pigo/core"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/dataset"
	"github.com/facegate/facegate/internal/facedb"
)

// Detection-only labeling. Without descriptors there is nothing to match
// against, so every detected face gets the same placeholder identity.
const (
	detectedName       = "Person Detected"
	detectedConfidence = 0.8
)

const minDetectionQuality = 5.0

// detectionMatcher locates faces with a pigo cascade but cannot identify
// them. Enrollment stores names and regions only, never encodings.
type detectionMatcher struct {
	dbOps
	detect func(img image.Image) []facedb.Region
	logger *slog.Logger
}

func newDetectionMatcher(cfg config.RecognitionConfig, newStore StoreFactory, logger *slog.Logger) (*detectionMatcher, error) {
	store, err := newStore(VariantDetection)
	if err != nil {
		return nil, err
	}
	db, err := facedb.Open(store, logger)
	if err != nil {
		return nil, err
	}

	m := &detectionMatcher{
		dbOps:  dbOps{db: db},
		logger: logger,
	}

	classifier, err := loadCascade(cfg.CascadeFile)
	if err != nil {
		// A dead cascade degrades to zero detections rather than
		// failing startup.
		logger.Warn("face cascade unavailable, detection disabled", "file", cfg.CascadeFile, "error", err)
		m.detect = func(image.Image) []facedb.Region { return nil }
		return m, nil
	}

	m.detect = func(img image.Image) []facedb.Region { return runCascade(classifier, img) }
	return m, nil
}

func loadCascade(path string) (*pigo.Pigo, error) {
	cascade, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return pigo.NewPigo().Unpack(cascade)
}

func runCascade(classifier *pigo.Pigo, img image.Image) []facedb.Region {
	src := pigo.ImgToNRGBA(img)
	cols := src.Bounds().Dx()
	rows := src.Bounds().Dy()

	params := pigo.CascadeParams{
		MinSize:     40,
		MaxSize:     1000,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := classifier.RunCascade(params, 0.0)
	dets = classifier.ClusterDetections(dets, 0.2)

	regions := make([]facedb.Region, 0, len(dets))
	for _, d := range dets {
		if d.Q < minDetectionQuality {
			continue
		}
		half := d.Scale / 2
		regions = append(regions, facedb.Region{
			Top:    d.Row - half,
			Right:  d.Col + half,
			Bottom: d.Row + half,
			Left:   d.Col - half,
		})
	}
	return regions
}

// AddKnownFace records the name even when detection finds nothing, so
// enrollment keeps working while the cascade is missing.
func (m *detectionMatcher) AddKnownFace(name string, img []byte) (bool, error) {
	decoded, err := decodeImage(img)
	if err != nil {
		return false, err
	}

	entry := facedb.KnownFace{Name: name, AddedAt: time.Now()}
	if regions := m.detect(decoded); len(regions) > 0 {
		r := regions[0]
		entry.Region = &r
	} else {
		m.logger.Warn("no face detected in enrollment image, recording name only", "name", name)
	}

	if err := m.db.Add(entry); err != nil {
		return false, err
	}
	m.logger.Info("face enrolled", "name", name, "backend", VariantDetection)
	return true, nil
}

func (m *detectionMatcher) Recognize(frame []byte) ([]Result, error) {
	decoded, err := decodeImage(frame)
	if err != nil {
		return nil, err
	}

	regions := m.detect(decoded)
	results := make([]Result, 0, len(regions))
	for _, r := range regions {
		results = append(results, Result{
			Name:       detectedName,
			Confidence: detectedConfidence,
			Region:     r,
		})
	}
	return results, nil
}

func (m *detectionMatcher) TrainFromDataset(dir string) (TrainReport, error) {
	samples, err := dataset.Samples(dir)
	if err != nil {
		return TrainReport{}, err
	}

	report := TrainReport{DatasetCounts: make(map[string]int)}
	for name, files := range samples {
		entry := facedb.KnownFace{Name: name, AddedAt: time.Now()}
		used := 0
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				m.logger.Warn("skipping unreadable sample", "path", path, "error", err)
				continue
			}
			decoded, err := decodeImage(data)
			if err != nil {
				m.logger.Warn("skipping undecodable sample", "path", path)
				continue
			}
			used++
			if entry.Region == nil {
				if regions := m.detect(decoded); len(regions) > 0 {
					r := regions[0]
					entry.Region = &r
				}
			}
		}
		if err := m.db.Add(entry); err != nil {
			return report, err
		}
		report.DatasetCounts[name] = used
		report.TotalImages += used
	}

	report.KnownFaces = m.db.Names()
	return report, nil
}

func (m *detectionMatcher) Backend() string { return VariantDetection }

func (m *detectionMatcher) Close() error { return nil }
