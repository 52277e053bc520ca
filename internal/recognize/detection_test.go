package recognize

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/facegate/facegate/internal/facedb"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.Gray{Y: uint8(x * 16)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

func newTestDetectionMatcher(t *testing.T, detect func(image.Image) []facedb.Region) *detectionMatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := facedb.NewFileStore(filepath.Join(t.TempDir(), "detected_faces.json"))
	db, err := facedb.Open(store, logger)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	return &detectionMatcher{
		dbOps:  dbOps{db: db},
		detect: detect,
		logger: logger,
	}
}

func TestDetectionMatcherRecognize(t *testing.T) {
	regions := []facedb.Region{
		{Top: 10, Right: 50, Bottom: 50, Left: 10},
		{Top: 60, Right: 90, Bottom: 90, Left: 60},
	}
	m := newTestDetectionMatcher(t, func(image.Image) []facedb.Region { return regions })

	results, err := m.Recognize(testJPEG(t))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(results) != len(regions) {
		t.Fatalf("got %d results, want %d", len(results), len(regions))
	}
	for i, r := range results {
		if r.Name != detectedName {
			t.Errorf("results[%d].Name = %q, want %q", i, r.Name, detectedName)
		}
		if r.Confidence != detectedConfidence {
			t.Errorf("results[%d].Confidence = %v, want %v", i, r.Confidence, detectedConfidence)
		}
		if r.Region != regions[i] {
			t.Errorf("results[%d].Region = %+v, want %+v", i, r.Region, regions[i])
		}
	}
}

func TestDetectionMatcherRecognizeNoFaces(t *testing.T) {
	m := newTestDetectionMatcher(t, func(image.Image) []facedb.Region { return nil })

	results, err := m.Recognize(testJPEG(t))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestDetectionMatcherRecognizeBadImage(t *testing.T) {
	m := newTestDetectionMatcher(t, func(image.Image) []facedb.Region { return nil })

	if _, err := m.Recognize([]byte("not an image")); err == nil {
		t.Error("Recognize() error = nil, want ErrBadImage")
	}
}

func TestDetectionMatcherAddKnownFace(t *testing.T) {
	region := facedb.Region{Top: 1, Right: 4, Bottom: 4, Left: 1}
	m := newTestDetectionMatcher(t, func(image.Image) []facedb.Region {
		return []facedb.Region{region}
	})

	added, err := m.AddKnownFace("alice", testJPEG(t))
	if err != nil {
		t.Fatalf("AddKnownFace() error = %v", err)
	}
	if !added {
		t.Fatal("AddKnownFace() = false, want true")
	}

	entries := m.db.Snapshot()
	if len(entries) != 1 || entries[0].Name != "alice" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Region == nil || *entries[0].Region != region {
		t.Errorf("stored region = %+v, want %+v", entries[0].Region, region)
	}
}

func TestDetectionMatcherAddWithoutDetection(t *testing.T) {
	m := newTestDetectionMatcher(t, func(image.Image) []facedb.Region { return nil })

	added, err := m.AddKnownFace("bob", testJPEG(t))
	if err != nil {
		t.Fatalf("AddKnownFace() error = %v", err)
	}
	if !added {
		t.Fatal("AddKnownFace() = false, want true")
	}
	if got := m.KnownNames(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("KnownNames() = %v, want [bob]", got)
	}
}

func TestDetectionMatcherConcurrentAdds(t *testing.T) {
	m := newTestDetectionMatcher(t, func(image.Image) []facedb.Region { return nil })
	img := testJPEG(t)

	names := []string{"alice", "bob", "carol", "dave"}
	var wg sync.WaitGroup
	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.AddKnownFace(name, img); err != nil {
				t.Errorf("AddKnownFace(%q) error = %v", name, err)
			}
		}()
	}
	wg.Wait()

	if got := m.Count(); got != len(names) {
		t.Errorf("Count() = %d, want %d", got, len(names))
	}
}

func TestDetectionMatcherTrainCountsUsableSamples(t *testing.T) {
	region := facedb.Region{Top: 2, Right: 6, Bottom: 6, Left: 2}
	m := newTestDetectionMatcher(t, func(image.Image) []facedb.Region {
		return []facedb.Region{region}
	})

	dir := t.TempDir()
	personDir := filepath.Join(dir, "alice")
	if err := os.MkdirAll(personDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(personDir, "good.jpg"), testJPEG(t), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(personDir, "broken.jpg"), []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := m.TrainFromDataset(dir)
	if err != nil {
		t.Fatalf("TrainFromDataset() error = %v", err)
	}
	if report.DatasetCounts["alice"] != 1 {
		t.Errorf("DatasetCounts[alice] = %d, want 1 (undecodable sample must not count)", report.DatasetCounts["alice"])
	}
	if report.TotalImages != 1 {
		t.Errorf("TotalImages = %d, want 1", report.TotalImages)
	}

	entries := m.db.Snapshot()
	if len(entries) != 1 || entries[0].Region == nil || *entries[0].Region != region {
		t.Errorf("trained entry = %+v, want region %+v recorded", entries, region)
	}
}

func TestRegionFromRect(t *testing.T) {
	got := regionFromRect(image.Rect(10, 20, 30, 40))
	want := facedb.Region{Top: 20, Right: 30, Bottom: 40, Left: 10}
	if got != want {
		t.Errorf("regionFromRect() = %+v, want %+v", got, want)
	}
}
