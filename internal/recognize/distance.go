package recognize

import (
	"math"

	"github.com/facegate/facegate/internal/facedb"
)

// EuclideanDistance computes the Euclidean distance between two descriptors.
// Mismatched or empty inputs yield +Inf so they can never win a match.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// matchDescriptor scans the known faces in insertion order and returns the
// name whose encoding is closest to the probe, provided that distance is
// within tolerance. Ties keep the earliest-enrolled entry (strict less-than
// never replaces the incumbent). No match returns UnknownName with zero
// confidence; a match scores max(0, 1-distance).
func matchDescriptor(known []facedb.KnownFace, probe []float32, tolerance float64) (string, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i := range known {
		if len(known[i].Encoding) == 0 {
			continue
		}
		if d := EuclideanDistance(known[i].Encoding, probe); d < bestDist {
			bestDist = d
			best = i
		}
	}

	if best < 0 || bestDist > tolerance {
		return UnknownName, 0
	}
	confidence := 1 - bestDist
	if confidence < 0 {
		confidence = 0
	}
	return known[best].Name, confidence
}
