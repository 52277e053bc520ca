// Package dataset manages training sample collections on disk. Samples
// live under one subdirectory per person, named after the sanitized
// person name.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeName turns a person name into a safe directory name: diacritics
// stripped, lowercased, spaces and path separators replaced with dashes.
func SanitizeName(name string) string {
	clean, _, err := transform.String(stripDiacritics, name)
	if err != nil {
		clean = name
	}
	clean = strings.ToLower(strings.TrimSpace(clean))
	clean = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '/', r == '\\', r == '.', r == '_', r == '-':
			return '-'
		default:
			return -1
		}
	}, clean)
	return strings.Trim(clean, "-")
}

// Collector writes captured frames into the dataset tree.
type Collector struct {
	dir string
}

func NewCollector(dir string) *Collector {
	return &Collector{dir: dir}
}

// Save stores one JPEG frame for name and returns the file path.
func (c *Collector) Save(name string, frame []byte) (string, error) {
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return "", fmt.Errorf("name %q sanitizes to nothing", name)
	}

	dir := filepath.Join(c.dir, sanitized)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating dataset directory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+".jpg")
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return "", fmt.Errorf("writing sample: %w", err)
	}
	return path, nil
}

func (c *Collector) Dir() string { return c.dir }

// Samples lists the sample files under dir, keyed by person directory
// name. A missing dataset directory yields an empty map.
func Samples(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, err
	}

	samples := make(map[string][]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		personDir := filepath.Join(dir, e.Name())
		files, err := os.ReadDir(personDir)
		if err != nil {
			return nil, err
		}
		var paths []string
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(f.Name())) {
			case ".jpg", ".jpeg", ".png", ".webp":
				paths = append(paths, filepath.Join(personDir, f.Name()))
			}
		}
		if len(paths) > 0 {
			sort.Strings(paths)
			samples[e.Name()] = paths
		}
	}
	return samples, nil
}

// Counts reports how many samples each person has.
func Counts(dir string) (map[string]int, error) {
	samples, err := Samples(dir)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(samples))
	for name, files := range samples {
		counts[name] = len(files)
	}
	return counts, nil
}
