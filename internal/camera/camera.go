// Package camera provides frame sources for the recognition server. The
// only implementation reads image files from a directory, standing in for
// a hardware camera in deployments and tests alike.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// ErrNoFrame reports that the source has no frame to offer.
var ErrNoFrame = errors.New("no frame available")

// Camera produces JPEG frames. Capture may block, so it takes a context.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// DirCamera cycles through the image files of a directory, returning one
// per Capture call and wrapping around at the end. The directory is scanned
// once per capture so files added at runtime are picked up.
type DirCamera struct {
	mu   sync.Mutex
	dir  string
	next int
}

func NewDirCamera(dir string) *DirCamera {
	return &DirCamera{dir: dir}
}

func (c *DirCamera) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	frames, err := c.listFrames()
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrNoFrame, c.dir)
	}

	if c.next >= len(frames) {
		c.next = 0
	}
	path := frames[c.next]
	c.next++

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("encoding frame %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

func (c *DirCamera) listFrames() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoFrame, c.dir)
		}
		return nil, err
	}

	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".webp":
			frames = append(frames, filepath.Join(c.dir, e.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}

func (c *DirCamera) Close() error { return nil }
