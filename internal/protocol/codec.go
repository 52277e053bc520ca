package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Delimiter terminates every frame on the wire.
const Delimiter byte = '\n'

// ErrMalformedFrame reports a complete segment that did not parse as a
// message. The segment is discarded alone; the caller should keep decoding.
var ErrMalformedFrame = errors.New("malformed frame")

// Encoder writes delimiter-terminated messages to a stream. Safe for
// concurrent use; each message is written in a single call.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals msg and writes it followed by the frame delimiter.
func (e *Encoder) Encode(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	data = append(data, Delimiter)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Decoder reads delimiter-terminated messages from a stream. Partial reads
// accumulate in an internal buffer until a full segment exists, so one
// logical message split across several reads (or several messages landing in
// a single read) decode identically to the same bytes delivered whole. The
// partial segment survives read errors such as deadline timeouts: the next
// Decode call picks up where the stream left off.
type Decoder struct {
	r       *bufio.Reader
	partial bytes.Buffer
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode returns the next message envelope together with the raw segment, so
// the handler selected by type can unmarshal its own payload struct. A
// segment that is not a valid message yields ErrMalformedFrame; the caller
// may continue decoding, the bad segment has already been consumed.
func (d *Decoder) Decode() (Envelope, []byte, error) {
	for {
		chunk, err := d.r.ReadBytes(Delimiter)
		d.partial.Write(chunk)
		if err != nil {
			// No delimiter yet; whatever arrived stays buffered.
			return Envelope{}, nil, err
		}

		segment := bytes.TrimSpace(d.partial.Bytes())
		raw := make([]byte, len(segment))
		copy(raw, segment)
		d.partial.Reset()

		if len(raw) == 0 {
			continue
		}

		var env Envelope
		if uerr := json.Unmarshal(raw, &env); uerr != nil || env.Type == "" {
			return Envelope{}, raw, fmt.Errorf("%w: %s", ErrMalformedFrame, preview(raw))
		}
		return env, raw, nil
	}
}

// preview trims a segment for log-friendly error messages.
func preview(segment []byte) string {
	const limit = 64
	if len(segment) > limit {
		return string(segment[:limit]) + "..."
	}
	return string(segment)
}
