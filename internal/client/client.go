// Package client implements the interactive peer of the recognition
// service: it sends requests, and a background loop receives and renders
// whatever the server pushes back.
package client

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/protocol"
)

// ErrNotConnected reports a request on a client without a live connection.
var ErrNotConnected = errors.New("not connected")

const dialTimeout = 10 * time.Second

type handlerFunc func(raw []byte)

// Client is one connection to the recognition server. Requests go out from
// the caller's goroutine; responses arrive on the receive loop and are
// printed to out and recorded for inspection.
type Client struct {
	cfg    config.ClientConfig
	logger *slog.Logger
	out    io.Writer

	conn      net.Conn
	enc       *protocol.Encoder
	connected atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	handlers map[string]handlerFunc

	mu         sync.Mutex
	lastResult *protocol.RecognitionResult
	lastFaces  []string
	pongs      int
}

func New(cfg config.ClientConfig, logger *slog.Logger, out io.Writer) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logger,
		out:    out,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.handlers = map[string]handlerFunc{
		protocol.TypeWelcome:           c.onWelcome,
		protocol.TypeRecognitionResult: c.onRecognitionResult,
		protocol.TypeImageCaptured:     c.onImageCaptured,
		protocol.TypeFaceAdded:         c.onFaceAdded,
		protocol.TypeKnownFacesList:    c.onKnownFacesList,
		protocol.TypePong:              c.onPong,
		protocol.TypeError:             c.onError,
		protocol.TypeModelTrained:      c.onModelTrained,
		protocol.TypeDatasetCollected:  c.onDatasetCollected,
		protocol.TypeModelCleared:      c.onModelCleared,
	}
	return c
}

// Connect dials the server and starts the receive loop.
func (c *Client) Connect() error {
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}

	c.conn = conn
	c.enc = protocol.NewEncoder(conn)
	c.connected.Store(true)
	go c.receiveLoop()

	c.logger.Info("connected", "addr", addr)
	return nil
}

// Disconnect signals the receive loop, waits briefly for it to drain, then
// closes the connection either way.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.stop)
		select {
		case <-c.done:
		case <-time.After(c.cfg.JoinTimeout):
			c.logger.Warn("receive loop did not stop in time")
		}
		c.connected.Store(false)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.logger.Info("disconnected")
	})
}

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) receiveLoop() {
	defer close(c.done)
	dec := protocol.NewDecoder(c.conn)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		env, raw, err := dec.Decode()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, protocol.ErrMalformedFrame):
				c.logger.Warn("malformed message from server", "error", err)
				continue
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				c.logger.Warn("server closed the connection")
				c.connected.Store(false)
				return
			default:
				c.logger.Error("receive failed", "error", err)
				c.connected.Store(false)
				return
			}
		}

		if handler, ok := c.handlers[env.Type]; ok {
			handler(raw)
		} else {
			fmt.Fprintf(c.out, "received %s message\n", env.Type)
		}
	}
}

func (c *Client) send(msg any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.enc.Encode(msg)
}

// Ping asks the server for a liveness response.
func (c *Client) Ping() error {
	return c.send(protocol.NewRequest(protocol.TypePing))
}

// RequestRecognition asks the server to capture a frame and recognize it.
func (c *Client) RequestRecognition() error {
	return c.send(protocol.NewRequest(protocol.TypeRecognizeFace))
}

// Predict is the alias request for recognition kept for older clients.
func (c *Client) Predict() error {
	return c.send(protocol.NewRequest(protocol.TypePredict))
}

// RequestCapture asks for a raw camera frame.
func (c *Client) RequestCapture() error {
	return c.send(protocol.NewRequest(protocol.TypeCaptureImage))
}

// AddKnownFace enrolls a face from a local image file.
func (c *Client) AddKnownFace(name, imagePath string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", imagePath, err)
	}
	req := protocol.NewRequest(protocol.TypeAddKnownFace)
	req.Name = name
	req.ImageData = base64.StdEncoding.EncodeToString(data)
	return c.send(req)
}

// ListKnownFaces asks for the enrolled names.
func (c *Client) ListKnownFaces() error {
	return c.send(protocol.NewRequest(protocol.TypeListKnownFaces))
}

// CollectDataset asks the server to record count training samples for name.
func (c *Client) CollectDataset(name string, count int) error {
	req := protocol.NewRequest(protocol.TypeCollectDataset)
	req.Name = name
	req.Count = count
	return c.send(req)
}

// TrainModel asks the server to re-enroll everyone from the dataset tree.
func (c *Client) TrainModel() error {
	return c.send(protocol.NewRequest(protocol.TypeTrainModel))
}

// ClearModel asks the server to forget every enrolled face.
func (c *Client) ClearModel() error {
	return c.send(protocol.NewRequest(protocol.TypeClearModel))
}

func (c *Client) onWelcome(raw []byte) {
	var msg protocol.Welcome
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	fmt.Fprintf(c.out, "server: %s\n", msg.Message)
}

func (c *Client) onRecognitionResult(raw []byte) {
	var msg protocol.RecognitionResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	c.mu.Lock()
	c.lastResult = &msg
	c.mu.Unlock()

	if len(msg.RecognizedFaces) == 0 {
		fmt.Fprintln(c.out, "no faces detected")
	}
	for i, name := range msg.RecognizedFaces {
		confidence := 0.0
		if i < len(msg.ConfidenceScores) {
			confidence = msg.ConfidenceScores[i]
		}
		fmt.Fprintf(c.out, "recognized: %s (confidence %.2f)\n", name, confidence)
	}

	if msg.ImageData != "" {
		if path, err := c.saveImage("recognition", msg.ImageData); err == nil {
			fmt.Fprintf(c.out, "frame saved to %s\n", path)
		} else {
			c.logger.Warn("saving frame failed", "error", err)
		}
	}
}

func (c *Client) onImageCaptured(raw []byte) {
	var msg protocol.ImageCaptured
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	path, err := c.saveImage("capture", msg.ImageData)
	if err != nil {
		c.logger.Warn("saving capture failed", "error", err)
		fmt.Fprintln(c.out, "image received but could not be saved")
		return
	}
	fmt.Fprintf(c.out, "image saved to %s\n", path)
}

func (c *Client) onFaceAdded(raw []byte) {
	var msg protocol.FaceAdded
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	fmt.Fprintln(c.out, msg.Message)
}

func (c *Client) onKnownFacesList(raw []byte) {
	var msg protocol.KnownFacesList
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	c.mu.Lock()
	c.lastFaces = msg.Faces
	c.mu.Unlock()

	fmt.Fprintf(c.out, "known faces (%d):\n", msg.Count)
	for _, name := range msg.Faces {
		fmt.Fprintf(c.out, "  - %s\n", name)
	}
}

func (c *Client) onPong(raw []byte) {
	c.mu.Lock()
	c.pongs++
	c.mu.Unlock()
	fmt.Fprintln(c.out, "pong")
}

func (c *Client) onError(raw []byte) {
	var msg protocol.ErrorMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	fmt.Fprintf(c.out, "server error: %s\n", msg.Message)
}

func (c *Client) onModelTrained(raw []byte) {
	var msg protocol.ModelTrained
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	fmt.Fprintf(c.out, "training finished: %d images across %d people\n", msg.TotalImages, len(msg.DatasetCounts))
}

func (c *Client) onDatasetCollected(raw []byte) {
	var msg protocol.DatasetCollected
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	fmt.Fprintf(c.out, "collected %d/%d samples for %s\n", msg.Saved, msg.Requested, msg.Name)
}

func (c *Client) onModelCleared(raw []byte) {
	var msg protocol.ModelCleared
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	fmt.Fprintln(c.out, msg.Message)
}

func (c *Client) saveImage(prefix, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding image data: %w", err)
	}
	if err := os.MkdirAll(c.cfg.SaveDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(c.cfg.SaveDir, fmt.Sprintf("%s_%d.jpg", prefix, time.Now().UnixNano()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// LastResult returns the most recent recognition result, or nil.
func (c *Client) LastResult() *protocol.RecognitionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// LastFaces returns the names from the most recent list response.
func (c *Client) LastFaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lastFaces...)
}

// Pongs returns how many pong responses have arrived.
func (c *Client) Pongs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pongs
}
