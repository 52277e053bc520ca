package client

import (
	"bytes"
	"encoding/base64"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/protocol"
)

// stubServer accepts one connection, sends a welcome and echoes canned
// responses per request type.
type stubServer struct {
	t         *testing.T
	ln        net.Listener
	responses map[string]any
}

func newStubServer(t *testing.T, responses map[string]any) *stubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	s := &stubServer{t: t, ln: ln, responses: responses}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *stubServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)
	_ = enc.Encode(protocol.NewWelcome("hello"))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		env, _, err := dec.Decode()
		if err != nil {
			return
		}
		if resp, ok := s.responses[env.Type]; ok {
			if err := enc.Encode(resp); err != nil {
				return
			}
		}
	}
}

func (s *stubServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// syncWriter guards the output buffer against the receive loop.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func newTestClient(t *testing.T, srv *stubServer) (*Client, *syncWriter) {
	t.Helper()
	out := &syncWriter{}
	cfg := config.ClientConfig{
		Host:        "127.0.0.1",
		Port:        srv.port(),
		SaveDir:     t.TempDir(),
		IdleTimeout: 50 * time.Millisecond,
		JoinTimeout: 2 * time.Second,
	}
	c := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), out)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c, out
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientReceivesWelcome(t *testing.T) {
	srv := newStubServer(t, nil)
	_, out := newTestClient(t, srv)

	waitFor(t, func() bool {
		return strings.Contains(out.String(), "hello")
	}, "welcome message")
}

func TestClientPingPong(t *testing.T) {
	srv := newStubServer(t, map[string]any{
		protocol.TypePing: protocol.NewPong(),
	})
	c, _ := newTestClient(t, srv)

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	waitFor(t, func() bool { return c.Pongs() == 1 }, "pong")
}

func TestClientRecordsRecognitionResult(t *testing.T) {
	srv := newStubServer(t, map[string]any{
		protocol.TypeRecognizeFace: protocol.RecognitionResult{
			Type:             protocol.TypeRecognitionResult,
			Timestamp:        protocol.Now(),
			RecognizedFaces:  []string{"alice"},
			ConfidenceScores: []float64{0.91},
		},
	})
	c, out := newTestClient(t, srv)

	if err := c.RequestRecognition(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return c.LastResult() != nil }, "recognition result")

	res := c.LastResult()
	if len(res.RecognizedFaces) != 1 || res.RecognizedFaces[0] != "alice" {
		t.Errorf("faces = %v, want [alice]", res.RecognizedFaces)
	}
	if !strings.Contains(out.String(), "alice") {
		t.Error("output does not mention the recognized name")
	}
}

func TestClientPredictGetsRecognitionResult(t *testing.T) {
	srv := newStubServer(t, map[string]any{
		protocol.TypePredict: protocol.RecognitionResult{
			Type:             protocol.TypeRecognitionResult,
			Timestamp:        protocol.Now(),
			RecognizedFaces:  []string{"bob"},
			ConfidenceScores: []float64{0.77},
		},
	})
	c, _ := newTestClient(t, srv)

	if err := c.Predict(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return c.LastResult() != nil }, "predict result")

	res := c.LastResult()
	if len(res.RecognizedFaces) != 1 || res.RecognizedFaces[0] != "bob" {
		t.Errorf("faces = %v, want [bob]", res.RecognizedFaces)
	}
}

func TestClientRecordsKnownFaces(t *testing.T) {
	srv := newStubServer(t, map[string]any{
		protocol.TypeListKnownFaces: protocol.KnownFacesList{
			Type:      protocol.TypeKnownFacesList,
			Timestamp: protocol.Now(),
			Faces:     []string{"alice", "bob"},
			Count:     2,
		},
	})
	c, _ := newTestClient(t, srv)

	if err := c.ListKnownFaces(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(c.LastFaces()) == 2 }, "face list")
}

func TestClientSavesCapturedImage(t *testing.T) {
	srv := newStubServer(t, map[string]any{
		protocol.TypeCaptureImage: protocol.ImageCaptured{
			Type:      protocol.TypeImageCaptured,
			Timestamp: protocol.Now(),
			ImageData: base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
		},
	})
	c, out := newTestClient(t, srv)

	if err := c.RequestCapture(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		return strings.Contains(out.String(), "image saved to")
	}, "saved image notice")
}

func TestClientPrintsServerError(t *testing.T) {
	srv := newStubServer(t, map[string]any{
		protocol.TypeTrainModel: protocol.NewError("training from dataset failed"),
	})
	c, out := newTestClient(t, srv)

	if err := c.TrainModel(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		return strings.Contains(out.String(), "training from dataset failed")
	}, "error output")
}

func TestClientSendAfterDisconnect(t *testing.T) {
	srv := newStubServer(t, nil)
	c, _ := newTestClient(t, srv)

	c.Disconnect()
	if err := c.Ping(); err == nil {
		t.Error("Ping() after disconnect should fail")
	}
}

func TestClientDisconnectIsIdempotent(t *testing.T) {
	srv := newStubServer(t, nil)
	c, _ := newTestClient(t, srv)

	c.Disconnect()
	c.Disconnect()
	if c.Connected() {
		t.Error("Connected() = true after disconnect")
	}
}
