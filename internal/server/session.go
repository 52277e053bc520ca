package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/facegate/facegate/internal/protocol"
	"github.com/facegate/facegate/internal/recognize"
)

// handlerFunc answers one decoded request with exactly one response message.
type handlerFunc func(sess *session, req protocol.Request) any

// session is one client connection, served entirely by one pool worker.
type session struct {
	srv    *Server
	conn   net.Conn
	remote string
	enc    *protocol.Encoder
	dec    *protocol.Decoder
}

func newSession(conn net.Conn, srv *Server) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		enc:    protocol.NewEncoder(conn),
		dec:    protocol.NewDecoder(conn),
	}
}

func (sess *session) close() {
	_ = sess.conn.Close()
}

// run is the session loop. Reads use a short deadline so the loop can notice
// server shutdown between requests; a timeout is not an error.
func (sess *session) run() {
	defer sess.close()
	sess.srv.register(sess)
	defer sess.srv.unregister(sess)

	if err := sess.send(protocol.NewWelcome(welcomeMessage)); err != nil {
		sess.srv.logger.Warn("welcome write failed", "remote", sess.remote, "error", err)
		return
	}

	for {
		if sess.srv.stop.Load() {
			return
		}

		_ = sess.conn.SetReadDeadline(time.Now().Add(sess.srv.cfg.IdleTimeout))
		env, raw, err := sess.dec.Decode()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, protocol.ErrMalformedFrame):
				sess.srv.logger.Warn("malformed message", "remote", sess.remote, "error", err)
				if err := sess.send(protocol.NewError("invalid message format")); err != nil {
					return
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				return
			default:
				sess.srv.logger.Warn("read failed", "remote", sess.remote, "error", err)
				return
			}
		}

		if err := sess.handle(env, raw); err != nil {
			sess.srv.logger.Warn("write failed", "remote", sess.remote, "error", err)
			return
		}
	}
}

// handle dispatches one message and writes the single response. The returned
// error is a transport failure; handler-level problems become error messages
// on the wire and the session continues.
func (sess *session) handle(env protocol.Envelope, raw []byte) error {
	handler, ok := sess.srv.handlers[env.Type]
	if !ok {
		sess.srv.logger.Warn("unrecognized message type", "remote", sess.remote, "type", env.Type)
		return sess.send(protocol.NewError(fmt.Sprintf("unrecognized message type: %s", env.Type)))
	}

	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return sess.send(protocol.NewError("invalid message format"))
	}

	sess.srv.logger.Debug("handling request", "remote", sess.remote, "type", env.Type)
	return sess.send(handler(sess, req))
}

func (sess *session) send(msg any) error {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sess.enc.Encode(msg)
}

func (s *Server) handlePing(sess *session, req protocol.Request) any {
	return protocol.NewPong()
}

func (s *Server) handleRecognizeFace(sess *session, req protocol.Request) any {
	frame, err := s.capture(context.Background())
	if err != nil {
		s.logger.Error("frame capture failed", "remote", sess.remote, "error", err)
		return protocol.NewError("failed to capture image from camera")
	}

	results, err := s.svc.Recognize(frame)
	if err != nil {
		s.logger.Error("recognition failed", "remote", sess.remote, "error", err)
		return protocol.NewError("face recognition failed")
	}

	resp := protocol.RecognitionResult{
		Type:             protocol.TypeRecognitionResult,
		Timestamp:        protocol.Now(),
		RecognizedFaces:  make([]string, 0, len(results)),
		ConfidenceScores: make([]float64, 0, len(results)),
		FaceLocations:    make([]protocol.Region, 0, len(results)),
		ImageData:        base64.StdEncoding.EncodeToString(frame),
	}
	for _, r := range results {
		resp.RecognizedFaces = append(resp.RecognizedFaces, r.Name)
		resp.ConfidenceScores = append(resp.ConfidenceScores, r.Confidence)
		resp.FaceLocations = append(resp.FaceLocations, protocol.Region(r.Region))
	}
	return resp
}

func (s *Server) handleCaptureImage(sess *session, req protocol.Request) any {
	frame, err := s.capture(context.Background())
	if err != nil {
		s.logger.Error("frame capture failed", "remote", sess.remote, "error", err)
		return protocol.NewError("failed to capture image from camera")
	}
	return protocol.ImageCaptured{
		Type:      protocol.TypeImageCaptured,
		Timestamp: protocol.Now(),
		ImageData: base64.StdEncoding.EncodeToString(frame),
	}
}

func (s *Server) handleAddKnownFace(sess *session, req protocol.Request) any {
	if req.Name == "" || req.ImageData == "" {
		return protocol.NewError("name and image_data are required")
	}

	img, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil {
		return protocol.NewError("image_data is not valid base64")
	}

	added, err := s.svc.AddKnownFace(req.Name, img)
	if err != nil {
		if errors.Is(err, recognize.ErrBadImage) {
			return protocol.NewError("image could not be decoded")
		}
		s.logger.Error("enrollment failed", "remote", sess.remote, "name", req.Name, "error", err)
		return protocol.NewError("failed to store the face")
	}
	if !added {
		return protocol.NewError("no face found in the provided image")
	}

	return protocol.FaceAdded{
		Type:      protocol.TypeFaceAdded,
		Timestamp: protocol.Now(),
		Message:   fmt.Sprintf("Face for %s added successfully", req.Name),
	}
}

func (s *Server) handleListKnownFaces(sess *session, req protocol.Request) any {
	names := s.svc.KnownNames()
	return protocol.KnownFacesList{
		Type:      protocol.TypeKnownFacesList,
		Timestamp: protocol.Now(),
		Faces:     names,
		Count:     len(names),
	}
}

const maxDatasetBatch = 100

func (s *Server) handleCollectDataset(sess *session, req protocol.Request) any {
	if req.Name == "" {
		return protocol.NewError("name is required")
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > maxDatasetBatch {
		count = maxDatasetBatch
	}

	saved := 0
	for i := 0; i < count; i++ {
		frame, err := s.capture(context.Background())
		if err != nil {
			s.logger.Warn("dataset capture failed", "name", req.Name, "error", err)
			break
		}
		results, err := s.svc.Recognize(frame)
		if err != nil || len(results) == 0 {
			continue
		}
		if _, err := s.collector.Save(req.Name, frame); err != nil {
			s.logger.Error("dataset sample write failed", "name", req.Name, "error", err)
			return protocol.NewError("failed to save dataset samples")
		}
		saved++
	}

	return protocol.DatasetCollected{
		Type:      protocol.TypeDatasetCollected,
		Timestamp: protocol.Now(),
		Saved:     saved,
		Requested: count,
		Name:      req.Name,
	}
}

func (s *Server) handleTrainModel(sess *session, req protocol.Request) any {
	report, err := s.svc.TrainFromDataset(s.collector.Dir())
	if err != nil {
		s.logger.Error("training failed", "remote", sess.remote, "error", err)
		return protocol.NewError("training from dataset failed")
	}
	return protocol.ModelTrained{
		Type:          protocol.TypeModelTrained,
		Timestamp:     protocol.Now(),
		Success:       true,
		KnownFaces:    report.KnownFaces,
		DatasetCounts: report.DatasetCounts,
		TotalImages:   report.TotalImages,
	}
}

func (s *Server) handleClearModel(sess *session, req protocol.Request) any {
	if err := s.svc.ClearAll(); err != nil {
		s.logger.Error("clearing known faces failed", "remote", sess.remote, "error", err)
		return protocol.NewError("failed to clear known faces")
	}
	return protocol.ModelCleared{
		Type:      protocol.TypeModelCleared,
		Timestamp: protocol.Now(),
		Message:   "all known faces cleared",
	}
}
