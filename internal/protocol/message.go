// Package protocol defines the wire messages exchanged between the facegate
// server and its clients, and the codec that frames them on a byte stream.
//
// Every message is a flat JSON object carrying at least "type" and "timestamp"
// (epoch seconds as a float), terminated by a single newline byte.
package protocol

import "time"

// Request types sent by the client.
const (
	TypeRecognizeFace  = "recognize_face"
	TypeCaptureImage   = "capture_image"
	TypeAddKnownFace   = "add_known_face"
	TypeListKnownFaces = "list_known_faces"
	TypePing           = "ping"
	TypeCollectDataset = "collect_dataset"
	TypeTrainModel     = "train_model"
	TypePredict        = "predict"
	TypeClearModel     = "clear_model"
)

// Response types sent by the server.
const (
	TypeWelcome           = "welcome"
	TypeRecognitionResult = "recognition_result"
	TypeImageCaptured     = "image_captured"
	TypeFaceAdded         = "face_added"
	TypeKnownFacesList    = "known_faces_list"
	TypePong              = "pong"
	TypeError             = "error"
	TypeModelTrained      = "model_trained"
	TypeDatasetCollected  = "dataset_collected"
	TypeModelCleared      = "model_cleared"
)

// Now returns the current time as epoch seconds, the timestamp format both
// peers stamp on every message.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Envelope is the part of every message the dispatcher needs before a handler
// unmarshals the full payload.
type Envelope struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// Request covers all client->server payloads. Requests are small enough that
// one struct with optional fields mirrors the wire format exactly.
type Request struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Name      string  `json:"name,omitempty"`
	ImageData string  `json:"image_data,omitempty"` // base64
	Count     int     `json:"count,omitempty"`
}

// NewRequest builds a request carrying only a type.
func NewRequest(msgType string) Request {
	return Request{Type: msgType, Timestamp: Now()}
}

// Region is a face bounding box in pixel coordinates of the source frame.
type Region struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

type Welcome struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message"`
}

func NewWelcome(message string) Welcome {
	return Welcome{Type: TypeWelcome, Timestamp: Now(), Message: message}
}

type RecognitionResult struct {
	Type             string    `json:"type"`
	Timestamp        float64   `json:"timestamp"`
	RecognizedFaces  []string  `json:"recognized_faces"`
	ConfidenceScores []float64 `json:"confidence_scores"`
	FaceLocations    []Region  `json:"face_locations,omitempty"`
	ImageData        string    `json:"image_data,omitempty"` // base64 of the analyzed frame
}

type ImageCaptured struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	ImageData string  `json:"image_data"`
}

type FaceAdded struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message"`
}

type KnownFacesList struct {
	Type      string   `json:"type"`
	Timestamp float64  `json:"timestamp"`
	Faces     []string `json:"faces"`
	Count     int      `json:"count"`
}

type Pong struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

func NewPong() Pong {
	return Pong{Type: TypePong, Timestamp: Now()}
}

type ErrorMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message"`
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Timestamp: Now(), Message: message}
}

type ModelTrained struct {
	Type          string         `json:"type"`
	Timestamp     float64        `json:"timestamp"`
	Success       bool           `json:"success"`
	KnownFaces    []string       `json:"known_faces"`
	DatasetCounts map[string]int `json:"dataset_counts"`
	TotalImages   int            `json:"total_images"`
}

type DatasetCollected struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Saved     int     `json:"saved"`
	Requested int     `json:"requested"`
	Name      string  `json:"name"`
}

type ModelCleared struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message"`
}
