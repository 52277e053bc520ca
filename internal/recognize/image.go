package recognize

import (
	"bytes"
	"fmt"
	"image"
	"net/http"

	"github.com/disintegration/imaging"

	// Enrollment images may arrive in formats beyond what imaging
	// registers on its own.
	_ "golang.org/x/image/webp"
)

// decodeImage parses image bytes into a decoded image.
func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return img, nil
}

// toJPEG normalizes image bytes to JPEG, which is the only format the dlib
// recognizer accepts. JPEG input passes through untouched.
func toJPEG(data []byte) ([]byte, error) {
	if http.DetectContentType(data) == "image/jpeg" {
		return data, nil
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("re-encoding image: %w", err)
	}
	return buf.Bytes(), nil
}
