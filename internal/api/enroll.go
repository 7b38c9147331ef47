package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/facewatch/internal/face"
	"github.com/kalambet/facewatch/internal/gallery"
)

const maxImageSize = 10 << 20 // 10MB

var errNoImage = errors.New("image_path or image is required")

// EnrollRequest is accepted by POST /api/add_face and the enroll_face tool.
// Exactly one of ImagePath and Image is used; Image wins when both are set.
type EnrollRequest struct {
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
	Image     string `json:"image"` // base64
}

// EnrollResponse mirrors the original dashboard contract.
type EnrollResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func enroll(ctx context.Context, g FaceGallery, req EnrollRequest) (face.Entry, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return face.Entry{}, gallery.ErrEmptyIdentity
	}
	data, err := readEnrollImage(req)
	if err != nil {
		return face.Entry{}, err
	}
	return g.Enroll(ctx, name, data)
}

func readEnrollImage(req EnrollRequest) ([]byte, error) {
	switch {
	case req.Image != "":
		b64 := req.Image
		if i := strings.Index(b64, ","); strings.HasPrefix(b64, "data:") && i > 0 {
			b64 = b64[i+1:]
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 image: %w", err)
		}
		return data, nil
	case req.ImagePath != "":
		f, err := os.Open(req.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("opening image: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxImageSize+1))
		if err != nil {
			return nil, fmt.Errorf("reading image: %w", err)
		}
		if len(data) > maxImageSize {
			return nil, fmt.Errorf("image larger than %d bytes", maxImageSize)
		}
		return data, nil
	default:
		return nil, errNoImage
	}
}

// enrollMessage turns an enroll outcome into a message for the operator.
func enrollMessage(name string, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("Лицо %q успешно добавлено в базу!", name)
	case errors.Is(err, gallery.ErrEmptyIdentity), errors.Is(err, errNoImage):
		return "Необходимо указать имя и изображение"
	case errors.Is(err, gallery.ErrNoFaceFound):
		return "На изображении не найдено лицо"
	case errors.Is(err, gallery.ErrMultipleFaces):
		return "На изображении несколько лиц, нужно фото одного человека"
	case errors.Is(err, gallery.ErrUndecodableImage):
		return "Не удалось прочитать изображение"
	default:
		return fmt.Sprintf("Не удалось добавить лицо: %v", err)
	}
}
