// Package detector talks to the face detection sidecar. The sidecar wraps a
// face_recognition style model and returns boxes with 128-d embeddings.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/facewatch/internal/face"
)

// DefaultTimeout bounds a single detection request.
const DefaultTimeout = 5 * time.Second

// Client communicates with the detection sidecar over HTTP.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client targeting baseURL. A non-positive timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// BaseURL returns the sidecar address.
func (c *Client) BaseURL() string { return c.baseURL }

// IsRunning returns true if the sidecar answers GET /health with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// detectResponse mirrors the JSON returned by POST /detect.
type detectResponse struct {
	Faces []faceResult `json:"faces"`
}

// faceResult uses the face_recognition convention: loc is [top, right, bottom, left].
type faceResult struct {
	Loc [4]int    `json:"loc"`
	Vec []float64 `json:"vec"`
}

// Detect sends img as JPEG and returns the faces found, with boxes in img's
// coordinate space.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]face.Detected, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	faces := make([]face.Detected, 0, len(dr.Faces))
	for i, f := range dr.Faces {
		if len(f.Vec) == 0 {
			return nil, fmt.Errorf("face %d has no embedding", i)
		}
		top, right, bottom, left := f.Loc[0], f.Loc[1], f.Loc[2], f.Loc[3]
		faces = append(faces, face.Detected{
			Box:       image.Rect(left, top, right, bottom),
			Embedding: f.Vec,
		})
	}
	return faces, nil
}
