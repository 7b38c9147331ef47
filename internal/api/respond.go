package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kalambet/facewatch/internal/notifylog"
)

const maxRequestBodySize = 16 << 20 // 16MB, room for a base64 photo

// displayTime is the layout used for human-facing timestamps.
const displayTime = "2006-01-02 15:04:05"

// AlertView is the wire shape of an alert.
type AlertView struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Timestamp  string    `json:"timestamp"`
	DetectedAt time.Time `json:"detected_at"`
	ImagePath  string    `json:"image_path"`
	VoicePath  string    `json:"voice_path,omitempty"`
	Location   string    `json:"location"`
	Distance   float64   `json:"distance"`
}

func viewOf(a notifylog.Alert) AlertView {
	return AlertView{
		ID:         a.ID,
		Name:       a.Identity,
		Timestamp:  a.Timestamp.Local().Format(displayTime),
		DetectedAt: a.Timestamp,
		ImagePath:  a.ImageRef,
		VoicePath:  a.AudioRef,
		Location:   a.Location,
		Distance:   a.Distance,
	}
}

func viewsOf(alerts []notifylog.Alert) []AlertView {
	out := make([]AlertView, len(alerts))
	for i, a := range alerts {
		out[i] = viewOf(a)
	}
	return out
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
