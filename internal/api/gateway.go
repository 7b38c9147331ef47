package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/facewatch/internal/face"
	"github.com/kalambet/facewatch/internal/gallery"
	"github.com/kalambet/facewatch/internal/notifylog"
	"github.com/kalambet/facewatch/internal/recognition"
)

// AlertLog is the read side of the notification log plus Clear.
type AlertLog interface {
	Recent(n int) []notifylog.Alert
	Get(id int64) (notifylog.Alert, bool)
	Clear() int
	Len() int
	Total() int64
	Subscribe(buffer int) (<-chan notifylog.Alert, func())
}

// FaceGallery is the enrollment surface of the gallery.
type FaceGallery interface {
	Enroll(ctx context.Context, identity string, imageData []byte) (face.Entry, error)
	Len() int
	Identities() []string
}

// LoopView exposes recognition progress.
type LoopView interface {
	Status() recognition.Status
	Snapshot() ([]byte, time.Time, bool)
}

type AppDeps struct {
	Alerts      AlertLog
	History     AlertHistory // optional; lookups fall back to memory when nil
	Gallery     FaceGallery
	Loop        LoopView // optional; status and snapshot return 503 when nil
	EvidenceDir string
	Location    string
	PageSize    int                 // alerts returned by list endpoints, default 50
	Gatherer    prometheus.Gatherer // optional; /metrics is not mounted when nil
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.PageSize <= 0 {
		deps.PageSize = 50
	}
	page := newPageRenderer()

	r := chi.NewRouter()

	r.Get("/", handleIndex(deps, page))
	r.Get("/health", handleHealth)
	r.Get("/alerts", handleAlerts(deps))
	r.Get("/images/{name}", handleArtifact(deps, ".jpg", "image/jpeg"))
	r.Get("/audio/{name}", handleArtifact(deps, ".mp3", "audio/mpeg"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/notifications", handleNotifications(deps, page))
		r.Get("/alerts/{id}", handleAlert(deps))
		r.Post("/add_face", handleAddFace(deps))
		r.Post("/clear_notifications", handleClearNotifications(deps))
		r.Get("/events", handleEvents(deps))
		r.Get("/status", handleStatus(deps))
		r.Get("/snapshot", handleSnapshot(deps))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func handleAlerts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", deps.PageSize, 0)
		if limit == 0 {
			limit = deps.PageSize
		}
		alerts, err := listAlerts(deps.Alerts, deps.History, r.URL.Query().Get("identity"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading alert journal: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"alerts": viewsOf(alerts),
		})
	}
}

type notificationsResponse struct {
	HTML                string      `json:"html"`
	Notifications       []AlertView `json:"notifications"`
	TotalDetections     int64       `json:"total_detections"`
	ActiveNotifications int         `json:"active_notifications"`
	KnownFacesCount     int         `json:"known_faces_count"`
}

func handleNotifications(deps AppDeps, page *pageRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views := viewsOf(deps.Alerts.Recent(deps.PageSize))
		cards, err := page.cards(views)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rendering notifications: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, notificationsResponse{
			HTML:                cards,
			Notifications:       views,
			TotalDetections:     deps.Alerts.Total(),
			ActiveNotifications: deps.Alerts.Len(),
			KnownFacesCount:     len(deps.Gallery.Identities()),
		})
	}
}

func handleAddFace(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req EnrollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, EnrollResponse{Message: "invalid request body: " + err.Error()})
			return
		}

		entry, err := enroll(r.Context(), deps.Gallery, req)
		if err != nil {
			code := http.StatusInternalServerError
			switch {
			case errors.Is(err, gallery.ErrEnrollmentRejected):
				code = http.StatusUnprocessableEntity
			case errors.Is(err, errNoImage), errors.Is(err, os.ErrNotExist):
				code = http.StatusBadRequest
			}
			slog.Warn("enrollment failed", "name", req.Name, "error", err)
			writeJSON(w, code, EnrollResponse{Message: enrollMessage(req.Name, err)})
			return
		}

		slog.Info("face enrolled", "name", entry.Identity, "gallery_size", deps.Gallery.Len())
		writeJSON(w, http.StatusOK, EnrollResponse{Success: true, Message: enrollMessage(entry.Identity, nil)})
	}
}

func handleClearNotifications(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := deps.Alerts.Clear()
		slog.Info("notifications cleared", "count", n)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleared": n})
	}
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Loop == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "recognition is not running")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"recognition":      deps.Loop.Status(),
			"known_faces":      deps.Gallery.Len(),
			"active_alerts":    deps.Alerts.Len(),
			"total_detections": deps.Alerts.Total(),
			"location":         deps.Location,
		})
	}
}

func handleSnapshot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Loop == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "recognition is not running")
			return
		}
		data, at, ok := deps.Loop.Snapshot()
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no frame processed yet")
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
		w.Write(data)
	}
}

// handleArtifact serves a file from the evidence directory. Only plain file
// names with the expected extension are accepted.
func handleArtifact(deps AppDeps, ext, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !validArtifactName(name, ext) {
			httpError(w, http.StatusNotFound, "not_found", "artifact not found")
			return
		}
		path := filepath.Join(deps.EvidenceDir, name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			httpError(w, http.StatusNotFound, "not_found", "artifact not found")
			return
		}
		w.Header().Set("Content-Type", contentType)
		http.ServeFile(w, r, path)
	}
}

func validArtifactName(name, ext string) bool {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ext)
}
