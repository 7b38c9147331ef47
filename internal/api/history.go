package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/facewatch/internal/notifylog"
	"github.com/kalambet/facewatch/internal/storage"
)

// AlertHistory is the journal, which keeps alerts that were cleared from or
// rotated out of the in-memory log.
type AlertHistory interface {
	GetAlert(id int64) (storage.Alert, error)
	AlertsByIdentity(identity string, limit int) ([]storage.Alert, error)
}

// findAlert checks memory first, then the journal.
func findAlert(log AlertLog, h AlertHistory, id int64) (notifylog.Alert, bool, error) {
	if a, ok := log.Get(id); ok {
		return a, true, nil
	}
	if h == nil {
		return notifylog.Alert{}, false, nil
	}
	a, err := h.GetAlert(id)
	if errors.Is(err, storage.ErrNotFound) {
		return notifylog.Alert{}, false, nil
	}
	if err != nil {
		return notifylog.Alert{}, false, err
	}
	return notifylog.FromStorage(a), true, nil
}

// listAlerts returns up to limit alerts, newest first. A non-empty identity
// reads from the journal when there is one.
func listAlerts(log AlertLog, h AlertHistory, identity string, limit int) ([]notifylog.Alert, error) {
	if identity == "" {
		return log.Recent(limit), nil
	}
	if h == nil {
		var out []notifylog.Alert
		for _, a := range log.Recent(0) {
			if a.Identity != identity {
				continue
			}
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
		return out, nil
	}
	rows, err := h.AlertsByIdentity(identity, limit)
	if err != nil {
		return nil, err
	}
	out := make([]notifylog.Alert, len(rows))
	for i, a := range rows {
		out[i] = notifylog.FromStorage(a)
	}
	return out, nil
}

func handleAlert(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "alert id must be a positive integer")
			return
		}
		a, ok, err := findAlert(deps.Alerts, deps.History, id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading alert journal: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "alert %d not found", id)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(a))
	}
}
