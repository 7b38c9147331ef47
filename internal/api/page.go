package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templatesFS embed.FS

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() *pageRenderer {
	return &pageRenderer{
		tmpl: template.Must(template.ParseFS(templatesFS, "templates/*.html")),
	}
}

type pageData struct {
	Alerts          []AlertView
	TotalDetections int64
	Active          int
	KnownFaces      int
	LastUpdate      string
	Location        string
}

func (p *pageRenderer) cards(alerts []AlertView) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, "cards", alerts); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func handleIndex(deps AppDeps, page *pageRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{
			Alerts:          viewsOf(deps.Alerts.Recent(deps.PageSize)),
			TotalDetections: deps.Alerts.Total(),
			Active:          deps.Alerts.Len(),
			KnownFaces:      len(deps.Gallery.Identities()),
			LastUpdate:      time.Now().Format("15:04:05"),
			Location:        deps.Location,
		}
		var buf bytes.Buffer
		if err := page.tmpl.ExecuteTemplate(&buf, "index.html", data); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rendering page: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}
