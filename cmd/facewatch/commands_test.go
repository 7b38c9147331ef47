package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/facewatch/internal/api"
	"github.com/kalambet/facewatch/internal/config"
	"github.com/kalambet/facewatch/internal/face"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

// useTestServer points the CLI commands at ts for the duration of the test.
func useTestServer(t *testing.T, ts *testServer) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })
}

func captureFeedback(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig, origColor := feedback, noColor
	feedback, noColor = &buf, true
	t.Cleanup(func() { feedback, noColor = orig, origColor })
	return &buf
}

// resetFlags restores defaults; rootCmd is shared across tests.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

var ctx = context.Background()

func TestEnrollCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/add_face": `{"success":true,"message":"Лицо Alice успешно добавлено"}`,
	})
	useTestServer(t, ts)
	fb := captureFeedback(t)

	img := filepath.Join(t.TempDir(), "alice.jpg")
	if err := os.WriteFile(img, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "enroll", "--name", "Alice", "--image", img); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body api.EnrollRequest
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Name != "Alice" {
		t.Errorf("body.name = %q, want Alice", body.Name)
	}
	if body.Image != base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")) {
		t.Errorf("body.image = %q, want base64 of file", body.Image)
	}
	if !strings.Contains(fb.String(), "Alice") {
		t.Errorf("feedback = %q, want it to mention Alice", fb.String())
	}
}

func TestEnrollCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "enroll", "--name", "Alice")
	if err == nil {
		t.Fatal("expected error for missing --image")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestEnrollCommand_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"success":false,"message":"На изображении не найдено лицо"}`))
	}))
	defer ts.Close()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return &apiClient{baseURL: ts.URL, httpClient: ts.Client()}, nil }
	defer func() { newAPIClient = orig }()

	img := filepath.Join(t.TempDir(), "empty.jpg")
	os.WriteFile(img, []byte("x"), 0o644)

	_, err := execute(t, "enroll", "--name", "Alice", "--image", img)
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 error, got %v", err)
	}
}

func TestAlertsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /alerts": `{"alerts":[{"id":7,"name":"Alice","timestamp":"2026-01-02 10:00:00","image_path":"detected_Alice.jpg","voice_path":"voice_detected_Alice.mp3","location":"Камера 1","distance":0.31}]}`,
	})
	useTestServer(t, ts)
	captureFeedback(t)

	out, err := execute(t, "alerts", "--limit", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/alerts?limit=5" {
		t.Errorf("path = %q, want /alerts?limit=5", ts.requests[0].Path)
	}
	for _, want := range []string{"#7", "Alice", "Камера 1", "d=0.310", "♪"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestAlertsCommand_Identity(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /alerts": `{"alerts":[]}`})
	useTestServer(t, ts)

	if _, err := execute(t, "alerts", "--identity", "Анна Петрова", "--limit", "3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/alerts?identity=%D0%90%D0%BD%D0%BD%D0%B0+%D0%9F%D0%B5%D1%82%D1%80%D0%BE%D0%B2%D0%B0&limit=3"
	if ts.requests[0].Path != want {
		t.Errorf("path = %q, want %q", ts.requests[0].Path, want)
	}
}

func TestAlertsCommand_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /alerts": `{"alerts":[]}`})
	useTestServer(t, ts)

	out, err := execute(t, "alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No alerts.") {
		t.Errorf("output = %q", out)
	}
}

func TestAlertsClearCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/clear_notifications": `{"success":true,"cleared":3}`,
	})
	useTestServer(t, ts)
	fb := captureFeedback(t)

	if _, err := execute(t, "alerts", "clear"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Method != "POST" {
		t.Errorf("method = %q, want POST", ts.requests[0].Method)
	}
	if !strings.Contains(fb.String(), "Cleared 3 alerts") {
		t.Errorf("feedback = %q", fb.String())
	}
}

func TestStatusEndpoint_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/api/status")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestStatusReportDecodes(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/status": `{"recognition":{"state":"streaming","frames":10,"processed":5,"faces":2,"alerts":1,"reconnects":0},"known_faces":4,"active_alerts":1,"total_detections":9,"location":"Камера 1"}`,
	})

	resp, err := ts.client().get(ctx, "/api/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r statusReport
	if err := decodeJSON(resp, &r); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if r.Recognition.State != "streaming" || r.KnownFaces != 4 || r.TotalDetections != 9 {
		t.Errorf("unexpected report: %+v", r)
	}

	fb := captureFeedback(t)
	printStatusReport(config.Config{Server: config.ServerConfig{Port: 5000}}, r)
	if !strings.Contains(fb.String(), "streaming") || !strings.Contains(fb.String(), "port 5000") {
		t.Errorf("feedback = %q", fb.String())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
		w.Write([]byte(`{"error":{"message":"recognition is not running","type":"unavailable"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}

	resp, err := client.get(ctx, "/api/status")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %q, want it to contain '503'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestEntryCounts(t *testing.T) {
	counts := entryCounts([]face.Entry{
		{Identity: "Alice"}, {Identity: "Bob"}, {Identity: "Alice"},
	})
	if len(counts) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(counts))
	}
	if counts[0].Identity != "Alice" || counts[0].Entries != 2 || counts[1].Entries != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}

	var buf bytes.Buffer
	captureFeedback(t)
	printGallery(&buf, nil)
	if !strings.Contains(buf.String(), "empty") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := logLevel(in).String(); got != want {
			t.Errorf("logLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("PID file not removed")
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 5000
	cfg.Alert.Location = "Камера 1"

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "5000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=5000 in ShowAll output")
	}
}

func TestServerMessage(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"recognition is not running","type":"unavailable"}}`, "recognition is not running"},
		{`{"success":false,"message":"На изображении не найдено лицо"}`, "На изображении не найдено лицо"},
		{`not json`, ""},
	}
	for _, tc := range cases {
		if got := serverMessage([]byte(tc.body)); got != tc.want {
			t.Errorf("serverMessage(%s) = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestNoticeGlyphs(t *testing.T) {
	fb := captureFeedback(t)

	printSuccess("saved %d", 2)
	printError("failed")
	printWarning("careful")
	printStep("next")
	printStatus("Port", "%d", 5000)

	want := "✓ saved 2\n✗ failed\n⚠ careful\n→ next\n  Port: 5000\n"
	if fb.String() != want {
		t.Errorf("feedback = %q, want %q", fb.String(), want)
	}
}

func TestQuietLoggerDropsInfo(t *testing.T) {
	fb := captureFeedback(t)

	logger := quietLogger()
	logger.Info("gallery loaded", "entries", 3)
	logger.Warn("gallery storage unreadable, starting empty")

	if strings.Contains(fb.String(), "gallery loaded") {
		t.Errorf("info line leaked: %q", fb.String())
	}
	if !strings.Contains(fb.String(), "gallery storage unreadable") {
		t.Errorf("warning missing: %q", fb.String())
	}
}
