package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/logger"
	"portfolio-optimizer/internal/media"
	"portfolio-optimizer/internal/optimizer"
	"portfolio-optimizer/internal/statistics"

	"github.com/gorilla/websocket"
)

// stubCompressor reports every file as already small. When release is set
// it announces each call on entered and blocks until release is closed.
type stubCompressor struct {
	kind    media.Kind
	entered chan string
	release chan struct{}
}

func (s *stubCompressor) Compress(ctx context.Context, path string) compressor.CompressionResult {
	if s.release != nil {
		s.entered <- path
		<-s.release
	}
	info, _ := os.Stat(path)
	return compressor.CompressionResult{
		InputPath:    path,
		Kind:         s.kind,
		OriginalSize: info.Size(),
		NewSize:      info.Size(),
		Outcome:      compressor.OutcomeSkipped,
		TargetMet:    true,
	}
}

func newTestServer(t *testing.T, release chan struct{}) (*Server, string) {
	s, root, _ := newBlockingServer(t, release)
	return s, root
}

func newBlockingServer(t *testing.T, release chan struct{}) (*Server, string, chan string) {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"a.jpg", "b.png", "clip.mp4"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.RootDirectory = root
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	log := logger.Discard()
	entered := make(chan string, 8)
	factory := func(c *config.Config, stats *statistics.Statistics, hook optimizer.LogHookFunc) *optimizer.Optimizer {
		images := &stubCompressor{kind: media.KindImage, entered: entered, release: release}
		videos := &stubCompressor{kind: media.KindVideo, entered: entered, release: release}
		return optimizer.NewOptimizerWithLogHook(c, log, stats, images, videos, hook)
	}
	return NewServer(cfg, log, factory, nil), root, entered
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return resp
}

func do(s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusIdle(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	resp := decode(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["running"] != false {
		t.Errorf("running = %v, want false", data["running"])
	}
}

func TestOptimizeRunsAndStoresResults(t *testing.T) {
	s, root := newTestServer(t, nil)

	rec := do(s, http.MethodPost, "/api/optimize", OptimizeRequest{Directory: root})
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", rec.Code, rec.Body.String())
	}
	s.Wait()

	rec = do(s, http.MethodGet, "/api/results", nil)
	data := decode(t, rec).Data.(map[string]interface{})
	if data["mode"] != optimizer.ModeOptimize {
		t.Errorf("mode = %v", data["mode"])
	}
	results, _ := data["results"].([]interface{})
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
}

func TestScanReportsPlan(t *testing.T) {
	s, root := newTestServer(t, nil)

	rec := do(s, http.MethodPost, "/api/scan", ScanRequest{Directory: root})
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	s.Wait()

	data := decode(t, do(s, http.MethodGet, "/api/results", nil)).Data.(map[string]interface{})
	if data["mode"] != optimizer.ModeScan {
		t.Errorf("mode = %v", data["mode"])
	}
	planned, _ := data["planned"].([]interface{})
	if len(planned) != 3 {
		t.Errorf("got %d planned files, want 3", len(planned))
	}
}

func TestScanDefaultsToExpandedRoot(t *testing.T) {
	s, root := newTestServer(t, nil)
	t.Setenv("PORTFOLIO_MEDIA_ROOT", root)
	s.cfg.RootDirectory = "$PORTFOLIO_MEDIA_ROOT"

	rec := do(s, http.MethodPost, "/api/scan", ScanRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", rec.Code, rec.Body.String())
	}
	s.Wait()

	data := decode(t, do(s, http.MethodGet, "/api/results", nil)).Data.(map[string]interface{})
	planned, _ := data["planned"].([]interface{})
	if len(planned) != 3 {
		t.Errorf("got %d planned files, want 3", len(planned))
	}
}

func TestSecondRunRejectedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	s, root := newTestServer(t, release)

	if rec := do(s, http.MethodPost, "/api/optimize", OptimizeRequest{Directory: root}); rec.Code != http.StatusOK {
		t.Fatalf("first run: status code = %d", rec.Code)
	}

	rec := do(s, http.MethodPost, "/api/optimize", OptimizeRequest{Directory: root})
	if rec.Code != http.StatusConflict {
		t.Errorf("second run: status code = %d, want %d", rec.Code, http.StatusConflict)
	}

	status := decode(t, do(s, http.MethodGet, "/api/status", nil)).Data.(map[string]interface{})
	if status["running"] != true {
		t.Errorf("running = %v, want true", status["running"])
	}

	close(release)
	s.Wait()
}

func TestStopFinishesCurrentFile(t *testing.T) {
	release := make(chan struct{})
	s, root, entered := newBlockingServer(t, release)

	do(s, http.MethodPost, "/api/optimize", OptimizeRequest{Directory: root})
	<-entered
	if rec := do(s, http.MethodPost, "/api/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("stop: status code = %d", rec.Code)
	}
	close(release)
	s.Wait()

	data := decode(t, do(s, http.MethodGet, "/api/results", nil)).Data.(map[string]interface{})
	results, _ := data["results"].([]interface{})
	if len(results) != 1 {
		t.Errorf("got %d results after stop, want 1", len(results))
	}
}

func TestOptimizeRejectsMissingDirectory(t *testing.T) {
	s, root := newTestServer(t, nil)

	rec := do(s, http.MethodPost, "/api/optimize", OptimizeRequest{Directory: filepath.Join(root, "missing")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: status code = %d", rec.Code)
	}
}

func TestListDirectories(t *testing.T) {
	s, root := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/api/directories?path="+root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	entries, _ := decode(t, rec).Data.([]interface{})
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}

	rec = do(s, http.MethodGet, "/api/directories?path=../etc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("traversal: status code = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected default Go collectors in exposition")
	}
}

func TestWebSocketReceivesRunEvents(t *testing.T) {
	s, root := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the client to be registered before starting the run.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.wsMutex.Lock()
		n := len(s.wsClients)
		s.wsMutex.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	body, _ := json.Marshal(OptimizeRequest{Directory: root})
	resp, err := http.Post(ts.URL+"/api/optimize", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	seen := map[string]int{}
	var completed map[string]interface{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for seen["run_completed"] == 0 {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		seen[msg.Type]++
		if msg.Type == "run_completed" {
			completed, _ = msg.Data.(map[string]interface{})
		}
	}

	if completed["failed"] != float64(0) {
		t.Errorf("failed = %v, want 0", completed["failed"])
	}

	if seen["run_started"] != 1 {
		t.Errorf("run_started = %d, want 1", seen["run_started"])
	}
	if seen["file_processed"] != 3 {
		t.Errorf("file_processed = %d, want 3", seen["file_processed"])
	}
}
