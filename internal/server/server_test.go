package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/gorilla/websocket"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/export"
	"github.com/23skdu/longbow-lens/internal/lenserr"
	"github.com/23skdu/longbow-lens/internal/projection"
	"github.com/23skdu/longbow-lens/internal/session"
	"github.com/23skdu/longbow-lens/internal/trace"
)

const traceBody = `{
	"response": "The cat sat on the mat.",
	"visualization_data": {
		"input_tokens": ["The", " cat"],
		"embeddings": [[1, 0, 0], [0, 1, 0]],
		"attention_heads": [[[1, 0], [0.5, 0.5]]],
		"top_k": [["on", 0.4], ["in", 0.3]],
		"ffn_activations": null
	}
}`

type testPanel struct {
	Generation uint64 `json:"generation"`
	Response   string `json:"response"`
	Sections   []struct {
		Name      string `json:"name"`
		Available bool   `json:"available"`
		Failure   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"failure"`
	} `json:"sections"`
}

func (p testPanel) section(t *testing.T, name string) (available bool, failure string) {
	t.Helper()
	for _, s := range p.Sections {
		if s.Name == name {
			if s.Failure != nil {
				failure = s.Failure.Code
			}
			return s.Available, failure
		}
	}
	t.Fatalf("section %s missing from panel", name)
	return false, ""
}

func newTestServer(t *testing.T, sink export.Sink) (*Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry()
	t.Cleanup(reg.Close)
	return New(config.Default(), reg, nil, sink), reg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func loadedSession(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status %d", w.Code)
	}
	var info SessionInfo
	decode(t, w, &info)

	w = do(t, h, http.MethodPut, "/api/sessions/"+info.ID+"/trace", traceBody)
	if w.Code != http.StatusOK {
		t.Fatalf("put trace: status %d body %s", w.Code, w.Body.String())
	}
	return info.ID
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	for _, path := range []string{"/health", "/healthz", "/readyz", "/version", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			if w := do(t, h, http.MethodGet, path, ""); w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}
		})
	}

	var health HealthStatus
	decode(t, do(t, h, http.MethodGet, "/health", ""), &health)
	if health.Status != "healthy" || health.Version == "" || health.Uptime == "" {
		t.Errorf("unexpected health status: %+v", health)
	}
	if health.Checks["flight"].Message != "disabled" {
		t.Errorf("expected flight disabled, got %+v", health.Checks["flight"])
	}
}

func TestTraceLifecycle(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	id := loadedSession(t, h)

	var p testPanel
	decode(t, do(t, h, http.MethodGet, "/api/sessions/"+id+"/panel", ""), &p)
	if p.Generation != 1 || p.Response != "The cat sat on the mat." {
		t.Errorf("unexpected panel header: generation=%d response=%q", p.Generation, p.Response)
	}

	for _, name := range []string{"tokenization", "attention", "embeddings", "top_k", "generation"} {
		if ok, failure := p.section(t, name); !ok {
			t.Errorf("section %s should be available (failure %q)", name, failure)
		}
	}
	if ok, failure := p.section(t, "ffn"); ok || failure != "" {
		t.Errorf("absent FFN should be hidden without failure, got available=%v failure=%q", ok, failure)
	}

	w := do(t, h, http.MethodDelete, "/api/sessions/"+id+"/trace", "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear: status %d", w.Code)
	}
	p = testPanel{}
	decode(t, do(t, h, http.MethodGet, "/api/sessions/"+id+"/panel", ""), &p)
	if p.Generation != 2 {
		t.Errorf("expected generation 2 after clear, got %d", p.Generation)
	}
	for _, sec := range p.Sections {
		if sec.Available {
			t.Errorf("section %s available after clear", sec.Name)
		}
	}

	if w := do(t, h, http.MethodGet, "/api/sessions/"+id+"/trace", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for cleared trace, got %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/sessions/"+id, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete session: status %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/sessions/"+id+"/panel", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted session, got %d", w.Code)
	}
}

func TestPutTraceErrors(t *testing.T) {
	s, reg := newTestServer(t, nil)
	h := s.Handler()
	sess := reg.Create()

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"not json", "/api/sessions/" + sess.ID + "/trace", "not json", http.StatusBadRequest, string(lenserr.CodeMalformedTrace)},
		{"array body", "/api/sessions/" + sess.ID + "/trace", "[1,2]", http.StatusBadRequest, string(lenserr.CodeMalformedTrace)},
		{"unknown session", "/api/sessions/nope/trace", traceBody, http.StatusNotFound, codeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPut, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
			var resp errorResponse
			decode(t, w, &resp)
			if resp.Error.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, resp.Error.Code)
			}
		})
	}

	if sess.Current().Generation != 0 {
		t.Error("failed uploads must not replace the trace")
	}
}

func TestPutTraceReportsProblems(t *testing.T) {
	s, reg := newTestServer(t, nil)
	h := s.Handler()
	sess := reg.Create()

	body := `{"input_tokens": ["a", "b"], "ffn_activations": [[1, 2], [3]]}`
	w := do(t, h, http.MethodPut, "/api/sessions/"+sess.ID+"/trace", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp ReplaceResponse
	decode(t, w, &resp)
	if resp.Tokens != 2 || resp.Generation != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if _, ok := resp.Problems["ffn_activations"]; !ok {
		t.Errorf("expected ffn_activations problem, got %v", resp.Problems)
	}
}

func TestPutTraceKeepsFieldsBesideABadOne(t *testing.T) {
	s, reg := newTestServer(t, nil)
	h := s.Handler()
	sess := reg.Create()

	body := `{"input_tokens":["The"," cat"],"embeddings":[[1,0],[0,1]],"top_k":[["on",0.4]],"attention_heads":[[1,0],[0.5,0.5]]}`
	w := do(t, h, http.MethodPut, "/api/sessions/"+sess.ID+"/trace", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ReplaceResponse
	decode(t, w, &resp)
	if _, ok := resp.Problems["attention_heads"]; !ok {
		t.Errorf("expected attention_heads problem, got %v", resp.Problems)
	}

	var p testPanel
	decode(t, do(t, h, http.MethodGet, "/api/sessions/"+sess.ID+"/panel", ""), &p)
	if ok, failure := p.section(t, "attention"); ok || failure != string(lenserr.CodeMalformedTrace) {
		t.Errorf("attention should fail as malformed, got available=%v failure=%q", ok, failure)
	}
	for _, name := range []string{"tokenization", "embeddings", "top_k", "generation"} {
		if ok, failure := p.section(t, name); !ok {
			t.Errorf("section %s should be available (failure %q)", name, failure)
		}
	}
}

func TestPanelWithHugeEmbeddings(t *testing.T) {
	s, reg := newTestServer(t, nil)
	h := s.Handler()
	sess := reg.Create()

	body := `{"input_tokens":["a","b","c"],"embeddings":[[1e200,0],[0,1e200],[1e200,1e200]],"top_k":[["x",0.5]]}`
	if w := do(t, h, http.MethodPut, "/api/sessions/"+sess.ID+"/trace", body); w.Code != http.StatusOK {
		t.Fatalf("put: status %d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/api/sessions/"+sess.ID+"/panel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var p testPanel
	decode(t, w, &p)
	for _, name := range []string{"embeddings", "top_k", "tokenization"} {
		if ok, failure := p.section(t, name); !ok {
			t.Errorf("section %s should be available (failure %q)", name, failure)
		}
	}
}

func TestDeleteSessionForgetsProjections(t *testing.T) {
	worker := projection.NewWorker(1)
	defer worker.Close()
	reg := session.NewRegistry()
	t.Cleanup(reg.Close)
	h := New(config.Default(), reg, projection.NewProjector(1, time.Second, worker), nil).Handler()

	id := loadedSession(t, h)
	if got := worker.Scopes(); got != 1 {
		t.Fatalf("expected the session scope to be tracked, got %d", got)
	}
	if w := do(t, h, http.MethodDelete, "/api/sessions/"+id, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", w.Code)
	}
	if got := worker.Scopes(); got != 0 {
		t.Errorf("expected no tracked scopes after delete, got %d", got)
	}
}

func TestPanelSelection(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	id := loadedSession(t, h)

	if w := do(t, h, http.MethodGet, "/api/sessions/"+id+"/panel?head=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric head, got %d", w.Code)
	}

	var p testPanel
	decode(t, do(t, h, http.MethodGet, "/api/sessions/"+id+"/panel?head=5", ""), &p)
	if ok, failure := p.section(t, "attention"); ok || failure != string(lenserr.CodeInvalidSelection) {
		t.Errorf("head out of range: available=%v failure=%q", ok, failure)
	}
	if ok, _ := p.section(t, "top_k"); !ok {
		t.Error("bad head must not affect other sections")
	}
}

func TestSectionEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	id := loadedSession(t, h)

	w := do(t, h, http.MethodGet, "/api/sessions/"+id+"/sections/top_k", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var sec struct {
		Name      string `json:"name"`
		Available bool   `json:"available"`
		View      struct {
			Bars []struct {
				Percent string `json:"percent"`
			} `json:"bars"`
		} `json:"view"`
	}
	decode(t, w, &sec)
	if !sec.Available || len(sec.View.Bars) != 2 || sec.View.Bars[0].Percent != "40.0%" {
		t.Errorf("unexpected top_k section: %+v", sec)
	}

	if w := do(t, h, http.MethodGet, "/api/sessions/"+id+"/sections/bogus", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown section, got %d", w.Code)
	}
}

func TestRenderEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	id := loadedSession(t, h)

	w := do(t, h, http.MethodGet, "/api/sessions/"+id+"/render", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Attention Heatmap Explorer") {
		t.Error("rendered page missing attention chart")
	}
}

func TestExportArrow(t *testing.T) {
	s, reg := newTestServer(t, nil)
	h := s.Handler()
	id := loadedSession(t, h)

	w := do(t, h, http.MethodGet, "/api/sessions/"+id+"/export.arrow", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	rdr, err := ipc.NewReader(w.Body)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer rdr.Release()
	var rows int64
	for rdr.Next() {
		rows += rdr.Record().NumRows()
	}
	if rows != 2 {
		t.Errorf("expected 2 rows, got %d", rows)
	}

	empty := reg.Create()
	if w := do(t, h, http.MethodGet, "/api/sessions/"+empty.ID+"/export.arrow", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without embeddings, got %d", w.Code)
	}
}

func TestPushFlight(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		h := s.Handler()
		id := loadedSession(t, h)
		if w := do(t, h, http.MethodPost, "/api/sessions/"+id+"/push", ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", w.Code)
		}
	})

	t.Run("memory sink", func(t *testing.T) {
		sink := export.NewMemorySink()
		defer sink.Close()
		s, _ := newTestServer(t, sink)
		h := s.Handler()
		id := loadedSession(t, h)
		if w := do(t, h, http.MethodPost, "/api/sessions/"+id+"/push", ""); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if sink.Rows() != 2 {
			t.Errorf("expected 2 rows pushed, got %d", sink.Rows())
		}
	})
}

func TestMiddlewares(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	w := do(t, h, http.MethodOptions, "/api/sessions", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}

	w = do(t, h, http.MethodGet, "/api/sessions", "")
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestCORSOriginList(t *testing.T) {
	m := NewCORSMiddleware([]string{"http://localhost:5173"})
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:5173", "http://localhost:5173"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: got %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestWebSocketEvents(t *testing.T) {
	s, reg := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	sess := reg.Create()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + sess.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "status" {
		t.Fatalf("expected initial status, got %q (%v)", msg.Type, err)
	}

	tr, err := trace.DecodeBytes([]byte(traceBody))
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	sess.Replace(tr)

	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	var ev session.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if msg.Type != "event" || ev.Kind != session.EventReplaced || ev.Generation != 1 {
		t.Errorf("unexpected event %s %+v", msg.Type, ev)
	}

	if err := conn.WriteJSON(WSMessage{Type: "status"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "status" {
		t.Fatalf("expected status reply, got %q (%v)", msg.Type, err)
	}
	var info SessionInfo
	json.Unmarshal(msg.Payload, &info)
	if info.Generation != 1 || len(info.Fields) == 0 {
		t.Errorf("unexpected status %+v", info)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{90 * time.Second, "1m 30s"},
		{26*time.Hour + 5*time.Second, "1d 2h 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
