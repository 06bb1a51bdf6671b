package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"pulseboard/internal/logging"
	"pulseboard/internal/telemetry"
	"pulseboard/internal/telemetry/metrics"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "192.168.1.1"}, "10.0.0.9:1234", "192.168.1.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 192.168.1.1 , 10.0.0.1"}, "", "192.168.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "192.168.1.2"}, "10.0.0.9:1234", "192.168.1.2"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "192.168.1.1", "X-Real-IP": "192.168.1.2"}, "", "192.168.1.1"},
		{"remote addr", nil, "192.168.1.3:12345", "192.168.1.3"},
		{"remote ipv6", nil, "[::1]:80", "::1"},
		{"remote without port", nil, "192.168.1.4", "192.168.1.4"},
		{"whitespace only", map[string]string{"X-Forwarded-For": "   "}, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "json", slog.LevelInfo)
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(chimw.RequestID, AccessLog(logger, m))
	r.Get("/signals/{id}", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signals/7", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf.String())
	}
	var inner, access map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &inner)
	_ = json.Unmarshal([]byte(lines[1]), &access)
	if inner["request_id"] == nil || inner["request_id"] != access["request_id"] {
		t.Errorf("request id not propagated: %v / %v", inner["request_id"], access["request_id"])
	}
	if access["route"] != "/signals/{id}" || access["status"] != float64(http.StatusTeapot) {
		t.Errorf("access record = %v", access)
	}
	n, err := testutil.GatherAndCount(m.Registry(), "pulseboard_http_requests_total")
	if err != nil || n != 1 {
		t.Errorf("request series = %d, %v", n, err)
	}
}

type chanEmitter chan *telemetry.Event

func (c chanEmitter) Emit(_ context.Context, e *telemetry.Event) error {
	c <- e
	return nil
}

func TestTelemetry(t *testing.T) {
	events := make(chanEmitter, 2)
	r := chi.NewRouter()
	r.Use(Telemetry(events, map[string]bool{"/health": true}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})
	r.Post("/signals", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	req := httptest.NewRequest(http.MethodPost, "/signals", nil)
	req.Header.Set("X-Real-IP", "192.168.1.2")
	r.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case e := <-events:
		if e.EventType != telemetry.EventHTTPRequest {
			t.Errorf("event type = %q", e.EventType)
		}
		var md httpRequestMetadata
		if err := json.Unmarshal(e.Metadata, &md); err != nil {
			t.Fatal(err)
		}
		if md.Route != "/signals" || md.StatusCode != http.StatusCreated || md.ClientIP != "192.168.1.2" || md.Method != http.MethodPost {
			t.Errorf("metadata = %+v", md)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}
	select {
	case e := <-events:
		t.Errorf("skipped path emitted %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTelemetry_NilEmitter(t *testing.T) {
	called := false
	h := Telemetry(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("next not called")
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }))

	post := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/signals", nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := range 2 {
		if rec := post("10.0.0.1"); rec.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d, want 201 within burst", i, rec.Code)
		}
	}
	rec := post("10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if !strings.Contains(rec.Body.String(), `"detail":"rate limit exceeded"`) {
		t.Errorf("body = %s", rec.Body)
	}

	if rec := post("10.0.0.2"); rec.Code != http.StatusCreated {
		t.Errorf("other client limited: %d", rec.Code)
	}

	get := httptest.NewRequest(http.MethodGet, "/signals", nil)
	get.RemoteAddr = "10.0.0.1:5000"
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, get)
	if getRec.Code != http.StatusCreated {
		t.Errorf("reads must not be limited, got %d", getRec.Code)
	}

	now = now.Add(time.Second)
	if rec := post("10.0.0.1"); rec.Code != http.StatusCreated {
		t.Errorf("token not refilled after 1s: %d", rec.Code)
	}

	now = now.Add(10 * time.Minute)
	post("10.0.0.3")
	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 1 {
		t.Errorf("visitors after prune = %d, want 1", n)
	}
}
