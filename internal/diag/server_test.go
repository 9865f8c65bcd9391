package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"geoframe/internal/bus"
)

type fakeStats struct {
	Steps  int `json:"steps"`
	Agents int `json:"agents"`
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s := New(Options{})
	if rec := get(t, s.Handler(), "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "geoframe_") {
		t.Errorf("metrics = %d, missing geoframe collectors", rec.Code)
	}
}

func TestStatsBeforeAndAfterPublish(t *testing.T) {
	s := New(Options{})
	if rec := get(t, s.Handler(), "/stats"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stats before publish = %d", rec.Code)
	}
	s.Publish(fakeStats{Steps: 7, Agents: 3}, nil)
	rec := get(t, s.Handler(), "/stats")
	var got fakeStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Steps != 7 || got.Agents != 3 {
		t.Errorf("stats = %+v", got)
	}
}

func TestEventsDeduplicateAndBound(t *testing.T) {
	b := bus.New(bus.Options{HistorySize: 50})
	s := New(Options{EventBacklog: 4})
	b.Emit(bus.CrisisEntered, map[string]int{"fps": 12})
	b.Emit(bus.MemoryCleanup, nil)
	s.Publish(nil, b.History(0))
	// Republishing the same history adds nothing.
	s.Publish(nil, b.History(0))

	var body struct{ Events []Event }
	rec := get(t, s.Handler(), "/events")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(body.Events))
	}
	if body.Events[0].Name != bus.CrisisEntered || string(body.Events[0].Payload) != `{"fps":12}` {
		t.Errorf("first event = %+v", body.Events[0])
	}

	for range 5 {
		b.Emit(bus.ViewportChanged, nil)
	}
	s.Publish(nil, b.History(0))
	rec = get(t, s.Handler(), "/events")
	body.Events = nil
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Events) != 4 {
		t.Errorf("backlog = %d, want 4", len(body.Events))
	}

	rec = get(t, s.Handler(), "/events?n=2&name="+bus.ViewportChanged)
	body.Events = nil
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Events) != 2 {
		t.Errorf("filtered = %d, want 2", len(body.Events))
	}
	if rec := get(t, s.Handler(), "/events?n=x"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad n = %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	s := New(Options{AllowedOrigins: []string{"http://viewer.local"}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://viewer.local")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://viewer.local" {
		t.Errorf("allow origin = %q", got)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(envelope) bool) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatal(err)
		}
		if match(env) {
			return env
		}
	}
}

func TestStream(t *testing.T) {
	b := bus.New(bus.Options{})
	s := New(Options{})
	b.Emit(bus.CrisisEntered, nil)
	s.Publish(fakeStats{Steps: 1}, b.History(0))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	readUntil(t, conn, func(e envelope) bool { return e.Type == "stats" })
	readUntil(t, conn, func(e envelope) bool { return e.Type == "event" && e.Event.Name == bus.CrisisEntered })

	b.Emit(bus.CrisisExited, nil)
	s.Publish(fakeStats{Steps: 2}, b.History(0))
	readUntil(t, conn, func(e envelope) bool { return e.Type == "event" && e.Event.Name == bus.CrisisExited })

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for s.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Clients() != 0 {
		t.Errorf("clients = %d after close", s.Clients())
	}
}

func TestOriginCheck(t *testing.T) {
	s := New(Options{AllowedOrigins: []string{"http://ok"}})
	req := httptest.NewRequest(http.MethodGet, "/events/ws", nil)
	req.Host = "diag:8089"
	for origin, want := range map[string]bool{
		"":                 true,
		"http://ok":        true,
		"http://diag:8089": true,
		"http://evil":      false,
	} {
		req.Header.Set("Origin", origin)
		if got := s.originAllowed(req); got != want {
			t.Errorf("origin %q allowed = %v, want %v", origin, got, want)
		}
	}
}
