package arm

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/armctl/internal/testutil/testlog"
)

func newServerRig(t *testing.T, apiKey string) (*rig, *Server) {
	t.Helper()
	r := newRig(t, DefaultSafetyPolicy())
	srv := NewServer("arm-test", r.ctrl, r.sup, nil, apiKey)
	srv.RegisterRoutes()
	return r, srv
}

func doJSON(t *testing.T, srv *Server, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestRootAndProbeEndpoints(t *testing.T) {
	testlog.Start(t)
	_, srv := newServerRig(t, "")

	rr := doJSON(t, srv, http.MethodGet, "/", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["service"] != "arm-test" {
		t.Fatalf("unexpected service name: %v", body["service"])
	}
	if chans, ok := body["channels"].([]any); !ok || len(chans) != 2 {
		t.Fatalf("expected 2 channels, got %v", body["channels"])
	}

	for _, path := range []string{"/health", "/ready"} {
		rr := doJSON(t, srv, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, rr.Code)
		}
		t.Logf("GET %s status=%d", path, rr.Code)
	}
}

func TestServoFlowOverHTTP(t *testing.T) {
	testlog.Start(t)
	_, srv := newServerRig(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/servos/base/start", "",
		map[string]any{"direction": "forward", "speed": 90})
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["applied_speed"] != 60.0 {
		t.Fatalf("expected clamped speed 60, got %v", body["applied_speed"])
	}
	channel, ok := body["channel"].(map[string]any)
	if !ok || channel["run_state"] != "running" {
		t.Fatalf("unexpected channel view: %v", body["channel"])
	}
	t.Logf("start applied_speed=%v", body["applied_speed"])

	rr = doJSON(t, srv, http.MethodGet, "/api/servos/base", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("servo status: expected 200, got %d", rr.Code)
	}
	if st := decodeBody(t, rr); st["run_state"] != "running" {
		t.Fatalf("expected running, got %v", st["run_state"])
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/servos/base/speed", "",
		map[string]any{"speed": 30})
	if rr.Code != http.StatusOK {
		t.Fatalf("speed: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["applied_speed"] != 30.0 {
		t.Fatalf("expected applied 30, got %v", body["applied_speed"])
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/servos/base/stop", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rr.Code)
	}
	body = decodeBody(t, rr)
	channel = body["channel"].(map[string]any)
	if channel["run_state"] != "idle" || channel["last_stop_cause"] != "command" {
		t.Fatalf("unexpected stop result: %v", channel)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/servos/base/position", "",
		map[string]any{"angle": 90, "speed": 50})
	if rr.Code != http.StatusOK {
		t.Fatalf("position: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	channel = decodeBody(t, rr)["channel"].(map[string]any)
	if channel["position"] != 90.0 {
		t.Fatalf("expected position 90, got %v", channel["position"])
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/status", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	snap := decodeBody(t, rr)
	servos, ok := snap["servos"].(map[string]any)
	if !ok || len(servos) != 2 {
		t.Fatalf("expected 2 servos in snapshot, got %v", snap["servos"])
	}
	estop := snap["emergency_stop"].(map[string]any)
	if estop["active"] != false {
		t.Fatalf("expected inactive latch, got %v", estop)
	}
	t.Logf("snapshot servos=%d", len(servos))
}

func TestErrorStatusMapping(t *testing.T) {
	testlog.Start(t)
	_, srv := newServerRig(t, "")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			name:   "unknown channel",
			method: http.MethodGet,
			path:   "/api/servos/elbow",
			want:   http.StatusNotFound,
		},
		{
			name:   "invalid direction",
			method: http.MethodPost,
			path:   "/api/servos/base/start",
			body:   map[string]any{"direction": "up", "speed": 50},
			want:   http.StatusBadRequest,
		},
		{
			name:   "speed out of range",
			method: http.MethodPost,
			path:   "/api/servos/base/start",
			body:   map[string]any{"direction": "forward", "speed": 150},
			want:   http.StatusBadRequest,
		},
		{
			name:   "missing angle",
			method: http.MethodPost,
			path:   "/api/servos/base/position",
			body:   map[string]any{"speed": 50},
			want:   http.StatusBadRequest,
		},
		{
			name:   "angle out of bounds",
			method: http.MethodPost,
			path:   "/api/servos/base/position",
			body:   map[string]any{"angle": 400, "speed": 50},
			want:   http.StatusBadRequest,
		},
		{
			name:   "speed change while idle",
			method: http.MethodPost,
			path:   "/api/servos/base/speed",
			body:   map[string]any{"speed": 40},
			want:   http.StatusConflict,
		},
		{
			name:   "reset without fault",
			method: http.MethodPost,
			path:   "/api/servos/base/reset",
			want:   http.StatusConflict,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, srv, tc.method, tc.path, "", tc.body)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%s", tc.want, rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["error"] == "" {
				t.Fatalf("expected error payload, got %v", body)
			}
			t.Logf("%s -> %d (%v)", tc.path, rr.Code, body["error"])
		})
	}

	rr := doJSON(t, srv, http.MethodPost, "/api/servos/base/start", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing body: expected 400, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if msg, _ := body["error"].(string); !strings.HasPrefix(msg, "invalid request body") {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestEmergencyStopEndpoints(t *testing.T) {
	testlog.Start(t)
	_, srv := newServerRig(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/servos/base/start", "",
		map[string]any{"direction": "forward", "speed": 50})
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/emergency-stop", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("emergency stop: expected 200, got %d", rr.Code)
	}
	estop := decodeBody(t, rr)["emergency_stop"].(map[string]any)
	if estop["active"] != true {
		t.Fatalf("expected active latch, got %v", estop)
	}
	if by, _ := estop["triggered_by"].(string); !strings.HasPrefix(by, "api:") {
		t.Fatalf("expected api issuer, got %v", estop["triggered_by"])
	}
	t.Logf("latched by %v", estop["triggered_by"])

	rr = doJSON(t, srv, http.MethodPost, "/api/servos/base/start", "",
		map[string]any{"direction": "forward", "speed": 50})
	if rr.Code != http.StatusConflict {
		t.Fatalf("start under latch: expected 409, got %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/emergency-stop/clear", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	estop = decodeBody(t, rr)["emergency_stop"].(map[string]any)
	if estop["active"] != false {
		t.Fatalf("expected cleared latch, got %v", estop)
	}
}

func TestEmergencyStopNamedSource(t *testing.T) {
	testlog.Start(t)
	_, srv := newServerRig(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/emergency-stop", "",
		map[string]any{"source": "bench-observer"})
	if rr.Code != http.StatusOK {
		t.Fatalf("emergency stop: expected 200, got %d", rr.Code)
	}
	estop := decodeBody(t, rr)["emergency_stop"].(map[string]any)
	if estop["triggered_by"] != "bench-observer" {
		t.Fatalf("expected named source, got %v", estop["triggered_by"])
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/emergency-stop/clear", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: expected 200, got %d", rr.Code)
	}

	// Garbage bodies still engage the stop.
	req := httptest.NewRequest(http.MethodPost, "/api/emergency-stop", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("estop with bad body: expected 200, got %d", w.Code)
	}
	estop = decodeBody(t, w)["emergency_stop"].(map[string]any)
	if estop["active"] != true {
		t.Fatalf("expected active latch despite bad body, got %v", estop)
	}
	if by, _ := estop["triggered_by"].(string); !strings.HasPrefix(by, "api:") {
		t.Fatalf("expected fallback issuer, got %v", estop["triggered_by"])
	}
}

func TestAPIKeyGatesMutation(t *testing.T) {
	testlog.Start(t)
	_, srv := newServerRig(t, "bench-key")

	// Reads stay open.
	if rr := doJSON(t, srv, http.MethodGet, "/api/status", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("status without key: expected 200, got %d", rr.Code)
	}

	start := map[string]any{"direction": "forward", "speed": 50}
	if rr := doJSON(t, srv, http.MethodPost, "/api/servos/base/start", "", start); rr.Code != http.StatusUnauthorized {
		t.Fatalf("start without key: expected 401, got %d", rr.Code)
	}
	if rr := doJSON(t, srv, http.MethodPost, "/api/servos/base/start", "wrong", start); rr.Code != http.StatusUnauthorized {
		t.Fatalf("start with wrong key: expected 401, got %d", rr.Code)
	}
	if rr := doJSON(t, srv, http.MethodPost, "/api/servos/base/start", "bench-key", start); rr.Code != http.StatusOK {
		t.Fatalf("start with key: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	t.Logf("mutation gated on key")

	// Engaging the stop never needs a key. Releasing it does.
	if rr := doJSON(t, srv, http.MethodPost, "/api/emergency-stop", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("emergency stop without key: expected 200, got %d", rr.Code)
	}
	if rr := doJSON(t, srv, http.MethodPost, "/api/emergency-stop/clear", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("clear without key: expected 401, got %d", rr.Code)
	}
	if rr := doJSON(t, srv, http.MethodPost, "/api/emergency-stop/clear", "bench-key", nil); rr.Code != http.StatusOK {
		t.Fatalf("clear with key: expected 200, got %d", rr.Code)
	}
	t.Logf("stop open, clear gated")
}

func TestInitializeEndpoint(t *testing.T) {
	testlog.Start(t)
	_, srv := newServerRig(t, "")

	rr := doJSON(t, srv, http.MethodPost, "/api/initialize", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("initialize: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	results, ok := decodeBody(t, rr)["results"].([]any)
	if !ok || len(results) != 2 {
		t.Fatalf("expected 2 results, got %v", results)
	}
	for _, raw := range results {
		res := raw.(map[string]any)
		if res["centered"] != true {
			t.Fatalf("channel %v not centered: %v", res["channel_id"], res)
		}
		t.Logf("centered %v at %v", res["channel_id"], res["angle"])
	}
}
