package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/uavbus/internal/dsdl/mavlink"
	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/scheduler"
	"github.com/danmuck/uavbus/internal/testutil/testlog"
)

type stubSource struct{ snap scheduler.Snapshot }

func (s stubSource) Snapshot() scheduler.Snapshot { return s.snap }

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthAndStatus(t *testing.T) {
	testlog.Start(t)
	s := New("node-a", ":0", nil, stubSource{snap: scheduler.Snapshot{SelfNodeID: 9, Frames: 12}}, nil)

	rr := get(t, s, "/health")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"node":"node-a"`) {
		t.Fatalf("health got %d %s", rr.Code, rr.Body.String())
	}

	rr = get(t, s, "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status got %d", rr.Code)
	}
	var snap scheduler.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if snap.SelfNodeID != 9 || snap.Frames != 12 {
		t.Fatalf("status body got=%+v", snap)
	}
	log.Info().Int("code", rr.Code).Msg("status/http: GET /status served snapshot")
}

func TestStatusWithoutSource(t *testing.T) {
	testlog.Start(t)
	s := New("node-b", ":0", nil, nil, nil)
	if rr := get(t, s, "/status"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestTypesAndMetrics(t *testing.T) {
	testlog.Start(t)
	types := dtype.NewRegistry()
	if err := mavlink.Register(types); err != nil {
		t.Fatalf("register: %v", err)
	}
	s := New("node-c", ":0", []string{" http://ui "}, nil, types)

	rr := get(t, s, "/types")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), mavlink.FullName) {
		t.Fatalf("types got %d %s", rr.Code, rr.Body.String())
	}
	rr = get(t, s, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "uavbus_http_requests_total") {
		t.Fatalf("metrics got %d", rr.Code)
	}
}

func TestNormalizeOrigins(t *testing.T) {
	testlog.Start(t)
	if got := normalizeOrigins([]string{" ", ""}); len(got) != 1 || got[0] != "http://localhost:3000" {
		t.Fatalf("fallback got=%q", got)
	}
	if got := normalizeOrigins([]string{" http://a "}); got[0] != "http://a" {
		t.Fatalf("trim got=%q", got)
	}
}
