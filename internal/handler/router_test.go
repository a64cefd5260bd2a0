package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"worldsync/internal/app/presence"
	"worldsync/internal/configs"
	"worldsync/internal/pkg/resp"
)

func newTestDeps() *AppDeps {
	return &AppDeps{
		Hub: presence.NewHub(presence.Options{SweepInterval: -1}),
		Config: &configs.AppConfig{
			Environment:       "development",
			Port:              8080,
			MaxConnsPerOrigin: 10,
			HandshakeRate:     100,
			HandshakeBurst:    100,
		},
	}
}

func TestHealthzEndpoint(t *testing.T) {
	deps := newTestDeps()
	defer deps.Hub.Shutdown()

	server := httptest.NewServer(Router(deps))
	defer server.Close()

	res, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	deps := newTestDeps()
	defer deps.Hub.Shutdown()

	if err := deps.Hub.AcquireOrigin("10.0.0.1"); err != nil {
		t.Fatalf("AcquireOrigin failed: %v", err)
	}

	server := httptest.NewServer(Router(deps))
	defer server.Close()

	res, err := http.Get(server.URL + "/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer res.Body.Close()

	var body resp.JSONResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode stats response: %v", err)
	}
	if body.Code != 0 {
		t.Fatalf("expected success code, got %d", body.Code)
	}

	data, err := json.Marshal(body.Data)
	if err != nil {
		t.Fatalf("failed to remarshal stats data: %v", err)
	}
	var stats presence.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("failed to decode stats payload: %v", err)
	}
	if stats.Connections != 1 {
		t.Fatalf("expected 1 connection, got %d", stats.Connections)
	}
}
