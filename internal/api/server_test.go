package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/cync-bridge/internal/exporter"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
)

type fakeCloudClient struct {
	topo exporter.TopologyExport
}

func (f *fakeCloudClient) RequestOTP(ctx context.Context, email string) error { return nil }

func (f *fakeCloudClient) VerifyOTP(ctx context.Context, email, code string) (exporter.TopologyExport, error) {
	return f.topo, nil
}

type fakeRestarter struct {
	restarted bool
}

func (f *fakeRestarter) Restart() { f.restarted = true }

func newTestServer(t *testing.T) (*Server, *fakeRestarter) {
	t.Helper()
	exp := exporter.New(&fakeCloudClient{}, filepath.Join(t.TempDir(), "config.yaml"))
	restarter := &fakeRestarter{}
	srv, err := New(Deps{
		Config: config.APIConfig{
			SessionAuth: config.SessionAuth{Secret: "test-secret"},
		},
		Logger:    logging.Default(),
		Exporter:  exp,
		Restarter: restarter,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, restarter
}

func TestHandleExportStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/export/status", nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["config_present"] {
		t.Fatal("expected config_present = false")
	}
}

func TestHandleExportDownload_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/export/download", nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRestart_RequiresBearerToken(t *testing.T) {
	srv, restarter := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/restart", nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
	if restarter.restarted {
		t.Fatal("restart must not fire without valid auth")
	}
}

func TestHandleRestart_ValidToken(t *testing.T) {
	srv, restarter := newTestServer(t)
	token, err := IssueRestartToken("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("IssueRestartToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/restart", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !restarter.restarted {
		t.Fatal("expected Restart to have been called")
	}
}

func TestHandleRestart_WrongSecretRejected(t *testing.T) {
	srv, restarter := newTestServer(t)
	token, err := IssueRestartToken("wrong-secret", time.Minute)
	if err != nil {
		t.Fatalf("IssueRestartToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/restart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong-secret token, got %d", rec.Code)
	}
	if restarter.restarted {
		t.Fatal("restart must not fire for an invalid token")
	}
}
