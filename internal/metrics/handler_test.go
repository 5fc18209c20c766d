package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func serve(t *testing.T, h http.Handler, method, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	body, _ := io.ReadAll(w.Result().Body)
	return w.Code, string(body)
}

func TestHandler_ExposesCollectorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveGrant("password", "success")
	c.ObserveRefreshTokenReuse()

	status, body := serve(t, Handler(reg), http.MethodGet, "/anything")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	for _, name := range []string{
		`authcare_grants_total{grant_type="password",outcome="success"} 1`,
		"authcare_refresh_token_reuse_total 1",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("response should contain %q", name)
		}
	}
}

func TestSetupMetricsRoute_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordCleanup(3, 1)
	h := SetupMetricsRoute(reg)

	status, body := serve(t, h, http.MethodGet, "/metrics")
	if status != http.StatusOK {
		t.Errorf("/metrics status = %d, want %d", status, http.StatusOK)
	}
	if !strings.Contains(body, "authcare_cleanup_deleted_total") {
		t.Error("/metrics should contain authcare_cleanup_deleted_total")
	}

	if status, _ := serve(t, h, http.MethodGet, "/health"); status != http.StatusOK {
		t.Errorf("/health status = %d, want %d", status, http.StatusOK)
	}
	if status, _ := serve(t, h, http.MethodGet, "/api/v1/auth/token"); status != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want %d", status, http.StatusNotFound)
	}
}
