package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fixedReadiness struct {
	ready bool
	parts []int32
}

func (f fixedReadiness) Readiness() (bool, []int32) { return f.ready, f.parts }

func TestReadiness_Handler(t *testing.T) {
	tests := []struct {
		name string
		rr   ReadinessReporter
		code int
		body string
	}{
		{"nil reporter", nil, http.StatusOK, `{"status":"ready"}`},
		{"assigned", fixedReadiness{true, []int32{0, 3}}, http.StatusOK, `{"status":"ready","partitions":[0,3]}`},
		{"unassigned", fixedReadiness{}, http.StatusServiceUnavailable, `{"status":"not_ready"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Readiness(tc.rr)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.code {
				t.Fatalf("status=%d want %d", rr.Code, tc.code)
			}
			if got := strings.TrimSpace(rr.Body.String()); got != tc.body {
				t.Fatalf("body=%s want %s", got, tc.body)
			}
		})
	}
}
