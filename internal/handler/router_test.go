package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// requestPathLabels gathers the path label values currently held by the
// request counter. The counter lives in the default registry, so values
// accumulate across tests; assertions check membership, not totals.
func requestPathLabels(t *testing.T) map[string]bool {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	paths := make(map[string]bool)
	for _, mf := range families {
		if mf.GetName() != "gate_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" {
					paths[l.GetValue()] = true
				}
			}
		}
	}
	return paths
}

func TestRouter_MetricsLabelMatchedRoutePattern(t *testing.T) {
	f := newHandlerFixture(t, handlerGate())
	router := NewRouter(f.handler, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/anonymous-feedback", nil)
	req.RemoteAddr = "203.0.113.7:50812"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.True(t, requestPathLabels(t)["/anonymous-feedback"])
}

func TestRouter_MetricsCollapseUnmatchedPaths(t *testing.T) {
	f := newHandlerFixture(t, handlerGate())
	router := NewRouter(f.handler, nil, zap.NewNop())

	// Scanner traffic tries many distinct paths; each 404 must land in
	// one shared series instead of minting a series per URL.
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/scan-%d", i), nil)
		req.RemoteAddr = "203.0.113.7:50812"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	paths := requestPathLabels(t)
	require.True(t, paths["unmatched"])
	for path := range paths {
		require.False(t, strings.HasPrefix(path, "/scan-"),
			"caller-chosen path leaked into a metric label: %s", path)
	}
}
