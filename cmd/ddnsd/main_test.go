package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-Britz/ddnsd"
	"github.com/Travis-Britz/ddnsd/internal/config"
)

func slogDiscard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		logger, err := newLogger(globalOptions{logFormat: format, debug: true})
		require.NoError(t, err)
		assert.True(t, logger.Enabled(context.Background(), -4))
	}
	_, err := newLogger(globalOptions{logFormat: "xml"})
	assert.Error(t, err)
}

func TestHandlerOptions(t *testing.T) {
	var zoneQueries []string
	cf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zoneQueries = append(zoneQueries, r.URL.Query().Get("name"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"success": true, "errors": []any{}, "result": []any{}})
	}))
	defer cf.Close()

	empty := ""
	cfg := config.Default()
	cfg.Cloudflare.BaseURL = cf.URL
	cfg.ForwardedProtoHeader = &empty

	h, err := ddns.New(handlerOptions(cfg, nil)...)
	require.NoError(t, err)

	// with the forwarded header check disabled a TLS request alone is enough
	r := httptest.NewRequest(http.MethodGet, "https://ddns.example.com/update?token=T&hostname=home.example.com&ip=1.2.3.4", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"example.com"}, zoneQueries)
}

func TestHandlerOptions_DirectTLS(t *testing.T) {
	var zoneQueries []string
	cf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zoneQueries = append(zoneQueries, r.URL.Query().Get("name"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"success": true, "errors": []any{}, "result": []any{}})
	}))
	defer cf.Close()

	cfg := config.Default()
	cfg.Cloudflare.BaseURL = cf.URL
	cfg.TLS = config.TLS{Cert: "cert.pem", Key: "key.pem"}

	h, err := ddns.New(handlerOptions(cfg, nil)...)
	require.NoError(t, err)

	// a router talking TLS to us directly sends no X-Forwarded-Proto
	r := httptest.NewRequest(http.MethodGet, "https://ddns.example.com/update?token=T&hostname=home.example.com&ip=1.2.3.4", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.NotEqual(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"example.com"}, zoneQueries)

	// an explicit header still wins
	proto := "X-Forwarded-Proto"
	cfg.ForwardedProtoHeader = &proto
	h, err = ddns.New(handlerOptions(cfg, nil)...)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, zoneQueries, 1)
}

func TestMetricsServer(t *testing.T) {
	cfg := config.Default()
	cfg.MetricsListen = "127.0.0.1:0"
	srv := newMetricsServer(cfg, slogDiscard())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServe_Shutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.MetricsListen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, slogDiscard()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "missing-port"

	err := serve(context.Background(), cfg, slogDiscard())
	assert.Error(t, err)
}

func TestUpdateOptions(t *testing.T) {
	t.Setenv("TEST_DDNS_TOKEN", "")
	opts := updateOptions{
		endpoint:  "https://ddns.example.com/update",
		hostnames: []string{"home.example.com"},
		tokenEnv:  "TEST_DDNS_TOKEN",
	}
	_, err := opts.client(slogDiscard())
	assert.ErrorContains(t, err, "$TEST_DDNS_TOKEN")

	t.Setenv("TEST_DDNS_TOKEN", "T")
	_, err = opts.client(slogDiscard())
	assert.NoError(t, err)

	opts.ips = []string{"not-an-ip"}
	_, err = opts.client(slogDiscard())
	assert.Error(t, err)

	opts.ips = nil
	opts.webURLs = []string{"ftp://example.com"}
	_, err = opts.client(slogDiscard())
	assert.Error(t, err)
}

func TestVerifyToken(t *testing.T) {
	status := "active"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/tokens/verify", r.URL.Path)
		assert.Equal(t, "Bearer T", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"errors":   []any{},
			"messages": []any{},
			"result":   map[string]any{"id": "abc", "status": status},
		})
	}))
	defer srv.Close()

	require.NoError(t, verifyToken(context.Background(), srv.URL, "T"))

	status = "disabled"
	assert.ErrorContains(t, verifyToken(context.Background(), srv.URL, "T"), "disabled")

	assert.Error(t, verifyToken(context.Background(), srv.URL, ""))
}
