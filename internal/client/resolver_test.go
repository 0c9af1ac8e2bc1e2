package client_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-Britz/ddnsd/internal/client"
)

// ipServers starts one server per body and returns their URLs.
func ipServers(t *testing.T, delay time.Duration, bodies ...string) []string {
	t.Helper()
	var urls []string
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(delay)
			io.WriteString(w, body+"\n")
		}))
		t.Cleanup(srv.Close)
		urls = append(urls, srv.URL)
	}
	return urls
}

func TestWebResolver_Single(t *testing.T) {
	wr, err := client.WebResolver(nil, ipServers(t, 0, "192.168.2.1")...)
	require.NoError(t, err)

	res, err := wr.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.2.1")}, res)
}

func TestWebResolver_Mismatch(t *testing.T) {
	wr, err := client.WebResolver(nil, ipServers(t, 0, "192.168.2.1", "10.0.0.10", "127.0.0.1")...)
	require.NoError(t, err)

	res, err := wr.Resolve(context.Background())
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestWebResolver_OneFailure(t *testing.T) {
	wr, err := client.WebResolver(nil, ipServers(t, 0, "192.168.2.1", "invalid ip", "192.168.2.1")...)
	require.NoError(t, err)

	res, err := wr.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.2.1")}, res)
}

func TestWebResolver_TwoFailures(t *testing.T) {
	wr, err := client.WebResolver(nil, ipServers(t, 0, "192.168.2.1", "a", "a")...)
	require.NoError(t, err)

	res, err := wr.Resolve(context.Background())
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestWebResolver_Concurrent(t *testing.T) {
	wr, err := client.WebResolver(nil, ipServers(t, 50*time.Millisecond, "192.168.2.1", "192.168.2.1", "192.168.2.1")...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := wr.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.2.1")}, res)
	assert.Less(t, time.Since(start), 140*time.Millisecond, "lookups should run concurrently")
}

func TestWebResolver_HitCount(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		hits++
		// every answer fails so no lookup can return early
		io.WriteString(w, "invalid ip")
	}))
	defer srv.Close()

	for n := 1; n <= 5; n++ {
		urls := make([]string, n)
		for i := range urls {
			urls[i] = srv.URL
		}
		wr, err := client.WebResolver(nil, urls...)
		require.NoError(t, err)

		mu.Lock()
		hits = 0
		mu.Unlock()
		_, err = wr.Resolve(context.Background())
		require.Error(t, err)

		mu.Lock()
		assert.Equal(t, min(n, 3), hits, "%d services", n)
		mu.Unlock()
	}
}

func TestWebResolver_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "1.2.3.4", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wr, err := client.WebResolver(nil, srv.URL)
	require.NoError(t, err)
	_, err = wr.Resolve(context.Background())
	assert.ErrorContains(t, err, "503")
}

func TestWebResolver_InvalidURLs(t *testing.T) {
	_, err := client.WebResolver(nil)
	assert.Error(t, err)

	_, err = client.WebResolver(nil, "ftp://example.com/ip")
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	r, err := client.Static("1.2.3.4", " 2001:db8::1 ")
	require.NoError(t, err)
	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("1.2.3.4"), netip.MustParseAddr("2001:db8::1")}, res)

	_, err = client.Static("1.2.3")
	assert.Error(t, err)
	_, err = client.Static()
	assert.Error(t, err)
}

func TestJoin(t *testing.T) {
	v4, _ := client.Static("1.2.3.4")
	v6, _ := client.Static("2001:db8::1", "1.2.3.4")

	res, err := client.Join(v4, v6).Resolve(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []netip.Addr{netip.MustParseAddr("1.2.3.4"), netip.MustParseAddr("2001:db8::1")}, res)

	boom := client.ResolverFunc(func(context.Context) ([]netip.Addr, error) {
		return nil, errors.New("boom")
	})
	_, err = client.Join(v4, boom).Resolve(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestInterfaceResolver_UnknownInterface(t *testing.T) {
	_, err := client.InterfaceResolver("does-not-exist0").Resolve(context.Background())
	assert.Error(t, err)
}
