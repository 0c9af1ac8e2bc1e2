package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updateServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	requests []*http.Request
}

func newUpdateServer(t *testing.T) *updateServer {
	t.Helper()
	s := &updateServer{status: http.StatusOK, body: "good"}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = append(s.requests, r)
		w.WriteHeader(s.status)
		w.Write([]byte(s.body))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *updateServer) received() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// switchable resolves whatever addrs holds at the time of the call.
type switchable struct {
	mu    sync.Mutex
	addrs []netip.Addr
	err   error
}

func (s *switchable) Resolve(context.Context) ([]netip.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs, s.err
}

func TestClientUpdate(t *testing.T) {
	s := newUpdateServer(t)
	r := &switchable{addrs: []netip.Addr{netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("1.2.3.4")}}
	c, err := New(s.srv.URL+"/update", []string{"home.example.com", "nas.example.com"},
		WithCredential("example.com", "T"),
		UsingResolver(r),
	)
	require.NoError(t, err)

	require.NoError(t, c.Update(context.Background()))
	reqs := s.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/update", reqs[0].URL.Path)
	assert.Equal(t, "home.example.com,nas.example.com", reqs[0].URL.Query().Get("hostname"))
	assert.Equal(t, "1.2.3.4,2001:db8::1", reqs[0].URL.Query().Get("myip"))
	user, pass, ok := reqs[0].BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "example.com", user)
	assert.Equal(t, "T", pass)

	// unchanged addresses are not sent again
	require.NoError(t, c.Update(context.Background()))
	assert.Len(t, s.received(), 1)

	r.mu.Lock()
	r.addrs = []netip.Addr{netip.MustParseAddr("5.6.7.8")}
	r.mu.Unlock()
	require.NoError(t, c.Update(context.Background()))
	assert.Len(t, s.received(), 2)
}

func TestClientUpdate_Rejected(t *testing.T) {
	s := newUpdateServer(t)
	s.status = http.StatusInternalServerError
	s.body = `Failed to find zone "example.com"`
	r, _ := Static("1.2.3.4")
	c, err := New(s.srv.URL+"/update", []string{"home.example.com"}, WithCredential("", "T"), UsingResolver(r))
	require.NoError(t, err)

	err = c.Update(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "Failed to find zone")

	// a failed update is retried even though the addresses did not change
	s.mu.Lock()
	s.status, s.body = http.StatusOK, "good"
	s.mu.Unlock()
	require.NoError(t, c.Update(context.Background()))
	assert.Len(t, s.received(), 2)
}

func TestClientUpdate_ResolverError(t *testing.T) {
	s := newUpdateServer(t)
	c, err := New(s.srv.URL+"/update", []string{"home.example.com"},
		WithCredential("", "T"),
		UsingResolver(&switchable{err: errors.New("offline")}),
	)
	require.NoError(t, err)

	assert.ErrorContains(t, c.Update(context.Background()), "offline")
	assert.Empty(t, s.received())

	c.resolver = &switchable{}
	assert.Error(t, c.Update(context.Background()))
}

func TestNew_Validation(t *testing.T) {
	_, err := New("ftp://ddns.example.com/update", []string{"a.example.com"}, WithCredential("", "T"))
	assert.Error(t, err)
	_, err = New("https://ddns.example.com/update", nil, WithCredential("", "T"))
	assert.Error(t, err)
	_, err = New("https://ddns.example.com/update", []string{"a.example.com"})
	assert.Error(t, err, "token is required")
	_, err = New("https://ddns.example.com/update", []string{"a.example.com"}, WithCredential("a:b", "T"))
	assert.Error(t, err)
	_, err = New("https://ddns.example.com/update", []string{"a.example.com"}, WithCredential("", "T"), UsingResolver(nil))
	assert.Error(t, err)
}

func TestRun_UpdatesImmediately(t *testing.T) {
	s := newUpdateServer(t)
	r, _ := Static("1.2.3.4")
	c, err := New(s.srv.URL+"/update", []string{"home.example.com"}, WithCredential("", "T"), UsingResolver(r))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(s.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, s.received(), 1, "interval is raised to one minute")
}
