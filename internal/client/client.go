// Package client publishes this machine's addresses to a ddnsd update endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"
)

// MinInterval is the shortest interval Run accepts.
const MinInterval = time.Minute

// Client calls the update endpoint for a fixed set of hostnames.
type Client struct {
	endpoint   *url.URL
	hostnames  []string
	username   string
	token      string
	resolver   Resolver
	httpClient *http.Client
	logger     *slog.Logger

	last []netip.Addr
}

// Option configures a Client.
type Option func(*Client) error

// New returns a client for the update endpoint at endpoint, for example "https://ddns.example.com/update".
//
// Without UsingResolver the client publishes the addresses of all local interfaces.
func New(endpoint string, hostnames []string, options ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("client.New: invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client.New: endpoint %q must be http or https", endpoint)
	}
	if len(hostnames) == 0 {
		return nil, errors.New("client.New: at least one hostname is required")
	}

	c := &Client{endpoint: u, hostnames: hostnames}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("client.New: option %d returned an error: %s", i, err)
		}
	}
	if c.token == "" {
		return nil, errors.New("client.New: a token is required")
	}
	if c.resolver == nil {
		c.resolver = InterfaceResolver()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// WithCredential sets the Basic auth credential sent with every update.
// The server treats username as the zone name when the hostnames end with it.
func WithCredential(username, token string) Option {
	return func(c *Client) error {
		if strings.Contains(username, ":") {
			return errors.New("username cannot contain ':'")
		}
		c.username, c.token = username, token
		return nil
	}
}

func UsingResolver(r Resolver) Option {
	return func(c *Client) error {
		if r == nil {
			return errors.New("resolver cannot be nil")
		}
		c.resolver = r
		return nil
	}
}

func UsingHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = httpClient
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// Update resolves the current addresses and publishes them.
// Nothing is sent when the addresses match the last successful update.
func (c *Client) Update(ctx context.Context) error {
	addrs, err := c.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("error resolving addresses: %w", err)
	}
	if len(addrs) == 0 {
		return errors.New("resolver returned no addresses")
	}
	addrs = slices.Clone(addrs)
	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })
	if slices.Equal(addrs, c.last) {
		c.logger.Debug("addresses unchanged", "ips", addrs)
		return nil
	}

	if err := c.publish(ctx, addrs); err != nil {
		return err
	}
	c.last = addrs
	c.logger.Info("published addresses", "hostnames", c.hostnames, "ips", addrs)
	return nil
}

func (c *Client) publish(ctx context.Context, addrs []netip.Addr) error {
	ips := make([]string, len(addrs))
	for i, a := range addrs {
		ips[i] = a.String()
	}
	u := *c.endpoint
	q := u.Query()
	q.Set("hostname", strings.Join(c.hostnames, ","))
	q.Set("myip", strings.Join(ips, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "good" {
		return fmt.Errorf("update rejected: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// Run calls Update right away and then every interval until ctx is done.
// Intervals below MinInterval are raised to it.
// Failed updates are logged and retried on the next tick.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	if interval < MinInterval {
		interval = MinInterval
	}
	c.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *Client) runOnce(ctx context.Context) {
	if err := c.Update(ctx); err != nil {
		c.logger.Error("update failed", "error", err)
	}
}
