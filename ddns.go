package ddns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/miekg/dns"
)

var discard = slog.New(slog.DiscardHandler)

// Default names of the headers set by the TLS-terminating proxy in front of the handler.
const (
	DefaultForwardedProtoHeader = "X-Forwarded-Proto"
	DefaultClientIPHeader       = "Cf-Connecting-Ip"
)

// New returns the update endpoint handler.
//
// Without options the handler rewrites records through the Cloudflare API at DefaultCloudflareURL,
// sends no notifications, and discards its logs.
func New(options ...Option) (*Handler, error) {
	h := &Handler{
		protoHeader:    DefaultForwardedProtoHeader,
		clientIPHeader: DefaultClientIPHeader,
		notifier:       nopNotifier{},
	}
	for i, opt := range options {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("ddns.New: option %d returned an error: %s", i, err)
		}
	}

	if h.newProvider == nil {
		h.newProvider = CloudflareProvider(h.cloudflareURL, h.httpClient)
	}
	if h.httpClient != nil {
		type setHTTPClient interface {
			SetHTTPClient(*http.Client)
		}
		if n, ok := h.notifier.(setHTTPClient); ok {
			n.SetHTTPClient(h.httpClient)
		}
	}
	if h.logger == nil {
		h.logger = discard
	}
	return h, nil
}

// Option configures a Handler.
type Option func(*Handler) error

// UsingCloudflare sets the base URL of the Cloudflare API.
func UsingCloudflare(baseURL string) Option {
	return func(h *Handler) error {
		if baseURL != "" && !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
			return fmt.Errorf("ddns.UsingCloudflare: base URL %q must be http or https", baseURL)
		}
		h.cloudflareURL = baseURL
		return nil
	}
}

// UsingProvider replaces the Cloudflare provider.
func UsingProvider(f ProviderFactory) Option {
	return func(h *Handler) error {
		if f == nil {
			return fmt.Errorf("ddns.UsingProvider: provider factory cannot be nil")
		}
		h.newProvider = f
		return nil
	}
}

// UsingNotifier sets where change summaries are sent.
// A nil notifier disables notifications.
func UsingNotifier(n Notifier) Option {
	return func(h *Handler) error {
		if n == nil {
			n = nopNotifier{}
		}
		h.notifier = n
		return nil
	}
}

// UsingHTTPClient sets the client for all outbound calls, including the notifier when it accepts one.
func UsingHTTPClient(httpClient *http.Client) Option {
	return func(h *Handler) error {
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		h.httpClient = httpClient
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) error {
		h.logger = logger
		return nil
	}
}

// TrustForwardedProto names the header in which the proxy reports the original scheme.
// An empty name disables the check, for handlers that terminate TLS themselves.
func TrustForwardedProto(header string) Option {
	return func(h *Handler) error {
		h.protoHeader = header
		return nil
	}
}

// TrustClientIPHeader names the header holding the client address,
// used when a request carries no address parameter.
// An empty name disables the fallback.
func TrustClientIPHeader(header string) Option {
	return func(h *Handler) error {
		h.clientIPHeader = header
		return nil
	}
}

// BehindTLSProxy declares that the listener only receives connections from a proxy that terminated TLS,
// so plain connections count as secure as long as the forwarded scheme is https.
func BehindTLSProxy(behind bool) Option {
	return func(h *Handler) error {
		h.behindTLSProxy = behind
		return nil
	}
}

// Updater rewrites the records of a set of hostnames through one Provider.
type Updater struct {
	provider Provider
	logger   *slog.Logger
}

func NewUpdater(provider Provider, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = discard
	}
	return &Updater{provider: provider, logger: logger}
}

// Update points the record of every hostname at ip, in order.
//
// Zones are looked up once per run and shared between hostnames.
// The first failure stops the run; records updated before it keep their new content.
func (u *Updater) Update(ctx context.Context, hostnames []string, ip, username string) error {
	isIPv4 := IsIPv4(ip)
	zones := make(map[string]Zone)

	for _, hostname := range hostnames {
		name := ZoneName(hostname, username)
		zone, ok := zones[name]
		if !ok {
			z, err := u.provider.FindZone(ctx, name)
			if err != nil {
				return err
			}
			zones[name], zone = z, z
		}

		record, err := u.provider.FindRecord(ctx, zone, hostname, isIPv4)
		if err != nil {
			return err
		}
		if record.Content == ip {
			u.logger.Debug("record already has the requested content", "name", hostname, "content", ip)
		}
		if _, err := u.provider.UpdateRecord(ctx, record, ip); err != nil {
			return err
		}
		recordUpdateCount.WithLabelValues(record.Type).Inc()
		u.logger.Info("updated record", "name", hostname, "type", record.Type, "zone", zone.Name, "content", ip)
	}
	return nil
}

// IsIPv4 reports whether ip is written like an IPv4 address, that is, whether it contains a dot.
// Everything else is treated as IPv6.
func IsIPv4(ip string) bool {
	return strings.Contains(ip, ".")
}

func recordType(isIPv4 bool) string {
	if isIPv4 {
		return "A"
	}
	return "AAAA"
}

// ZoneName derives the zone that owns hostname.
//
// When username is set and hostname ends with it, username is the zone.
// Otherwise the zone is the last two labels of hostname.
// This does not understand multi-label public suffixes: "home.example.co.uk" maps to "co.uk",
// and such zones have to be named explicitly through username.
func ZoneName(hostname, username string) string {
	if username != "" && strings.HasSuffix(hostname, username) {
		return username
	}
	labels := dns.SplitDomainName(hostname)
	if len(labels) < 2 {
		return hostname
	}
	return labels[len(labels)-2] + "." + labels[len(labels)-1]
}
