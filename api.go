package ddns

import (
	"context"
	"encoding/json"
)

// Provider looks up and rewrites DNS records.
// A Provider is bound to the API token it was created with.
type Provider interface {
	FindZone(ctx context.Context, name string) (Zone, error)
	FindRecord(ctx context.Context, zone Zone, hostname string, isIPv4 bool) (Record, error)
	UpdateRecord(ctx context.Context, record Record, ip string) (Record, error)
}

// ProviderFactory creates a Provider authenticated with token.
// It is called once per update request.
type ProviderFactory func(token string) Provider

// Notifier delivers a human-readable summary of a DNS change.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Zone is a DNS domain managed by the provider.
type Zone struct {
	ID   string
	Name string
}

// Record is an A or AAAA record within a zone.
//
// Records returned by the Cloudflare provider remember the provider's full representation,
// so updating one preserves fields that Record does not model, such as tags.
type Record struct {
	ID      string
	ZoneID  string
	Name    string
	Type    string
	Content string
	TTL     int
	Proxied *bool
	Comment string

	raw json.RawMessage
}
