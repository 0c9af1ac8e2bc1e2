package ddns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudflare/cloudflare-go"
)

// DefaultCloudflareURL is the base URL of the Cloudflare v4 API.
const DefaultCloudflareURL = "https://api.cloudflare.com/client/v4"

// CloudflareProvider returns a ProviderFactory for the Cloudflare API at baseURL.
// An empty baseURL selects DefaultCloudflareURL and a nil httpClient selects http.DefaultClient.
func CloudflareProvider(baseURL string, httpClient *http.Client) ProviderFactory {
	return func(token string) Provider {
		return newCloudflareProvider(baseURL, token, httpClient)
	}
}

func newCloudflareProvider(baseURL, token string, httpClient *http.Client) *cloudflareProvider {
	if baseURL == "" {
		baseURL = DefaultCloudflareURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cf := &cloudflareProvider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     discard,
	}
	cf.api, cf.apiErr = cloudflare.NewWithAPIToken(token,
		cloudflare.BaseURL(cf.baseURL),
		cloudflare.HTTPClient(httpClient),
		cloudflare.UsingRetryPolicy(0, 0, 0),
	)
	return cf
}

// cloudflareProvider implements ddns.Provider.
//
// Zones are looked up through the cloudflare-go client.
// Records are fetched and replaced as raw JSON so a replacement carries every field
// of the fetched record, including ones cloudflare-go does not model.
// Cloudflare reports the outcome of a call in the "success" field of the response body,
// so every response body is decoded and inspected regardless of the HTTP status.
type cloudflareProvider struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	api    *cloudflare.API
	apiErr error
}

func (cf *cloudflareProvider) SetLogger(logger *slog.Logger) { cf.logger = logger }

func (cf *cloudflareProvider) FindZone(ctx context.Context, name string) (Zone, error) {
	fail := func(err error) (Zone, error) {
		providerCallCount.WithLabelValues("find_zone", "error").Inc()
		return Zone{}, newError(ZoneNotFound, fmt.Sprintf("Failed to find zone %q", name), err)
	}
	if cf.apiErr != nil {
		return fail(fmt.Errorf("error creating api client: %w", cf.apiErr))
	}

	res, err := cf.api.ListZonesContext(ctx, cloudflare.WithZoneFilters(name, "", ""))
	if err != nil {
		return fail(err)
	}
	if !res.Success {
		return fail(responseError(res.Response))
	}
	if len(res.Result) == 0 {
		return fail(errors.New("no zones matched"))
	}
	providerCallCount.WithLabelValues("find_zone", "ok").Inc()

	z := res.Result[0]
	for _, candidate := range res.Result {
		if strings.EqualFold(candidate.Name, name) {
			z = candidate
			break
		}
	}
	cf.logger.Debug("found zone", "zone", z.Name, "zone_id", z.ID)
	return Zone{ID: z.ID, Name: z.Name}, nil
}

// FindRecord returns the first record, in provider order, whose name equals hostname
// and whose type matches the address family.
func (cf *cloudflareProvider) FindRecord(ctx context.Context, zone Zone, hostname string, isIPv4 bool) (Record, error) {
	fail := func(err error) (Record, error) {
		providerCallCount.WithLabelValues("find_record", "error").Inc()
		return Record{}, newError(RecordNotFound, fmt.Sprintf("Failed to find DNS record %q", hostname), err)
	}
	rrType := recordType(isIPv4)

	var res struct {
		cloudflare.Response
		Result []json.RawMessage `json:"result"`
	}
	endpoint := fmt.Sprintf("zones/%s/dns_records?%s", url.PathEscape(zone.ID), url.Values{"name": {hostname}}.Encode())
	if err := cf.do(ctx, http.MethodGet, endpoint, nil, &res); err != nil {
		return fail(err)
	}
	if !res.Success {
		return fail(responseError(res.Response))
	}
	if len(res.Result) == 0 {
		return fail(errors.New("no records matched"))
	}

	for _, raw := range res.Result {
		record, err := decodeRecord(raw)
		if err != nil {
			return fail(err)
		}
		if record.Type == rrType && strings.EqualFold(record.Name, hostname) {
			providerCallCount.WithLabelValues("find_record", "ok").Inc()
			if record.ZoneID == "" {
				record.ZoneID = zone.ID
			}
			cf.logger.Debug("found record", "name", record.Name, "type", record.Type, "record_id", record.ID, "content", record.Content)
			return record, nil
		}
	}
	return fail(fmt.Errorf("%d records matched the name but none has type %s", len(res.Result), rrType))
}

// UpdateRecord replaces record with a copy whose content is ip.
// Every other field of the fetched record is sent back unchanged.
func (cf *cloudflareProvider) UpdateRecord(ctx context.Context, record Record, ip string) (Record, error) {
	fail := func(err error) (Record, error) {
		providerCallCount.WithLabelValues("update_record", "error").Inc()
		return Record{}, newError(UpdateFailed, fmt.Sprintf("Failed to update DNS record %q", record.Name), err)
	}

	body, err := record.replacement(ip)
	if err != nil {
		return fail(err)
	}
	var res struct {
		cloudflare.Response
		Result json.RawMessage `json:"result"`
	}
	endpoint := fmt.Sprintf("zones/%s/dns_records/%s", url.PathEscape(record.ZoneID), url.PathEscape(record.ID))
	if err := cf.do(ctx, http.MethodPut, endpoint, body, &res); err != nil {
		return fail(err)
	}
	if !res.Success {
		return fail(responseError(res.Response))
	}
	providerCallCount.WithLabelValues("update_record", "ok").Inc()

	record.Content = ip
	if updated, err := decodeRecord(res.Result); err == nil && updated.ID != "" {
		return updated, nil
	}
	return record, nil
}

// do issues one API call and decodes the JSON response body into v.
func (cf *cloudflareProvider) do(ctx context.Context, method, endpoint string, body, v any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, cf.baseURL+"/"+endpoint, r)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cf.token)

	resp, err := cf.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding response body (%s): %w", resp.Status, err)
	}
	return nil
}

// responseError summarizes the errors array of an unsuccessful response.
func responseError(r cloudflare.Response) error {
	if len(r.Errors) == 0 {
		return errors.New("cloudflare reported an unsuccessful request")
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, fmt.Sprintf("%d: %s", e.Code, e.Message))
	}
	return fmt.Errorf("cloudflare: %s", strings.Join(msgs, "; "))
}

// decodeRecord converts one record of a Cloudflare response and keeps its raw form.
func decodeRecord(raw json.RawMessage) (Record, error) {
	var rr cloudflare.DNSRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Record{}, fmt.Errorf("error decoding DNS record: %w", err)
	}
	return Record{
		ID:      rr.ID,
		ZoneID:  rr.ZoneID,
		Name:    rr.Name,
		Type:    rr.Type,
		Content: rr.Content,
		TTL:     rr.TTL,
		Proxied: rr.Proxied,
		Comment: rr.Comment,
		raw:     raw,
	}, nil
}

// replacement is the PUT body that points r at ip.
// A record fetched from Cloudflare is sent back whole with only its content changed.
// A record built by hand carries its own fields and nothing server-managed.
func (r Record) replacement(ip string) (map[string]any, error) {
	body := make(map[string]any)
	if len(r.raw) > 0 {
		d := json.NewDecoder(bytes.NewReader(r.raw))
		d.UseNumber()
		if err := d.Decode(&body); err != nil {
			return nil, fmt.Errorf("error decoding fetched record: %w", err)
		}
		body["content"] = ip
		return body, nil
	}

	body["type"] = r.Type
	body["name"] = r.Name
	body["content"] = ip
	if r.TTL != 0 {
		body["ttl"] = r.TTL
	}
	if r.Proxied != nil {
		body["proxied"] = *r.Proxied
	}
	if r.Comment != "" {
		body["comment"] = r.Comment
	}
	return body, nil
}
