// Package fakeapi provides in-process fakes of the Cloudflare and Telegram APIs for tests.
package fakeapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Cloudflare serves the zone listing, record listing and record replacement endpoints.
// Responses are written as raw JSON to exercise the real wire format.
type Cloudflare struct {
	*httptest.Server

	mu      sync.Mutex
	zones   []map[string]any
	records map[string][]map[string]any // by zone ID

	zonesUnsuccessful  bool
	updateUnsuccessful bool

	zoneLookups   []string
	recordLookups []string
	updates       []map[string]any
	updatePaths   []string
	authHeaders   []string
	contentTypes  []string
}

func NewCloudflare(t testing.TB) *Cloudflare {
	t.Helper()
	f := &Cloudflare{records: make(map[string][]map[string]any)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones", f.listZones)
	mux.HandleFunc("GET /zones/{zone}/dns_records", f.listRecords)
	mux.HandleFunc("PUT /zones/{zone}/dns_records/{id}", f.replaceRecord)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *Cloudflare) AddZone(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zones = append(f.zones, map[string]any{"id": id, "name": name, "status": "active"})
}

// AddRecord stores a record with a TTL of 120, proxied off and the comment "router".
// extra fields are merged into it.
func (f *Cloudflare) AddRecord(zoneID, id, name, rrType, content string, extra map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rr := map[string]any{
		"id":          id,
		"zone_id":     zoneID,
		"name":        name,
		"type":        rrType,
		"content":     content,
		"ttl":         120,
		"proxied":     false,
		"comment":     "router",
		"created_on":  "2024-05-01T10:00:00.000000Z",
		"modified_on": "2024-05-01T10:00:00.000000Z",
	}
	for k, v := range extra {
		rr[k] = v
	}
	f.records[zoneID] = append(f.records[zoneID], rr)
}

// FailZones makes zone listings answer 200 with success false.
func (f *Cloudflare) FailZones() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zonesUnsuccessful = true
}

// FailUpdates makes record replacements answer 200 with success false.
func (f *Cloudflare) FailUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateUnsuccessful = true
}

func (f *Cloudflare) ZoneLookups() []string   { return f.strings(&f.zoneLookups) }
func (f *Cloudflare) RecordLookups() []string { return f.strings(&f.recordLookups) }
func (f *Cloudflare) UpdatePaths() []string   { return f.strings(&f.updatePaths) }
func (f *Cloudflare) AuthHeaders() []string   { return f.strings(&f.authHeaders) }
func (f *Cloudflare) ContentTypes() []string  { return f.strings(&f.contentTypes) }

// Updates returns the decoded bodies of every record replacement.
func (f *Cloudflare) Updates() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.updates...)
}

// Calls counts every API call received.
func (f *Cloudflare) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.zoneLookups) + len(f.recordLookups) + len(f.updates)
}

func (f *Cloudflare) strings(s *[]string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), *s...)
}

func (f *Cloudflare) track(r *http.Request) {
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	f.contentTypes = append(f.contentTypes, r.Header.Get("Content-Type"))
}

func (f *Cloudflare) listZones(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track(r)
	name := r.URL.Query().Get("name")
	f.zoneLookups = append(f.zoneLookups, name)

	if f.zonesUnsuccessful {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  false,
			"errors":   []any{map[string]any{"code": 9109, "message": "Invalid access token"}},
			"messages": []any{},
			"result":   nil,
		})
		return
	}
	result := []map[string]any{}
	for _, z := range f.zones {
		if z["name"] == name {
			result = append(result, z)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"errors":      []any{},
		"messages":    []any{},
		"result":      result,
		"result_info": map[string]any{"page": 1, "per_page": 20, "total_pages": 1, "count": len(result), "total_count": len(result)},
	})
}

func (f *Cloudflare) listRecords(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track(r)
	name := r.URL.Query().Get("name")
	f.recordLookups = append(f.recordLookups, name)

	result := []map[string]any{}
	for _, rr := range f.records[r.PathValue("zone")] {
		if rr["name"] == name {
			result = append(result, rr)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "errors": []any{}, "messages": []any{}, "result": result})
}

func (f *Cloudflare) replaceRecord(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track(r)

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": []any{}})
		return
	}
	f.updates = append(f.updates, body)
	f.updatePaths = append(f.updatePaths, r.URL.Path)

	if f.updateUnsuccessful {
		// a failed update still answers 200; only the body tells
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"errors":  []any{map[string]any{"code": 81058, "message": "An identical record already exists."}},
		})
		return
	}
	result := make(map[string]any, len(body))
	for k, v := range body {
		result[k] = v
	}
	result["id"] = r.PathValue("id")
	result["zone_id"] = r.PathValue("zone")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "errors": []any{}, "messages": []any{}, "result": result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
