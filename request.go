package ddns

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

// Credential is the decoded HTTP Basic auth pair of an update request.
// Username doubles as a zone name hint; see ZoneName.
type Credential struct {
	Username string
	Password string
}

// UpdateRequest is everything the handler needs from an inbound update call.
type UpdateRequest struct {
	Hostnames []string
	IPs       []string
	Username  string
	Token     string
}

// requireTransportSecurity rejects requests that did not arrive over https.
// The connection itself must be secure (or declared secure with behindTLSProxy)
// and, when protoHeader is set, the forwarding proxy must agree.
func requireTransportSecurity(r *http.Request, protoHeader string, behindTLSProxy bool) error {
	secure := r.TLS != nil || r.URL.Scheme == "https" || behindTLSProxy
	if protoHeader != "" && !strings.EqualFold(r.Header.Get(protoHeader), "https") {
		secure = false
	}
	if !secure {
		return newError(InsecureTransport, "Please use an HTTPS connection", nil)
	}
	return nil
}

// parseCredential decodes the Basic Authorization header of r.
// A request without the header yields an empty Credential.
func parseCredential(r *http.Request) (Credential, error) {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return Credential{}, nil
	}
	invalid := func(err error) (Credential, error) {
		return Credential{}, newError(MalformedCredential, "Invalid authorization token", err)
	}

	scheme, data, _ := strings.Cut(authorization, " ")
	if !strings.EqualFold(scheme, "Basic") {
		return invalid(fmt.Errorf("unsupported authorization scheme %q", scheme))
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return invalid(err)
	}
	for _, b := range decoded {
		if b < 0x20 || b == 0x7f {
			return invalid(errors.New("credential contains control characters"))
		}
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return invalid(errors.New("credential has no separator"))
	}
	return Credential{Username: username, Password: password}, nil
}

// parseUpdateRequest reads hostnames, addresses and the effective token of an update call.
// When no address parameter is present the client address is taken from clientIPHeader.
func parseUpdateRequest(r *http.Request, cred Credential, clientIPHeader string) (UpdateRequest, error) {
	q := r.URL.Query()
	req := UpdateRequest{
		Username: cred.Username,
		Token:    cred.Password,
	}
	if req.Token == "" {
		req.Token = q.Get("token")
	}
	if req.Token == "" {
		return req, newError(MalformedCredential, "Invalid authorization token", errors.New("no API token supplied"))
	}

	ips := firstNonEmpty(q, "ips", "ip", "myip")
	if ips == "" && clientIPHeader != "" {
		ips = r.Header.Get(clientIPHeader)
	}
	req.Hostnames = splitList(firstNonEmpty(q, "hostname", "host", "domains"))
	req.IPs = splitList(ips)
	if len(req.Hostnames) == 0 || len(req.IPs) == 0 {
		return req, newError(MissingParameter, "You must specify both hostname(s) and IP address(es)", nil)
	}

	for i, h := range req.Hostnames {
		h = strings.TrimSuffix(h, ".")
		if _, ok := dns.IsDomainName(h); !ok || h == "" {
			return req, newError(InvalidParameter, fmt.Sprintf("Invalid hostname %q", h), nil)
		}
		req.Hostnames[i] = h
	}
	for _, ip := range req.IPs {
		if _, err := netip.ParseAddr(ip); err != nil {
			return req, newError(InvalidParameter, fmt.Sprintf("Invalid IP address %q", ip), err)
		}
	}
	return req, nil
}

func firstNonEmpty(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// splitList splits a comma-separated parameter, dropping blank entries.
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
