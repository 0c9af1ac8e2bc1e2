package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Resolver looks up the addresses to publish.
type Resolver interface {
	Resolve(ctx context.Context) ([]netip.Addr, error)
}

// ResolverFunc adapts an ordinary function to a Resolver.
type ResolverFunc func(ctx context.Context) ([]netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]netip.Addr, error) {
	return f(ctx)
}

// Static returns a resolver that always reports the given addresses.
func Static(addrs ...string) (Resolver, error) {
	var parsed []netip.Addr
	for _, a := range addrs {
		addr, err := netip.ParseAddr(strings.TrimSpace(a))
		if err != nil {
			return nil, fmt.Errorf("unable to parse IP: %w", err)
		}
		parsed = append(parsed, addr)
	}
	if len(parsed) == 0 {
		return nil, errors.New("no addresses given")
	}
	return ResolverFunc(func(context.Context) ([]netip.Addr, error) {
		return parsed, nil
	}), nil
}

// InterfaceResolver returns a resolver that reports the addresses assigned to the named interfaces.
// With no names every interface is used.
// Loopback and link-local addresses are skipped.
func InterfaceResolver(iface ...string) Resolver {
	return ResolverFunc(func(ctx context.Context) ([]netip.Addr, error) {
		if len(iface) == 0 {
			addrs, err := net.InterfaceAddrs()
			if err != nil {
				return nil, fmt.Errorf("error getting interface addresses: %w", err)
			}
			return usableAddrs(addrs, "")
		}

		var found []netip.Addr
		var errs []error
		for _, name := range iface {
			ifc, err := net.InterfaceByName(name)
			if err != nil {
				errs = append(errs, fmt.Errorf("error getting interface %s by name: %w", name, err))
				continue
			}
			addrs, err := ifc.Addrs()
			if err != nil {
				errs = append(errs, fmt.Errorf("error looking up addresses for interface %s: %w", name, err))
				continue
			}
			a, err := usableAddrs(addrs, name)
			found = append(found, a...)
			if err != nil {
				errs = append(errs, err)
			}
		}
		return found, errors.Join(errs...)
	})
}

// usableAddrs converts interface addresses such as "ip+net:192.168.86.253/24".
func usableAddrs(addrs []net.Addr, iface string) ([]netip.Addr, error) {
	var found []netip.Addr
	var errs []error
	for _, addr := range addrs {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("error parsing local ip %s %s: %w", addr, iface, err))
			continue
		}
		a := prefix.Addr()
		if a.IsLoopback() || a.IsLinkLocalUnicast() {
			continue
		}
		found = append(found, a)
	}
	return found, errors.Join(errs...)
}

// consensus is the number of web services asked for the address.
const consensus = 3

// WebResolver returns a resolver that asks external web services for the public address.
//
// Each service must answer "200 OK" with an IPv4 or IPv6 address on the first line of the body.
// With a single service its answer is returned as is.
// With several, up to three are asked concurrently and the first two successful answers must agree.
//
// A nil httpClient means http.DefaultClient.
// To publish both address families, give each family its own resolver
// (for example https://ipv4.icanhazip.com and https://ipv6.icanhazip.com) and combine them with Join.
func WebResolver(httpClient *http.Client, serviceURL ...string) (Resolver, error) {
	if len(serviceURL) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	wr := &webResolver{httpClient: httpClient}
	for _, s := range serviceURL {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("unsupported scheme in %q", s)
		}
		wr.serviceURLs = append(wr.serviceURLs, u)
	}
	if wr.httpClient == nil {
		wr.httpClient = http.DefaultClient
	}
	return wr, nil
}

type webResolver struct {
	httpClient  *http.Client
	serviceURLs []*url.URL
}

func (wr *webResolver) Resolve(ctx context.Context) ([]netip.Addr, error) {
	if len(wr.serviceURLs) == 1 {
		addr, err := wr.lookup(ctx, wr.serviceURLs[0])
		if err != nil {
			return nil, err
		}
		return []netip.Addr{addr}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addr netip.Addr
		err  error
	}
	n := min(len(wr.serviceURLs), consensus)
	results := make(chan result, n)
	var wg sync.WaitGroup
	for _, u := range wr.serviceURLs[:n] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := wr.lookup(ctx, u)
			results <- result{addr: addr, err: err}
		}()
	}
	go func() { wg.Wait(); close(results) }()

	var first netip.Addr
	var errs []error
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		if !first.IsValid() {
			first = r.addr
			continue
		}
		if first != r.addr {
			return nil, fmt.Errorf("IP resolvers did not agree on our IP: %s != %s", first, r.addr)
		}
		return []netip.Addr{first}, nil
	}
	return nil, fmt.Errorf("not enough resolvers responded without errors: %w", errors.Join(errs...))
}

func (wr *webResolver) lookup(ctx context.Context, u *url.URL) (netip.Addr, error) {
	// bounds every lookup even under context.Background and a client without a timeout
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := wr.httpClient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("%s returned %s", u.Host, resp.Status)
	}
	line, _ := bufio.NewReader(resp.Body).ReadString('\n')
	addr, err := netip.ParseAddr(strings.TrimSpace(line))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from %s: %w", u.Host, err)
	}
	return addr, nil
}

// Join returns a resolver that runs every resolver concurrently and merges their addresses.
// Any failure fails the whole lookup.
func Join(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(ctx context.Context) ([]netip.Addr, error) {
		found := make([][]netip.Addr, len(resolvers))
		g, ctx := errgroup.WithContext(ctx)
		for i, r := range resolvers {
			g.Go(func() error {
				addrs, err := r.Resolve(ctx)
				found[i] = addrs
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		seen := make(map[netip.Addr]bool)
		var merged []netip.Addr
		for _, addrs := range found {
			for _, a := range addrs {
				if !seen[a] {
					seen[a] = true
					merged = append(merged, a)
				}
			}
		}
		return merged, nil
	})
}
