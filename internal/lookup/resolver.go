// Package lookup provides network self-identification helpers: local
// interface enumeration, reverse (PTR) lookups, and a forward-resolve
// preflight for device lists.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultTimeout is the per-query DNS timeout.
const DefaultTimeout = 5 * time.Second

// resolvConfPath is the system resolver configuration consulted when no
// server is configured explicitly.
const resolvConfPath = "/etc/resolv.conf"

// Sentinel errors for lookup operations.
var (
	// ErrNoResolver is returned when no DNS server is configured and none
	// can be discovered from the system resolver configuration.
	ErrNoResolver = errors.New("no dns resolver configured or discovered")

	// ErrNoAnswer is returned when the server answered but had no records
	// for the name.
	ErrNoAnswer = errors.New("no answer")
)

// Address is one usable local interface address.
type Address struct {
	// Interface is the network interface name.
	Interface string

	// CIDR is the address in prefix notation, as reported by the interface.
	CIDR string

	// IP is the bare address.
	IP net.IP
}

// LocalAddresses lists the addresses of interfaces that are up, excluding
// loopback interfaces and link-local addresses. Results are sorted by
// interface name.
func LocalAddresses() ([]Address, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var out []Address
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.IsLinkLocalUnicast() || ipNet.IP.IsLinkLocalMulticast() {
				continue
			}
			out = append(out, Address{
				Interface: iface.Name,
				CIDR:      addr.String(),
				IP:        ipNet.IP,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Interface != out[j].Interface {
			return out[i].Interface < out[j].Interface
		}
		return out[i].CIDR < out[j].CIDR
	})

	return out, nil
}

// Resolver performs DNS queries against a single configured server.
type Resolver struct {
	server string
	client *dns.Client
	logger *slog.Logger

	// exchange is the wire call, swapped by tests.
	exchange func(msg *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Option is a functional option for configuring the Resolver.
type Option func(*Resolver)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.client.Timeout = d
		}
	}
}

// New creates a Resolver against server in host:port form (":53" is
// appended when the port is missing). An empty server falls back to the
// first nameserver in /etc/resolv.conf.
func New(server string, opts ...Option) (*Resolver, error) {
	if server == "" {
		conf, err := dns.ClientConfigFromFile(resolvConfPath)
		if err != nil || len(conf.Servers) == 0 {
			return nil, fmt.Errorf("%w: %s unusable", ErrNoResolver, resolvConfPath)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	r := &Resolver{
		server: server,
		client: &dns.Client{
			Timeout: DefaultTimeout,
			Net:     "udp",
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}
	r.exchange = r.client.Exchange

	r.logger.Debug("resolver initialized", slog.String("server", r.server))

	return r, nil
}

// Server returns the resolved server address in host:port form.
func (r *Resolver) Server() string {
	return r.server
}

// Reverse returns the PTR names for ip, without trailing dots.
func (r *Resolver) Reverse(ctx context.Context, ip net.IP) ([]string, error) {
	if ip == nil {
		return nil, errors.New("ip is required")
	}

	arpa, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return nil, fmt.Errorf("building reverse name for %s: %w", ip, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	resp, rtt, err := r.exchangeWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("ptr query for %s: %w", ip, err)
	}

	r.logger.Debug("ptr query complete",
		slog.String("ip", ip.String()),
		slog.Duration("rtt", rtt),
		slog.Int("answers", len(resp.Answer)),
	)

	names := collectPTR(resp)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoAnswer, ip)
	}
	return names, nil
}

// Forward resolves host to IPv4 addresses.
func (r *Resolver) Forward(ctx context.Context, host string) ([]net.IP, error) {
	if host == "" {
		return nil, errors.New("host is required")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, rtt, err := r.exchangeWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("a query for %s: %w", host, err)
	}

	r.logger.Debug("a query complete",
		slog.String("host", host),
		slog.Duration("rtt", rtt),
		slog.Int("answers", len(resp.Answer)),
	)

	ips := collectA(resp)
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoAnswer, host)
	}
	return ips, nil
}

// Preflight forward-resolves every target and returns one warning line per
// target that did not resolve. IP-literal targets are skipped. Warnings are
// advisory; callers proceed with the run regardless.
func (r *Resolver) Preflight(ctx context.Context, targets []string) []string {
	var warnings []string
	for _, target := range targets {
		host := target
		if h, _, err := net.SplitHostPort(target); err == nil {
			host = h
		}
		if net.ParseIP(host) != nil {
			continue
		}
		if _, err := r.Forward(ctx, host); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", target, err))
		}
	}
	return warnings
}

// exchangeWithContext performs a DNS exchange with context support.
func (r *Resolver) exchangeWithContext(ctx context.Context, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	type result struct {
		resp *dns.Msg
		rtt  time.Duration
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		resp, rtt, err := r.exchange(msg, r.server)
		ch <- result{resp, rtt, err}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, 0, res.err
		}
		if res.resp == nil {
			return nil, 0, errors.New("no response from server")
		}
		if res.resp.Rcode != dns.RcodeSuccess && res.resp.Rcode != dns.RcodeNameError {
			return nil, 0, fmt.Errorf("server returned %s", dns.RcodeToString[res.resp.Rcode])
		}
		return res.resp, res.rtt, nil
	}
}

// collectPTR extracts PTR targets from a response, trailing dots trimmed.
func collectPTR(resp *dns.Msg) []string {
	var names []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			names = append(names, strings.TrimSuffix(ptr.Ptr, "."))
		}
	}
	return names
}

// collectA extracts A record addresses from a response.
func collectA(resp *dns.Msg) []net.IP {
	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	return ips
}
