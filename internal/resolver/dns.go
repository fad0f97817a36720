package resolver

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DNSSECResolver performs an explicit A query against a chosen upstream
// nameserver with the DO (DNSSEC OK) bit set, and only returns an address
// when the response carries the AD (Authenticated Data) flag — i.e. it
// refuses to return an address it cannot verify rather than silently
// degrading to an unverified answer. Wired to github.com/miekg/dns (the
// teacher's dependency), replacing the Java original's DNSSEC library.
// Grounded on VerifiedAddressFactory.newInetSocketAddress(..., useDnsSec)
// (ClientToProxyConnection.java:1173-1181).
type DNSSECResolver struct {
	Nameserver string // host:port, e.g. "1.1.1.1:53"
	Client     *dns.Client
	Fallback   Resolver
}

func NewDNSSECResolver(nameserver string) *DNSSECResolver {
	return &DNSSECResolver{
		Nameserver: nameserver,
		Client:     &dns.Client{Timeout: 5 * time.Second},
		Fallback:   NewDefault(),
	}
}

func (r *DNSSECResolver) Resolve(ctx context.Context, authority string, dnssec bool) (net.Addr, error) {
	if !dnssec {
		return r.Fallback.Resolve(ctx, authority, false)
	}
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		return nil, ErrUnknownHost
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.TCPAddr{IP: ip, Port: mustAtoi(port)}, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.SetEdns0(4096, true) // DO bit

	in, _, err := r.Client.ExchangeContext(ctx, m, r.Nameserver)
	if err != nil || in == nil {
		return nil, ErrUnknownHost
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, ErrUnknownHost
	}
	if !in.AuthenticatedData {
		return nil, ErrUnknownHost
	}
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			return &net.TCPAddr{IP: a.A, Port: mustAtoi(port)}, nil
		}
	}
	return nil, ErrUnknownHost
}
