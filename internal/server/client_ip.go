package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

const (
	ipSourceRemoteAddr    = "remote_addr"
	ipSourceXForwardedFor = "x_forwarded_for"
	ipSourceXRealIP       = "x_real_ip"
)

// clientIPResolver decides whether forwarded headers may identify the client.
// Headers are spoofable, so they are honoured only when the direct peer is a
// trusted proxy or the deployment opts in wholesale.
type clientIPResolver struct {
	trustAll bool
	trusted  []*net.IPNet
}

func newClientIPResolver(cfg RateLimitConfig) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustAll: cfg.TrustForwardedHeaders}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		cidr := entry
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
		}
		resolver.trusted = append(resolver.trusted, network)
	}
	return resolver, nil
}

// ClientIPFromRequest returns the resolved client IP and the source it came
// from. Forwarded headers win only for trusted peers; X-Forwarded-For takes
// priority over X-Real-IP, using the first hop in the chain.
func (resolver *clientIPResolver) ClientIPFromRequest(r *http.Request) (string, string) {
	remote := hostFromRemoteAddr(r.RemoteAddr)
	if resolver == nil || !resolver.trustsPeer(remote) {
		return remote, ipSourceRemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip, ipSourceXForwardedFor
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip, ipSourceXRealIP
	}
	return remote, ipSourceRemoteAddr
}

func (resolver *clientIPResolver) trustsPeer(remoteIP string) bool {
	if resolver.trustAll {
		return true
	}
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false
	}
	for _, network := range resolver.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func resolveClientIP(r *http.Request, resolver *clientIPResolver) (string, string) {
	if resolver == nil {
		return hostFromRemoteAddr(r.RemoteAddr), ipSourceRemoteAddr
	}
	return resolver.ClientIPFromRequest(r)
}

func hostFromRemoteAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
