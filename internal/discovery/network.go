// Package discovery implements LAN auto-discovery and auto-join (C8):
// ranked local-IPv4 selection, seed-URL construction, /24 subnet sweep,
// coordinator probing, and the pairing bootstrap/session two-step
// protocol, grounded on _examples/original_source/shared/networking.py
// and _examples/original_source/coordinator/routers/pairing.py.
package discovery

import (
	"net"
	"sort"
	"strings"
)

// rank orders candidate IPv4 addresses the way the original's
// _rank_ipv4 does: home-LAN ranges first (192.168, 10, 172), then other
// private, link-local, loopback last.
func rank(addr string) int {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 9
	}
	if ip.IsLoopback() {
		return 5
	}
	if ip.IsLinkLocalUnicast() {
		return 4
	}
	switch {
	case strings.HasPrefix(addr, "192.168."):
		return 0
	case strings.HasPrefix(addr, "10."):
		return 1
	case strings.HasPrefix(addr, "172."):
		return 2
	}
	if isPrivateIPv4(ip) {
		return 3
	}
	return 3
}

func isPrivateIPv4(ip net.IP) bool {
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, block, _ := net.ParseCIDR(cidr)
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// LocalIPv4Addresses returns every non-multicast IPv4 address bound to a
// local interface, ranked home-LAN-first; loopback addresses are kept only
// when includeLoopback is true. If
// includeLoopback is false and nothing remains after dropping loopback
// addresses, ["127.0.0.1"] is returned (matching the original's
// fallback).
func LocalIPv4Addresses(includeLoopback bool) []string {
	var candidates []string
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsMulticast() || ip4.IsUnspecified() {
				continue
			}
			candidates = append(candidates, ip4.String())
		}
	}

	seen := map[string]bool{}
	var filtered []string
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		filtered = append(filtered, c)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if rank(filtered[i]) != rank(filtered[j]) {
			return rank(filtered[i]) < rank(filtered[j])
		}
		return filtered[i] < filtered[j]
	})

	if includeLoopback {
		return filtered
	}
	var withoutLoopback []string
	for _, c := range filtered {
		ip := net.ParseIP(c)
		if ip != nil && !ip.IsLoopback() {
			withoutLoopback = append(withoutLoopback, c)
		}
	}
	if len(withoutLoopback) > 0 {
		return withoutLoopback
	}
	return []string{"127.0.0.1"}
}

// PreferredLANIPv4 returns the best local address to advertise as this
// Agent's base_url host, per spec.md §4.8.
func PreferredLANIPv4() string {
	for _, candidate := range LocalIPv4Addresses(false) {
		ip := net.ParseIP(candidate)
		if ip != nil && isPrivateIPv4(ip) && !ip.IsLoopback() {
			return candidate
		}
	}
	fallback := LocalIPv4Addresses(true)
	if len(fallback) > 0 {
		return fallback[0]
	}
	return "127.0.0.1"
}

// maxHostsPerSubnet bounds the /24 sweep the way the original's
// limit_per_subnet does.
const maxHostsPerSubnet = 254

// SubnetSweepHosts enumerates every host address in each local /24
// subnet (excluding the network/broadcast addresses), deduplicated
// across overlapping subnets.
func SubnetSweepHosts() []string {
	seenSubnets := map[string]bool{}
	seenHosts := map[string]bool{}
	var hosts []string
	for _, addr := range LocalIPv4Addresses(false) {
		ip := net.ParseIP(addr)
		if ip == nil || !isPrivateIPv4(ip) {
			continue
		}
		_, subnet, err := net.ParseCIDR(addr + "/24")
		if err != nil {
			continue
		}
		key := subnet.String()
		if seenSubnets[key] {
			continue
		}
		seenSubnets[key] = true

		base := subnet.IP.To4()
		count := 0
		for i := 1; i < 255 && count < maxHostsPerSubnet; i++ {
			host := net.IPv4(base[0], base[1], base[2], byte(i)).String()
			if seenHosts[host] {
				continue
			}
			seenHosts[host] = true
			hosts = append(hosts, host)
			count++
		}
	}
	return hosts
}

// NormalizeBaseURL validates and canonicalizes a caller-supplied host or
// URL into "scheme://host:port", defaulting the scheme to http and the
// port to defaultPort.
func NormalizeBaseURL(raw string, defaultPort int) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	withProtocol := raw
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		withProtocol = "http://" + raw
	}

	scheme := "http"
	rest := withProtocol
	if idx := strings.Index(withProtocol, "://"); idx >= 0 {
		s := strings.ToLower(withProtocol[:idx])
		if s == "http" || s == "https" {
			scheme = s
		}
		rest = withProtocol[idx+3:]
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return ""
	}
	host, port := rest, ""
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		host, port = rest[:i], rest[i+1:]
	}
	if host == "" {
		return ""
	}
	if port == "" {
		port = intToStr(defaultPort)
	}
	return scheme + "://" + host + ":" + port
}

func intToStr(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// CoordinatorSeedURLs builds the candidate list the original's
// coordinator_seed_urls assembles (explicit hints, loopback and every
// local LAN address, at the given port), normalized, deduplicated and
// stably sorted by host rank, so loopback entries come last.
func CoordinatorSeedURLs(hints []string, port int) []string {
	var seeds []string
	seeds = append(seeds, hints...)
	seeds = append(seeds, "http://127.0.0.1:"+intToStr(port), "http://localhost:"+intToStr(port))
	for _, addr := range LocalIPv4Addresses(false) {
		seeds = append(seeds, "http://"+addr+":"+intToStr(port))
	}

	var normalized []string
	for _, s := range seeds {
		if n := NormalizeBaseURL(s, port); n != "" {
			normalized = append(normalized, n)
		}
	}
	return orderedUnique(rankedByHost(normalized))
}

func orderedUnique(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

func rankedByHost(urls []string) []string {
	sort.SliceStable(urls, func(i, j int) bool {
		return rank(hostOf(urls[i])) < rank(hostOf(urls[j]))
	})
	return urls
}

func hostOf(rawURL string) string {
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
