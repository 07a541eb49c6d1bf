// Package netLayer holds the network-layer target type and the matching
// primitives (cidr sets, geoip, dns) shared by all nets.
package netLayer

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/meshproxy/meshproxy/utils"
)

// Addr represents a target you want to reach through a net. Either Name or IP
// is used exclusively; Network records the transport ("tcp" or "udp", "tcp"
// when empty).
type Addr struct {
	Network string
	Name    string // domain name
	IP      net.IP
	Port    int
}

// NewAddr parses a "host:port" string; host may be a domain, an IPv4 literal
// or a bracketed IPv6 literal.
func NewAddr(s string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, utils.ErrInErr{ErrDesc: "can not parse addr", ErrDetail: err, Data: s}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Addr{}, utils.ErrInErr{ErrDesc: "bad port", Data: s}
	}
	a := Addr{Port: port}
	if ip := net.ParseIP(host); ip != nil {
		a.IP = ip
	} else {
		a.Name = host
	}
	return a, nil
}

func NewAddrFromHostPort(host string, port int, network string) Addr {
	a := Addr{Port: port, Network: network}
	if ip := net.ParseIP(host); ip != nil {
		a.IP = ip
	} else {
		a.Name = host
	}
	return a
}

func (a Addr) GetNetwork() string {
	if a.Network == "" {
		return "tcp"
	}
	return a.Network
}

// HostStr returns the domain name, or the IP literal if there is no name.
func (a Addr) HostStr() string {
	if a.Name != "" {
		return a.Name
	}
	if a.IP != nil {
		return a.IP.String()
	}
	return ""
}

func (a Addr) String() string {
	return net.JoinHostPort(a.HostStr(), strconv.Itoa(a.Port))
}

func (a Addr) IsIP() bool {
	return len(a.IP) > 0
}

// GetNetIPAddr returns the netip form of the IP, zero value if Addr holds a name.
func (a Addr) GetNetIPAddr() (na netip.Addr) {
	if len(a.IP) == 0 {
		return
	}
	na, _ = netip.AddrFromSlice(a.IP)
	return na.Unmap()
}

// HasSuffixDomain reports whether domain equals suffix or ends with
// "."+suffix. The boundary check avoids "notexample.com" matching
// "example.com".
func HasSuffixDomain(domain, suffix string) bool {
	if domain == suffix {
		return true
	}
	return strings.HasSuffix(domain, "."+suffix)
}
