package netLayer

import (
	"net"
	"time"

	"github.com/meshproxy/meshproxy/utils"
	"github.com/miekg/dns"
)

// DNSMachine queries a fixed upstream dns server directly instead of going
// through the OS resolver. Used by the direct net when a dns_server is
// configured.
type DNSMachine struct {
	server string
	client *dns.Client
}

// NewDNSMachine takes the upstream address; ":53" is appended when no port is
// given.
func NewDNSMachine(server string) *DNSMachine {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSMachine{
		server: server,
		client: &dns.Client{Timeout: 5 * time.Second},
	}
}

func (dm *DNSMachine) query(host string, qtype uint16) (net.IP, error) {
	var m dns.Msg
	m.SetQuestion(dns.Fqdn(host), qtype)
	r, _, err := dm.client.Exchange(&m, dm.server)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "dns query failed", ErrDetail: err, Data: host}
	}
	for _, ans := range r.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			return rr.A, nil
		case *dns.AAAA:
			return rr.AAAA, nil
		}
	}
	return nil, utils.ErrInErr{ErrDesc: "dns no answer", Data: host}
}

// Lookup resolves host to a single IP, preferring A records.
func (dm *DNSMachine) Lookup(host string) (net.IP, error) {
	ip, err := dm.query(host, dns.TypeA)
	if err == nil {
		return ip, nil
	}
	return dm.query(host, dns.TypeAAAA)
}
