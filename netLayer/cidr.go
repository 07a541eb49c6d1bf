package netLayer

import (
	"net"

	"github.com/meshproxy/meshproxy/utils"
	"github.com/yl2chen/cidranger"
)

// CIDRSet answers containment queries over a set of CIDR ranges.
// Backed by cidranger's path-compressed trie, which stays fast even with
// large imported range lists.
type CIDRSet struct {
	ranger cidranger.Ranger
	count  int
}

func NewCIDRSet() *CIDRSet {
	return &CIDRSet{ranger: cidranger.NewPCTrieRanger()}
}

func (s *CIDRSet) Add(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return utils.ErrInErr{ErrDesc: "can not parse cidr", ErrDetail: err, Data: cidr}
	}
	if err := s.ranger.Insert(cidranger.NewBasicRangerEntry(*network)); err != nil {
		return utils.ErrInErr{ErrDesc: "can not insert cidr", ErrDetail: err, Data: cidr}
	}
	s.count++
	return nil
}

func (s *CIDRSet) Len() int {
	return s.count
}

func (s *CIDRSet) Contains(ip net.IP) bool {
	if s.count == 0 || len(ip) == 0 {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	has, _ := s.ranger.Contains(ip)
	return has
}
