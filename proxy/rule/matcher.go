package rule

import (
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

type matcher interface {
	Matches(target netLayer.Addr) bool
}

func compileMatcher(item RuleItem) (matcher, error) {
	switch item.Type {
	case KindDomain:
		if item.Domain == "" || !govalidator.IsDNSName(item.Domain) {
			return nil, utils.ErrInErr{ErrDesc: "rule: bad domain", Data: item.Domain}
		}
		switch item.Method {
		case MethodSuffix, MethodKeyword, MethodFull:
		default:
			return nil, utils.ErrInErr{ErrDesc: "rule: bad domain method", Data: item.Method}
		}
		return domainMatcher{method: item.Method, domain: strings.ToLower(item.Domain)}, nil
	case KindIP:
		set := netLayer.NewCIDRSet()
		if err := set.Add(item.CIDR); err != nil {
			return nil, err
		}
		return cidrMatcher{set: set}, nil
	case KindGeoIP:
		iso := netLayer.NormalizeISO(item.Country)
		if iso == "" {
			return nil, utils.ErrInErr{ErrDesc: "rule: unknown country", Data: item.Country}
		}
		if !netLayer.HasGeoipDB() {
			if ce := utils.CanLogWarn("rule: geoip rule configured but no geoip database is loaded"); ce != nil {
				ce.Write(zap.String("country", iso))
			}
		}
		return geoipMatcher{iso: iso}, nil
	case KindAny:
		return anyMatcher{}, nil
	}
	return nil, utils.ErrInErr{ErrDesc: "rule: unknown rule type", Data: item.Type}
}

type domainMatcher struct {
	method string
	domain string
}

// A domain rule never matches an IP destination; there is no implicit DNS
// resolution inside the router.
func (m domainMatcher) Matches(target netLayer.Addr) bool {
	if target.Name == "" {
		return false
	}
	name := strings.ToLower(target.Name)
	switch m.method {
	case MethodKeyword:
		return strings.Contains(name, m.domain)
	case MethodFull:
		return name == m.domain
	default:
		return netLayer.HasSuffixDomain(name, m.domain)
	}
}

type cidrMatcher struct {
	set *netLayer.CIDRSet
}

func (m cidrMatcher) Matches(target netLayer.Addr) bool {
	return m.set.Contains(target.IP)
}

type geoipMatcher struct {
	iso string
}

func (m geoipMatcher) Matches(target netLayer.Addr) bool {
	if len(target.IP) == 0 {
		return false
	}
	return netLayer.GetIP_ISO(target.IP) == m.iso
}

type anyMatcher struct{}

func (anyMatcher) Matches(netLayer.Addr) bool { return true }
