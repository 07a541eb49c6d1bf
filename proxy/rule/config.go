// Package rule implements the rule-dispatch net: an ordered rule list
// evaluated against a connection's destination, forwarding to the first
// matching target net.
package rule

import (
	"github.com/meshproxy/meshproxy/proxy"
)

const Name = "rule"

// Rule kinds. Domain rules additionally carry a match method.
const (
	KindDomain = "domain"
	KindIP     = "ip"
	KindGeoIP  = "geoip"
	KindAny    = "any"
)

const (
	MethodSuffix  = "suffix"
	MethodKeyword = "keyword"
	MethodFull    = "full"
)

type RuleItem struct {
	Type   string `yaml:"type"`
	Method string `yaml:"method,omitempty"` // domain rules: suffix | keyword | full
	Domain string `yaml:"domain,omitempty"`
	CIDR   string `yaml:"cidr,omitempty"`
	// Country is an ISO 3166 code for geoip rules.
	Country string `yaml:"country,omitempty"`

	Target proxy.NetRef `yaml:"target"`
}

type Config struct {
	Rule []RuleItem `yaml:"rule"`
}

// SetDefaults appends the implicit catch-all: if no rule always matches, a
// final any -> local is added so dispatch can never come up empty.
func (c *Config) SetDefaults() {
	hasCatchAll := false
	for i := range c.Rule {
		if c.Rule[i].Type == KindDomain && c.Rule[i].Method == "" {
			c.Rule[i].Method = MethodSuffix
		}
		if c.Rule[i].Type == KindAny {
			hasCatchAll = true
		}
	}
	if !hasCatchAll {
		c.Rule = append(c.Rule, RuleItem{Type: KindAny, Target: proxy.NewNetRef(proxy.LocalName)})
	}
}

func (c *Config) Visit(v proxy.Visitor) error {
	for i := range c.Rule {
		if err := v.VisitNetRef(&c.Rule[i].Target); err != nil {
			return err
		}
	}
	return nil
}
