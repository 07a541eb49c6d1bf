package rule

import (
	"context"
	"net"

	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

func init() {
	proxy.RegisterNet(Name, Creator{})
}

type Creator struct{}

func (Creator) NewNetConfig() any { return &Config{} }

func (Creator) NewNet(cfg any) (proxy.Net, error) {
	c, ok := cfg.(*Config)
	if !ok {
		return nil, utils.ErrInErr{ErrDesc: "rule: bad config type", Data: cfg}
	}
	if len(c.Rule) == 0 {
		return nil, utils.ErrInErr{ErrDesc: "rule: empty rule list"}
	}
	r := &RuleNet{rules: make([]compiledRule, 0, len(c.Rule))}
	for i := range c.Rule {
		item := &c.Rule[i]
		m, err := compileMatcher(*item)
		if err != nil {
			return nil, err
		}
		target := item.Target.Net()
		if target == nil {
			return nil, utils.ErrInErr{ErrDesc: "rule: target not resolved", Data: item.Target.NameOrLocal()}
		}
		r.rules = append(r.rules, compiledRule{
			matcher:    m,
			target:     target,
			targetName: item.Target.NameOrLocal(),
		})
	}
	return r, nil
}

type compiledRule struct {
	matcher    matcher
	target     proxy.Net
	targetName string
}

// RuleNet dispatches by evaluating its rules strictly in declared order; the
// first match wins. SetDefaults guarantees a catch-all tail, so Dispatch
// always yields a target.
type RuleNet struct {
	proxy.Base
	rules []compiledRule
}

func (*RuleNet) Name() string { return Name }

func (r *RuleNet) Dispatch(target netLayer.Addr) proxy.Net {
	for i := range r.rules {
		if r.rules[i].matcher.Matches(target) {
			if ce := utils.CanLogDebug("rule matched"); ce != nil {
				ce.Write(zap.String("target", target.String()), zap.String("out", r.rules[i].targetName))
			}
			return r.rules[i].target
		}
	}
	// unreachable with the implicit tail in place
	return r.rules[len(r.rules)-1].target
}

// DispatchName is Dispatch plus the matched target's logical name; tests and
// the api surface use it to observe routing decisions.
func (r *RuleNet) DispatchName(target netLayer.Addr) (proxy.Net, string) {
	for i := range r.rules {
		if r.rules[i].matcher.Matches(target) {
			return r.rules[i].target, r.rules[i].targetName
		}
	}
	last := r.rules[len(r.rules)-1]
	return last.target, last.targetName
}

// Dial forwards to the first matching target; the target's error propagates
// unchanged, there is no retry against a different rule.
func (r *RuleNet) Dial(ctx context.Context, target netLayer.Addr) (net.Conn, error) {
	return r.Dispatch(target).Dial(ctx, target)
}

func (r *RuleNet) ListenPacket(ctx context.Context, laddr netLayer.Addr) (net.PacketConn, error) {
	return r.Dispatch(laddr).ListenPacket(ctx, laddr)
}
