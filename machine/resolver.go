package machine

import (
	"errors"
	"sync"

	"github.com/meshproxy/meshproxy/config"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

// netNode is one entry of the dependency graph, arena-style: edges are
// logical names, never direct pointers.
type netNode struct {
	name    string
	creator proxy.NetCreator
	cfg     any
	deps    []string

	built proxy.Net
	done  chan struct{}
}

// refCollector gathers dependency names and hands file refs to the tracker.
type refCollector struct {
	deps    map[string]bool
	tracker *Tracker
	gen     int64
}

func (c *refCollector) VisitNetRef(ref *proxy.NetRef) error {
	c.deps[ref.NameOrLocal()] = true
	return nil
}

func (c *refCollector) VisitFileRef(ref *proxy.FileRef) error {
	return c.tracker.Track(c.gen, *ref)
}

// refResolver substitutes built instances into the config tree.
type refResolver struct {
	nets map[string]proxy.Net
}

func (r *refResolver) VisitNetRef(ref *proxy.NetRef) error {
	n, ok := r.nets[ref.NameOrLocal()]
	if !ok {
		return utils.ErrInErr{ErrDesc: "reference not built", ErrDetail: ErrUnresolvedReference, Data: ref.NameOrLocal()}
	}
	ref.Resolve(n)
	return nil
}

func (r *refResolver) VisitFileRef(*proxy.FileRef) error { return nil }

// resolveNets turns the net mapping into live instances: decode configs,
// collect the dependency graph, reject cycles before building anything, then
// construct bottom-up with independent subtrees building concurrently. The
// result is all-or-nothing.
func resolveNets(doc config.Document, tracker *Tracker, gen int64) (map[string]proxy.Net, error) {
	specs := make(map[string]config.NetSpec, len(doc.Net)+1)
	for name, spec := range doc.Net {
		specs[name] = spec
	}
	// "local" always resolves, unless the config defines its own
	if _, ok := specs[proxy.LocalName]; !ok {
		specs[proxy.LocalName] = config.NetSpec{Type: proxy.DirectName}
	}

	nodes := make(map[string]*netNode, len(specs))
	for _, name := range utils.GetMapSortedKeySlice(specs) {
		spec := specs[name]
		creator, ok := proxy.GetNetCreator(spec.Type)
		if !ok {
			return nil, utils.ErrInErr{ErrDesc: "unknown net type", ErrDetail: ErrUnknownTypeTag, Data: spec.Type}
		}
		cfg := creator.NewNetConfig()
		if err := config.DecodeOpt(spec.Opt, cfg); err != nil {
			return nil, utils.ErrInErr{ErrDesc: "decode net config failed", ErrDetail: err, Data: name}
		}
		if d, ok := cfg.(proxy.Defaulter); ok {
			d.SetDefaults()
		}

		node := &netNode{name: name, creator: creator, cfg: cfg, done: make(chan struct{})}
		if visitable, ok := cfg.(proxy.Visitable); ok {
			collector := &refCollector{deps: make(map[string]bool), tracker: tracker, gen: gen}
			if err := visitable.Visit(collector); err != nil {
				return nil, err
			}
			for _, dep := range utils.GetMapSortedKeySlice(collector.deps) {
				if _, exists := specs[dep]; !exists {
					return nil, utils.ErrInErr{ErrDesc: "net references undefined name", ErrDetail: ErrUnresolvedReference, Data: name + " -> " + dep}
				}
				node.deps = append(node.deps, dep)
			}
		}
		nodes[name] = node
	}

	if cycle := findCycle(nodes); cycle != nil {
		return nil, CycleError{Names: cycle}
	}

	return buildNodes(nodes)
}

// findCycle runs Kahn's algorithm over the name-indexed graph; the leftover
// names, sorted, are the cycle participants. nil means acyclic.
func findCycle(nodes map[string]*netNode) []string {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for name, node := range nodes {
		indegree[name] += 0
		for _, dep := range node.deps {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	queue := make([]string, 0, len(nodes))
	for name, d := range indegree {
		if d == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if visited == len(nodes) {
		return nil
	}
	remaining := make(map[string]bool)
	for name, d := range indegree {
		if d > 0 {
			remaining[name] = true
		}
	}
	return utils.GetMapSortedKeySlice(remaining)
}

// buildNodes constructs every node concurrently; a node starts only after
// all of its dependencies closed their done channel, so construction order
// honors the graph and each node is built exactly once.
func buildNodes(nodes map[string]*netNode) (map[string]proxy.Net, error) {
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
		abort    = make(chan struct{})
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
			close(abort)
		}
		errMu.Unlock()
	}

	for _, node := range nodes {
		wg.Add(1)
		go func(n *netNode) {
			defer wg.Done()
			resolved := make(map[string]proxy.Net, len(n.deps))
			for _, dep := range n.deps {
				select {
				case <-nodes[dep].done:
					resolved[dep] = nodes[dep].built
				case <-abort:
					return
				}
			}
			if visitable, ok := n.cfg.(proxy.Visitable); ok {
				if err := visitable.Visit(&refResolver{nets: resolved}); err != nil {
					fail(err)
					return
				}
			}
			built, err := n.creator.NewNet(n.cfg)
			if err != nil {
				fail(utils.ErrInErr{ErrDesc: "build net failed", ErrDetail: errors.Join(ErrConstructionFailed, err), Data: n.name})
				return
			}
			n.built = built
			close(n.done)

			if ce := utils.CanLogDebug("net built"); ce != nil {
				ce.Write(zap.String("name", n.name), zap.String("type", built.Name()))
			}
		}(node)
	}
	wg.Wait()

	if firstErr != nil {
		for _, node := range nodes {
			if node.built != nil {
				node.built.Stop()
			}
		}
		return nil, utils.ErrInErr{ErrDesc: "build generation failed", ErrDetail: firstErr}
	}

	nets := make(map[string]proxy.Net, len(nodes))
	for name, node := range nodes {
		nets[name] = node.built
	}
	return nets, nil
}

// resolveServers builds every configured listener against the built nets.
// Any failure fails the whole generation.
func resolveServers(doc config.Document, gen *generation, tracker *Tracker) error {
	for _, name := range utils.GetMapSortedKeySlice(doc.Server) {
		spec := doc.Server[name]
		creator, ok := proxy.GetServerCreator(spec.Type)
		if !ok {
			return utils.ErrInErr{ErrDesc: "unknown server type", ErrDetail: ErrUnknownTypeTag, Data: spec.Type}
		}
		cfg := creator.NewServerConfig()
		if err := config.DecodeOpt(spec.Opt, cfg); err != nil {
			return utils.ErrInErr{ErrDesc: "decode server config failed", ErrDetail: err, Data: name}
		}
		if d, ok := cfg.(proxy.Defaulter); ok {
			d.SetDefaults()
		}
		if visitable, ok := cfg.(proxy.Visitable); ok {
			collector := &refCollector{deps: make(map[string]bool), tracker: tracker, gen: gen.id}
			if err := visitable.Visit(collector); err != nil {
				return err
			}
			if err := visitable.Visit(&refResolver{nets: gen.nets}); err != nil {
				return err
			}
		}

		netName := spec.Net
		if netName == "" {
			netName = proxy.LocalName
		}
		dialer, ok := gen.nets[netName]
		if !ok {
			return utils.ErrInErr{ErrDesc: "server references undefined net", ErrDetail: ErrUnresolvedReference, Data: name + " -> " + netName}
		}

		srv, err := creator.NewServer(spec.Bind, cfg, gen.trackNet(dialer))
		if err != nil {
			return utils.ErrInErr{ErrDesc: "build server failed", ErrDetail: err, Data: name}
		}
		if ws, ok := srv.(proxy.ConnWrapSetter); ok {
			ws.SetConnWrapper(gen.trackConn)
		}
		gen.servers = append(gen.servers, serverEntry{name: name, server: srv})
	}
	return nil
}
