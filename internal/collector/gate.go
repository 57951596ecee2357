package collector

import "sync"

// endpointGate tracks which security server endpoints have already timed
// out during the current run. Once armed for an endpoint, every later query
// destined for it is recorded as skipped instead of attempted. The gate is
// the only state shared between workers.
type endpointGate struct {
	mu    sync.Mutex
	armed map[string]struct{}
}

func newEndpointGate() *endpointGate {
	return &endpointGate{armed: make(map[string]struct{})}
}

// Armed reports whether the endpoint has timed out earlier in this run.
func (g *endpointGate) Armed(endpoint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.armed[endpoint]
	return ok
}

// Arm marks the endpoint as timed out for the remainder of the run.
func (g *endpointGate) Arm(endpoint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed[endpoint] = struct{}{}
}
