package zrd

import (
	"fmt"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/zrd/cc"
	"strconv"
	"strings"
	"time"
)

const (
	nameConflictThreshold = 10
	nameBackoffWindow     = 250 * time.Millisecond
	nameBackoffWindowLong = 5 * time.Second
)

// NextName disambiguates a name by appending or incrementing a numeric suffix.
func NextName(name string) string {
	if i := strings.LastIndexByte(name, '-'); i > 0 && i < len(name)-1 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil && n >= 0 && name[i+1] != '+' {
			return fmt.Sprintf("%s-%d", name[:i], n+1)
		}
	}

	return name + "-1"
}

func (p *Prober) defaultNodeName(n *Node) string {
	return fmt.Sprintf("zw%08X%04X", p.config.Gateway.HomeID, uint16(n.ID))
}

func defaultEndpointName(ep *Endpoint) string {
	return cc.GenericTypeName(ep.Generic())
}

// nameBackoff records a conflict and returns a randomised delay before reprobing, whose window grows
// once conflicts are frequent.
func (p *Prober) nameBackoff() time.Duration {
	p.nameConflicts++

	window := nameBackoffWindow
	if p.nameConflicts > nameConflictThreshold {
		window = nameBackoffWindowLong
	}

	return time.Duration(p.rand.Int63n(int64(window)))
}

func (p *Prober) probeNodeName(n *Node) step {
	if !p.namingReady {
		p.logger.LogDebug(p.probeCtx, "Naming service not ready, waiting.", logwrap.Datum("NodeID", int(n.ID)))
		return suspend
	}

	if n.Name == "" {
		n.Name = p.defaultNodeName(n)
	}

	token := p.await()
	ref := n.Ref()

	if !p.naming.ProbeNodeName(n, func(ok bool) {
		if !p.settle(token) {
			return
		}

		n := p.store.Resolve(ref)
		if n == nil || n.State != NodeMDNSProbe {
			return
		}

		if ok {
			n.State = NodeMDNSEndpointProbe
			p.continueProbe(n)
			return
		}

		old := n.Name
		n.Name = NextName(n.Name)
		p.logger.LogInfo(p.probeCtx, "Node name conflict, renaming.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("From", old), logwrap.Datum("To", n.Name))

		p.wait(n, p.nameBackoff())
	}) {
		p.settle(token)
		p.logger.LogWarn(p.probeCtx, "Unable to start node name probe.", logwrap.Datum("NodeID", int(n.ID)))
		n.State = NodeMDNSEndpointProbe
		return proceed
	}

	return suspend
}

// probeEndpointNames probes the name of every endpoint in turn, the node is done once all are.
func (p *Prober) probeEndpointNames(n *Node) step {
	for _, ep := range n.Endpoints {
		for ep.State == EndpointMDNSProbe || ep.State == EndpointMDNSProbeInProgress {
			if p.advanceEndpoint(ep) == suspend {
				return suspend
			}
		}
	}

	n.State = NodeDone
	return proceed
}

// nameTaken reports whether another endpoint known to this gateway already holds or is probing the name.
func (p *Prober) nameTaken(ep *Endpoint) bool {
	for _, n := range p.store.Nodes() {
		for _, o := range n.Endpoints {
			if o != ep && o.Name == ep.Name && o.State >= EndpointMDNSProbeInProgress && o.State != EndpointProbeFail {
				return true
			}
		}
	}

	return false
}

func (p *Prober) probeEndpointName(ep *Endpoint) step {
	n := ep.node

	if !p.namingReady {
		p.logger.LogDebug(p.probeCtx, "Naming service not ready, waiting.", logwrap.Datum("Endpoint", ep.Address().String()))
		return suspend
	}

	if ep.Name == "" {
		ep.Name = defaultEndpointName(ep)
	}

	for p.nameTaken(ep) {
		ep.Name = NextName(ep.Name)
	}

	token := p.await()
	ref := n.Ref()
	id := ep.ID

	ep.State = EndpointMDNSProbeInProgress

	if !p.naming.ProbeEndpointName(ep, func(ok bool) {
		if !p.settle(token) {
			return
		}

		n := p.store.Resolve(ref)
		if n == nil {
			return
		}

		ep := n.Endpoint(id)
		if ep == nil || ep.State != EndpointMDNSProbeInProgress {
			return
		}

		if ok {
			ep.State = EndpointProbeDone
			p.continueProbe(n)
			return
		}

		old := ep.Name
		ep.Name = NextName(ep.Name)
		ep.State = EndpointMDNSProbe
		p.logger.LogInfo(p.probeCtx, "Endpoint name conflict, renaming.", logwrap.Datum("Endpoint", ep.Address().String()), logwrap.Datum("From", old), logwrap.Datum("To", ep.Name))

		p.wait(n, p.nameBackoff())
	}) {
		p.settle(token)
		p.logger.LogWarn(p.probeCtx, "Unable to start endpoint name probe.", logwrap.Datum("Endpoint", ep.Address().String()))
		ep.State = EndpointProbeDone
		return proceed
	}

	return suspend
}
