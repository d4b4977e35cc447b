package zrd

import (
	"fmt"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/zrd/cc"
)

type step bool

const (
	suspend step = false
	proceed step = true
)

func (p *Prober) canAdvance() bool {
	return !p.locked && p.bridgeReady && p.opPending == 0
}

// driveNode applies node probe steps until one suspends. It is a no-op while the probe is locked, the
// bridge is not ready or an operation is outstanding.
func (p *Prober) driveNode(n *Node) {
	for p.canAdvance() {
		if p.advanceNode(n) == suspend {
			return
		}
	}
}

func (p *Prober) advanceNode(n *Node) step {
	switch n.State {
	case NodeCreated:
		return p.nodeCreated(n)
	case NodeProbeNodeInfo:
		return p.probeNodeInfo(n)
	case NodeProbeProductID:
		return p.probeProductID(n)
	case NodeEnumerateEndpoints:
		return p.enumerateEndpoints(n)
	case NodeFindEndpoints:
		return p.findEndpoints(n)
	case NodeProbeEndpoints:
		return p.probeEndpoints(n)
	case NodeCheckWakeUpCCVersion:
		return p.checkWakeUpVersion(n)
	case NodeGetWakeUpCapabilities:
		return p.getWakeUpCapabilities(n)
	case NodeSetWakeUpInterval:
		return p.setWakeUpInterval(n)
	case NodeProbeWakeUpInterval:
		return p.probeWakeUpInterval(n)
	case NodeAssignReturnRoute:
		return p.assignReturnRoute(n)
	case NodeMDNSProbe:
		return p.probeNodeName(n)
	case NodeMDNSEndpointProbe:
		return p.probeEndpointNames(n)
	case NodeDone, NodeProbeFail:
		p.completeProbe(n)
		return suspend
	default:
		return suspend
	}
}

func (p *Prober) isSelf(n *Node) bool {
	return n.ID == p.config.Gateway.NodeID
}

func (p *Prober) failNode(n *Node, reason string, err error) step {
	p.logger.LogError(p.probeCtx, reason, logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("State", n.State.String()), errDatum(err))
	n.State = NodeProbeFail
	return proceed
}

func (p *Prober) nodeCreated(n *Node) step {
	p.logger.LogInfo(p.probeCtx, "Starting node probe.", logwrap.Datum("NodeID", int(n.ID)))

	n.ProbeFlags = ProbeStarted

	for _, ep := range n.Endpoints {
		ep.State = EndpointProbeInfo
	}

	p.emit(p.probeCtx, NodeProbeStarted{Node: n})

	n.State = NodeProbeNodeInfo
	return proceed
}

// probeNodeInfo drives the root endpoint through its information and security probes, so that classes
// the node only supports securely are known before the product id and endpoints are probed.
func (p *Prober) probeNodeInfo(n *Node) step {
	root := n.Root()

	for root.State < EndpointProbeVersion {
		if p.advanceEndpoint(root) == suspend {
			return suspend
		}
	}

	if root.State == EndpointProbeFail {
		return p.failNode(n, "Failed to probe node information.", fmt.Errorf("%w: endpoint %s", ErrProbeFailed, root.Address()))
	}

	n.State = NodeProbeProductID
	return proceed
}

func (p *Prober) probeProductID(n *Node) step {
	if p.isSelf(n) {
		n.ManufacturerID = p.config.Gateway.ManufacturerID
		n.ProductType = p.config.Gateway.ProductType
		n.ProductID = p.config.Gateway.ProductID
		n.State = NodeEnumerateEndpoints
		return proceed
	}

	if !n.Supports(cc.ManufacturerSpecific) {
		p.logger.LogDebug(p.probeCtx, "Node does not support manufacturer specific, skipping.", logwrap.Datum("NodeID", int(n.ID)))
		n.State = NodeEnumerateEndpoints
		return proceed
	}

	scheme := SchemeNone
	if n.Root().SupportsSecurely(cc.ManufacturerSpecific) {
		scheme = SchemeAuto
	}

	return p.request(n, p.defaultRequest(EndpointAddress{Node: n.ID}, scheme, cc.Get(cc.ManufacturerSpecific, cc.ManufacturerSpecificGet), cc.ManufacturerSpecific, cc.ManufacturerSpecificReport), func(n *Node, r Response) step {
		if !r.Status.OK() {
			return p.failNode(n, "Failed to probe manufacturer specific.", statusError(r.Status))
		}

		report, err := cc.ParseManufacturerReport(r.Frame)
		if err != nil {
			return p.failNode(n, "Invalid manufacturer specific report.", err)
		}

		n.ManufacturerID = report.ManufacturerID
		n.ProductType = report.ProductType
		n.ProductID = report.ProductID

		p.logger.LogDebug(p.probeCtx, "Probed product id.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("Manufacturer", fmt.Sprintf("%04x", report.ManufacturerID)), logwrap.Datum("ProductType", fmt.Sprintf("%04x", report.ProductType)), logwrap.Datum("Product", fmt.Sprintf("%04x", report.ProductID)))

		p.applyQuirks(n)

		n.State = NodeEnumerateEndpoints
		return proceed
	})
}

func (p *Prober) enumerateEndpoints(n *Node) step {
	if p.isSelf(n) || !n.Supports(cc.MultiChannel) {
		for _, ep := range n.removeNonRootEndpoints() {
			p.emit(p.probeCtx, EndpointRemoved{Address: EndpointAddress{Node: n.ID, Endpoint: ep.ID}})
		}

		n.IndividualEndpoints = 0
		n.AggregatedEndpoints = 0
		n.IdenticalEndpoints = false
		n.State = NodeProbeEndpoints
		return proceed
	}

	return p.request(n, p.defaultRequest(EndpointAddress{Node: n.ID}, SchemeAuto, cc.Get(cc.MultiChannel, cc.MultiChannelEndPointGet), cc.MultiChannel, cc.MultiChannelEndPointReport), func(n *Node, r Response) step {
		if !r.Status.OK() {
			return p.failNode(n, "Failed to enumerate endpoints.", statusError(r.Status))
		}

		report, err := cc.ParseEndPointReport(r.Frame)
		if err != nil {
			return p.failNode(n, "Invalid endpoint report.", err)
		}

		total := int(report.Individual) + int(report.Aggregated)

		if report.Individual != n.IndividualEndpoints || report.Aggregated != n.AggregatedEndpoints || len(n.Endpoints)-1 != total {
			p.logger.LogInfo(p.probeCtx, "Endpoint count changed, recreating endpoints.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("Individual", int(report.Individual)), logwrap.Datum("Aggregated", int(report.Aggregated)))

			for _, ep := range n.removeNonRootEndpoints() {
				p.emit(p.probeCtx, EndpointRemoved{Address: EndpointAddress{Node: n.ID, Endpoint: ep.ID}})
			}
		}

		n.IndividualEndpoints = report.Individual
		n.AggregatedEndpoints = report.Aggregated
		n.IdenticalEndpoints = report.Identical

		n.State = NodeFindEndpoints
		return proceed
	})
}

const maxEndpointID = 127

func (p *Prober) findEndpoints(n *Node) step {
	if n.IndividualEndpoints == 0 && n.AggregatedEndpoints == 0 {
		n.State = NodeProbeEndpoints
		return proceed
	}

	n.foundIDs = nil

	req := p.defaultRequest(EndpointAddress{Node: n.ID}, SchemeAuto, cc.Get(cc.MultiChannel, cc.MultiChannelEndPointFind, 0xff, 0xff), cc.MultiChannel, cc.MultiChannelEndPointFindReport)
	req.FollowUpTimeout = p.config.FindReportTimeout

	return p.requestReports(n, req, func(n *Node, r Response) (bool, step) {
		if !r.Status.OK() {
			if len(n.foundIDs) == 0 {
				p.logger.LogWarn(p.probeCtx, "Endpoint find failed, assuming contiguous endpoints.", logwrap.Datum("NodeID", int(n.ID)))
				for i := uint8(1); i <= n.IndividualEndpoints; i++ {
					n.foundIDs = append(n.foundIDs, i)
				}
			}

			return false, p.createEndpoints(n)
		}

		report, err := cc.ParseEndPointFindReport(r.Frame)
		if err != nil {
			return false, p.failNode(n, "Invalid endpoint find report.", err)
		}

		n.foundIDs = append(n.foundIDs, report.EndPoints...)

		if len(n.foundIDs) > int(n.IndividualEndpoints) {
			return false, p.failNode(n, "Node reported more endpoints than declared.", fmt.Errorf("found %d endpoints, declared %d", len(n.foundIDs), n.IndividualEndpoints))
		}

		if report.ReportsToFollow > 0 {
			return true, suspend
		}

		return false, p.createEndpoints(n)
	})
}

// createEndpoints creates the individual endpoints found, followed by the aggregated endpoints. Endpoints
// the node no longer reports are removed.
func (p *Prober) createEndpoints(n *Node) step {
	found := n.foundIDs
	n.foundIDs = nil

	highest := uint8(0)
	for _, id := range found {
		if id > highest {
			highest = id
		}
	}

	if int(highest)+int(n.AggregatedEndpoints) > maxEndpointID {
		return p.failNode(n, "Endpoint id space exhausted.", fmt.Errorf("highest endpoint %d with %d aggregated", highest, n.AggregatedEndpoints))
	}

	ids := []EndpointID{0}
	for _, id := range found {
		ids = append(ids, EndpointID(id))
	}

	for i := uint8(1); i <= n.AggregatedEndpoints; i++ {
		ids = append(ids, EndpointID(highest+i))
	}

	for _, id := range ids {
		n.AddEndpoint(id)
	}

	for _, ep := range n.retainEndpoints(ids) {
		p.logger.LogInfo(p.probeCtx, "Endpoint no longer reported, removing.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("EndpointID", int(ep.ID)))
		p.emit(p.probeCtx, EndpointRemoved{Address: EndpointAddress{Node: n.ID, Endpoint: ep.ID}})
	}

	n.State = NodeProbeEndpoints
	return proceed
}

// probeEndpoints probes every endpoint up to its naming state. Endpoints of a node reporting identical
// endpoints are cloned from the first probed non root endpoint.
func (p *Prober) probeEndpoints(n *Node) step {
	var source *Endpoint

	for _, ep := range n.Endpoints {
		if n.IdenticalEndpoints && source != nil && !ep.aggregated() && ep.State < EndpointMDNSProbe {
			p.logger.LogDebug(p.probeCtx, "Cloning identical endpoint.", logwrap.Datum("Endpoint", ep.Address().String()), logwrap.Datum("Source", source.Address().String()))
			ep.cloneFrom(source)
			ep.State = EndpointMDNSProbe
		}

		if ep.State < EndpointMDNSProbe {
			if p.driveEndpoint(ep) == suspend {
				return suspend
			}
		}

		if ep.State == EndpointProbeFail {
			return p.failNode(n, "Endpoint probe failed.", fmt.Errorf("endpoint %s", ep.Address()))
		}

		if source == nil && ep.ID != 0 && !ep.aggregated() {
			source = ep
		}
	}

	n.State = NodeCheckWakeUpCCVersion
	return proceed
}

func (p *Prober) checkWakeUpVersion(n *Node) step {
	if p.isSelf(n) || !n.Supports(cc.WakeUp) || !p.config.MailboxEnabled {
		n.State = NodeAssignReturnRoute
		return proceed
	}

	if !n.Listening() {
		n.Mode = n.Mode.WithBase(ModeMailbox)
	}

	switch {
	case n.Properties.Has(PropertyAddedByMe) && p.config.Gateway.SUC && n.CCVersion(cc.WakeUp) >= 2:
		n.State = NodeGetWakeUpCapabilities
	case n.Properties.Has(PropertyAddedByMe) && p.config.Gateway.SUC:
		n.State = NodeSetWakeUpInterval
	default:
		n.State = NodeProbeWakeUpInterval
	}

	return proceed
}

func (p *Prober) getWakeUpCapabilities(n *Node) step {
	return p.request(n, p.defaultRequest(EndpointAddress{Node: n.ID}, SchemeAuto, cc.Get(cc.WakeUp, cc.WakeUpIntervalCapabilityGet), cc.WakeUp, cc.WakeUpIntervalCapabilityRep), func(n *Node, r Response) step {
		if !r.Status.OK() {
			return p.failNode(n, "Failed to get wake up capabilities.", statusError(r.Status))
		}

		caps, err := cc.ParseWakeUpCapabilitiesReport(r.Frame)
		if err != nil {
			return p.failNode(n, "Invalid wake up capabilities report.", err)
		}

		n.wakeUpCaps = &caps
		n.State = NodeSetWakeUpInterval
		return proceed
	})
}

func (p *Prober) setWakeUpInterval(n *Node) step {
	interval := p.config.WakeUpInterval
	if n.quirks.wakeUpInterval != 0 {
		interval = n.quirks.wakeUpInterval
	}

	if n.wakeUpCaps != nil {
		interval = n.wakeUpCaps.Clamp(interval)
	}

	token := p.await()
	ref := n.Ref()

	frame := cc.WakeUpIntervalSetFrame(interval, uint8(p.config.Gateway.NodeID))

	if !p.transport.SendData(EndpointAddress{Node: n.ID}, SchemeAuto, frame, func(s Status) {
		if !p.settle(token) {
			return
		}

		n := p.store.Resolve(ref)
		if n == nil || n.State != NodeSetWakeUpInterval {
			return
		}

		if !s.OK() {
			p.failNode(n, "Failed to set wake up interval.", statusError(s))
		} else {
			p.logger.LogInfo(p.probeCtx, "Wake up interval set.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("Interval", int(interval)))
			n.WakeUpInterval = interval
			n.State = NodeAssignReturnRoute
		}

		p.continueProbe(n)
	}) {
		p.settle(token)
		return p.failNode(n, "Unable to send wake up interval set.", ErrNotAccepted)
	}

	return suspend
}

func (p *Prober) probeWakeUpInterval(n *Node) step {
	return p.request(n, p.defaultRequest(EndpointAddress{Node: n.ID}, SchemeAuto, cc.Get(cc.WakeUp, cc.WakeUpIntervalGet), cc.WakeUp, cc.WakeUpIntervalReport), func(n *Node, r Response) step {
		if !r.Status.OK() {
			return p.failNode(n, "Failed to probe wake up interval.", statusError(r.Status))
		}

		interval, _, err := cc.ParseWakeUpIntervalReport(r.Frame)
		if err != nil {
			return p.failNode(n, "Invalid wake up interval report.", err)
		}

		n.WakeUpInterval = interval
		n.State = NodeAssignReturnRoute
		return proceed
	})
}

func (p *Prober) assignReturnRoute(n *Node) step {
	if p.isSelf(n) {
		n.State = NodeMDNSProbe
		return proceed
	}

	token := p.await()
	ref := n.Ref()

	if !p.transport.AssignReturnRoute(n.ID, func(s Status) {
		if !p.settle(token) {
			return
		}

		n := p.store.Resolve(ref)
		if n == nil || n.State != NodeAssignReturnRoute {
			return
		}

		if !s.OK() {
			p.logger.LogWarn(p.probeCtx, "Failed to assign return route.", logwrap.Datum("NodeID", int(n.ID)))
		}

		n.State = NodeMDNSProbe
		p.continueProbe(n)
	}) {
		p.settle(token)
		p.logger.LogWarn(p.probeCtx, "Unable to start return route assignment.", logwrap.Datum("NodeID", int(n.ID)))
		n.State = NodeMDNSProbe
		return proceed
	}

	return suspend
}

// completeProbe is the shared epilogue of NodeDone and NodeProbeFail.
func (p *Prober) completeProbe(n *Node) {
	success := n.State == NodeDone

	switch {
	case !success:
		n.ProbeFlags = ProbeFailed
	case n.ProbeFlags != ProbeFailed:
		n.ProbeFlags = ProbeCompleted
	}

	n.Properties &^= PropertyJustAdded
	n.LastUpdate = p.now()
	n.pcv = nil

	if success {
		n.LastAwake = n.LastUpdate
	}

	p.logger.LogInfo(p.probeCtx, "Node probe complete.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("State", n.State.String()), logwrap.Datum("ProbeFlags", n.ProbeFlags.String()))

	p.persist(p.probeCtx, n)

	for _, ep := range n.Endpoints {
		p.emit(p.probeCtx, EndpointRemoved{Address: ep.Address()})
		p.emit(p.probeCtx, EndpointChanged{Endpoint: ep})
	}

	p.fireNotifiers(n, success)
	p.emit(p.probeCtx, NodeProbed{Node: n, Success: success})

	if p.isCurrent(n) {
		p.releaseProbe()
	}

	p.Resume()
}
