package zrd

import (
	"fmt"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/zrd/cc"
)

// driveEndpoint applies endpoint probe steps until the endpoint reaches its naming state, fails, or a
// step suspends.
func (p *Prober) driveEndpoint(ep *Endpoint) step {
	for ep.State < EndpointMDNSProbe {
		if p.advanceEndpoint(ep) == suspend {
			return suspend
		}
	}

	return proceed
}

func (p *Prober) advanceEndpoint(ep *Endpoint) step {
	switch ep.State {
	case EndpointProbeInfo:
		return p.probeEndpointInfo(ep)
	case EndpointProbeAggregated:
		return p.probeAggregatedMembers(ep)
	case EndpointProbeSec2C2, EndpointProbeSec2C1, EndpointProbeSec2C0, EndpointProbeSec0:
		return p.probeSecurity(ep)
	case EndpointProbeVersion:
		return p.probeVersions(ep, func(ok bool) {
			if !ok {
				p.logger.LogWarn(p.probeCtx, "Version probe incomplete.", logwrap.Datum("Endpoint", ep.Address().String()))
			}

			ep.State = EndpointProbeZWavePlus
		})
	case EndpointProbeZWavePlus:
		return p.probeZWavePlus(ep)
	case EndpointMDNSProbe, EndpointMDNSProbeInProgress:
		return p.probeEndpointName(ep)
	default:
		return suspend
	}
}

func (p *Prober) failEndpoint(ep *Endpoint, reason string, err error) step {
	p.logger.LogError(p.probeCtx, reason, logwrap.Datum("Endpoint", ep.Address().String()), logwrap.Datum("State", ep.State.String()), errDatum(err))
	ep.State = EndpointProbeFail
	return proceed
}

// endpointRequest sends a request on behalf of an endpoint. The handler is skipped if the endpoint has
// since been removed from its node.
func (p *Prober) endpointRequest(ep *Endpoint, req Request, fn func(ep *Endpoint, r Response) (bool, step)) step {
	return p.requestReports(ep.node, req, func(n *Node, r Response) (bool, step) {
		if ep.node != n {
			return false, suspend
		}

		return fn(ep, r)
	})
}

func (p *Prober) probeEndpointInfo(ep *Endpoint) step {
	n := ep.node

	switch {
	case ep.ID == 0 && p.isSelf(n):
		ep.Info = p.config.Gateway.info()
		n.BasicClass = p.config.Gateway.Basic
		n.Mode = n.Mode.WithBase(ModeAlwaysListening)
		n.Security = p.config.Gateway.grantedKeys()
		ep.State = EndpointProbeSec2C2
		return proceed
	case ep.ID == 0:
		return p.requestNodeInfo(n)
	case ep.aggregated():
		ep.State = EndpointProbeAggregated
		return proceed
	}

	req := p.defaultRequest(EndpointAddress{Node: n.ID}, SchemeAuto, cc.Get(cc.MultiChannel, cc.MultiChannelCapabilityGet, byte(ep.ID)), cc.MultiChannel, cc.MultiChannelCapabilityReport)

	return p.endpointRequest(ep, req, func(ep *Endpoint, r Response) (bool, step) {
		if !r.Status.OK() {
			return false, p.failEndpoint(ep, "Failed to probe endpoint capability.", statusError(r.Status))
		}

		report, err := cc.ParseCapabilityReport(r.Frame)
		if err != nil {
			return false, p.failEndpoint(ep, "Invalid capability report.", err)
		}

		if EndpointID(report.EndPoint) != ep.ID {
			return false, p.failEndpoint(ep, "Capability report for unexpected endpoint.", fmt.Errorf("%w: expected %d got %d", cc.ErrMalformedFrame, ep.ID, report.EndPoint))
		}

		ep.Info = report.Info
		ep.State = EndpointProbeSec2C2
		return false, proceed
	})
}

// requestNodeInfo requests the node information frame of a node, which is answered through
// NodeInfoReceived or NodeInfoFailed. Only one request is outstanding at a time.
func (p *Prober) requestNodeInfo(n *Node) step {
	if p.nodeInfoNode != 0 {
		return suspend
	}

	token := p.await()

	if !p.transport.RequestNodeInfo(n.ID) {
		p.settle(token)
		return p.failEndpoint(n.Root(), "Unable to request node information.", ErrNotAccepted)
	}

	p.nodeInfoNode = n.ID
	id := n.ID

	p.opTimer = p.scheduler.AfterFunc(p.config.NodeInfoTimeout, func() {
		if p.opPending == token && p.nodeInfoNode == id {
			p.NodeInfoFailed(id)
		}
	})

	p.logger.LogDebug(p.probeCtx, "Requested node information.", logwrap.Datum("NodeID", int(n.ID)))
	return suspend
}

// NodeInfoReceived delivers a node information frame for a node whose information was requested.
// Unsolicited frames are ignored.
func (p *Prober) NodeInfoReceived(id NodeID, info NodeInfo) {
	if id == 0 || p.nodeInfoNode != id {
		return
	}

	p.nodeInfoNode = 0
	p.settle(p.opPending)

	n := p.store.Get(id)
	if n == nil {
		return
	}

	root := n.Root()
	if root.State != EndpointProbeInfo {
		return
	}

	root.Info = append([]byte{info.Generic, info.Specific}, info.Classes...)
	n.BasicClass = info.Basic

	switch {
	case info.Listening:
		n.Mode = n.Mode.WithBase(ModeAlwaysListening)
	case info.FLiRS:
		n.Mode = n.Mode.WithBase(ModeFrequentlyListening)
	case n.Mode.Base() != ModeMailbox && n.Mode.Base() != ModeFirmwareUpgrade:
		n.Mode = n.Mode.WithBase(ModeNonListening)
	}

	p.logger.LogDebug(p.probeCtx, "Received node information.", logwrap.Datum("NodeID", int(id)), logwrap.Datum("Mode", n.Mode.String()))

	root.State = EndpointProbeSec2C2
	p.continueProbe(n)
}

// NodeInfoFailed reports that a requested node information frame will not arrive.
func (p *Prober) NodeInfoFailed(id NodeID) {
	if id == 0 || p.nodeInfoNode != id {
		return
	}

	p.nodeInfoNode = 0
	p.settle(p.opPending)

	n := p.store.Get(id)
	if n == nil {
		return
	}

	if root := n.Root(); root.State == EndpointProbeInfo {
		p.failEndpoint(root, "Failed to receive node information.", ErrRequestTimeout)
	}

	p.continueProbe(n)
}

func (p *Prober) probeAggregatedMembers(ep *Endpoint) step {
	req := p.defaultRequest(EndpointAddress{Node: ep.node.ID}, SchemeAuto, cc.Get(cc.MultiChannel, cc.MultiChannelAggregatedMembersGet, byte(ep.ID)), cc.MultiChannel, cc.MultiChannelAggregatedMembersReport)

	return p.endpointRequest(ep, req, func(ep *Endpoint, r Response) (bool, step) {
		if !r.Status.OK() {
			return false, p.failEndpoint(ep, "Failed to probe aggregated members.", statusError(r.Status))
		}

		id, members, err := cc.ParseAggregatedMembersReport(r.Frame)
		if err != nil {
			return false, p.failEndpoint(ep, "Invalid aggregated members report.", err)
		} else if EndpointID(id) != ep.ID {
			return false, p.failEndpoint(ep, "Aggregated members report for unexpected endpoint.", cc.ErrMalformedFrame)
		}

		ep.AggregatedMembers = members
		ep.State = EndpointProbeSec2C2
		return false, proceed
	})
}

type securityLevel struct {
	state  EndpointProbeState
	next   EndpointProbeState
	flag   SecurityFlags
	scheme Scheme
	class  cc.CommandClass
}

var securityLevels = map[EndpointProbeState]securityLevel{
	EndpointProbeSec2C2: {EndpointProbeSec2C2, EndpointProbeSec2C1, SecurityS2Access, SchemeS2Access, cc.Security2},
	EndpointProbeSec2C1: {EndpointProbeSec2C1, EndpointProbeSec2C0, SecurityS2Authenticated, SchemeS2Authenticated, cc.Security2},
	EndpointProbeSec2C0: {EndpointProbeSec2C0, EndpointProbeSec0, SecurityS2Unauthenticated, SchemeS2Unauthenticated, cc.Security2},
	EndpointProbeSec0:   {EndpointProbeSec0, EndpointProbeVersion, SecurityS0, SchemeS0, cc.Security},
}

// probeSecurity asks for the commands supported at one security level. For the root endpoint the result
// decides whether the level is granted, for a node this gateway has just included a level may only be
// revoked, apart from the S2 unauthenticated grant.
func (p *Prober) probeSecurity(ep *Endpoint) step {
	n := ep.node
	lvl := securityLevels[ep.State]
	root := n.Root()

	justAddedByMe := n.Properties.Has(PropertyJustAdded | PropertyAddedByMe)

	switch {
	case p.isSelf(n):
		ep.State = lvl.next
		return proceed
	case n.Security.Has(SecurityKnownBad):
		ep.State = lvl.next
		return proceed
	case !root.Supports(lvl.class):
		ep.State = lvl.next
		return proceed
	case ep.ID != 0 && !n.Security.Has(lvl.flag):
		ep.State = lvl.next
		return proceed
	case ep.ID == 0 && justAddedByMe && !p.config.Gateway.grantedKeys().Has(lvl.flag):
		n.Security &^= lvl.flag
		ep.State = lvl.next
		return proceed
	}

	ep.secureScratch = nil

	var req Request
	if lvl.class == cc.Security2 {
		req = p.defaultRequest(ep.Address(), lvl.scheme, cc.Get(cc.Security2, cc.Security2CommandsSupportedGet), cc.Security2, cc.Security2CommandsSupportedReport)
	} else {
		req = p.defaultRequest(ep.Address(), lvl.scheme, cc.Get(cc.Security, cc.SecurityCommandsSupportedGet), cc.Security, cc.SecurityCommandsSupportedReport)
		req.FollowUpTimeout = p.config.RequestTimeout
	}

	return p.endpointRequest(ep, req, func(ep *Endpoint, r Response) (bool, step) {
		n := ep.node

		if !r.Status.OK() {
			if r.Status == StatusTimeout {
				if ep.ID == 0 {
					p.logger.LogInfo(p.probeCtx, "Security level not granted.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("Level", ep.State.String()))
					n.Security &^= lvl.flag
				}

				ep.secureScratch = nil
				ep.State = lvl.next
				return false, proceed
			}

			return false, p.failEndpoint(ep, "Failed to probe security commands supported.", statusError(r.Status))
		}

		var list []byte
		var more bool

		if lvl.class == cc.Security2 {
			l, err := cc.ParseSecurity2CommandsSupported(r.Frame)
			if err != nil {
				return false, p.failEndpoint(ep, "Invalid security 2 commands supported report.", err)
			}
			list = l
		} else {
			l, toFollow, err := cc.ParseSecurityCommandsSupported(r.Frame)
			if err != nil {
				return false, p.failEndpoint(ep, "Invalid security commands supported report.", err)
			}
			list = l
			more = toFollow > 0
		}

		ep.secureScratch = append(ep.secureScratch, list...)
		if more {
			return true, suspend
		}

		ep.Info = cc.AppendSecureList(ep.Info, ep.secureScratch)
		ep.secureScratch = nil

		if ep.ID == 0 && (!justAddedByMe || lvl.flag == SecurityS2Unauthenticated) {
			n.Security |= lvl.flag
		}

		ep.State = lvl.next
		return false, proceed
	})
}

func (p *Prober) probeZWavePlus(ep *Endpoint) step {
	if !ep.Supports(cc.ZWavePlusInfo) {
		ep.State = EndpointMDNSProbe
		return proceed
	}

	req := p.defaultRequest(ep.Address(), SchemeAuto, cc.Get(cc.ZWavePlusInfo, cc.ZWavePlusInfoGet), cc.ZWavePlusInfo, cc.ZWavePlusInfoReport)

	return p.endpointRequest(ep, req, func(ep *Endpoint, r Response) (bool, step) {
		if !r.Status.OK() {
			return false, p.failEndpoint(ep, "Failed to probe Z-Wave Plus info.", statusError(r.Status))
		}

		report, err := cc.ParseZWavePlusReport(r.Frame)
		if err != nil {
			return false, p.failEndpoint(ep, "Invalid Z-Wave Plus info report.", err)
		}

		ep.InstallerIcon = report.InstallerIcon
		ep.UserIcon = report.UserIcon

		if report.Portable() {
			ep.node.Properties |= PropertyPortable
		}

		ep.State = EndpointMDNSProbe
		return false, proceed
	})
}
