package zrd

import (
	"fmt"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/zrd/cc"
)

// softwareCapabilities must all be advertised by a version capabilities report before the Z-Wave software
// version is requested.
const softwareCapabilities = cc.VersionCapabilityVersion | cc.VersionCapabilityCommandClass | cc.VersionCapabilityZWaveSoftware

// versionProbe is attached to a node the first time one of its endpoints probes versions, and is
// reused for every endpoint of the node.
type versionProbe struct {
	state    PCVState
	index    int
	endpoint *Endpoint
	done     func(ok bool)

	capabilities      uint8
	capabilitiesKnown bool
	softwareProbed    bool
}

// probeVersions walks the controlled command class table for an endpoint, followed by the version
// capabilities and Z-Wave software probes. Failures mark the node's probe flags but never stop the
// walk. done is invoked once the walk finishes, with false if the node's probe has been marked failed.
func (p *Prober) probeVersions(ep *Endpoint, done func(ok bool)) step {
	n := ep.node

	if n.pcv == nil {
		n.pcv = &versionProbe{}
	}

	pcv := n.pcv

	if pcv.state == PCVIdle || pcv.endpoint != ep {
		pcv.state = PCVSendVersionCCGet
		pcv.index = 0
		pcv.endpoint = ep
	}

	pcv.done = done

	for {
		switch pcv.state {
		case PCVSendVersionCCGet:
			class, found := p.nextVersionClass(ep, pcv)
			if !found {
				pcv.state = PCVCheckIfV3
				continue
			}

			pcv.state = PCVLastReport
			return p.versionRequest(ep, cc.VersionCommandClassGetFrame(class), cc.VersionCommandClassReport, func(n *Node, r Response) {
				if !r.Status.OK() {
					p.versionFailed(n, "Failed to probe command class version.", statusError(r.Status), class)
				} else if reported, version, err := cc.ParseVersionCommandClassReport(r.Frame); err != nil {
					p.versionFailed(n, "Invalid command class version report.", err, class)
				} else if reported != class {
					p.versionFailed(n, "Command class version report for unexpected class.", fmt.Errorf("%w: expected %s got %s", cc.ErrMalformedFrame, class, reported), class)
				} else {
					n.setCCVersion(class, version)
				}

				n.pcv.state = PCVSendVersionCCGet
			})

		case PCVLastReport:
			return suspend

		case PCVCheckIfV3:
			if n.CCVersion(cc.Version) == 3 && !pcv.capabilitiesKnown {
				pcv.state = PCVSendVersionCapGet
			} else {
				pcv.state = PCVSendVersionZWSGet
			}

		case PCVSendVersionCapGet:
			pcv.capabilitiesKnown = true

			return p.versionRequest(ep, cc.Get(cc.Version, cc.VersionCapabilitiesGet), cc.VersionCapabilitiesReport, func(n *Node, r Response) {
				if !r.Status.OK() {
					p.versionFailed(n, "Failed to probe version capabilities.", statusError(r.Status), cc.Version)
				} else if caps, err := cc.ParseVersionCapabilitiesReport(r.Frame); err != nil {
					p.versionFailed(n, "Invalid version capabilities report.", err, cc.Version)
				} else {
					n.pcv.capabilities = caps
				}

				n.pcv.state = PCVSendVersionZWSGet
			})

		case PCVSendVersionZWSGet:
			if pcv.softwareProbed || pcv.capabilities&softwareCapabilities != softwareCapabilities {
				pcv.state = PCVVersionProbeDone
				continue
			}

			pcv.softwareProbed = true

			return p.versionRequest(ep, cc.Get(cc.Version, cc.VersionZWaveSoftwareGet), cc.VersionZWaveSoftwareReport, func(n *Node, r Response) {
				if !r.Status.OK() {
					p.versionFailed(n, "Failed to probe Z-Wave software version.", statusError(r.Status), cc.Version)
				} else if report, err := cc.ParseZWaveSoftwareReport(r.Frame); err != nil {
					p.versionFailed(n, "Invalid Z-Wave software report.", err, cc.Version)
				} else {
					n.Software = &report
				}

				n.pcv.state = PCVVersionProbeDone
			})

		case PCVVersionProbeDone:
			pcv.state = PCVIdle
			pcv.endpoint = nil

			fn := pcv.done
			pcv.done = nil

			if fn != nil {
				fn(n.ProbeFlags != ProbeFailed)
			}

			return proceed

		default:
			pcv.state = PCVIdle
			return proceed
		}
	}
}

// nextVersionClass advances the cursor to the next controlled class the endpoint supports whose version
// is not yet known.
func (p *Prober) nextVersionClass(ep *Endpoint, pcv *versionProbe) (cc.CommandClass, bool) {
	for pcv.index < len(cc.ControlledClasses) {
		class := cc.ControlledClasses[pcv.index]
		pcv.index++

		if ep.Supports(class) && ep.node.CCVersion(class) == 0 {
			return class, true
		}
	}

	return 0, false
}

func (p *Prober) versionRequest(ep *Endpoint, payload []byte, command uint8, fn func(n *Node, r Response)) step {
	req := p.defaultRequest(ep.Address(), SchemeAuto, payload, cc.Version, command)
	req.Timeout = p.config.VersionTimeout
	req.Retries = p.config.VersionRetries

	return p.endpointRequest(ep, req, func(ep *Endpoint, r Response) (bool, step) {
		n := ep.node
		if n.pcv == nil {
			return false, suspend
		}

		fn(n, r)
		return false, proceed
	})
}

func (p *Prober) versionFailed(n *Node, reason string, err error, class cc.CommandClass) {
	p.logger.LogWarn(p.probeCtx, reason, logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("CommandClass", class.String()), errDatum(err))
	n.ProbeFlags = ProbeFailed
}
