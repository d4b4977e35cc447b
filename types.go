package zrd

import (
	"errors"
	"fmt"
)

type NodeID uint16

type EndpointID uint8

const (
	MinClassicNodeID   NodeID = 1
	MaxClassicNodeID   NodeID = 232
	MinLongRangeNodeID NodeID = 256
	MaxLongRangeNodeID NodeID = 4000

	maxNodes = int(MaxClassicNodeID) + int(MaxLongRangeNodeID-MinLongRangeNodeID) + 1
)

var ErrNodeIDOutOfRange = errors.New("node id out of range")
var ErrNodeNotFound = errors.New("node not found")

func (n NodeID) Valid() bool {
	return (n >= MinClassicNodeID && n <= MaxClassicNodeID) || (n >= MinLongRangeNodeID && n <= MaxLongRangeNodeID)
}

func (n NodeID) LongRange() bool {
	return n >= MinLongRangeNodeID && n <= MaxLongRangeNodeID
}

func (n NodeID) String() string {
	return fmt.Sprintf("%d", uint16(n))
}

type EndpointAddress struct {
	Node     NodeID
	Endpoint EndpointID
}

func (a EndpointAddress) String() string {
	return fmt.Sprintf("%d.%d", a.Node, a.Endpoint)
}

// Mode holds the listening mode of a node in the low byte and independent flags above it.
type Mode uint16

const (
	ModeProbing Mode = iota
	ModeAlwaysListening
	ModeFrequentlyListening
	ModeNonListening
	ModeMailbox
	ModeFirmwareUpgrade
)

const (
	ModeFlagDeleted    Mode = 0x0100
	ModeFlagFailed     Mode = 0x0200
	ModeFlagLowBattery Mode = 0x0400

	modeBaseMask Mode = 0x00ff
)

func (m Mode) Base() Mode {
	return m & modeBaseMask
}

func (m Mode) Has(f Mode) bool {
	return m&f == f
}

// WithBase replaces the base mode, retaining all flags.
func (m Mode) WithBase(b Mode) Mode {
	return (m &^ modeBaseMask) | (b & modeBaseMask)
}

func (m Mode) String() string {
	var s string

	switch m.Base() {
	case ModeProbing:
		s = "Probing"
	case ModeAlwaysListening:
		s = "AlwaysListening"
	case ModeFrequentlyListening:
		s = "FrequentlyListening"
	case ModeNonListening:
		s = "NonListening"
	case ModeMailbox:
		s = "Mailbox"
	case ModeFirmwareUpgrade:
		s = "FirmwareUpgrade"
	default:
		s = fmt.Sprintf("Mode(%d)", uint16(m.Base()))
	}

	if m.Has(ModeFlagDeleted) {
		s += "|Deleted"
	}
	if m.Has(ModeFlagFailed) {
		s += "|Failed"
	}
	if m.Has(ModeFlagLowBattery) {
		s += "|LowBattery"
	}

	return s
}

type SecurityFlags uint8

const (
	SecurityS0                SecurityFlags = 0x01
	SecurityKnownBad          SecurityFlags = 0x02
	SecurityS2Unauthenticated SecurityFlags = 0x10
	SecurityS2Authenticated   SecurityFlags = 0x20
	SecurityS2Access          SecurityFlags = 0x40

	SecurityS2Any = SecurityS2Unauthenticated | SecurityS2Authenticated | SecurityS2Access
)

func (s SecurityFlags) Has(f SecurityFlags) bool {
	return s&f == f
}

type PropertyFlags uint8

const (
	PropertyJustAdded PropertyFlags = 0x01
	PropertyAddedByMe PropertyFlags = 0x02
	PropertyPortable  PropertyFlags = 0x04
)

func (p PropertyFlags) Has(f PropertyFlags) bool {
	return p&f == f
}

type ProbeFlags uint8

const (
	ProbeNeverStarted ProbeFlags = iota
	ProbeStarted
	ProbeFailed
	ProbeCompleted
)

func (p ProbeFlags) String() string {
	switch p {
	case ProbeNeverStarted:
		return "NeverStarted"
	case ProbeStarted:
		return "Started"
	case ProbeFailed:
		return "Failed"
	case ProbeCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("ProbeFlags(%d)", uint8(p))
	}
}

type NodeProbeState uint8

const (
	NodeCreated NodeProbeState = iota
	NodeProbeNodeInfo
	NodeProbeProductID
	NodeEnumerateEndpoints
	NodeFindEndpoints
	NodeProbeEndpoints
	NodeCheckWakeUpCCVersion
	NodeGetWakeUpCapabilities
	NodeSetWakeUpInterval
	NodeProbeWakeUpInterval
	NodeAssignReturnRoute
	NodeMDNSProbe
	NodeMDNSEndpointProbe
	NodeDone
	NodeProbeFail
	NodeFailing
)

var nodeProbeStateNames = []string{
	"Created", "ProbeNodeInfo", "ProbeProductID", "EnumerateEndpoints", "FindEndpoints",
	"ProbeEndpoints", "CheckWakeUpCCVersion", "GetWakeUpCapabilities", "SetWakeUpInterval",
	"ProbeWakeUpInterval", "AssignReturnRoute", "MDNSProbe", "MDNSEndpointProbe", "Done",
	"ProbeFail", "Failing",
}

func (s NodeProbeState) String() string {
	if int(s) < len(nodeProbeStateNames) {
		return nodeProbeStateNames[s]
	}

	return fmt.Sprintf("NodeProbeState(%d)", uint8(s))
}

func (s NodeProbeState) Terminal() bool {
	return s == NodeDone || s == NodeProbeFail || s == NodeFailing
}

type EndpointProbeState uint8

const (
	EndpointProbeInfo EndpointProbeState = iota
	EndpointProbeAggregated
	EndpointProbeSec2C2
	EndpointProbeSec2C1
	EndpointProbeSec2C0
	EndpointProbeSec0
	EndpointProbeVersion
	EndpointProbeZWavePlus
	EndpointMDNSProbe
	EndpointMDNSProbeInProgress
	EndpointProbeDone
	EndpointProbeFail
)

var endpointProbeStateNames = []string{
	"ProbeInfo", "ProbeAggregatedEndpoints", "ProbeSec2C2Info", "ProbeSec2C1Info", "ProbeSec2C0Info",
	"ProbeSec0Info", "ProbeVersion", "ProbeZWavePlus", "MDNSProbe", "MDNSProbeInProgress", "ProbeDone",
	"ProbeFail",
}

func (s EndpointProbeState) String() string {
	if int(s) < len(endpointProbeStateNames) {
		return endpointProbeStateNames[s]
	}

	return fmt.Sprintf("EndpointProbeState(%d)", uint8(s))
}

func (s EndpointProbeState) Terminal() bool {
	return s == EndpointProbeDone || s == EndpointProbeFail
}

type PCVState uint8

const (
	PCVIdle PCVState = iota
	PCVSendVersionCCGet
	PCVLastReport
	PCVCheckIfV3
	PCVSendVersionCapGet
	PCVSendVersionZWSGet
	PCVVersionProbeDone
)

var pcvStateNames = []string{
	"Idle", "SendVersionCCGet", "LastReport", "CheckIfV3", "SendVersionCapGet", "SendVersionZWSGet",
	"VersionProbeDone",
}

func (s PCVState) String() string {
	if int(s) < len(pcvStateNames) {
		return pcvStateNames[s]
	}

	return fmt.Sprintf("PCVState(%d)", uint8(s))
}
