package zrd

import (
	"github.com/shimmeringbee/zrd/cc"
	"time"
)

type CCVersion struct {
	Class   cc.CommandClass
	Version uint8
}

type Node struct {
	ID    NodeID
	Mode  Mode
	State NodeProbeState

	Security   SecurityFlags
	Properties PropertyFlags
	ProbeFlags ProbeFlags

	// CCVersions is seeded from cc.ControlledClasses, a zero version is unknown.
	CCVersions []CCVersion

	WakeUpInterval uint32
	LastAwake      time.Time
	LastUpdate     time.Time

	ManufacturerID uint16
	ProductType    uint16
	ProductID      uint16

	BasicClass uint8
	DSK        []byte
	Name       string

	IndividualEndpoints uint8
	AggregatedEndpoints uint8
	IdenticalEndpoints  bool

	Software *cc.ZWaveSoftwareReport

	Endpoints []*Endpoint

	// Runtime only data.
	generation uint32
	pcv        *versionProbe
	wakeUpCaps *cc.WakeUpCapabilities
	foundIDs   []uint8
	quirks     quirks
}

type Endpoint struct {
	ID    EndpointID
	State EndpointProbeState

	// Info holds the generic class, specific class and annotated command class list.
	Info []byte

	Name     string
	Location string

	InstallerIcon uint16
	UserIcon      uint16

	AggregatedMembers []uint8

	node          *Node
	secureScratch []byte
}

// NodeRef is a handle to a node held across asynchronous boundaries. It resolves to nil once the node
// it was taken from has been freed, even if the slot has since been reused.
type NodeRef struct {
	ID         NodeID
	generation uint32
}

func newNode(id NodeID, generation uint32) *Node {
	n := &Node{
		ID:         id,
		generation: generation,
		CCVersions: make([]CCVersion, len(cc.ControlledClasses)),
	}

	for i, c := range cc.ControlledClasses {
		n.CCVersions[i].Class = c
	}

	n.AddEndpoint(0)

	return n
}

func (n *Node) Ref() NodeRef {
	return NodeRef{ID: n.ID, generation: n.generation}
}

func (n *Node) Endpoint(id EndpointID) *Endpoint {
	for _, ep := range n.Endpoints {
		if ep.ID == id {
			return ep
		}
	}

	return nil
}

func (n *Node) Root() *Endpoint {
	return n.Endpoint(0)
}

// AddEndpoint returns the existing endpoint with the id, or appends a new one.
func (n *Node) AddEndpoint(id EndpointID) *Endpoint {
	if ep := n.Endpoint(id); ep != nil {
		return ep
	}

	ep := &Endpoint{ID: id, node: n}
	n.Endpoints = append(n.Endpoints, ep)

	return ep
}

// removeNonRootEndpoints drops every endpoint but the root, returning those removed.
func (n *Node) removeNonRootEndpoints() []*Endpoint {
	var removed []*Endpoint
	kept := n.Endpoints[:0]

	for _, ep := range n.Endpoints {
		if ep.ID == 0 {
			kept = append(kept, ep)
		} else {
			ep.node = nil
			removed = append(removed, ep)
		}
	}

	n.Endpoints = kept

	return removed
}

// retainEndpoints keeps the endpoints with the given ids, ordered as given, and drops every other
// endpoint, returning those removed.
func (n *Node) retainEndpoints(ids []EndpointID) []*Endpoint {
	kept := make([]*Endpoint, 0, len(ids))
	seen := map[*Endpoint]bool{}

	for _, id := range ids {
		if ep := n.Endpoint(id); ep != nil && !seen[ep] {
			seen[ep] = true
			kept = append(kept, ep)
		}
	}

	var removed []*Endpoint

	for _, ep := range n.Endpoints {
		if !seen[ep] {
			ep.node = nil
			removed = append(removed, ep)
		}
	}

	n.Endpoints = kept

	return removed
}

func (n *Node) CCVersion(c cc.CommandClass) uint8 {
	for _, v := range n.CCVersions {
		if v.Class == c {
			return v.Version
		}
	}

	return 0
}

func (n *Node) setCCVersion(c cc.CommandClass, version uint8) {
	for i := range n.CCVersions {
		if n.CCVersions[i].Class == c {
			n.CCVersions[i].Version = version
			return
		}
	}
}

func (n *Node) resetCCVersions() {
	for i := range n.CCVersions {
		n.CCVersions[i].Version = 0
	}
}

// Supports reports whether the root endpoint advertises the command class.
func (n *Node) Supports(c cc.CommandClass) bool {
	root := n.Root()
	return root != nil && root.Supports(c)
}

func (n *Node) Listening() bool {
	switch n.Mode.Base() {
	case ModeAlwaysListening, ModeFrequentlyListening:
		return true
	default:
		return false
	}
}

func (e *Endpoint) Node() *Node {
	return e.node
}

func (e *Endpoint) Address() EndpointAddress {
	if e.node == nil {
		return EndpointAddress{Endpoint: e.ID}
	}

	return EndpointAddress{Node: e.node.ID, Endpoint: e.ID}
}

func (e *Endpoint) Generic() uint8 {
	if len(e.Info) < 1 {
		return 0
	}

	return e.Info[0]
}

func (e *Endpoint) Specific() uint8 {
	if len(e.Info) < 2 {
		return 0
	}

	return e.Info[1]
}

// Classes returns the annotated command class list, without the device class prefix.
func (e *Endpoint) Classes() []byte {
	if len(e.Info) < 2 {
		return nil
	}

	return e.Info[2:]
}

func (e *Endpoint) Supports(c cc.CommandClass) bool {
	return cc.Supports(e.Classes(), c)
}

func (e *Endpoint) SupportsSecurely(c cc.CommandClass) bool {
	return cc.SupportsSecurely(e.Classes(), c)
}

// aggregated reports whether the endpoint is one of the aggregated endpoints, which always follow the
// individual endpoints.
func (e *Endpoint) aggregated() bool {
	if e.node == nil || e.ID == 0 || e.node.AggregatedEndpoints == 0 {
		return false
	}

	eps := e.node.Endpoints
	for i := len(eps) - int(e.node.AggregatedEndpoints); i < len(eps); i++ {
		if i > 0 && eps[i] == e {
			return true
		}
	}

	return false
}

// cloneFrom copies the capability data of another endpoint, leaving naming to be probed afresh.
func (e *Endpoint) cloneFrom(o *Endpoint) {
	e.Info = append([]byte(nil), o.Info...)
	e.AggregatedMembers = append([]uint8(nil), o.AggregatedMembers...)
	e.InstallerIcon = o.InstallerIcon
	e.UserIcon = o.UserIcon
	e.Name = ""
	e.Location = ""
}
