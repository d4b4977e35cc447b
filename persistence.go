package zrd

import (
	"context"
	"encoding/hex"
	"fmt"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/persistence/converter"
	"github.com/shimmeringbee/zrd/cc"
	"sort"
	"strconv"
)

// NodeLister is implemented by storage able to enumerate the nodes it holds.
type NodeLister interface {
	NodeIDs() ([]NodeID, error)
}

func (p *Prober) persist(ctx context.Context, n *Node) {
	if p.storage == nil {
		return
	}

	if err := p.storage.Write(n); err != nil {
		p.logger.LogError(ctx, "Failed to persist node.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Err(err))
	}
}

// ImportAll imports every node held by storage that can list its nodes.
func (p *Prober) ImportAll() error {
	lister, ok := p.storage.(NodeLister)
	if !ok {
		return nil
	}

	ctx, end := p.logger.Segment(p.ctx, "Loading persistence.")
	defer end()

	ids, err := lister.NodeIDs()
	if err != nil {
		return fmt.Errorf("listing stored nodes: %w", err)
	}

	for _, id := range ids {
		if _, err := p.ImportNode(id); err != nil {
			p.logger.LogError(ctx, "Failed to import node.", logwrap.Datum("NodeID", int(id)), logwrap.Err(err))
		}
	}

	return nil
}

// restore copies a stored record into a freshly created node.
func (n *Node) restore(rec *Node) {
	n.Mode = rec.Mode
	n.State = rec.State
	n.Security = rec.Security
	n.Properties = rec.Properties
	n.ProbeFlags = rec.ProbeFlags
	n.WakeUpInterval = rec.WakeUpInterval
	n.LastAwake = rec.LastAwake
	n.LastUpdate = rec.LastUpdate
	n.ManufacturerID = rec.ManufacturerID
	n.ProductType = rec.ProductType
	n.ProductID = rec.ProductID
	n.BasicClass = rec.BasicClass
	n.DSK = append([]byte(nil), rec.DSK...)
	n.Name = rec.Name
	n.IndividualEndpoints = rec.IndividualEndpoints
	n.AggregatedEndpoints = rec.AggregatedEndpoints
	n.IdenticalEndpoints = rec.IdenticalEndpoints
	n.Software = rec.Software

	n.resetCCVersions()
	for _, v := range rec.CCVersions {
		n.setCCVersion(v.Class, v.Version)
	}

	for _, ep := range n.Endpoints {
		ep.node = nil
	}
	n.Endpoints = nil
	n.AddEndpoint(0)

	for _, r := range rec.Endpoints {
		ep := n.AddEndpoint(r.ID)
		ep.State = r.State
		ep.Info = append([]byte(nil), r.Info...)
		ep.Name = r.Name
		ep.Location = r.Location
		ep.InstallerIcon = r.InstallerIcon
		ep.UserIcon = r.UserIcon
		ep.AggregatedMembers = append([]uint8(nil), r.AggregatedMembers...)
	}
}

// NewDetachedNode returns a node that does not belong to any NodeStore, for storage implementations to
// decode records into.
func NewDetachedNode(id NodeID) *Node {
	return newNode(id, 0)
}

// SectionStorage persists nodes into a persistence section tree, one section per node under "node".
type SectionStorage struct {
	Section persistence.Section
}

var _ Storage = (*SectionStorage)(nil)
var _ NodeLister = (*SectionStorage)(nil)

func (s *SectionStorage) nodeKey(id NodeID) string {
	return strconv.Itoa(int(id))
}

func (s *SectionStorage) Write(n *Node) error {
	if !n.ID.Valid() {
		return fmt.Errorf("writing node %d: %w", n.ID, ErrNodeIDOutOfRange)
	}

	s.Section.Section("node").SectionDelete(s.nodeKey(n.ID))
	ns := s.Section.Section("node", s.nodeKey(n.ID))

	ns.Set("Mode", int(n.Mode))
	ns.Set("State", int(n.State))
	ns.Set("Security", int(n.Security))
	ns.Set("Properties", int(n.Properties))
	ns.Set("ProbeFlags", int(n.ProbeFlags))
	ns.Set("WakeUpInterval", int(n.WakeUpInterval))
	ns.Set("ManufacturerID", int(n.ManufacturerID))
	ns.Set("ProductType", int(n.ProductType))
	ns.Set("ProductID", int(n.ProductID))
	ns.Set("BasicClass", int(n.BasicClass))
	ns.Set("DSK", hex.EncodeToString(n.DSK))
	ns.Set("Name", n.Name)
	ns.Set("IndividualEndpoints", int(n.IndividualEndpoints))
	ns.Set("AggregatedEndpoints", int(n.AggregatedEndpoints))
	ns.Set("IdenticalEndpoints", n.IdenticalEndpoints)

	converter.Store(ns, "LastAwake", n.LastAwake, converter.TimeEncoder)
	converter.Store(ns, "LastUpdate", n.LastUpdate, converter.TimeEncoder)

	vs := ns.Section("version")
	for _, v := range n.CCVersions {
		vs.Set(strconv.Itoa(int(v.Class)), int(v.Version))
	}

	for _, ep := range n.Endpoints {
		es := ns.Section("endpoint", strconv.Itoa(int(ep.ID)))

		es.Set("State", int(ep.State))
		es.Set("Info", hex.EncodeToString(ep.Info))
		es.Set("Name", ep.Name)
		es.Set("Location", ep.Location)
		es.Set("InstallerIcon", int(ep.InstallerIcon))
		es.Set("UserIcon", int(ep.UserIcon))
		es.Set("AggregatedMembers", hex.EncodeToString(ep.AggregatedMembers))
	}

	return nil
}

func (s *SectionStorage) Invalidate(id NodeID) error {
	s.Section.Section("node").SectionDelete(s.nodeKey(id))
	return nil
}

func (s *SectionStorage) Read(id NodeID) (*Node, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("reading node %d: %w", id, ErrNodeIDOutOfRange)
	}

	if !s.Section.Section("node").SectionExists(s.nodeKey(id)) {
		return nil, ErrNodeNotFound
	}

	ns := s.Section.Section("node", s.nodeKey(id))
	n := NewDetachedNode(id)

	n.Mode = Mode(sectionInt(ns, "Mode"))
	n.State = NodeProbeState(sectionInt(ns, "State"))
	n.Security = SecurityFlags(sectionInt(ns, "Security"))
	n.Properties = PropertyFlags(sectionInt(ns, "Properties"))
	n.ProbeFlags = ProbeFlags(sectionInt(ns, "ProbeFlags"))
	n.WakeUpInterval = uint32(sectionInt(ns, "WakeUpInterval"))
	n.ManufacturerID = uint16(sectionInt(ns, "ManufacturerID"))
	n.ProductType = uint16(sectionInt(ns, "ProductType"))
	n.ProductID = uint16(sectionInt(ns, "ProductID"))
	n.BasicClass = uint8(sectionInt(ns, "BasicClass"))
	n.IndividualEndpoints = uint8(sectionInt(ns, "IndividualEndpoints"))
	n.AggregatedEndpoints = uint8(sectionInt(ns, "AggregatedEndpoints"))
	n.IdenticalEndpoints, _ = ns.Bool("IdenticalEndpoints")
	n.Name, _ = ns.String("Name")
	n.LastAwake, _ = converter.Retrieve(ns, "LastAwake", converter.TimeDecoder)
	n.LastUpdate, _ = converter.Retrieve(ns, "LastUpdate", converter.TimeDecoder)

	var err error
	if n.DSK, err = sectionBytes(ns, "DSK"); err != nil {
		return nil, fmt.Errorf("reading node %d dsk: %w", id, err)
	}

	vs := ns.Section("version")
	for _, k := range vs.SectionKeys() {
		class, err := strconv.Atoi(k)
		if err != nil {
			continue
		}

		n.setCCVersion(cc.CommandClass(class), uint8(sectionInt(vs, k)))
	}

	epSection := ns.Section("endpoint")

	var ids []int
	for _, k := range epSection.SectionKeys() {
		if i, err := strconv.Atoi(k); err == nil {
			ids = append(ids, i)
		}
	}
	sort.Ints(ids)

	for _, i := range ids {
		es := epSection.Section(strconv.Itoa(i))
		ep := n.AddEndpoint(EndpointID(i))

		ep.State = EndpointProbeState(sectionInt(es, "State"))
		ep.Name, _ = es.String("Name")
		ep.Location, _ = es.String("Location")
		ep.InstallerIcon = uint16(sectionInt(es, "InstallerIcon"))
		ep.UserIcon = uint16(sectionInt(es, "UserIcon"))

		if ep.Info, err = sectionBytes(es, "Info"); err != nil {
			return nil, fmt.Errorf("reading endpoint %d.%d info: %w", id, i, err)
		}

		if ep.AggregatedMembers, err = sectionBytes(es, "AggregatedMembers"); err != nil {
			return nil, fmt.Errorf("reading endpoint %d.%d members: %w", id, i, err)
		}
	}

	return n, nil
}

func (s *SectionStorage) NodeIDs() ([]NodeID, error) {
	var ids []NodeID

	for _, k := range s.Section.Section("node").SectionKeys() {
		if i, err := strconv.Atoi(k); err == nil && NodeID(i).Valid() {
			ids = append(ids, NodeID(i))
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})

	return ids, nil
}

func sectionInt(s persistence.Section, key string) int {
	v, _ := s.Int(key)
	return int(v)
}

func sectionBytes(s persistence.Section, key string) ([]byte, error) {
	v, _ := s.String(key)
	if v == "" {
		return nil, nil
	}

	return hex.DecodeString(v)
}
