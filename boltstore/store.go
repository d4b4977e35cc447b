package boltstore

import (
	"encoding/binary"
	"fmt"
	"github.com/fxamacker/cbor/v2"
	"github.com/shimmeringbee/zrd"
	"github.com/shimmeringbee/zrd/cc"
	bolt "go.etcd.io/bbolt"
	"time"
)

var bucketNodes = []byte("nodes")

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("failed to create node record encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("failed to create node record decoder mode: %v", err))
	}
}

type versionRecord struct {
	Class   uint16 `cbor:"1,keyasint"`
	Version uint8  `cbor:"2,keyasint"`
}

type endpointRecord struct {
	ID                uint8  `cbor:"1,keyasint"`
	State             uint8  `cbor:"2,keyasint"`
	Info              []byte `cbor:"3,keyasint,omitempty"`
	Name              string `cbor:"4,keyasint,omitempty"`
	Location          string `cbor:"5,keyasint,omitempty"`
	InstallerIcon     uint16 `cbor:"6,keyasint,omitempty"`
	UserIcon          uint16 `cbor:"7,keyasint,omitempty"`
	AggregatedMembers []byte `cbor:"8,keyasint,omitempty"`
}

type nodeRecord struct {
	ID                  uint16                  `cbor:"1,keyasint"`
	Mode                uint16                  `cbor:"2,keyasint"`
	State               uint8                   `cbor:"3,keyasint"`
	Security            uint8                   `cbor:"4,keyasint"`
	Properties          uint8                   `cbor:"5,keyasint"`
	ProbeFlags          uint8                   `cbor:"6,keyasint"`
	WakeUpInterval      uint32                  `cbor:"7,keyasint"`
	LastAwake           time.Time               `cbor:"8,keyasint"`
	LastUpdate          time.Time               `cbor:"9,keyasint"`
	ManufacturerID      uint16                  `cbor:"10,keyasint"`
	ProductType         uint16                  `cbor:"11,keyasint"`
	ProductID           uint16                  `cbor:"12,keyasint"`
	BasicClass          uint8                   `cbor:"13,keyasint"`
	DSK                 []byte                  `cbor:"14,keyasint,omitempty"`
	Name                string                  `cbor:"15,keyasint,omitempty"`
	IndividualEndpoints uint8                   `cbor:"16,keyasint"`
	AggregatedEndpoints uint8                   `cbor:"17,keyasint"`
	IdenticalEndpoints  bool                    `cbor:"18,keyasint"`
	CCVersions          []versionRecord         `cbor:"19,keyasint"`
	Software            *cc.ZWaveSoftwareReport `cbor:"20,keyasint,omitempty"`
	Endpoints           []endpointRecord        `cbor:"21,keyasint"`
}

// Store persists node records in a bbolt database, one CBOR encoded record per node keyed by its id.
type Store struct {
	db *bolt.DB
}

var _ zrd.Storage = (*Store)(nil)
var _ zrd.NodeLister = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNodes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(id zrd.NodeID) []byte {
	k := make([]byte, 2)
	binary.BigEndian.PutUint16(k, uint16(id))
	return k
}

func (s *Store) Write(n *zrd.Node) error {
	if !n.ID.Valid() {
		return fmt.Errorf("writing node %d: %w", n.ID, zrd.ErrNodeIDOutOfRange)
	}

	data, err := encMode.Marshal(toRecord(n))
	if err != nil {
		return fmt.Errorf("encoding node %d: %w", n.ID, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		return b.Put(key(n.ID), data)
	})
}

func (s *Store) Invalidate(id zrd.NodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		return b.Delete(key(id))
	})
}

func (s *Store) Read(id zrd.NodeID) (*zrd.Node, error) {
	var rec nodeRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}

		data := b.Get(key(id))
		if data == nil {
			return fmt.Errorf("node %d: %w", id, zrd.ErrNodeNotFound)
		}

		return decMode.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}

	if zrd.NodeID(rec.ID) != id {
		return nil, fmt.Errorf("node %d: record holds node %d", id, rec.ID)
	}

	return fromRecord(rec), nil
}

func (s *Store) NodeIDs() ([]zrd.NodeID, error) {
	var ids []zrd.NodeID

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, _ []byte) error {
			if len(k) == 2 {
				ids = append(ids, zrd.NodeID(binary.BigEndian.Uint16(k)))
			}
			return nil
		})
	})

	return ids, err
}

func toRecord(n *zrd.Node) nodeRecord {
	rec := nodeRecord{
		ID:                  uint16(n.ID),
		Mode:                uint16(n.Mode),
		State:               uint8(n.State),
		Security:            uint8(n.Security),
		Properties:          uint8(n.Properties),
		ProbeFlags:          uint8(n.ProbeFlags),
		WakeUpInterval:      n.WakeUpInterval,
		LastAwake:           n.LastAwake,
		LastUpdate:          n.LastUpdate,
		ManufacturerID:      n.ManufacturerID,
		ProductType:         n.ProductType,
		ProductID:           n.ProductID,
		BasicClass:          n.BasicClass,
		DSK:                 n.DSK,
		Name:                n.Name,
		IndividualEndpoints: n.IndividualEndpoints,
		AggregatedEndpoints: n.AggregatedEndpoints,
		IdenticalEndpoints:  n.IdenticalEndpoints,
		Software:            n.Software,
	}

	for _, v := range n.CCVersions {
		rec.CCVersions = append(rec.CCVersions, versionRecord{Class: uint16(v.Class), Version: v.Version})
	}

	for _, ep := range n.Endpoints {
		rec.Endpoints = append(rec.Endpoints, endpointRecord{
			ID:                uint8(ep.ID),
			State:             uint8(ep.State),
			Info:              ep.Info,
			Name:              ep.Name,
			Location:          ep.Location,
			InstallerIcon:     ep.InstallerIcon,
			UserIcon:          ep.UserIcon,
			AggregatedMembers: ep.AggregatedMembers,
		})
	}

	return rec
}

func fromRecord(rec nodeRecord) *zrd.Node {
	n := zrd.NewDetachedNode(zrd.NodeID(rec.ID))

	n.Mode = zrd.Mode(rec.Mode)
	n.State = zrd.NodeProbeState(rec.State)
	n.Security = zrd.SecurityFlags(rec.Security)
	n.Properties = zrd.PropertyFlags(rec.Properties)
	n.ProbeFlags = zrd.ProbeFlags(rec.ProbeFlags)
	n.WakeUpInterval = rec.WakeUpInterval
	n.LastAwake = rec.LastAwake
	n.LastUpdate = rec.LastUpdate
	n.ManufacturerID = rec.ManufacturerID
	n.ProductType = rec.ProductType
	n.ProductID = rec.ProductID
	n.BasicClass = rec.BasicClass
	n.DSK = rec.DSK
	n.Name = rec.Name
	n.IndividualEndpoints = rec.IndividualEndpoints
	n.AggregatedEndpoints = rec.AggregatedEndpoints
	n.IdenticalEndpoints = rec.IdenticalEndpoints
	n.Software = rec.Software

	n.CCVersions = n.CCVersions[:0]
	for _, v := range rec.CCVersions {
		n.CCVersions = append(n.CCVersions, zrd.CCVersion{Class: cc.CommandClass(v.Class), Version: v.Version})
	}

	for _, r := range rec.Endpoints {
		ep := n.AddEndpoint(zrd.EndpointID(r.ID))
		ep.State = zrd.EndpointProbeState(r.State)
		ep.Info = r.Info
		ep.Name = r.Name
		ep.Location = r.Location
		ep.InstallerIcon = r.InstallerIcon
		ep.UserIcon = r.UserIcon
		ep.AggregatedMembers = r.AggregatedMembers
	}

	return n
}
