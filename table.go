package zrd

type slot struct {
	node       *Node
	generation uint32
}

// NodeStore is a fixed capacity table of nodes indexed by node id, covering both the classic and the
// long range id spaces.
type NodeStore struct {
	slots []slot
}

func NewNodeStore() *NodeStore {
	return &NodeStore{slots: make([]slot, maxNodes)}
}

func slotIndex(id NodeID) (int, bool) {
	switch {
	case id >= MinClassicNodeID && id <= MaxClassicNodeID:
		return int(id - MinClassicNodeID), true
	case id >= MinLongRangeNodeID && id <= MaxLongRangeNodeID:
		return int(MaxClassicNodeID) + int(id-MinLongRangeNodeID), true
	default:
		return 0, false
	}
}

// Create returns the node with the id, creating it in NodeCreated if the slot is free. The bool is true
// if the node was created. A nil node is returned for an id outside of both id spaces.
func (s *NodeStore) Create(id NodeID) (*Node, bool) {
	idx, ok := slotIndex(id)
	if !ok {
		return nil, false
	}

	if n := s.slots[idx].node; n != nil {
		return n, false
	}

	n := newNode(id, s.slots[idx].generation)
	s.slots[idx].node = n

	return n, true
}

func (s *NodeStore) Get(id NodeID) *Node {
	idx, ok := slotIndex(id)
	if !ok {
		return nil
	}

	return s.slots[idx].node
}

// Resolve returns the node a reference was taken from, or nil if it has been removed since.
func (s *NodeStore) Resolve(ref NodeRef) *Node {
	idx, ok := slotIndex(ref.ID)
	if !ok {
		return nil
	}

	sl := s.slots[idx]
	if sl.node == nil || sl.generation != ref.generation {
		return nil
	}

	return sl.node
}

// Remove frees the slot of the node, invalidating all outstanding references to it.
func (s *NodeStore) Remove(id NodeID) bool {
	idx, ok := slotIndex(id)
	if !ok || s.slots[idx].node == nil {
		return false
	}

	n := s.slots[idx].node
	for _, ep := range n.Endpoints {
		ep.node = nil
	}
	n.pcv = nil

	s.slots[idx].node = nil
	s.slots[idx].generation++

	return true
}

// Nodes returns all stored nodes in node id order.
func (s *NodeStore) Nodes() []*Node {
	var nodes []*Node

	for _, sl := range s.slots {
		if sl.node != nil {
			nodes = append(nodes, sl.node)
		}
	}

	return nodes
}

func (s *NodeStore) Len() int {
	count := 0

	for _, sl := range s.slots {
		if sl.node != nil {
			count++
		}
	}

	return count
}
