package zrd

import (
	"github.com/shimmeringbee/zrd/cc"
	"time"
)

// Scheme selects the encapsulation used for a request.
type Scheme uint8

const (
	SchemeAuto Scheme = iota
	SchemeNone
	SchemeS0
	SchemeS2Unauthenticated
	SchemeS2Authenticated
	SchemeS2Access
)

type Status uint8

const (
	StatusOK Status = iota
	StatusFailed
	StatusTimeout
)

func (s Status) OK() bool {
	return s == StatusOK
}

type Request struct {
	Destination EndpointAddress
	Scheme      Scheme
	Payload     []byte

	ExpectClass   cc.CommandClass
	ExpectCommand uint8

	// Timeout is the budget for the first response across all retries.
	Timeout time.Duration
	Retries int
	// FollowUpTimeout bounds the wait for each further report when the callback expects more.
	FollowUpTimeout time.Duration
}

type Response struct {
	Status Status
	Frame  []byte
}

// ResponseFunc receives the outcome of a request. Returning true asks the transport to keep the request
// open for another report, a failed response always ends the request.
type ResponseFunc func(Response) bool

type StatusFunc func(Status)

// Transport is the asynchronous gateway to the Z-Wave network. Every method returns false if the
// operation could not be started, in which case the callback is never invoked. Callbacks must be
// delivered on the prober's loop, see Prober.Post.
type Transport interface {
	SendRequest(req Request, fn ResponseFunc) bool
	SendData(dst EndpointAddress, scheme Scheme, payload []byte, fn StatusFunc) bool
	// RequestNodeInfo asks the node for its information frame, answered through Prober.NodeInfoReceived.
	RequestNodeInfo(id NodeID) bool
	AssignReturnRoute(id NodeID, fn StatusFunc) bool
}

// NodeInfo is the content of a node information frame.
type NodeInfo struct {
	Listening bool
	// FLiRS is set for frequently listening nodes, which are also reported as not Listening.
	FLiRS    bool
	Basic    uint8
	Generic  uint8
	Specific uint8
	Classes  []byte
}

// NameProbeFunc receives true once a name has been probed without conflict, false on a conflict.
type NameProbeFunc func(ok bool)

type Naming interface {
	ProbeNodeName(n *Node, fn NameProbeFunc) bool
	ProbeEndpointName(ep *Endpoint, fn NameProbeFunc) bool
}

type Storage interface {
	Write(n *Node) error
	Invalidate(id NodeID) error
	// Read returns ErrNodeNotFound if no record is held for the node.
	Read(id NodeID) (*Node, error)
}

type Mailbox interface {
	// Purge drops every queued message for the node.
	Purge(id NodeID)
	// PurgeStale drops queued messages for the node that are too old to be useful.
	PurgeStale(id NodeID)
}

type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}
