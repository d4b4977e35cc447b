package zrd

import (
	"errors"
	"github.com/shimmeringbee/zrd/cc"
)

var (
	ErrNotAccepted    = errors.New("request not accepted by transport")
	ErrRequestTimeout = errors.New("request timed out")
	ErrRequestFailed  = errors.New("request failed")
)

func statusError(s Status) error {
	switch s {
	case StatusOK:
		return nil
	case StatusTimeout:
		return ErrRequestTimeout
	default:
		return ErrRequestFailed
	}
}

func (p *Prober) defaultRequest(dst EndpointAddress, scheme Scheme, payload []byte, class cc.CommandClass, command uint8) Request {
	return Request{
		Destination:   dst,
		Scheme:        scheme,
		Payload:       payload,
		ExpectClass:   class,
		ExpectCommand: command,
		Timeout:       p.config.RequestTimeout,
		Retries:       p.config.RequestRetries,
	}
}

// request sends a request expecting a single report. The handler updates probe state and returns
// proceed to continue driving the node.
func (p *Prober) request(n *Node, req Request, fn func(n *Node, r Response) step) step {
	return p.requestReports(n, req, func(n *Node, r Response) (bool, step) {
		return false, fn(n, r)
	})
}

// requestReports sends a request whose handler may ask for further reports. A request the transport
// refuses is handled as an immediate failure.
func (p *Prober) requestReports(n *Node, req Request, fn func(n *Node, r Response) (bool, step)) step {
	token := p.await()
	ref := n.Ref()

	accepted := p.transport.SendRequest(req, func(r Response) bool {
		if p.opPending != token {
			return false
		}

		n := p.store.Resolve(ref)
		if n == nil {
			p.settle(token)
			return false
		}

		more, st := fn(n, r)
		if more && r.Status.OK() {
			return true
		}

		p.settle(token)

		if st == proceed {
			p.continueProbe(n)
		}

		return false
	})

	if !accepted {
		p.settle(token)
		_, st := fn(n, Response{Status: StatusFailed})
		return st
	}

	return suspend
}
