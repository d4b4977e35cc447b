package zrd

import (
	"context"
	"errors"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/da/capabilities"
	"github.com/shimmeringbee/logwrap"
)

const EventQueueSize = 64

var ErrProbeFailed = errors.New("node probe failed")

// EndpointChanged announces an endpoint whose data may have changed.
type EndpointChanged struct {
	Endpoint *Endpoint
}

// EndpointRemoved retracts any announcement made for an endpoint.
type EndpointRemoved struct {
	Address EndpointAddress
}

type NodeProbeStarted struct {
	Node *Node
}

type NodeProbed struct {
	Node    *Node
	Success bool
}

type AllNodesProbed struct{}

// emit delivers an event to registered callbacks, and mirrors node level events onto the device
// abstraction event queue.
func (p *Prober) emit(ctx context.Context, e any) {
	if err := p.callbacks.Call(ctx, e); err != nil {
		p.logger.LogWarn(ctx, "Event callback returned error.", logwrap.Datum("Event", e), logwrap.Err(err))
	}

	switch e := e.(type) {
	case NodeProbeStarted:
		p.sendEvent(ctx, capabilities.EnumerateDeviceStart{Device: p.device(e.Node)})
	case NodeProbed:
		if e.Success {
			p.sendEvent(ctx, capabilities.EnumerateDeviceSuccess{Device: p.device(e.Node)})
		} else {
			p.sendEvent(ctx, capabilities.EnumerateDeviceFailure{Device: p.device(e.Node), Error: ErrProbeFailed})
		}
	}
}

func (p *Prober) device(n *Node) da.BaseDevice {
	return da.BaseDevice{
		DeviceIdentifier:   n.ID,
		DeviceCapabilities: []da.Capability{capabilities.EnumerateDeviceFlag},
	}
}

func (p *Prober) sendEvent(ctx context.Context, e any) {
	select {
	case p.events <- e:
	default:
		p.logger.LogWarn(ctx, "Event queue full, dropping event.", logwrap.Datum("Event", e))
	}
}

// ReadEvent returns the next device abstraction event, blocking until one is available or the context
// is done.
func (p *Prober) ReadEvent(ctx context.Context) (any, error) {
	select {
	case e := <-p.events:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
