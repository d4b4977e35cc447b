package transport

import (
	"context"
	"errors"
	"fmt"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/retry"
	"github.com/shimmeringbee/zrd"
	"github.com/shimmeringbee/zrd/cc"
	"golang.org/x/sync/semaphore"
	"time"
)

const (
	DefaultSendTimeout  = 5 * time.Second
	DefaultSendRetries  = 2
	DefaultRouteTimeout = 65 * time.Second
)

var ErrNoResponse = errors.New("no response")

// Requester is a blocking, context bound Z-Wave interface such as a serial API driver.
type Requester interface {
	// Send transmits a frame, returning once the destination has acknowledged it.
	Send(ctx context.Context, dst zrd.EndpointAddress, scheme zrd.Scheme, payload []byte) error
	// Listen delivers every frame received from src of the given class and command until ctx is done. It
	// is called before the request is sent.
	Listen(ctx context.Context, src zrd.EndpointAddress, class cc.CommandClass, command uint8) (<-chan []byte, error)
	RequestNodeInfo(ctx context.Context, id zrd.NodeID) (zrd.NodeInfo, error)
	AssignReturnRoute(ctx context.Context, id zrd.NodeID) error
}

// NodeInfoSink receives node information frames, implemented by zrd.Prober.
type NodeInfoSink interface {
	NodeInfoReceived(id zrd.NodeID, info zrd.NodeInfo)
	NodeInfoFailed(id zrd.NodeID)
}

type PostFunc func(func()) bool

// Adapter turns a Requester into the asynchronous zrd.Transport. Requests are serialised, one
// transaction at a time, and completions are posted onto the prober's loop.
type Adapter struct {
	logger    logwrap.Logger
	ctx       context.Context
	requester Requester
	post      PostFunc
	sink      NodeInfoSink
	sem       *semaphore.Weighted
}

var _ zrd.Transport = (*Adapter)(nil)

func New(ctx context.Context, r Requester, post PostFunc, sink NodeInfoSink) *Adapter {
	return &Adapter{
		logger:    logwrap.New(discard.Discard()),
		ctx:       ctx,
		requester: r,
		post:      post,
		sink:      sink,
		sem:       semaphore.NewWeighted(1),
	}
}

func (a *Adapter) WithLogWrapLogger(lw logwrap.Logger) {
	a.logger = lw
}

func (a *Adapter) start(f func(ctx context.Context)) bool {
	if a.ctx.Err() != nil {
		return false
	}

	go func() {
		if err := a.sem.Acquire(a.ctx, 1); err != nil {
			return
		}
		defer a.sem.Release(1)

		f(a.ctx)
	}()

	return true
}

func statusOf(err error) zrd.Status {
	switch {
	case err == nil:
		return zrd.StatusOK
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrNoResponse):
		return zrd.StatusTimeout
	default:
		return zrd.StatusFailed
	}
}

func attemptTimeout(budget time.Duration, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}

	return budget / time.Duration(retries+1)
}

// deliver posts a response to the loop and waits for the callback's verdict on whether more reports
// are expected.
func (a *Adapter) deliver(fn zrd.ResponseFunc, r zrd.Response) bool {
	more := make(chan bool, 1)

	if !a.post(func() { more <- fn(r) }) {
		return false
	}

	select {
	case m := <-more:
		return m && r.Status.OK()
	case <-a.ctx.Done():
		return false
	}
}

func (a *Adapter) SendRequest(req zrd.Request, fn zrd.ResponseFunc) bool {
	return a.start(func(pctx context.Context) {
		ctx, end := a.logger.Segment(pctx, "Transport request.", logwrap.Datum("Destination", req.Destination.String()), logwrap.Datum("CommandClass", req.ExpectClass.String()))
		defer end()

		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var frames <-chan []byte
		var first []byte

		err := retry.Retry(lctx, attemptTimeout(req.Timeout, req.Retries), req.Retries, func(ctx context.Context) error {
			if frames == nil {
				var err error
				if frames, err = a.requester.Listen(lctx, req.Destination, req.ExpectClass, req.ExpectCommand); err != nil {
					return fmt.Errorf("listening for response: %w", err)
				}
			}

			if err := a.requester.Send(ctx, req.Destination, req.Scheme, req.Payload); err != nil {
				return err
			}

			select {
			case first = <-frames:
				return nil
			case <-ctx.Done():
				return ErrNoResponse
			}
		})

		if err != nil {
			a.logger.LogWarn(ctx, "Request failed.", logwrap.Err(err))
			a.deliver(fn, zrd.Response{Status: statusOf(err)})
			return
		}

		frame := first
		for a.deliver(fn, zrd.Response{Status: zrd.StatusOK, Frame: frame}) {
			t := time.NewTimer(req.FollowUpTimeout)

			select {
			case frame = <-frames:
				t.Stop()
			case <-t.C:
				a.logger.LogDebug(ctx, "Timed out waiting for follow up report.")
				a.deliver(fn, zrd.Response{Status: zrd.StatusTimeout})
				return
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	})
}

func (a *Adapter) SendData(dst zrd.EndpointAddress, scheme zrd.Scheme, payload []byte, fn zrd.StatusFunc) bool {
	return a.start(func(pctx context.Context) {
		err := retry.Retry(pctx, DefaultSendTimeout, DefaultSendRetries, func(ctx context.Context) error {
			return a.requester.Send(ctx, dst, scheme, payload)
		})

		if err != nil {
			a.logger.LogWarn(pctx, "Send data failed.", logwrap.Datum("Destination", dst.String()), logwrap.Err(err))
		}

		status := statusOf(err)
		a.post(func() { fn(status) })
	})
}

func (a *Adapter) RequestNodeInfo(id zrd.NodeID) bool {
	return a.start(func(pctx context.Context) {
		var info zrd.NodeInfo

		err := retry.Retry(pctx, DefaultSendTimeout, DefaultSendRetries, func(ctx context.Context) error {
			var err error
			info, err = a.requester.RequestNodeInfo(ctx, id)
			return err
		})

		if err != nil {
			a.logger.LogWarn(pctx, "Node information request failed.", logwrap.Datum("NodeID", int(id)), logwrap.Err(err))
			a.post(func() { a.sink.NodeInfoFailed(id) })
			return
		}

		a.post(func() { a.sink.NodeInfoReceived(id, info) })
	})
}

func (a *Adapter) AssignReturnRoute(id zrd.NodeID, fn zrd.StatusFunc) bool {
	return a.start(func(pctx context.Context) {
		ctx, cancel := context.WithTimeout(pctx, DefaultRouteTimeout)
		defer cancel()

		err := a.requester.AssignReturnRoute(ctx, id)
		if err != nil {
			a.logger.LogWarn(pctx, "Assign return route failed.", logwrap.Datum("NodeID", int(id)), logwrap.Err(err))
		}

		status := statusOf(err)
		a.post(func() { fn(status) })
	})
}
