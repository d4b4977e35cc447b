package zrd

import (
	"errors"
	"fmt"
	"github.com/shimmeringbee/logwrap"
	"time"
)

const probeNotifierCapacity = 5

var ErrNodeExists = errors.New("node already exists")

type notifier struct {
	id NodeID
	fn func(n *Node, success bool)
}

// Resume continues the probe in flight, or selects the first node in id order that is not in a
// terminal state. When no such node remains an AllNodesProbed event is emitted.
func (p *Prober) Resume() {
	if p.resuming {
		p.resumeAgain = true
		return
	}

	p.resuming = true
	defer func() {
		p.resuming = false
	}()

	for {
		p.resumeAgain = false
		p.resumeOnce()

		if !p.resumeAgain {
			return
		}
	}
}

func (p *Prober) resumeOnce() {
	if p.current != nil {
		// A node left in NodeDone or NodeProbeFail has not yet run its epilogue.
		if n := p.store.Resolve(*p.current); n != nil && n.State != NodeFailing {
			p.driveNode(n)
			return
		}

		p.releaseProbe()
	}

	if p.locked {
		return
	}

	for _, n := range p.store.Nodes() {
		if !n.State.Terminal() {
			ref := n.Ref()
			p.current = &ref
			p.probeCtx, p.probeEnd = p.logger.Segment(p.ctx, "Node probe.", logwrap.Datum("NodeID", int(n.ID)))
			p.driveNode(n)
			return
		}
	}

	if p.sucPending {
		p.sucPending = false
		p.announceSUC()
	}

	p.logger.LogDebug(p.ctx, "All nodes probed.")
	p.emit(p.ctx, AllNodesProbed{})
}

// Current returns the node being probed, if any.
func (p *Prober) Current() *Node {
	if p.current == nil {
		return nil
	}

	return p.store.Resolve(*p.current)
}

func (p *Prober) releaseProbe() {
	p.current = nil
	p.opPending = 0
	p.nodeInfoNode = 0

	if p.opTimer != nil {
		p.opTimer.Stop()
		p.opTimer = nil
	}

	if p.probeEnd != nil {
		p.probeEnd()
		p.probeEnd = nil
	}

	p.probeCtx = p.ctx
}

// Lock freezes probe progress while enabled, releasing it resumes probing.
func (p *Prober) Lock(enable bool) {
	p.locked = enable

	if !enable {
		p.Resume()
	}
}

func (p *Prober) Locked() bool {
	return p.locked
}

// Cancel clears the lock and forgets the node in flight without resuming. Replies to requests
// already sent are dropped.
func (p *Prober) Cancel() {
	p.locked = false

	if p.current != nil {
		p.logger.LogInfo(p.probeCtx, "Probe cancelled.", logwrap.Datum("NodeID", int(p.current.ID)))
		p.releaseProbe()
	}
}

func (p *Prober) SetBridgeReady(ready bool) {
	p.bridgeReady = ready

	if ready {
		p.Resume()
	}
}

func (p *Prober) SetNamingReady(ready bool) {
	p.namingReady = ready

	if ready {
		p.Resume()
	}
}

// SetSUCPending records that the gateway has just become the SUC, which is announced to every other
// node before the next AllNodesProbed event.
func (p *Prober) SetSUCPending() {
	p.sucPending = true
}

func (p *Prober) announceSUC() {
	for _, n := range p.store.Nodes() {
		if n.ID == p.config.Gateway.NodeID || n.Mode.Has(ModeFlagDeleted) {
			continue
		}

		id := n.ID
		if !p.transport.AssignReturnRoute(id, func(s Status) {
			if !s.OK() {
				p.logger.LogWarn(p.ctx, "Failed to assign SUC return route.", logwrap.Datum("NodeID", int(id)))
			}
		}) {
			p.logger.LogWarn(p.ctx, "Unable to start SUC return route assignment.", logwrap.Datum("NodeID", int(id)))
		}
	}
}

// NotifyWhenProbed registers a one shot callback for the next time the node reaches a terminal probe
// state. It returns false if the registry is full.
func (p *Prober) NotifyWhenProbed(id NodeID, fn func(n *Node, success bool)) bool {
	for i := range p.notifiers {
		if p.notifiers[i].fn == nil {
			p.notifiers[i] = notifier{id: id, fn: fn}
			return true
		}
	}

	p.logger.LogWarn(p.ctx, "Probe notifier registry full.", logwrap.Datum("NodeID", int(id)))
	return false
}

func (p *Prober) fireNotifiers(n *Node, success bool) {
	for i := range p.notifiers {
		if p.notifiers[i].fn != nil && p.notifiers[i].id == n.ID {
			fn := p.notifiers[i].fn
			p.notifiers[i] = notifier{}
			fn(n, success)
		}
	}
}

// AddNode creates a node that has joined the network and queues it for probing. If the node is already
// known it is reprobed in full with the new properties.
func (p *Prober) AddNode(id NodeID, properties PropertyFlags, security SecurityFlags) (*Node, error) {
	n, created := p.store.Create(id)
	if n == nil {
		return nil, fmt.Errorf("adding node %d: %w", id, ErrNodeIDOutOfRange)
	}

	if !created {
		if p.isCurrent(n) {
			p.releaseProbe()
		}

		p.resetProbe(n, true)
	}

	n.Properties = properties
	n.Security = security
	n.Mode = n.Mode.WithBase(ModeProbing)
	n.LastAwake = p.now()

	p.logger.LogInfo(p.ctx, "Node added.", logwrap.Datum("NodeID", int(id)), logwrap.Datum("Created", created))
	p.Resume()

	return n, nil
}

// ImportNode loads a node from storage. Nodes persisted in a terminal state are not reprobed.
func (p *Prober) ImportNode(id NodeID) (*Node, error) {
	rec, err := p.storage.Read(id)
	if err != nil {
		return nil, fmt.Errorf("importing node %d: %w", id, err)
	}

	n, created := p.store.Create(id)
	if n == nil {
		return nil, fmt.Errorf("importing node %d: %w", id, ErrNodeIDOutOfRange)
	} else if !created {
		return nil, fmt.Errorf("importing node %d: %w", id, ErrNodeExists)
	}

	n.restore(rec)

	if !n.State.Terminal() {
		p.resetProbe(n, false)
	}

	p.logger.LogInfo(p.ctx, "Node imported.", logwrap.Datum("NodeID", int(id)), logwrap.Datum("State", n.State.String()))
	p.Resume()

	return n, nil
}

// Reprobe restarts probing of a node. A full reprobe forgets known command class versions, otherwise
// only endpoint information is reprobed.
func (p *Prober) Reprobe(id NodeID, full bool) error {
	n := p.store.Get(id)
	if n == nil {
		return fmt.Errorf("reprobing node %d: %w", id, ErrNodeNotFound)
	}

	if p.isCurrent(n) {
		p.releaseProbe()
	}

	p.resetProbe(n, full)

	if !full {
		n.ProbeFlags = ProbeStarted
		n.State = NodeProbeEndpoints
		p.emit(p.ctx, NodeProbeStarted{Node: n})
	}

	p.Resume()
	return nil
}

func (p *Prober) resetProbe(n *Node, full bool) {
	n.State = NodeCreated
	n.pcv = nil
	n.wakeUpCaps = nil
	n.foundIDs = nil

	if full {
		n.resetCCVersions()
		n.Software = nil
	}

	for _, ep := range n.Endpoints {
		ep.State = EndpointProbeInfo
		ep.secureScratch = nil
	}
}

// RemoveNode frees a node, its storage record and queued messages. Removing the node in flight
// resumes probing with the next node.
func (p *Prober) RemoveNode(id NodeID) bool {
	n := p.store.Get(id)
	if n == nil {
		return false
	}

	wasCurrent := p.isCurrent(n)
	if wasCurrent {
		p.releaseProbe()
	}

	var removed []EndpointAddress
	for _, ep := range n.Endpoints {
		removed = append(removed, ep.Address())
	}

	p.store.Remove(id)

	for _, addr := range removed {
		p.emit(p.ctx, EndpointRemoved{Address: addr})
	}

	if p.storage != nil {
		if err := p.storage.Invalidate(id); err != nil {
			p.logger.LogWarn(p.ctx, "Failed to invalidate stored node.", logwrap.Datum("NodeID", int(id)), logwrap.Err(err))
		}
	}

	if p.mailbox != nil {
		p.mailbox.Purge(id)
	}

	p.logger.LogInfo(p.ctx, "Node removed.", logwrap.Datum("NodeID", int(id)))

	if wasCurrent {
		p.Resume()
	}

	return true
}

// NodeHeard records that a node has been heard from, recovering it if it had been marked failing.
func (p *Prober) NodeHeard(id NodeID) {
	n := p.store.Get(id)
	if n == nil {
		return
	}

	n.LastAwake = p.now()

	if n.Mode.Has(ModeFlagFailed) {
		n.Mode &^= ModeFlagFailed

		if n.State == NodeFailing {
			n.State = NodeDone
		}

		p.logger.LogInfo(p.ctx, "Failing node recovered.", logwrap.Datum("NodeID", int(id)))
		p.persist(p.ctx, n)
	}
}

func (p *Prober) isCurrent(n *Node) bool {
	return p.current != nil && *p.current == n.Ref()
}

// continueProbe re-drives a node after an asynchronous step, if it is still the probe in flight.
func (p *Prober) continueProbe(n *Node) {
	if p.isCurrent(n) {
		p.driveNode(n)
	}
}

// await registers the single outstanding operation of the probe in flight.
func (p *Prober) await() uint64 {
	p.opSeq++
	p.opPending = p.opSeq
	return p.opSeq
}

// settle completes an outstanding operation, returning false if it has been superseded.
func (p *Prober) settle(token uint64) bool {
	if token == 0 || p.opPending != token {
		return false
	}

	p.opPending = 0

	if p.opTimer != nil {
		p.opTimer.Stop()
		p.opTimer = nil
	}

	return true
}

// wait suspends the probe in flight for a duration.
func (p *Prober) wait(n *Node, d time.Duration) step {
	token := p.await()
	ref := n.Ref()

	p.opTimer = p.scheduler.AfterFunc(d, func() {
		if !p.settle(token) {
			return
		}

		if n := p.store.Resolve(ref); n != nil {
			p.continueProbe(n)
		}
	})

	return suspend
}
