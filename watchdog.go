package zrd

import (
	"github.com/shimmeringbee/logwrap"
	"time"
)

const deadNodeIntervalMultiplier = 3

// checkDeadNodes marks sleeping nodes failing once they have missed three wake ups, and purges their
// queued messages.
func (p *Prober) checkDeadNodes() {
	now := p.now()

	for _, n := range p.store.Nodes() {
		switch n.Mode.Base() {
		case ModeMailbox, ModeFirmwareUpgrade:
		default:
			continue
		}

		if n.WakeUpInterval == 0 || n.Mode.Has(ModeFlagFailed) {
			if p.mailbox != nil {
				p.mailbox.PurgeStale(n.ID)
			}
			continue
		}

		if n.LastAwake.IsZero() {
			continue
		}

		deadline := time.Duration(n.WakeUpInterval) * time.Second * deadNodeIntervalMultiplier
		if now.Sub(n.LastAwake) <= deadline {
			continue
		}

		p.logger.LogWarn(p.ctx, "Sleeping node has missed its wake ups, marking failing.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("LastAwake", n.LastAwake.String()))

		n.Mode |= ModeFlagFailed
		if n.State.Terminal() {
			n.State = NodeFailing
		}

		if p.mailbox != nil {
			p.mailbox.Purge(n.ID)
		}

		p.persist(p.ctx, n)
	}
}
