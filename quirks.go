package zrd

import (
	"fmt"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/zrd/cc"
	"github.com/shimmeringbee/zrd/rules"
	"os"
)

// quirks are product specific probe overrides, derived from the rule engine once the product id is known.
type quirks struct {
	wakeUpInterval uint32
}

// LoadRules compiles the embedded quirk rulesets, plus the rules file named by the configuration if any.
func LoadRules(cfg Config) (*rules.Engine, error) {
	e := rules.New()

	if err := e.LoadFS(rules.Embedded); err != nil {
		return nil, fmt.Errorf("loading embedded rules: %w", err)
	}

	if cfg.RulesFile != "" {
		f, err := os.Open(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("opening rules file: %w", err)
		}
		defer f.Close()

		if err := e.LoadReader(f); err != nil {
			return nil, fmt.Errorf("loading rules file %s: %w", cfg.RulesFile, err)
		}
	}

	if err := e.CompileRules(); err != nil {
		return nil, fmt.Errorf("compiling rules: %w", err)
	}

	return e, nil
}

func ruleInput(n *Node) rules.Input {
	root := n.Root()

	var classes []int
	for _, e := range cc.ParseClassList(root.Classes()) {
		if !e.Controlled {
			classes = append(classes, int(e.Class))
		}
	}

	return rules.Input{
		Product: rules.InputProduct{
			ManufacturerID: int(n.ManufacturerID),
			ProductType:    int(n.ProductType),
			ProductID:      int(n.ProductID),
		},
		Node: rules.InputNode{
			ID:        int(n.ID),
			Basic:     int(n.BasicClass),
			Generic:   int(root.Generic()),
			Specific:  int(root.Specific()),
			Listening: n.Listening(),
			Classes:   classes,
		},
	}
}

func (p *Prober) applyQuirks(n *Node) {
	n.quirks = quirks{}

	if p.rules == nil {
		return
	}

	out, err := p.rules.Execute(ruleInput(n))
	if err != nil {
		p.logger.LogWarn(p.probeCtx, "Failed to evaluate quirk rules.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Err(err))
		return
	}

	if out.KnownBadSecurity && n.Security&SecurityKnownBad == 0 {
		p.logger.LogInfo(p.probeCtx, "Node security marked known bad by quirk.", logwrap.Datum("NodeID", int(n.ID)))
		n.Security |= SecurityKnownBad
	}

	if out.WakeUpInterval != 0 {
		p.logger.LogDebug(p.probeCtx, "Wake up interval overridden by quirk.", logwrap.Datum("NodeID", int(n.ID)), logwrap.Datum("WakeUpInterval", int(out.WakeUpInterval)))
		n.quirks.wakeUpInterval = out.WakeUpInterval
	}
}
