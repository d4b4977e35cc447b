package zrd

import (
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/golog"
	"log"
)

func (p *Prober) WithGoLogger(parentLogger *log.Logger) {
	p.WithLogWrapLogger(logwrap.New(golog.Wrap(parentLogger)))
}

func (p *Prober) WithLogWrapLogger(lw logwrap.Logger) {
	p.logger = lw
}

// errDatum attaches err to a log message, leaving the message untouched when there is no error.
func errDatum(err error) logwrap.Option {
	if err == nil {
		return func(*logwrap.Message) {}
	}

	return logwrap.Err(err)
}
