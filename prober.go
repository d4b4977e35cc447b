package zrd

import (
	"context"
	"errors"
	"github.com/shimmeringbee/callbacks"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/zrd/rules"
	"golang.org/x/sync/errgroup"
	"math/rand"
	"time"
)

const PostQueueSize = 128

// Prober coordinates the probing of every node in its NodeStore. All methods other than Start, Stop,
// Post and ReadEvent must be called on the prober's loop, either before Start or from a function
// passed to Post.
type Prober struct {
	logger logwrap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	config Config
	store  *NodeStore

	transport Transport
	naming    Naming
	storage   Storage
	mailbox   Mailbox
	scheduler Scheduler
	rules     *rules.Engine

	now  func() time.Time
	rand *rand.Rand

	callbacks callbacks.AdderCaller
	events    chan any
	work      chan func()

	current      *NodeRef
	probeCtx     context.Context
	probeEnd     func()
	locked       bool
	bridgeReady  bool
	namingReady  bool
	sucPending   bool
	resuming     bool
	resumeAgain  bool
	opSeq        uint64
	opPending    uint64
	opTimer      Timer
	nodeInfoNode NodeID

	notifiers     [probeNotifierCapacity]notifier
	nameConflicts int
}

func New(cfg Config, transport Transport, naming Naming, storage Storage, mailbox Mailbox) *Prober {
	p := &Prober{
		logger:    logwrap.New(discard.Discard()),
		ctx:       context.Background(),
		config:    cfg,
		store:     NewNodeStore(),
		transport: transport,
		naming:    naming,
		storage:   storage,
		mailbox:   mailbox,
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		callbacks: callbacks.Create(),
		events:    make(chan any, EventQueueSize),
		work:      make(chan func(), PostQueueSize),
	}

	p.probeCtx = p.ctx
	p.scheduler = loopScheduler{p: p}

	return p
}

func (p *Prober) WithRules(e *rules.Engine) {
	p.rules = e
}

func (p *Prober) Callbacks() callbacks.Adder {
	return p.callbacks
}

func (p *Prober) Store() *NodeStore {
	return p.store
}

// Start runs the prober's loop and dead node watchdog until Stop is called or the context is done.
func (p *Prober) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.probeCtx = p.ctx

	g, gctx := errgroup.WithContext(p.ctx)
	g.Go(func() error {
		return p.loop(gctx)
	})
	g.Go(func() error {
		return p.watchdogLoop(gctx)
	})

	p.group = g

	p.logger.LogInfo(p.ctx, "Prober started.")
	p.Post(p.Resume)

	return nil
}

func (p *Prober) Stop() error {
	if p.cancel == nil {
		return nil
	}

	p.cancel()

	if err := p.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// Post queues a function to run on the prober's loop. It returns false once the prober is stopping.
func (p *Prober) Post(f func()) bool {
	select {
	case p.work <- f:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Prober) loop(ctx context.Context) error {
	for {
		select {
		case f := <-p.work:
			f()
		case <-ctx.Done():
			p.logger.LogInfo(ctx, "Prober loop terminating due to cancelled context.")
			return ctx.Err()
		}
	}
}

func (p *Prober) watchdogLoop(ctx context.Context) error {
	t := time.NewTicker(p.config.WatchdogInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			p.Post(p.checkDeadNodes)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type loopScheduler struct {
	p *Prober
}

func (s loopScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() {
		s.p.Post(f)
	})
}
