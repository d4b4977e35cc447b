package naming

import (
	"context"
	"fmt"
	"github.com/enbility/zeroconf/v3"
	"github.com/shimmeringbee/callbacks"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/zrd"
	"net"
	"sync"
	"time"
)

const (
	DefaultService       = "_z-wave._udp"
	DefaultDomain        = "local."
	DefaultPort          = 4123
	DefaultBrowseTimeout = 250 * time.Millisecond
	DefaultRounds        = 3
)

type Config struct {
	Service       string
	Domain        string
	Port          int
	BrowseTimeout time.Duration
	Rounds        int
	Interfaces    []net.Interface
}

func DefaultConfig() Config {
	return Config{
		Service:       DefaultService,
		Domain:        DefaultDomain,
		Port:          DefaultPort,
		BrowseTimeout: DefaultBrowseTimeout,
		Rounds:        DefaultRounds,
	}
}

// Resolver looks for and publishes service instances on the local network.
type Resolver interface {
	Exists(ctx context.Context, instance string) (bool, error)
	Register(instance string, txt []string) (Registration, error)
}

type Registration interface {
	Shutdown()
}

// PostFunc runs a function on the prober's loop, zrd.Prober.Post satisfies it.
type PostFunc func(func()) bool

type registration struct {
	address zrd.EndpointAddress
	reg     Registration
}

// MDNS probes node and endpoint names for conflicts on the local network, and registers an endpoint's
// service instance once its name is found to be unique. Results are delivered on the prober's loop
// through post.
type MDNS struct {
	logger   logwrap.Logger
	ctx      context.Context
	config   Config
	resolver Resolver
	post     PostFunc

	m          sync.Mutex
	registered map[string]registration
}

var _ zrd.Naming = (*MDNS)(nil)

func New(ctx context.Context, cfg Config, post PostFunc) *MDNS {
	return NewWithResolver(ctx, cfg, post, &ZeroconfResolver{Config: cfg})
}

func NewWithResolver(ctx context.Context, cfg Config, post PostFunc, r Resolver) *MDNS {
	return &MDNS{
		logger:     logwrap.New(discard.Discard()),
		ctx:        ctx,
		config:     cfg,
		resolver:   r,
		post:       post,
		registered: map[string]registration{},
	}
}

func (m *MDNS) WithLogWrapLogger(lw logwrap.Logger) {
	m.logger = lw
}

// Attach withdraws registrations of endpoints the prober removes, and announces endpoints again under
// their current name when the prober reports them changed.
func (m *MDNS) Attach(a callbacks.Adder) {
	a.Add(func(ctx context.Context, e zrd.EndpointRemoved) error {
		m.Withdraw(e.Address)
		return nil
	})

	a.Add(func(ctx context.Context, e zrd.EndpointChanged) error {
		m.Announce(e.Endpoint)
		return nil
	})
}

// Announce registers the service instance of a fully probed endpoint under its name, unless it is
// already registered under that name.
func (m *MDNS) Announce(ep *zrd.Endpoint) {
	if ep == nil || ep.Name == "" || ep.State != zrd.EndpointProbeDone {
		return
	}

	address := ep.Address()

	m.m.Lock()
	owner, held := m.registered[ep.Name]
	m.m.Unlock()

	if held {
		if owner.address != address {
			m.logger.LogWarn(m.ctx, "Name registered by another endpoint, not announcing.", logwrap.Datum("Name", ep.Name), logwrap.Datum("Endpoint", address.String()))
		}

		return
	}

	m.register(ep.Name, address, endpointTXT(ep))
}

func (m *MDNS) ProbeNodeName(n *zrd.Node, fn zrd.NameProbeFunc) bool {
	return m.probe(n.Name, nil, nil, fn)
}

func (m *MDNS) ProbeEndpointName(ep *zrd.Endpoint, fn zrd.NameProbeFunc) bool {
	address := ep.Address()
	return m.probe(ep.Name, &address, endpointTXT(ep), fn)
}

func endpointTXT(ep *zrd.Endpoint) []string {
	address := ep.Address()
	txt := []string{
		fmt.Sprintf("node=%d", address.Node),
		fmt.Sprintf("ep=%d", address.Endpoint),
		fmt.Sprintf("generic=%02x", ep.Generic()),
		fmt.Sprintf("specific=%02x", ep.Specific()),
	}

	if ep.Location != "" {
		txt = append(txt, "location="+ep.Location)
	}

	return txt
}

func (m *MDNS) probe(name string, address *zrd.EndpointAddress, txt []string, fn zrd.NameProbeFunc) bool {
	if name == "" || m.ctx.Err() != nil {
		return false
	}

	go func() {
		ok := m.resolve(name, address, txt)

		if !m.post(func() { fn(ok) }) {
			m.logger.LogWarn(m.ctx, "Unable to deliver name probe result, prober stopping.", logwrap.Datum("Name", name))
		}
	}()

	return true
}

func (m *MDNS) resolve(name string, address *zrd.EndpointAddress, txt []string) bool {
	m.m.Lock()
	owner, held := m.registered[name]
	m.m.Unlock()

	if held {
		if address == nil || owner.address != *address {
			m.logger.LogInfo(m.ctx, "Name already registered by this gateway.", logwrap.Datum("Name", name))
			return false
		}

		return true
	}

	rounds := m.config.Rounds
	if rounds < 1 {
		rounds = 1
	}

	for i := 0; i < rounds; i++ {
		if m.exists(name, i) {
			return false
		}
	}

	if address == nil {
		return true
	}

	return m.register(name, *address, txt)
}

// exists runs one browse round for name, a failed browse counts as no conflict.
func (m *MDNS) exists(name string, round int) bool {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.BrowseTimeout)
	defer cancel()

	exists, err := m.resolver.Exists(ctx, name)
	if err != nil {
		m.logger.LogWarn(m.ctx, "Failed to browse for name, assuming unique.", logwrap.Datum("Name", name), logwrap.Datum("Round", round), logwrap.Err(err))
		return false
	}

	if exists {
		m.logger.LogInfo(m.ctx, "Name in use on network.", logwrap.Datum("Name", name), logwrap.Datum("Round", round))
	}

	return exists
}

// register replaces any registration held by the endpoint with one under name. It returns false if
// another endpoint of this gateway holds the name.
func (m *MDNS) register(name string, address zrd.EndpointAddress, txt []string) bool {
	m.Withdraw(address)

	reg, err := m.resolver.Register(name, txt)
	if err != nil {
		m.logger.LogError(m.ctx, "Failed to register endpoint service.", logwrap.Datum("Name", name), logwrap.Err(err))
		return true
	}

	m.m.Lock()
	defer m.m.Unlock()

	if prior, found := m.registered[name]; found && prior.address != address {
		reg.Shutdown()
		return false
	}

	m.registered[name] = registration{address: address, reg: reg}
	return true
}

// Withdraw shuts down any service instance registered for the endpoint.
func (m *MDNS) Withdraw(address zrd.EndpointAddress) {
	m.m.Lock()
	defer m.m.Unlock()

	for name, r := range m.registered {
		if r.address == address {
			r.reg.Shutdown()
			delete(m.registered, name)
		}
	}
}

// Registered returns the name currently registered for the endpoint.
func (m *MDNS) Registered(address zrd.EndpointAddress) (string, bool) {
	m.m.Lock()
	defer m.m.Unlock()

	for name, r := range m.registered {
		if r.address == address {
			return name, true
		}
	}

	return "", false
}

// Stop withdraws every registration.
func (m *MDNS) Stop() {
	m.m.Lock()
	defer m.m.Unlock()

	for name, r := range m.registered {
		r.reg.Shutdown()
		delete(m.registered, name)
	}
}

// ZeroconfResolver browses and registers service instances with multicast DNS.
type ZeroconfResolver struct {
	Config Config
}

func (z *ZeroconfResolver) Exists(ctx context.Context, instance string) (bool, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- zeroconf.Browse(ctx, z.Config.Service, z.Config.Domain, entries, removed)
	}()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return false, nil
			}

			if e.Instance == instance {
				return true, nil
			}
		case <-removed:
		case err := <-errCh:
			if err != nil {
				return false, fmt.Errorf("browsing %s: %w", z.Config.Service, err)
			}
			errCh = nil
		case <-ctx.Done():
			return false, nil
		}
	}
}

func (z *ZeroconfResolver) Register(instance string, txt []string) (Registration, error) {
	server, err := zeroconf.Register(instance, z.Config.Service, z.Config.Domain, z.Config.Port, txt, z.Config.Interfaces)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", instance, err)
	}

	return server, nil
}
