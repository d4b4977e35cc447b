package zrd

import (
	"github.com/shimmeringbee/zrd/cc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestProber_NodeInfo(t *testing.T) {
	t.Run("frequently listening nodes are recorded as such", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, NodeInfo{FLiRS: true, Generic: cc.GenericTypeEntryControl, Specific: 0x03})

		assert.Equal(t, ModeFrequentlyListening, n.Mode.Base())
		assert.True(t, n.Listening())
	})

	t.Run("a mailbox node stays a mailbox node", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		n.Mode = n.Mode.WithBase(ModeMailbox) | ModeFlagLowBattery

		h.p.NodeInfoReceived(5, NodeInfo{Generic: cc.GenericTypeSensorBinary, Specific: 0x01})

		assert.Equal(t, ModeMailbox, n.Mode.Base())
		assert.True(t, n.Mode.Has(ModeFlagLowBattery))
	})

	t.Run("only one node information request is outstanding", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.opPending = 0

		assert.Equal(t, suspend, h.p.requestNodeInfo(n))
		assert.Equal(t, []NodeID{5}, h.transport.nodeInfo)
	})
}

func TestProber_EndpointCapability(t *testing.T) {
	t.Run("a capability report for another endpoint fails the node", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeRepeaterSlave, byte(cc.MultiChannel)))

		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x01, 0x00})
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointFindReport, []byte{0x60, cc.MultiChannelEndPointFindReport, 0x00, 0xff, 0xff, 0x01})
		h.transport.respondVersions(t, 4)
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelCapabilityReport, []byte{0x60, cc.MultiChannelCapabilityReport, 0x02, cc.GenericTypeSwitchBinary, 0x01, 0x25})

		assert.Equal(t, EndpointProbeFail, n.Endpoint(1).State)
		assert.Equal(t, NodeProbeFail, n.State)
	})
}

func TestProber_Security(t *testing.T) {
	t.Run("a node just included by the gateway keeps only the levels the gateway holds", func(t *testing.T) {
		cfg := testConfig()
		cfg.Gateway.GrantedKeys = []string{"s2_unauthenticated", "s2_authenticated"}

		h := newTestHarness(t, cfg)

		n := addNode(t, h, 5, PropertyJustAdded|PropertyAddedByMe, SecurityS2Authenticated|SecurityS2Access)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Security2)))

		r := h.transport.next(t, cc.Security2, cc.Security2CommandsSupportedReport)
		assert.Equal(t, SchemeS2Authenticated, r.req.Scheme)
		r.fn(Response{Status: StatusOK, Frame: []byte{0x9f, cc.Security2CommandsSupportedReport, 0x72, 0x86}})

		r = h.transport.next(t, cc.Security2, cc.Security2CommandsSupportedReport)
		assert.Equal(t, SchemeS2Unauthenticated, r.req.Scheme)
		r.fn(Response{Status: StatusOK, Frame: []byte{0x9f, cc.Security2CommandsSupportedReport}})

		h.transport.respondVersions(t, 1)
		h.finish(t)

		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, SecurityS2Authenticated|SecurityS2Unauthenticated, n.Security)
		assert.True(t, n.Root().SupportsSecurely(cc.ManufacturerSpecific))

		for _, req := range h.transport.sent {
			assert.NotEqual(t, SchemeS2Access, req.Scheme)
		}
	})

	t.Run("levels of other nodes follow the responses received", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Security2), byte(cc.Security)))

		h.transport.fail(t, cc.Security2, cc.Security2CommandsSupportedReport, StatusTimeout)
		h.transport.respond(t, cc.Security2, cc.Security2CommandsSupportedReport, []byte{0x9f, cc.Security2CommandsSupportedReport, 0x25})
		h.transport.fail(t, cc.Security2, cc.Security2CommandsSupportedReport, StatusTimeout)

		r := h.transport.next(t, cc.Security, cc.SecurityCommandsSupportedReport)
		assert.Equal(t, SchemeS0, r.req.Scheme)
		assert.Equal(t, h.p.config.RequestTimeout, r.req.FollowUpTimeout)
		assert.True(t, r.fn(Response{Status: StatusOK, Frame: []byte{0x98, cc.SecurityCommandsSupportedReport, 0x01, 0x20}}))
		assert.False(t, r.fn(Response{Status: StatusOK, Frame: []byte{0x98, cc.SecurityCommandsSupportedReport, 0x00, 0x26}}))

		assert.Equal(t, SecurityS2Authenticated|SecurityS0, n.Security)
		assert.True(t, n.Root().SupportsSecurely(0x25))
		assert.True(t, n.Root().SupportsSecurely(0x20))
		assert.True(t, n.Root().SupportsSecurely(0x26))

		h.transport.respondVersions(t, 1)
		h.finish(t)

		assert.Equal(t, NodeDone, n.State)
	})

	t.Run("a node with known bad security is not asked", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, SecurityKnownBad|SecurityS0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Security)))

		h.transport.respondVersions(t, 1)
		h.finish(t)

		assert.Empty(t, h.transport.sentWith(cc.Security, cc.SecurityCommandsSupportedReport))
		assert.Equal(t, SecurityKnownBad|SecurityS0, n.Security)
		assert.Equal(t, NodeDone, n.State)
	})

	t.Run("endpoints are only asked at levels granted to their node", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeRepeaterSlave, byte(cc.MultiChannel), byte(cc.Security)))

		h.transport.respond(t, cc.Security, cc.SecurityCommandsSupportedReport, []byte{0x98, cc.SecurityCommandsSupportedReport, 0x00, 0x60})
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x01, 0x00})
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointFindReport, []byte{0x60, cc.MultiChannelEndPointFindReport, 0x00, 0xff, 0xff, 0x01})
		h.transport.respondVersions(t, 1)
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelCapabilityReport, []byte{0x60, cc.MultiChannelCapabilityReport, 0x01, cc.GenericTypeSwitchBinary, 0x01, 0x25})

		r := h.transport.next(t, cc.Security, cc.SecurityCommandsSupportedReport)
		assert.Equal(t, EndpointAddress{Node: 5, Endpoint: 1}, r.req.Destination)
		r.fn(Response{Status: StatusOK, Frame: []byte{0x98, cc.SecurityCommandsSupportedReport, 0x00, 0x26}})

		assert.True(t, n.Endpoint(1).SupportsSecurely(0x26))
		assert.Equal(t, SecurityS0, n.Security)

		h.finish(t)
		assert.Equal(t, NodeDone, n.State)
	})
}

func TestProber_VersionProbe(t *testing.T) {
	t.Run("version requests use the version budget", func(t *testing.T) {
		cfg := testConfig()
		h := newTestHarness(t, cfg)

		addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))

		r := h.transport.next(t, cc.Version, cc.VersionCommandClassReport)
		assert.Equal(t, cfg.VersionTimeout, r.req.Timeout)
		assert.Equal(t, cfg.VersionRetries, r.req.Retries)
		assert.Equal(t, SchemeAuto, r.req.Scheme)
		assert.Equal(t, []byte{0x86, cc.VersionCommandClassGet, 0x86}, r.req.Payload)
	})

	t.Run("a report for another class marks the probe failed", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))

		assert.NotPanics(t, func() {
			h.transport.respond(t, cc.Version, cc.VersionCommandClassReport, []byte{0x86, cc.VersionCommandClassReport, 0x25, 0x02})
		})

		assert.Equal(t, ProbeFailed, n.ProbeFlags)
		assert.Zero(t, n.CCVersion(cc.Version))
		assert.Equal(t, NodeAssignReturnRoute, n.State)
	})

	t.Run("known versions are not asked again on a partial reprobe", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))
		h.transport.respondVersions(t, 2)
		h.finish(t)
		require.Equal(t, NodeDone, n.State)

		sent := len(h.transport.sent)

		require.NoError(t, h.p.Reprobe(5, false))
		assert.Equal(t, []NodeID{5, 5}, h.transport.nodeInfo)

		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))
		h.finish(t)

		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, "switch", n.Root().Name)
		assert.Len(t, h.transport.sent, sent)
		assert.Equal(t, uint8(2), n.CCVersion(cc.Version))
	})
}
