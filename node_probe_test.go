package zrd

import (
	"github.com/shimmeringbee/zrd/cc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

var aeotecMultiSensor = []byte{0x72, cc.ManufacturerSpecificReport, 0x00, 0x86, 0x00, 0x02, 0x00, 0x64}

func TestProber_NodeProbe(t *testing.T) {
	t.Run("probes a listening node through to done", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version), byte(cc.ManufacturerSpecific), byte(cc.ZWavePlusInfo)))

		assert.Equal(t, ModeAlwaysListening, n.Mode.Base())
		assert.Equal(t, uint8(0x04), n.BasicClass)

		require.NotEmpty(t, h.transport.requests)
		assert.Equal(t, SchemeNone, h.transport.requests[0].req.Scheme)
		h.transport.respond(t, cc.ManufacturerSpecific, cc.ManufacturerSpecificReport, aeotecMultiSensor)

		h.transport.respondVersions(t, 2)
		assert.Len(t, h.transport.sentWith(cc.Version, cc.VersionCommandClassReport), 3)

		h.transport.respond(t, cc.ZWavePlusInfo, cc.ZWavePlusInfoReport, []byte{0x5e, cc.ZWavePlusInfoReport, 0x02, cc.RoleAlwaysOnSlave, 0x00, 0x0c, 0x07, 0x0c, 0x08})

		assert.Equal(t, NodeAssignReturnRoute, n.State)
		h.finish(t)

		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, ProbeCompleted, n.ProbeFlags)
		assert.Equal(t, uint16(0x0086), n.ManufacturerID)
		assert.Equal(t, uint16(0x0002), n.ProductType)
		assert.Equal(t, uint16(0x0064), n.ProductID)
		assert.Equal(t, uint8(2), n.CCVersion(cc.Version))
		assert.Equal(t, uint8(2), n.CCVersion(cc.ZWavePlusInfo))
		assert.Equal(t, uint8(2), n.CCVersion(cc.ManufacturerSpecific))
		assert.Zero(t, n.CCVersion(cc.WakeUp))
		assert.Nil(t, n.Software)
		assert.Equal(t, uint16(0x0c07), n.Root().InstallerIcon)
		assert.False(t, n.Properties.Has(PropertyPortable))
		assert.Equal(t, testNow, n.LastAwake)

		assert.Equal(t, []string{"zwC0FFEE000005", "switch"}, h.naming.probed)
		assert.Equal(t, "zwC0FFEE000005", n.Name)
		assert.Equal(t, "switch", n.Root().Name)
		assert.Equal(t, EndpointProbeDone, n.Root().State)

		assert.Nil(t, h.p.Current())
		assert.Equal(t, 1, h.events.completed)
		require.Len(t, h.events.probed, 1)
		assert.True(t, h.events.probed[0].Success)
		assert.Contains(t, h.events.changed, EndpointAddress{Node: 5})

		stored, err := h.storage.Read(5)
		require.NoError(t, err)
		assert.Equal(t, NodeDone, stored.State)
		assert.Equal(t, "switch", stored.Root().Name)
	})

	t.Run("a failed version request still reaches done with failed probe flags", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))

		h.transport.fail(t, cc.Version, cc.VersionCommandClassReport, StatusTimeout)
		h.finish(t)

		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, ProbeFailed, n.ProbeFlags)
		require.Len(t, h.events.probed, 1)
		assert.True(t, h.events.probed[0].Success)
	})

	t.Run("probes version capabilities and software of a version 3 node", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))

		h.transport.respondVersions(t, 3)
		assert.Len(t, h.transport.sent, 2)

		h.transport.respond(t, cc.Version, cc.VersionCapabilitiesReport, []byte{0x86, cc.VersionCapabilitiesReport, cc.VersionCapabilityVersion | cc.VersionCapabilityCommandClass | cc.VersionCapabilityZWaveSoftware})
		assert.Len(t, h.transport.sent, 3)

		software := make([]byte, 25)
		software[0], software[1] = 0x86, cc.VersionZWaveSoftwareReport
		software[2], software[3], software[4] = 7, 18, 1
		h.transport.respond(t, cc.Version, cc.VersionZWaveSoftwareReport, software)

		assert.Equal(t, NodeAssignReturnRoute, n.State)
		h.finish(t)

		assert.Len(t, h.transport.sent, 3)
		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, ProbeCompleted, n.ProbeFlags)
		require.NotNil(t, n.Software)
		assert.Equal(t, [3]uint8{7, 18, 1}, n.Software.SDKVersion)
	})

	t.Run("does not ask for the software version unless every capability is advertised", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))

		h.transport.respondVersions(t, 3)
		h.transport.respond(t, cc.Version, cc.VersionCapabilitiesReport, []byte{0x86, cc.VersionCapabilitiesReport, cc.VersionCapabilityVersion | cc.VersionCapabilityZWaveSoftware})
		h.finish(t)

		assert.Empty(t, h.transport.sentWith(cc.Version, cc.VersionZWaveSoftwareReport))
		assert.Len(t, h.transport.sent, 2)
		assert.Equal(t, NodeDone, n.State)
		assert.Nil(t, n.Software)
	})

	t.Run("classes only supported securely are known before the product id and endpoints", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Security2)))

		h.transport.respond(t, cc.Security2, cc.Security2CommandsSupportedReport, []byte{0x9f, cc.Security2CommandsSupportedReport, 0x72, 0x60, 0x86})
		h.transport.fail(t, cc.Security2, cc.Security2CommandsSupportedReport, StatusTimeout)
		h.transport.fail(t, cc.Security2, cc.Security2CommandsSupportedReport, StatusTimeout)

		assert.Equal(t, NodeProbeProductID, n.State)

		r := h.transport.next(t, cc.ManufacturerSpecific, cc.ManufacturerSpecificReport)
		assert.Equal(t, SchemeAuto, r.req.Scheme)
		r.fn(Response{Status: StatusOK, Frame: aeotecMultiSensor})

		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x00, 0x00})
		h.transport.respondVersions(t, 1)
		h.finish(t)

		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, SecurityS2Access, n.Security)
		assert.Equal(t, uint16(0x0086), n.ManufacturerID)
		assert.Len(t, h.transport.sentWith(cc.MultiChannel, cc.MultiChannelEndPointReport), 1)
	})

	t.Run("a partial reprobe starts a fresh probe of the endpoints", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))
		h.transport.fail(t, cc.Version, cc.VersionCommandClassReport, StatusTimeout)
		h.finish(t)
		require.Equal(t, ProbeFailed, n.ProbeFlags)

		require.NoError(t, h.p.Reprobe(5, false))
		assert.Equal(t, ProbeStarted, n.ProbeFlags)
		assert.Equal(t, []NodeID{5, 5}, h.events.started)

		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.Version)))
		h.transport.respondVersions(t, 1)
		h.finish(t)

		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, ProbeCompleted, n.ProbeFlags)
	})

	t.Run("a refused request fails the node", func(t *testing.T) {
		h := newTestHarness(t, testConfig())
		h.transport.refuseRequests = true

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, listeningInfo(cc.GenericTypeSwitchBinary, byte(cc.ManufacturerSpecific)))

		assert.Equal(t, NodeProbeFail, n.State)
		assert.Equal(t, ProbeFailed, n.ProbeFlags)
		assert.Equal(t, 1, h.events.completed)
	})

	t.Run("the gateway's own node is probed from configuration", func(t *testing.T) {
		cfg := testConfig()
		cfg.Gateway.ManufacturerID = 0x0000
		cfg.Gateway.ProductID = 0x0001
		cfg.Gateway.GrantedKeys = []string{"s0", "s2_authenticated"}

		h := newTestHarness(t, cfg)

		n := addNode(t, h, 1, 0, 0)

		assert.Empty(t, h.transport.nodeInfo)
		assert.Empty(t, h.transport.routes)
		assert.Equal(t, ModeAlwaysListening, n.Mode.Base())
		assert.Equal(t, SecurityS0|SecurityS2Authenticated, n.Security)
		assert.True(t, n.Root().Supports(cc.ZWavePlusInfo))
		assert.True(t, n.Root().SupportsSecurely(cc.Version))
		assert.True(t, cc.Controls(n.Root().Classes(), cc.WakeUp))

		h.transport.respondVersions(t, 1)
		h.transport.respond(t, cc.ZWavePlusInfo, cc.ZWavePlusInfoReport, []byte{0x5e, cc.ZWavePlusInfoReport, 0x02, cc.RoleCentralStaticController, 0x00, 0x05, 0x00, 0x05, 0x00})
		h.naming.accept(t)

		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, "static-controller", n.Root().Name)
	})
}

func TestProber_WakeUp(t *testing.T) {
	sleepingInfo := func(classes ...byte) NodeInfo {
		return NodeInfo{Generic: cc.GenericTypeSensorMultilevel, Specific: 0x01, Classes: classes}
	}

	t.Run("clamps the configured interval to the node's capabilities", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, PropertyJustAdded|PropertyAddedByMe, 0)
		h.p.NodeInfoReceived(5, sleepingInfo(byte(cc.Version), byte(cc.WakeUp)))

		assert.Equal(t, ModeNonListening, n.Mode.Base())

		h.transport.respondVersions(t, 2)

		h.transport.respond(t, cc.WakeUp, cc.WakeUpIntervalCapabilityRep, []byte{
			0x84, cc.WakeUpIntervalCapabilityRep,
			0x00, 0x01, 0x2c,
			0x01, 0x51, 0x80,
			0x00, 0x0e, 0x10,
			0x00, 0x00, 0x3c,
		})

		assert.Equal(t, ModeMailbox, n.Mode.Base())

		require.Len(t, h.transport.data, 1)
		assert.Equal(t, []byte{0x84, cc.WakeUpIntervalSet, 0x00, 0x10, 0x68, 0x01}, h.transport.data[0].payload)

		h.transport.data[0].fn(StatusOK)
		h.finish(t)

		assert.Equal(t, uint32(4200), n.WakeUpInterval)
		assert.Equal(t, NodeDone, n.State)
	})

	t.Run("uses the interval from a matching quirk", func(t *testing.T) {
		cfg := testConfig()
		h := newTestHarness(t, cfg)

		e, err := LoadRules(cfg)
		require.NoError(t, err)
		h.p.WithRules(e)

		n := addNode(t, h, 5, PropertyJustAdded|PropertyAddedByMe, 0)
		h.p.NodeInfoReceived(5, sleepingInfo(byte(cc.ManufacturerSpecific), byte(cc.WakeUp)))

		h.transport.respond(t, cc.ManufacturerSpecific, cc.ManufacturerSpecificReport, aeotecMultiSensor)
		assert.Equal(t, uint32(3600), n.quirks.wakeUpInterval)

		h.transport.respondVersions(t, 1)

		require.Len(t, h.transport.data, 1)
		assert.Equal(t, []byte{0x84, cc.WakeUpIntervalSet, 0x00, 0x0e, 0x10, 0x01}, h.transport.data[0].payload)

		h.transport.data[0].fn(StatusOK)
		h.finish(t)

		assert.Equal(t, uint32(3600), n.WakeUpInterval)
	})

	t.Run("reads the interval of a node included by another controller", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, sleepingInfo(byte(cc.WakeUp)))

		h.transport.respondVersions(t, 2)
		h.transport.respond(t, cc.WakeUp, cc.WakeUpIntervalReport, []byte{0x84, cc.WakeUpIntervalReport, 0x00, 0x0e, 0x10, 0x01})
		h.finish(t)

		assert.Empty(t, h.transport.data)
		assert.Equal(t, uint32(3600), n.WakeUpInterval)
		assert.Equal(t, NodeDone, n.State)
	})

	t.Run("a failed capabilities probe fails the node", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, PropertyAddedByMe, 0)
		h.p.NodeInfoReceived(5, sleepingInfo(byte(cc.WakeUp)))

		h.transport.respondVersions(t, 2)
		h.transport.fail(t, cc.WakeUp, cc.WakeUpIntervalCapabilityRep, StatusTimeout)

		assert.Equal(t, NodeProbeFail, n.State)
	})
}

func TestProber_Endpoints(t *testing.T) {
	multiChannelInfo := listeningInfo(cc.GenericTypeRepeaterSlave, byte(cc.MultiChannel))

	t.Run("clones identical endpoints from the first probed endpoint", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, multiChannelInfo)

		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x40, 0x02, 0x00})
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointFindReport, []byte{0x60, cc.MultiChannelEndPointFindReport, 0x00, 0xff, 0xff, 0x01, 0x02})

		require.Len(t, n.Endpoints, 3)
		assert.True(t, n.IdenticalEndpoints)

		h.transport.respondVersions(t, 4)
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelCapabilityReport, []byte{0x60, cc.MultiChannelCapabilityReport, 0x01, cc.GenericTypeSwitchBinary, 0x01, 0x25})

		assert.Len(t, h.transport.sentWith(cc.MultiChannel, cc.MultiChannelCapabilityReport), 1)
		assert.Equal(t, n.Endpoint(1).Info, n.Endpoint(2).Info)
		assert.Equal(t, uint8(4), n.CCVersion(cc.MultiChannel))

		h.finish(t)

		assert.Equal(t, NodeDone, n.State)
		assert.Equal(t, "repeater", n.Root().Name)
		assert.Equal(t, "switch", n.Endpoint(1).Name)
		assert.Equal(t, "switch-1", n.Endpoint(2).Name)
	})

	t.Run("assumes contiguous endpoints when find fails", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, multiChannelInfo)

		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x02, 0x00})
		h.transport.fail(t, cc.MultiChannel, cc.MultiChannelEndPointFindReport, StatusTimeout)

		require.Len(t, n.Endpoints, 3)
		assert.NotNil(t, n.Endpoint(1))
		assert.NotNil(t, n.Endpoint(2))
	})

	t.Run("collects endpoints across find reports", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, multiChannelInfo)

		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x02, 0x00})

		r := h.transport.next(t, cc.MultiChannel, cc.MultiChannelEndPointFindReport)
		assert.Equal(t, h.p.config.FindReportTimeout, r.req.FollowUpTimeout)

		assert.True(t, r.fn(Response{Status: StatusOK, Frame: []byte{0x60, cc.MultiChannelEndPointFindReport, 0x01, 0xff, 0xff, 0x03}}))
		assert.False(t, r.fn(Response{Status: StatusOK, Frame: []byte{0x60, cc.MultiChannelEndPointFindReport, 0x00, 0xff, 0xff, 0x07}}))

		require.Len(t, n.Endpoints, 3)
		assert.NotNil(t, n.Endpoint(3))
		assert.NotNil(t, n.Endpoint(7))
	})

	t.Run("fails a node reporting more endpoints than it declared", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, multiChannelInfo)

		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x01, 0x00})
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointFindReport, []byte{0x60, cc.MultiChannelEndPointFindReport, 0x00, 0xff, 0xff, 0x01, 0x02})

		assert.Equal(t, NodeProbeFail, n.State)
	})

	t.Run("probes the members of aggregated endpoints instead of their capabilities", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		h.p.NodeInfoReceived(5, multiChannelInfo)

		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x01, 0x01})
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointFindReport, []byte{0x60, cc.MultiChannelEndPointFindReport, 0x00, 0xff, 0xff, 0x01})

		require.Len(t, n.Endpoints, 3)
		assert.True(t, n.Endpoint(2).aggregated())
		assert.False(t, n.Endpoint(1).aggregated())

		h.transport.respondVersions(t, 4)
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelCapabilityReport, []byte{0x60, cc.MultiChannelCapabilityReport, 0x01, cc.GenericTypeSwitchBinary, 0x01, 0x25})

		r := h.transport.next(t, cc.MultiChannel, cc.MultiChannelAggregatedMembersReport)
		assert.Equal(t, []byte{0x60, cc.MultiChannelAggregatedMembersGet, 0x02}, r.req.Payload)
		r.fn(Response{Status: StatusOK, Frame: []byte{0x60, cc.MultiChannelAggregatedMembersReport, 0x02, 0x01, 0x03}})

		assert.Len(t, h.transport.sentWith(cc.MultiChannel, cc.MultiChannelCapabilityReport), 1)
		assert.Equal(t, []uint8{1, 2}, n.Endpoint(2).AggregatedMembers)

		h.finish(t)
		assert.Equal(t, NodeDone, n.State)
	})

	t.Run("endpoints no longer found are removed", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		n.AddEndpoint(1)
		n.AddEndpoint(2)
		n.IndividualEndpoints = 2

		h.p.NodeInfoReceived(5, multiChannelInfo)
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x02, 0x00})
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointFindReport, []byte{0x60, cc.MultiChannelEndPointFindReport, 0x00, 0xff, 0xff, 0x01, 0x03})

		assert.Equal(t, []EndpointAddress{{Node: 5, Endpoint: 2}}, h.events.removed)
		require.Len(t, n.Endpoints, 3)
		assert.Equal(t, EndpointID(1), n.Endpoints[1].ID)
		assert.Equal(t, EndpointID(3), n.Endpoints[2].ID)
		assert.Nil(t, n.Endpoint(2))
	})

	t.Run("a reduced endpoint count removes the old endpoints", func(t *testing.T) {
		h := newTestHarness(t, testConfig())

		n := addNode(t, h, 5, 0, 0)
		n.AddEndpoint(1)
		n.AddEndpoint(2)
		n.IndividualEndpoints = 2

		h.p.NodeInfoReceived(5, multiChannelInfo)
		h.transport.respond(t, cc.MultiChannel, cc.MultiChannelEndPointReport, []byte{0x60, cc.MultiChannelEndPointReport, 0x00, 0x01, 0x00})

		assert.Contains(t, h.events.removed, EndpointAddress{Node: 5, Endpoint: 1})
		assert.Contains(t, h.events.removed, EndpointAddress{Node: 5, Endpoint: 2})
		assert.Len(t, n.Endpoints, 1)
	})
}
