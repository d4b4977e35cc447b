package cc

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestParseManufacturerReport(t *testing.T) {
	t.Run("decodes manufacturer, product type and product id", func(t *testing.T) {
		r, err := ParseManufacturerReport([]byte{0x72, 0x05, 0x01, 0x5d, 0x00, 0x03, 0x00, 0x42})
		require.NoError(t, err)

		assert.Equal(t, ManufacturerReport{ManufacturerID: 0x015d, ProductType: 0x0003, ProductID: 0x0042}, r)
	})

	t.Run("rejects a short report", func(t *testing.T) {
		_, err := ParseManufacturerReport([]byte{0x72, 0x05, 0x01})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("rejects a report for another command", func(t *testing.T) {
		_, err := ParseManufacturerReport([]byte{0x86, 0x14, 0x01, 0x5d, 0x00, 0x03, 0x00, 0x42})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestParseEndPointReport(t *testing.T) {
	t.Run("decodes identical flag and counts", func(t *testing.T) {
		r, err := ParseEndPointReport([]byte{0x60, 0x08, 0x40, 0x03, 0x01})
		require.NoError(t, err)

		assert.Equal(t, EndPointReport{Identical: true, Individual: 3, Aggregated: 1}, r)
	})

	t.Run("aggregated count is optional", func(t *testing.T) {
		r, err := ParseEndPointReport([]byte{0x60, 0x08, 0x80, 0x02})
		require.NoError(t, err)

		assert.Equal(t, EndPointReport{Dynamic: true, Individual: 2}, r)
	})
}

func TestParseEndPointFindReport(t *testing.T) {
	t.Run("decodes reports to follow and endpoint ids", func(t *testing.T) {
		r, err := ParseEndPointFindReport([]byte{0x60, 0x0C, 0x01, 0xff, 0xff, 0x01, 0x02, 0x00})
		require.NoError(t, err)

		assert.Equal(t, uint8(1), r.ReportsToFollow)
		assert.Equal(t, []uint8{1, 2}, r.EndPoints)
	})
}

func TestParseAggregatedMembersReport(t *testing.T) {
	t.Run("expands the member bitmask", func(t *testing.T) {
		ep, members, err := ParseAggregatedMembersReport([]byte{0x60, 0x0F, 0x03, 0x02, 0x03, 0x01})
		require.NoError(t, err)

		assert.Equal(t, uint8(3), ep)
		assert.Equal(t, []uint8{1, 2, 9}, members)
	})

	t.Run("rejects a truncated bitmask", func(t *testing.T) {
		_, _, err := ParseAggregatedMembersReport([]byte{0x60, 0x0F, 0x03, 0x02, 0x03})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestParseZWavePlusReport(t *testing.T) {
	t.Run("decodes icons and detects portable roles", func(t *testing.T) {
		r, err := ParseZWavePlusReport([]byte{0x5E, 0x02, 0x02, RolePortableSlave, 0x00, 0x0c, 0x00, 0x0c, 0x01})
		require.NoError(t, err)

		assert.Equal(t, uint16(0x0c00), r.InstallerIcon)
		assert.Equal(t, uint16(0x0c01), r.UserIcon)
		assert.True(t, r.Portable())
	})

	t.Run("always on slaves are not portable", func(t *testing.T) {
		r, err := ParseZWavePlusReport([]byte{0x5E, 0x02, 0x02, RoleAlwaysOnSlave, 0x00, 0x0c, 0x00, 0x0c, 0x01})
		require.NoError(t, err)

		assert.False(t, r.Portable())
	})
}

func TestWakeUp(t *testing.T) {
	t.Run("capabilities report is decoded from 24 bit fields", func(t *testing.T) {
		c, err := ParseWakeUpCapabilitiesReport([]byte{0x84, 0x0A, 0x00, 0x00, 0x3c, 0x01, 0x51, 0x80, 0x00, 0x0e, 0x10, 0x00, 0x00, 0x3c})
		require.NoError(t, err)

		assert.Equal(t, WakeUpCapabilities{Minimum: 60, Maximum: 86400, Default: 3600, Step: 60}, c)
	})

	t.Run("clamp respects minimum, maximum and step", func(t *testing.T) {
		c := WakeUpCapabilities{Minimum: 60, Maximum: 86400, Step: 60}

		assert.Equal(t, uint32(60), c.Clamp(10))
		assert.Equal(t, uint32(86400), c.Clamp(100000))
		assert.Equal(t, uint32(4200), c.Clamp(4229))
	})

	t.Run("interval set frame encodes interval and node", func(t *testing.T) {
		assert.Equal(t, []byte{0x84, 0x04, 0x00, 0x0e, 0x10, 0x01}, WakeUpIntervalSetFrame(3600, 1))
	})

	t.Run("interval report is decoded", func(t *testing.T) {
		interval, node, err := ParseWakeUpIntervalReport([]byte{0x84, 0x06, 0x00, 0x0e, 0x10, 0x01})
		require.NoError(t, err)

		assert.Equal(t, uint32(3600), interval)
		assert.Equal(t, uint8(1), node)
	})
}

func TestVersionReports(t *testing.T) {
	t.Run("command class report is decoded", func(t *testing.T) {
		class, version, err := ParseVersionCommandClassReport([]byte{0x86, 0x14, 0x86, 0x03})
		require.NoError(t, err)

		assert.Equal(t, Version, class)
		assert.Equal(t, uint8(3), version)
	})

	t.Run("z-wave software report is decoded", func(t *testing.T) {
		frame := []byte{0x86, 0x18,
			7, 18, 1,
			10, 18, 1, 0x00, 0x01,
			0, 0, 0, 0x00, 0x00,
			7, 18, 1, 0x01, 0x02,
			1, 2, 3, 0x00, 0x07,
		}

		r, err := ParseZWaveSoftwareReport(frame)
		require.NoError(t, err)

		assert.Equal(t, [3]uint8{7, 18, 1}, r.SDKVersion)
		assert.Equal(t, uint16(0x0102), r.ZWaveProtocolBuild)
		assert.Equal(t, [3]uint8{1, 2, 3}, r.ApplicationVersion)
		assert.Equal(t, uint16(7), r.ApplicationBuild)
	})
}
