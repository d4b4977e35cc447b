package boltstore

import (
	"github.com/shimmeringbee/zrd"
	"github.com/shimmeringbee/zrd/cc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "zrd.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestStore(t *testing.T) {
	t.Run("a written node reads back with its probe state, versions and endpoints", func(t *testing.T) {
		s := openTestStore(t)

		n := zrd.NewDetachedNode(5)
		n.Mode = zrd.ModeMailbox | zrd.ModeFlagLowBattery
		n.State = zrd.NodeDone
		n.Security = zrd.SecurityS0 | zrd.SecurityS2Authenticated
		n.Properties = zrd.PropertyAddedByMe
		n.ProbeFlags = zrd.ProbeCompleted
		n.WakeUpInterval = 4200
		n.LastAwake = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		n.ManufacturerID = 0x0086
		n.ProductID = 0x0064
		n.Name = "zw0000000A0005"
		n.IndividualEndpoints = 1
		n.Software = &cc.ZWaveSoftwareReport{SDKVersion: [3]uint8{7, 18, 1}}
		n.CCVersions[0].Version = 3

		n.Root().Info = []byte{0x07, 0x01, 0x5e, 0x86}
		ep := n.AddEndpoint(1)
		ep.State = zrd.EndpointProbeDone
		ep.Name = "sensor"
		ep.Info = []byte{0x21, 0x01, 0x31}

		require.NoError(t, s.Write(n))

		got, err := s.Read(5)
		require.NoError(t, err)

		assert.Equal(t, n.Mode, got.Mode)
		assert.Equal(t, n.State, got.State)
		assert.Equal(t, n.Security, got.Security)
		assert.Equal(t, n.ProbeFlags, got.ProbeFlags)
		assert.True(t, n.LastAwake.Equal(got.LastAwake))
		assert.Equal(t, n.CCVersions, got.CCVersions)
		assert.Equal(t, n.Software, got.Software)
		require.Len(t, got.Endpoints, 2)
		assert.Equal(t, []byte{0x07, 0x01, 0x5e, 0x86}, got.Root().Info)
		assert.Equal(t, "sensor", got.Endpoint(1).Name)
		assert.Equal(t, zrd.EndpointProbeDone, got.Endpoint(1).State)
		assert.Equal(t, got, got.Endpoint(1).Node())
	})

	t.Run("reading an unknown node returns ErrNodeNotFound", func(t *testing.T) {
		s := openTestStore(t)

		_, err := s.Read(9)
		assert.ErrorIs(t, err, zrd.ErrNodeNotFound)
	})

	t.Run("invalidating a node removes it", func(t *testing.T) {
		s := openTestStore(t)

		require.NoError(t, s.Write(zrd.NewDetachedNode(5)))
		require.NoError(t, s.Invalidate(5))

		_, err := s.Read(5)
		assert.ErrorIs(t, err, zrd.ErrNodeNotFound)
	})

	t.Run("lists stored nodes in id order", func(t *testing.T) {
		s := openTestStore(t)

		for _, id := range []zrd.NodeID{300, 7, 2} {
			require.NoError(t, s.Write(zrd.NewDetachedNode(id)))
		}

		ids, err := s.NodeIDs()
		assert.NoError(t, err)
		assert.Equal(t, []zrd.NodeID{2, 7, 300}, ids)
	})

	t.Run("refuses to write a node id outside the valid ranges", func(t *testing.T) {
		s := openTestStore(t)

		err := s.Write(zrd.NewDetachedNode(240))
		assert.ErrorIs(t, err, zrd.ErrNodeIDOutOfRange)
	})
}
