package mqtt

import (
	"context"
	"encoding/json"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/shimmeringbee/callbacks"
	"github.com/shimmeringbee/zrd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	m        sync.Mutex
	messages []message
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.m.Lock()
	defer c.m.Unlock()

	c.messages = append(c.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) last() message {
	c.m.Lock()
	defer c.m.Unlock()
	return c.messages[len(c.messages)-1]
}

func TestPublisher(t *testing.T) {
	t.Run("publishes a retained node state when a node is probed", func(t *testing.T) {
		c := &fakeClient{}
		p := NewPublisher(c, "gw")

		cb := callbacks.Create()
		p.Attach(cb)

		n := zrd.NewDetachedNode(5)
		n.Name = "zw0000000A0005"
		n.ManufacturerID = 0x0086
		n.State = zrd.NodeDone
		n.Properties = zrd.PropertyPortable

		require.NoError(t, cb.Call(context.Background(), zrd.NodeProbed{Node: n, Success: true}))

		m := c.last()
		assert.Equal(t, "gw/node/5", m.topic)
		assert.True(t, m.retained)

		var state nodeState
		require.NoError(t, json.Unmarshal(m.payload, &state))
		assert.Equal(t, uint16(5), state.ID)
		assert.Equal(t, "0086", state.ManufacturerID)
		assert.True(t, state.Success)
		assert.True(t, state.Portable)
		assert.Equal(t, 1, state.Endpoints)
	})

	t.Run("publishes endpoint state and clears it on removal", func(t *testing.T) {
		c := &fakeClient{}
		p := NewPublisher(c, "")

		cb := callbacks.Create()
		p.Attach(cb)

		n := zrd.NewDetachedNode(6)
		ep := n.AddEndpoint(2)
		ep.Name = "sensor"
		ep.Info = []byte{0x21, 0x01, 0x31}

		require.NoError(t, cb.Call(context.Background(), zrd.EndpointChanged{Endpoint: ep}))

		m := c.last()
		assert.Equal(t, "zrd/node/6/endpoint/2", m.topic)

		var state endpointState
		require.NoError(t, json.Unmarshal(m.payload, &state))
		assert.Equal(t, "sensor", state.Name)
		assert.Equal(t, uint8(0x21), state.Generic)
		assert.Equal(t, "210131", state.Info)

		require.NoError(t, cb.Call(context.Background(), zrd.EndpointRemoved{Address: ep.Address()}))

		m = c.last()
		assert.Equal(t, "zrd/node/6/endpoint/2", m.topic)
		assert.True(t, m.retained)
		assert.Empty(t, m.payload)
	})

	t.Run("announces completion of all probes without retaining it", func(t *testing.T) {
		c := &fakeClient{}
		p := NewPublisher(c, "gw")

		cb := callbacks.Create()
		p.Attach(cb)

		require.NoError(t, cb.Call(context.Background(), zrd.AllNodesProbed{}))

		m := c.last()
		assert.Equal(t, "gw/probe/complete", m.topic)
		assert.False(t, m.retained)
	})
}
