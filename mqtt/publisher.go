package mqtt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/shimmeringbee/callbacks"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/zrd"
	"time"
)

const (
	DefaultTopicPrefix    = "zrd"
	DefaultConnectTimeout = 10 * time.Second
	publishTimeout        = 5 * time.Second
)

type Config struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Client is the subset of a paho client used to publish.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Publisher mirrors the prober's notifications onto an MQTT broker. Node and endpoint state is published
// retained, removals clear the retained message.
type Publisher struct {
	logger logwrap.Logger
	client Client
	prefix string
	qos    byte
}

func NewPublisher(client Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	return &Publisher{
		logger: logwrap.New(discard.Discard()),
		client: client,
		prefix: prefix,
		qos:    1,
	}
}

// Connect dials the broker and returns a publisher using the connection, along with the client so the
// caller can disconnect it.
func Connect(cfg Config) (*Publisher, pahomqtt.Client, error) {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zrd"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(prefix+"/bridge/state", "offline", 1, true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(DefaultConnectTimeout) {
		return nil, nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect: %w", err)
	}

	p := NewPublisher(client, prefix)
	p.publish(context.Background(), prefix+"/bridge/state", []byte("online"), true)

	return p, client, nil
}

func (p *Publisher) WithLogWrapLogger(lw logwrap.Logger) {
	p.logger = lw
}

// Attach registers the publisher against the prober's notifications.
func (p *Publisher) Attach(a callbacks.Adder) {
	a.Add(p.nodeProbed)
	a.Add(p.endpointChanged)
	a.Add(p.endpointRemoved)
	a.Add(p.allNodesProbed)
}

type nodeState struct {
	ID             uint16 `json:"id"`
	Name           string `json:"name"`
	Success        bool   `json:"success"`
	State          string `json:"state"`
	Mode           string `json:"mode"`
	ManufacturerID string `json:"manufacturer_id"`
	ProductType    string `json:"product_type"`
	ProductID      string `json:"product_id"`
	Security       uint8  `json:"security"`
	Portable       bool   `json:"portable"`
	WakeUpInterval uint32 `json:"wake_up_interval,omitempty"`
	Endpoints      int    `json:"endpoints"`
}

type endpointState struct {
	Node          uint16 `json:"node"`
	Endpoint      uint8  `json:"endpoint"`
	Name          string `json:"name"`
	Location      string `json:"location,omitempty"`
	Generic       uint8  `json:"generic"`
	Specific      uint8  `json:"specific"`
	InstallerIcon uint16 `json:"installer_icon,omitempty"`
	Info          string `json:"info"`
}

func (p *Publisher) nodeTopic(id zrd.NodeID) string {
	return fmt.Sprintf("%s/node/%d", p.prefix, id)
}

func (p *Publisher) endpointTopic(a zrd.EndpointAddress) string {
	return fmt.Sprintf("%s/node/%d/endpoint/%d", p.prefix, a.Node, a.Endpoint)
}

func (p *Publisher) nodeProbed(ctx context.Context, e zrd.NodeProbed) error {
	n := e.Node

	state := nodeState{
		ID:             uint16(n.ID),
		Name:           n.Name,
		Success:        e.Success,
		State:          n.State.String(),
		Mode:           n.Mode.String(),
		ManufacturerID: fmt.Sprintf("%04x", n.ManufacturerID),
		ProductType:    fmt.Sprintf("%04x", n.ProductType),
		ProductID:      fmt.Sprintf("%04x", n.ProductID),
		Security:       uint8(n.Security),
		Portable:       n.Properties.Has(zrd.PropertyPortable),
		WakeUpInterval: n.WakeUpInterval,
		Endpoints:      len(n.Endpoints),
	}

	return p.publishJSON(ctx, p.nodeTopic(n.ID), state)
}

func (p *Publisher) endpointChanged(ctx context.Context, e zrd.EndpointChanged) error {
	ep := e.Endpoint
	a := ep.Address()

	state := endpointState{
		Node:          uint16(a.Node),
		Endpoint:      uint8(a.Endpoint),
		Name:          ep.Name,
		Location:      ep.Location,
		Generic:       ep.Generic(),
		Specific:      ep.Specific(),
		InstallerIcon: ep.InstallerIcon,
		Info:          hex.EncodeToString(ep.Info),
	}

	return p.publishJSON(ctx, p.endpointTopic(a), state)
}

func (p *Publisher) endpointRemoved(ctx context.Context, e zrd.EndpointRemoved) error {
	p.publish(ctx, p.endpointTopic(e.Address), []byte{}, true)
	return nil
}

func (p *Publisher) allNodesProbed(ctx context.Context, _ zrd.AllNodesProbed) error {
	p.publish(ctx, p.prefix+"/probe/complete", []byte(time.Now().UTC().Format(time.RFC3339)), false)
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}

	p.publish(ctx, topic, payload, true)
	return nil
}

// publish hands the message to the client without waiting for delivery, the prober's loop must not
// block on the broker.
func (p *Publisher) publish(ctx context.Context, topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, p.qos, retained, payload)

	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			p.logger.LogWarn(ctx, "Failed to publish.", logwrap.Datum("Topic", topic), logwrap.Err(token.Error()))
		}
	}()
}
