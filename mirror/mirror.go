// Package mirror publishes the traffic crossing a bridge to an MQTT broker.
//
// Topics, under a configurable prefix:
//
//	<prefix>/rx    packets received over the air and forwarded to the host
//	<prefix>/tx    packets taken from the host and transmitted
//	<prefix>/mode  active radio mode, retained, as JSON
package mirror

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ofauchon/lorabridge/link"
)

const (
	DefaultPrefix         = "lorabridge"
	DefaultClientID       = "lorabridge"
	DefaultPublishTimeout = 5 * time.Second
	disconnectQuiesce     = 250 // ms
)

// Publisher is the part of mqtt.Client the mirror uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Config struct {
	// Broker is the broker URL, tcp://host:1883 for instance.
	Broker   string
	ClientID string
	Prefix   string
	QoS      byte
	// PublishTimeout bounds the wait for each publication in the background.
	PublishTimeout time.Duration
	Logger         *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Mirror is a link.Mirror. Publications never block the caller.
type Mirror struct {
	pub    Publisher
	client mqtt.Client
	cfg    Config
	log    *zap.Logger
	wg     sync.WaitGroup
}

// Dial connects to cfg.Broker.
func Dial(cfg Config) (*Mirror, error) {
	cfg.applyDefaults()
	log := cfg.Logger.Named("mirror")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.PublishTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("broker connection lost", zap.Error(err))
		})
	client := mqtt.NewClient(opts)

	tok := client.Connect()
	if !tok.WaitTimeout(cfg.PublishTimeout) {
		return nil, fmt.Errorf("connecting to %s: timed out after %v", cfg.Broker, cfg.PublishTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	log.Info("connected", zap.String("broker", cfg.Broker), zap.String("prefix", cfg.Prefix))

	m := New(client, cfg)
	m.client = client
	return m, nil
}

// New mirrors to an already connected publisher.
func New(pub Publisher, cfg Config) *Mirror {
	cfg.applyDefaults()
	return &Mirror{
		pub: pub,
		cfg: cfg,
		log: cfg.Logger.Named("mirror"),
	}
}

func (m *Mirror) Forwarded(data []byte) {
	m.publish("rx", false, data)
}

func (m *Mirror) Transmitted(data []byte) {
	m.publish("tx", false, data)
}

type modeMessage struct {
	Mode            string `json:"mode"`
	Bandwidth       int32  `json:"bandwidth"`
	SpreadingFactor uint8  `json:"sf"`
	CodingRate      uint8  `json:"cr"`
}

func (m *Mirror) ModeChanged(d link.ModeDescriptor) {
	payload, err := json.Marshal(modeMessage{
		Mode:            d.Name.String(),
		Bandwidth:       d.Bandwidth,
		SpreadingFactor: d.SpreadingFactor,
		CodingRate:      d.CodingRate,
	})
	if err != nil {
		m.log.Error("encoding mode", zap.Error(err))
		return
	}
	m.publish("mode", true, payload)
}

func (m *Mirror) publish(sub string, retained bool, data []byte) {
	topic := m.cfg.Prefix + "/" + sub
	payload := make([]byte, len(data))
	copy(payload, data)

	tok := m.pub.Publish(topic, m.cfg.QoS, retained, payload)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if !tok.WaitTimeout(m.cfg.PublishTimeout) {
			m.log.Warn("publish timed out", zap.String("topic", topic))
			return
		}
		if err := tok.Error(); err != nil {
			m.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// Close waits for the publications in flight and disconnects when the
// mirror was dialed.
func (m *Mirror) Close() {
	m.wg.Wait()
	if m.client != nil {
		m.client.Disconnect(disconnectQuiesce)
	}
}
