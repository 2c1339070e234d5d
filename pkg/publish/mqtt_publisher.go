// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish forwards decoded packets to an MQTT broker.
package publish

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// PacketTopic is the topic suffix of the JSON packet document
const PacketTopic = "packet"

// StateTopic is the topic suffix of the retained controller state
const StateTopic = "state"

// ErrNotConnected is returned when publishing before Connect
var ErrNotConnected = errors.New("mqtt publisher not connected")

// Config holds the broker settings
type Config struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
}

// ClientFactory creates the MQTT client from the prepared options
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// MQTTPublisher publishes every packet block to <prefix><key> and the whole
// packet as JSON to <prefix>packet.
type MQTTPublisher struct {
	cfg       Config
	client    mqtt.Client
	newClient ClientFactory
	logger    zerolog.Logger
}

// Option configures an MQTTPublisher
type Option func(*MQTTPublisher)

// WithClientFactory replaces the paho client constructor
func WithClientFactory(f ClientFactory) Option {
	return func(p *MQTTPublisher) {
		p.newClient = f
	}
}

// WithLogger sets the publisher logger
func WithLogger(logger zerolog.Logger) Option {
	return func(p *MQTTPublisher) {
		p.logger = logger
	}
}

// NewMQTTPublisher creates a publisher for the given broker
func NewMQTTPublisher(cfg Config, opts ...Option) *MQTTPublisher {
	p := &MQTTPublisher{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ClientOptions returns the paho options used by Connect
func (p *MQTTPublisher) ClientOptions() *mqtt.ClientOptions {
	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "vestat-" + uuid.New().String()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetWill(p.topic(StateTopic), "OFFLINE", p.cfg.QoS, true)

	opts.OnConnect = func(_ mqtt.Client) {
		p.logger.Info().Str("broker", p.cfg.Broker).Msg("mqtt publisher: connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.logger.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}
	return opts
}

// Connect connects to the broker
func (p *MQTTPublisher) Connect() error {
	if p.cfg.Broker == "" {
		return vedirect.NewError(vedirect.KindSettingInvalid, "mqtt", errors.New("no broker configured"))
	}

	p.client = p.newClient(p.ClientOptions())
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.logger.Info().Str("broker", p.cfg.Broker).Str("prefix", p.cfg.TopicPrefix).Msg("mqtt publisher: ready")
	return nil
}

// Publish sends the packet blocks and the JSON document. Keys holding MQTT
// wildcard characters are left out of the per-key topics.
func (p *MQTTPublisher) Publish(packet *vedirect.Packet) error {
	if p.client == nil {
		return ErrNotConnected
	}

	var errs []error
	for _, b := range packet.Blocks() {
		if !validTopicLevel(b.Key) {
			continue
		}
		if err := p.publish(p.topic(b.Key), false, b.Value); err != nil {
			errs = append(errs, err)
		}
	}

	payload, err := packet.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal packet: %w", err)
	}
	if err := p.publish(p.topic(PacketTopic), false, payload); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("mqtt publisher: %w", errors.Join(errs...))
	}
	p.logger.Debug().Int("blocks", packet.Len()).Msg("mqtt publisher: packet published")
	return nil
}

// PublishState publishes the retained connection state without waiting for the broker
func (p *MQTTPublisher) PublishState(state, port string) {
	if p.client == nil {
		return
	}
	payload := state
	if port != "" {
		payload += " " + port
	}
	p.client.Publish(p.topic(StateTopic), p.cfg.QoS, true, payload)
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.logger.Debug().Msg("mqtt publisher: disconnecting")
		p.client.Publish(p.topic(StateTopic), p.cfg.QoS, true, "OFFLINE").WaitTimeout(time.Second)
		p.client.Disconnect(250)
	}
}

func (p *MQTTPublisher) publish(topic string, retained bool, payload any) error {
	token := p.client.Publish(topic, p.cfg.QoS, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

func (p *MQTTPublisher) topic(suffix string) string {
	return p.cfg.TopicPrefix + suffix
}

func validTopicLevel(key string) bool {
	return key != "" && !strings.ContainsAny(key, "#+/")
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
