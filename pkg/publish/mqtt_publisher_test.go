// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"errors"
	"strings"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

func newTestPublisher(t *testing.T, client *mockMQTTClient, cfg Config) (*MQTTPublisher, *mqtt.ClientOptions) {
	t.Helper()
	var captured *mqtt.ClientOptions
	p := NewMQTTPublisher(cfg,
		WithClientFactory(func(opts *mqtt.ClientOptions) mqtt.Client {
			captured = opts
			return client
		}),
		WithLogger(zerolog.Nop()),
	)
	require.NoError(t, p.Connect())
	return p, captured
}

func testPacket() *vedirect.Packet {
	return vedirect.NewPacketFromBlocks(
		vedirect.Block{Key: "PID", Value: "0x203"},
		vedirect.Block{Key: "V", Value: "26201"},
		vedirect.Block{Key: "SER#", Value: "HQ1328Y6TF6"},
	)
}

func TestMQTTPublisher_ClientOptions(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	_, opts := newTestPublisher(t, client, Config{Broker: "localhost:1883", TopicPrefix: "vestat/", Username: "solar", Password: "secret"})

	require.NotNil(t, opts)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.True(t, strings.HasPrefix(opts.ClientID, "vestat-"))
	assert.Len(t, opts.ClientID, len("vestat-")+8)
	assert.Equal(t, "solar", opts.Username)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "vestat/state", opts.WillTopic)
	assert.True(t, client.IsConnected())
}

func TestMQTTPublisher_ExplicitClientID(t *testing.T) {
	t.Parallel()

	_, opts := newTestPublisher(t, newMockMQTTClient(), Config{Broker: "ssl://broker:8883", ClientID: "bmv-shed"})
	assert.Equal(t, "bmv-shed", opts.ClientID)
	assert.Equal(t, "ssl://broker:8883", opts.Servers[0].String())
}

func TestMQTTPublisher_Publish(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	p, _ := newTestPublisher(t, client, Config{Broker: "localhost:1883", TopicPrefix: "solar/bmv/"})

	require.NoError(t, p.Publish(testPacket()))

	msgs := client.published()
	require.Len(t, msgs, 3)
	assert.Equal(t, "solar/bmv/PID", msgs[0].topic)
	assert.Equal(t, "0x203", msgs[0].payload)
	assert.Equal(t, "solar/bmv/V", msgs[1].topic)
	assert.Equal(t, "26201", msgs[1].payload)

	// SER# holds a wildcard and only appears in the JSON document
	assert.Equal(t, "solar/bmv/packet", msgs[2].topic)
	assert.JSONEq(t, `{"PID":"0x203","V":"26201","SER#":"HQ1328Y6TF6"}`, string(msgs[2].payload.([]byte)))
	for _, m := range msgs {
		assert.False(t, m.retained)
	}
}

func TestMQTTPublisher_PublishError(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	p, _ := newTestPublisher(t, client, Config{Broker: "localhost:1883"})
	client.publishError = errors.New("broker gone")

	err := p.Publish(testPacket())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
}

func TestMQTTPublisher_NotConnected(t *testing.T) {
	t.Parallel()

	p := NewMQTTPublisher(Config{Broker: "localhost:1883"}, WithLogger(zerolog.Nop()))
	assert.ErrorIs(t, p.Publish(testPacket()), ErrNotConnected)
	p.PublishState("CONNECTED", "/dev/ttyUSB0")
	p.Close()
}

func TestMQTTPublisher_ConnectErrors(t *testing.T) {
	t.Parallel()

	p := NewMQTTPublisher(Config{}, WithLogger(zerolog.Nop()))
	assert.ErrorIs(t, p.Connect(), vedirect.ErrSettingInvalid)

	client := newMockMQTTClient()
	client.connectError = errors.New("connection refused")
	p = NewMQTTPublisher(Config{Broker: "localhost:1883"},
		WithClientFactory(func(*mqtt.ClientOptions) mqtt.Client { return client }),
		WithLogger(zerolog.Nop()),
	)
	err := p.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMQTTPublisher_StateAndClose(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	p, _ := newTestPublisher(t, client, Config{Broker: "localhost:1883", TopicPrefix: "vestat/"})

	p.PublishState("CONNECTED", "/dev/ttyUSB0")
	p.PublishState("DISCONNECTED", "")
	p.Close()

	msgs := client.published()
	require.Len(t, msgs, 3)
	assert.Equal(t, "CONNECTED /dev/ttyUSB0", msgs[0].payload)
	assert.Equal(t, "DISCONNECTED", msgs[1].payload)
	assert.Equal(t, "OFFLINE", msgs[2].payload)
	for _, m := range msgs {
		assert.Equal(t, "vestat/state", m.topic)
		assert.True(t, m.retained)
	}
	assert.False(t, client.IsConnected())
	assert.Equal(t, 1, client.disconnectCall)
}
