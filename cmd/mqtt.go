// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/vestat/pkg/controller"
	"github.com/Thermoquad/vestat/pkg/publish"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var (
	mqttBroker   string
	mqttPrefix   string
	mqttClientID string
	mqttQoS      int
)

var mqttCmd = &cobra.Command{
	Use:   "mqtt",
	Short: "Publish device packets to an MQTT broker",
	Long: `Find the device like the connect command and publish every packet.

Each block is published to <prefix><key> (for example vestat/V) and the whole
packet to <prefix>packet as a JSON object. The controller state is published,
retained, to <prefix>state. Keys containing MQTT wildcards are only part of the
JSON document.

The broker password is read from the [mqtt] section of the config file or the
VESTAT_MQTT_PASSWORD environment variable.`,
	Args: cobra.NoArgs,
	RunE: runMQTT,
}

func init() {
	rootCmd.AddCommand(mqttCmd)
	mqttCmd.Flags().StringVar(&mqttBroker, "broker", "", "Broker address (host:port or tcp://, ssl://, ws:// URL)")
	mqttCmd.Flags().StringVar(&mqttPrefix, "topic-prefix", "", "Topic prefix (default vestat/)")
	mqttCmd.Flags().StringVar(&mqttClientID, "client-id", "", "MQTT client ID (default random)")
	mqttCmd.Flags().IntVar(&mqttQoS, "qos", 0, "Publish QoS (0, 1 or 2)")
}

func mqttConfig(cmd *cobra.Command) (publish.Config, error) {
	m := cfg.MQTT
	flags := cmd.Flags()
	if flags.Changed("broker") {
		m.Broker = mqttBroker
	}
	if flags.Changed("topic-prefix") {
		m.TopicPrefix = mqttPrefix
	}
	if flags.Changed("client-id") {
		m.ClientID = mqttClientID
	}
	if pw := os.Getenv("VESTAT_MQTT_PASSWORD"); pw != "" {
		m.Password = pw
	}
	if mqttQoS < 0 || mqttQoS > 2 {
		return publish.Config{}, vedirect.NewError(vedirect.KindSettingInvalid, "mqtt",
			fmt.Errorf("qos must be 0, 1 or 2, got %d", mqttQoS))
	}

	return publish.Config{
		Broker:      m.Broker,
		TopicPrefix: m.TopicPrefix,
		ClientID:    m.ClientID,
		Username:    m.Username,
		Password:    m.Password,
		QoS:         byte(mqttQoS),
	}, nil
}

func runMQTT(cmd *cobra.Command, args []string) error {
	pcfg, err := mqttConfig(cmd)
	if err != nil {
		return err
	}

	publisher := publish.NewMQTTPublisher(pcfg, publish.WithLogger(log.Logger))
	if err := publisher.Connect(); err != nil {
		return err
	}
	defer publisher.Close()

	ctrl, err := newController(controller.WithStateListener(func(state controller.State, port string) {
		publisher.PublishState(state.String(), port)
	}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	packets := make(chan *vedirect.Packet, 16)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(packets)
		return ctrl.Run(gctx, func(p *vedirect.Packet) {
			select {
			case packets <- p:
			case <-gctx.Done():
			}
		})
	})

	g.Go(func() error {
		for p := range packets {
			if err := publisher.Publish(p); err != nil {
				log.Warn().Err(err).Msg("failed to publish packet")
			}
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("mqtt: stopped")
		return nil
	}
	return err
}
