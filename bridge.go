package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"i4.energy/across/cellmux/modem"
)

// Bridge connects sockets to an MQTT broker: payloads published on
// <topic>/<mux>/tx are sent on the socket, received data goes out on
// <topic>/<mux>/rx and modem notifications on <topic>/events.
type Bridge struct {
	Logger  *slog.Logger
	Gateway *Gateway
	Topic   string

	client mqtt.Client
}

type eventMessage struct {
	Kind  string    `json:"kind"`
	Mux   int       `json:"mux"`
	Value string    `json:"value,omitempty"`
	Time  time.Time `json:"time"`
}

// Connect dials the broker. Subscriptions are renewed on every reconnect.
func (b *Bridge) Connect(config *Config) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTTBroker)
	opts.SetClientID(config.MQTTClientID)
	if config.MQTTUser != "" {
		opts.SetUsername(config.MQTTUser)
		opts.SetPassword(config.MQTTPassword)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.Logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		filter := b.Topic + "/+/tx"
		b.Logger.Info("mqtt connected, subscribing", "filter", filter)
		if token := c.Subscribe(filter, 1, b.handleTx); token.Wait() && token.Error() != nil {
			b.Logger.Error("mqtt subscribe failed", "filter", filter, "error", token.Error())
		}
	})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// handleTx sends the payload of a tx message on the socket the topic names.
func (b *Bridge) handleTx(_ mqtt.Client, msg mqtt.Message) {
	mux, ok := parseTxTopic(b.Topic, msg.Topic())
	if !ok {
		b.Logger.Warn("mqtt message on unexpected topic", "topic", msg.Topic())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := b.Gateway.Send(ctx, mux, msg.Payload())
	if err != nil {
		b.Logger.Error("mqtt send failed", "mux", mux, "sent", n, "error", err)
		return
	}
	b.Logger.Debug("mqtt payload sent", "mux", mux, "bytes", n)
}

// parseTxTopic extracts the mux of "<base>/<mux>/tx".
func parseTxTopic(base, topic string) (int, bool) {
	rest, ok := strings.CutPrefix(topic, base+"/")
	if !ok {
		return 0, false
	}
	muxPart, ok := strings.CutSuffix(rest, "/tx")
	if !ok {
		return 0, false
	}
	mux, err := strconv.Atoi(muxPart)
	if err != nil || mux < 0 || mux >= modem.MuxCount {
		return 0, false
	}
	return mux, true
}

func (b *Bridge) PublishData(mux int, p []byte) error {
	topic := fmt.Sprintf("%s/%d/rx", b.Topic, mux)
	return b.publish(topic, p)
}

func (b *Bridge) PublishEvent(ev modem.Event) error {
	payload, err := json.Marshal(eventMessage{
		Kind:  ev.Kind.String(),
		Mux:   ev.Mux,
		Value: ev.Value,
		Time:  ev.Time,
	})
	if err != nil {
		return err
	}
	return b.publish(b.Topic+"/events", payload)
}

func (b *Bridge) publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return token.Error()
}

func (b *Bridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(500)
	}
}
