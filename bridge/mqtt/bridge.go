// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mqtt bridges the upper layer of an MS/TP station to an MQTT broker.
// Frames the station delivers are published under <prefix>/rx; frames
// published to <prefix>/tx are queued for sending, and <prefix>/reply
// answers the data request currently waiting for a reply.
package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mstp "github.com/ZaparooProject/go-mstp"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTimeout bounds connect and subscribe round trips.
const DefaultTimeout = 5 * time.Second

// Client is the part of paho.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

// Sender accepts frames from the broker. *mstp.Station implements it.
type Sender interface {
	Send(f *mstp.Frame) error
	Reply(frameType mstp.FrameType, data []byte) error
}

// Stats counts bridge traffic.
type Stats struct {
	Published uint64
	Queued    uint64
	Replies   uint64
	Rejected  uint64
}

// Bridge implements mstp.Handler by publishing every delivered frame.
type Bridge struct {
	client  Client
	sender  Sender
	prefix  string
	timeout time.Duration
	qos     byte

	published atomic.Uint64
	queued    atomic.Uint64
	replies   atomic.Uint64
	rejected  atomic.Uint64
}

var _ mstp.Handler = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithQoS sets the QoS used for publishing and subscribing.
func WithQoS(qos byte) Option {
	return func(b *Bridge) { b.qos = qos }
}

// WithTimeout sets the connect and subscribe timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// New creates a bridge on an existing client. Call Subscribe once the
// client is connected.
func New(client Client, sender Sender, prefix string, opts ...Option) *Bridge {
	b := &Bridge{
		client:  client,
		sender:  sender,
		prefix:  strings.Trim(prefix, "/"),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect dials the broker at brokerURL and subscribes the tx and reply
// topics, again after every reconnect. An empty prefix, in the URL path and
// in the argument, becomes DefaultPrefix(station).
func Connect(brokerURL, prefix string, station mstp.Address, sender Sender, opts ...Option) (*Bridge, error) {
	clientOpts, urlPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = urlPrefix
	}
	if prefix == "" {
		prefix = DefaultPrefix(station)
	}
	if clientOpts.ClientID == "" {
		clientOpts.SetClientID(fmt.Sprintf("go-mstp-%d", station))
	}

	b := New(nil, sender, prefix, opts...)
	clientOpts.SetOnConnectHandler(func(paho.Client) {
		if err := b.Subscribe(); err != nil {
			mstp.Logger().Warn().Err(err).Msg("mqtt resubscribe failed")
			return
		}
		mstp.Logger().Info().Str("prefix", b.prefix).Msg("mqtt connected")
	})
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		mstp.Logger().Warn().Err(err).Msg("mqtt connection lost")
	})
	client := paho.NewClient(clientOpts)
	b.client = client

	token := client.Connect()
	if !token.WaitTimeout(b.timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timed out after %v", brokerURL, b.timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, err)
	}
	return b, nil
}

// Prefix returns the topic prefix.
func (b *Bridge) Prefix() string {
	return b.prefix
}

// Subscribe subscribes the tx and reply topics.
func (b *Bridge) Subscribe() error {
	for _, seg := range []string{txSegment, replySegment} {
		topic := join(b.prefix, seg, "#")
		token := b.client.Subscribe(topic, b.qos, b.onMessage)
		if !token.WaitTimeout(b.timeout) {
			return fmt.Errorf("subscribe %q: timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
	}
	return nil
}

// HandleFrame publishes f. It runs with the station lock held, so it never
// waits for the broker.
func (b *Bridge) HandleFrame(f *mstp.Frame) {
	payload := f.Data
	if payload == nil {
		payload = []byte{}
	}
	b.client.Publish(RxTopic(b.prefix, f), b.qos, false, payload)
	b.published.Add(1)
}

func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	if err := b.handle(msg.Topic(), msg.Payload()); err != nil {
		b.rejected.Add(1)
		mstp.Logger().Warn().Err(err).Str("topic", msg.Topic()).Msg("mqtt message rejected")
	}
}

var errUnknownTopic = errors.New("unknown topic")

// handle routes one incoming message.
func (b *Bridge) handle(topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return errUnknownTopic
	}
	parts := strings.Split(rest, "/")
	switch {
	case parts[0] == txSegment && (len(parts) == 2 || len(parts) == 3):
		return b.handleTx(parts[1:], payload)
	case parts[0] == replySegment && len(parts) == 2:
		return b.handleReply(parts[1], payload)
	default:
		return errUnknownTopic
	}
}

func (b *Bridge) handleTx(parts []string, payload []byte) error {
	dest, err := parseAddress(parts[0])
	if err != nil {
		return err
	}
	frameType := mstp.FrameTypeBACnetDataNotExpectingReply
	if len(parts) == 2 {
		if frameType, err = parseFrameType(parts[1]); err != nil {
			return err
		}
	}
	if !frameType.IsData() || frameType == mstp.FrameTypeTestResponse {
		return fmt.Errorf("%w: %v cannot be sent from the broker", mstp.ErrInvalidFrameType, frameType)
	}
	f := &mstp.Frame{
		Type:        frameType,
		Destination: dest,
		Data:        append([]byte(nil), payload...),
	}
	if err := b.sender.Send(f); err != nil {
		return fmt.Errorf("failed to queue frame for %d: %w", dest, err)
	}
	b.queued.Add(1)
	return nil
}

func (b *Bridge) handleReply(typ string, payload []byte) error {
	frameType, err := parseFrameType(typ)
	if err != nil {
		return err
	}
	if err := b.sender.Reply(frameType, payload); err != nil {
		return fmt.Errorf("failed to reply: %w", err)
	}
	b.replies.Add(1)
	return nil
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Queued:    b.queued.Load(),
		Replies:   b.replies.Load(),
		Rejected:  b.rejected.Load(),
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() error {
	if b.client != nil {
		b.client.Disconnect(250)
	}
	return nil
}
