// Package publish delivers the daily low-pass state to an MQTT broker.
//
// Topic Structure:
//
//	<root>/state  - JSON state payload (count, earliest/latest low pass)
//	<root>/config - Home Assistant discovery descriptor for the sensor
//
// The paho client is created with auto-reconnect disabled: a lost connection
// surfaces as a publish error and the poll runner redials with backoff.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultKeepAlive      = 60 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 10 * time.Second
)

// Options configures the broker connection.
type Options struct {
	Broker         string // tcp://host:1883, ssl://host:8883, or bare host[:port]
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Dialer opens broker sessions.
type Dialer struct {
	opts Options
}

// NewDialer normalizes opts and returns a Dialer.
func NewDialer(opts Options) *Dialer {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.QoS > 2 {
		opts.QoS = 0
	}
	opts.Broker = BrokerURL(opts.Broker)
	return &Dialer{opts: opts}
}

// BrokerURL adds the tcp scheme and default port to a bare host.
func BrokerURL(broker string) string {
	broker = strings.TrimSpace(broker)
	if broker == "" || strings.Contains(broker, "://") {
		return broker
	}
	if !strings.Contains(broker, ":") {
		broker += ":1883"
	}
	return "tcp://" + broker
}

// Session is one connected MQTT client.
type Session struct {
	client  mqtt.Client
	qos     byte
	retain  bool
	timeout time.Duration
}

// Dial connects to the broker and authenticates.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.opts.Broker)
	opts.SetClientID(d.opts.ClientID)
	if d.opts.Username != "" {
		opts.SetUsername(d.opts.Username)
		opts.SetPassword(d.opts.Password)
	}
	opts.SetKeepAlive(d.opts.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(d.opts.ConnectTimeout)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(onConnectionLost)

	client := mqtt.NewClient(opts)
	log.Printf("MQTT: connecting to %s as %s", d.opts.Broker, d.opts.ClientID)

	if err := waitToken(ctx, client.Connect(), d.opts.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", d.opts.Broker, err)
	}
	log.Printf("MQTT: connected to %s", d.opts.Broker)

	return &Session{
		client:  client,
		qos:     d.opts.QoS,
		retain:  d.opts.Retain,
		timeout: d.opts.PublishTimeout,
	}, nil
}

func onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("MQTT: connection lost: %v", err)
}

// Publish sends payload to topic and waits for the broker handshake the QoS
// level requires.
func (s *Session) Publish(topic string, payload []byte) error {
	if s == nil || s.client == nil {
		return errors.New("mqtt: no session")
	}
	if !s.client.IsConnected() {
		return errors.New("mqtt: not connected")
	}
	if err := waitToken(context.Background(), s.client.Publish(topic, s.qos, s.retain, payload), s.timeout); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing 250ms for in-flight messages.
func (s *Session) Close() {
	if s == nil || s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
