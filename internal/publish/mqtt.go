// Package publish sends scan results to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/logging"
	"github.com/rshade/regscan/internal/output"
	"github.com/rshade/regscan/internal/scanner"
)

const (
	// DefaultTopicPrefix is used when the configured prefix is empty.
	DefaultTopicPrefix = "regscan"
	// DefaultTimeout bounds connect and publish when none is configured.
	DefaultTimeout = 10 * time.Second

	disconnectQuiesceMS = 250
	topicSuffix         = "scan"
)

var (
	// ErrNoBroker is returned when MQTT publication has no broker URL.
	ErrNoBroker = errors.New("mqtt broker URL is empty")
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt operation timed out")
	// ErrInvalidQoS is returned for a QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqtt qos must be 0, 1 or 2")
)

// client is the subset of mqtt.Client used by the publisher.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes one JSON document per device scan.
type Publisher struct {
	client  client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewPublisher builds a paho client from cfg. Call Connect before publishing.
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "regscan-" + strings.ToLower(ulid.Make().String())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(timeoutOrDefault(cfg.Timeout))
	opts.SetWriteTimeout(timeoutOrDefault(cfg.Timeout))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	return newPublisher(mqtt.NewClient(opts), cfg)
}

func newPublisher(c client, cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, cfg.QoS)
	}
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{
		client:  c,
		prefix:  prefix,
		qos:     byte(cfg.QoS),
		timeout: timeoutOrDefault(cfg.Timeout),
	}, nil
}

// Connect opens the broker connection.
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.wait(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", err)
	}
	logging.FromContext(ctx).Debug().Str("component", "publish").Msg("connected to mqtt broker")
	return nil
}

// Publish sends doc to <prefix>/<device>/scan.
func (p *Publisher) Publish(ctx context.Context, doc output.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding scan document: %w", err)
	}

	topic := Topic(p.prefix, doc.Device)
	if err := p.wait(ctx, p.client.Publish(topic, p.qos, false, payload)); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	logging.FromContext(ctx).Debug().
		Str("component", "publish").
		Str("topic", topic).
		Int("bytes", len(payload)).
		Msg("published scan result")
	return nil
}

// PublishResults publishes every result and joins the failures.
func (p *Publisher) PublishResults(ctx context.Context, results []*scanner.Result) error {
	var errs []error
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := p.Publish(ctx, output.NewDocument(r)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesceMS)
}

func (p *Publisher) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

// Topic returns the result topic for device under prefix. The device URL is
// reduced to characters that are valid in a single topic level.
func Topic(prefix, device string) string {
	if i := strings.Index(device, "://"); i >= 0 {
		device = device[i+len("://"):]
	}
	device = strings.Trim(device, "/")

	level := strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '+', '#', ' ':
			return '_'
		default:
			return r
		}
	}, device)
	if level == "" {
		level = "unknown"
	}
	return strings.Trim(prefix, "/") + "/" + level + "/" + topicSuffix
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
