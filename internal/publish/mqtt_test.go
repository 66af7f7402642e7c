package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/output"
	"github.com/rshade/regscan/internal/register"
	"github.com/rshade/regscan/internal/scanner"
)

// fakeToken is an mqtt.Token that is either complete or never completes.
type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	connectToken mqtt.Token
	publishToken func(topic string) mqtt.Token
	messages     []published
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectToken == nil {
		return completedToken(nil)
	}
	return c.connectToken
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	if c.publishToken != nil {
		return c.publishToken(topic)
	}
	return completedToken(nil)
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func result(device string) *scanner.Result {
	return &scanner.Result{
		SessionID: "01HZX3V6M7Q2K8N4P5R6S7T8V9",
		Device:    device,
		Registers: []register.Info{
			register.NewInfo(7, register.FuncHoldingRegister, uint16(42), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		},
		TotalRegisters:      1,
		AccessibleRegisters: 1,
	}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		device string
		want   string
	}{
		{name: "tcp url", prefix: "regscan", device: "tcp://10.0.0.5:502", want: "regscan/10.0.0.5_502/scan"},
		{name: "rtu url", prefix: "plant/a", device: "rtu:///dev/ttyUSB0", want: "plant/a/dev_ttyUSB0/scan"},
		{name: "trailing slash prefix", prefix: "regscan/", device: "host:502", want: "regscan/host_502/scan"},
		{name: "wildcards", prefix: "regscan", device: "tcp://a+b#c", want: "regscan/a_b_c/scan"},
		{name: "empty device", prefix: "regscan", device: "", want: "regscan/unknown/scan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Topic(tt.prefix, tt.device))
		})
	}
}

func TestNewPublisher(t *testing.T) {
	t.Run("requires broker", func(t *testing.T) {
		_, err := NewPublisher(config.MQTTConfig{})
		require.ErrorIs(t, err, ErrNoBroker)
	})

	t.Run("rejects qos", func(t *testing.T) {
		_, err := NewPublisher(config.MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3})
		require.ErrorIs(t, err, ErrInvalidQoS)
	})

	t.Run("defaults", func(t *testing.T) {
		p, err := NewPublisher(config.MQTTConfig{Broker: "tcp://localhost:1883"})
		require.NoError(t, err)
		assert.Equal(t, DefaultTopicPrefix, p.prefix)
		assert.Equal(t, DefaultTimeout, p.timeout)
		assert.Equal(t, byte(0), p.qos)
	})
}

func TestPublisher_Publish(t *testing.T) {
	fc := &fakeClient{}
	p, err := newPublisher(fc, config.MQTTConfig{TopicPrefix: "site1", QoS: 1, Timeout: time.Second})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	require.NoError(t, p.Publish(ctx, output.NewDocument(result("tcp://10.0.0.5:502"))))

	require.Len(t, fc.messages, 1)
	msg := fc.messages[0]
	assert.Equal(t, "site1/10.0.0.5_502/scan", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var doc output.Document
	require.NoError(t, json.Unmarshal(msg.payload, &doc))
	assert.Equal(t, "tcp://10.0.0.5:502", doc.Device)
	assert.Equal(t, 1, doc.Summary.Accessible)
	require.Len(t, doc.Registers, 1)
	assert.Equal(t, 7, doc.Registers[0].Address)

	p.Close()
	assert.True(t, fc.disconnected)
}

func TestPublisher_Errors(t *testing.T) {
	t.Run("connect failure", func(t *testing.T) {
		fc := &fakeClient{connectToken: completedToken(errors.New("not authorized"))}
		p, err := newPublisher(fc, config.MQTTConfig{})
		require.NoError(t, err)

		err = p.Connect(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not authorized")
	})

	t.Run("timeout", func(t *testing.T) {
		fc := &fakeClient{publishToken: func(string) mqtt.Token { return pendingToken() }}
		p, err := newPublisher(fc, config.MQTTConfig{Timeout: 10 * time.Millisecond})
		require.NoError(t, err)

		err = p.Publish(context.Background(), output.NewDocument(result("tcp://a:502")))
		require.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("cancelled context", func(t *testing.T) {
		fc := &fakeClient{publishToken: func(string) mqtt.Token { return pendingToken() }}
		p, err := newPublisher(fc, config.MQTTConfig{})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = p.Publish(ctx, output.NewDocument(result("tcp://a:502")))
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestPublisher_PublishResults(t *testing.T) {
	fc := &fakeClient{publishToken: func(topic string) mqtt.Token {
		if topic == "regscan/b_502/scan" {
			return completedToken(errors.New("broker gone"))
		}
		return completedToken(nil)
	}}
	p, err := newPublisher(fc, config.MQTTConfig{})
	require.NoError(t, err)

	err = p.PublishResults(context.Background(), []*scanner.Result{result("tcp://a:502"), nil, result("tcp://b:502")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
	assert.Len(t, fc.messages, 2)
}
