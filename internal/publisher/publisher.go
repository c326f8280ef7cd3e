package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher fans call state out to downstream consumers (transcription, sentiment, wallboards).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, []byte) error { return nil }
func (Noop) Close() error { return nil }

type MQTTOptions struct {
	Broker   string
	ClientID string
	QoS      byte
	// PublishTimeout bounds how long a publish waits for the broker ack.
	PublishTimeout time.Duration
}

// MQTTPublisher publishes over a Paho client that reconnects on its own.
type MQTTPublisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute)

	client := mqtt.NewClient(co)
	tok := client.Connect()
	if !tok.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", opts.Broker, err)
	}
	return &MQTTPublisher{client: client, qos: opts.QoS, timeout: opts.PublishTimeout}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	tok := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("publish %s: timed out after %s", topic, p.timeout)
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// Message is one publish captured by Recorder.
type Message struct {
	Topic   string
	Payload []byte
}

// Recorder keeps every publish in memory; tests use it in place of a broker.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Fail makes subsequent publishes return err; nil clears it.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
