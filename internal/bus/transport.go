package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/mbn-address/internal/infrastructure/mqtt"
)

// Carrier is the MQTT surface the transport needs. *mqtt.Client
// satisfies it.
type Carrier interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Logger is the logging interface the transport needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Transport carries bus messages and events over MQTT.
//
// Inbound events are decoded on the MQTT delivery goroutine and queued on
// a bounded channel. When the queue is full the event is dropped and
// counted. Nodes repeat address info and online notifications, so a drop
// delays an allocation but never loses one.
type Transport struct {
	carrier Carrier
	topics  mqtt.Topics
	events  chan Event
	dropped atomic.Uint64
	logger  Logger
}

// NewTransport creates a transport. Call Start to subscribe.
func NewTransport(carrier Carrier, topics mqtt.Topics, queueSize int, logger Logger) *Transport {
	if logger == nil {
		logger = noopLogger{}
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Transport{
		carrier: carrier,
		topics:  topics,
		events:  make(chan Event, queueSize),
		logger:  logger,
	}
}

// Start subscribes to every inbound event topic.
func (t *Transport) Start() error {
	if err := t.carrier.Subscribe(t.topics.AllBusIn(), t.handle); err != nil {
		return fmt.Errorf("subscribing to bus events: %w", err)
	}
	return nil
}

// Events returns the inbound event queue.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Dropped returns how many events were discarded on a full queue.
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}

// Send encodes msg and publishes it for the gateway.
func (t *Transport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.messageKind(), err)
	}
	if err := t.carrier.Publish(t.topics.BusOut(msg.messageKind()), payload, false); err != nil {
		return fmt.Errorf("sending %s: %w", msg.messageKind(), err)
	}
	return nil
}

// handle decodes one inbound MQTT message and queues it.
func (t *Transport) handle(topic string, payload []byte) error {
	ev, err := decodeEvent(t.topics.Kind(topic), payload)
	if err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}

	select {
	case t.events <- ev:
	default:
		n := t.dropped.Add(1)
		t.logger.Warn("bus event queue full, event dropped",
			"kind", ev.eventKind(),
			"dropped_total", n,
		)
	}
	return nil
}

// decodeEvent parses payload as the event named by kind.
func decodeEvent(kind string, payload []byte) (Event, error) {
	var ev Event
	switch kind {
	case "address_info":
		ev = &AddressInfo{}
	case "node_online":
		ev = &NodeOnline{}
	case "node_offline":
		ev = &NodeOffline{}
	case "sensor_reply":
		ev = &SensorReply{}
	case "actuator_reply":
		ev = &ActuatorReply{}
	case "ack_timeout":
		ev = &AckTimeout{}
	case "protocol_error":
		ev = &ProtocolError{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return deref(ev), nil
}

// deref turns the decode target back into a value event.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *AddressInfo:
		return *e
	case *NodeOnline:
		return *e
	case *NodeOffline:
		return *e
	case *SensorReply:
		return *e
	case *ActuatorReply:
		return *e
	case *AckTimeout:
		return *e
	case *ProtocolError:
		return *e
	}
	return ev
}
