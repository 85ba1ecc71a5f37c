package bus

import (
	"context"
	"encoding/binary"

	"github.com/nerrad567/mbn-address/internal/node"
)

// Object is an object number on a node.
type Object uint16

// Default node objects the address server reads and writes.
const (
	// ObjectName is the display-name actuator (octet string, 31 bytes max).
	ObjectName Object = 1

	// ObjectEngineAddress is the serving-engine actuator (uint32).
	ObjectEngineAddress Object = 14

	// ObjectHardwareParent is the hardware-location sensor (three uint16).
	ObjectHardwareParent Object = 15
)

// ObjectKind selects which side of an object a read targets.
type ObjectKind string

// Object kinds.
const (
	KindSensor   ObjectKind = "sensor"
	KindActuator ObjectKind = "actuator"
)

// Message is something the server sends onto the bus.
type Message interface {
	messageKind() string
}

// AddressResponse tells the node with Identity which address to use.
// Address 0 with the validity bit cleared forces it to request a new one.
type AddressResponse struct {
	Identity      node.Identity    `json:"identity"`
	Address       node.Address     `json:"address"`
	EngineAddress node.Address     `json:"engine_address"`
	Services      node.ServiceMask `json:"services"`
}

// ReadRequest asks Target for the current value of one of its objects.
type ReadRequest struct {
	Target node.Address `json:"target"`
	Object Object       `json:"object"`
	Kind   ObjectKind   `json:"kind"`
}

// ActuatorWrite sets an actuator object on Target.
type ActuatorWrite struct {
	Target node.Address `json:"target"`
	Object Object       `json:"object"`
	Data   []byte       `json:"data"`
}

// PingRequest probes Target for liveness. Use node.BroadcastAddress for
// a bus-wide probe.
type PingRequest struct {
	Target node.Address `json:"target"`
}

func (AddressResponse) messageKind() string { return "address_response" }
func (ReadRequest) messageKind() string     { return "read_request" }
func (ActuatorWrite) messageKind() string   { return "actuator_write" }
func (PingRequest) messageKind() string     { return "ping_request" }

// Sender sends messages onto the bus. Delivery is not confirmed.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Event is something the bus reports to the server.
type Event interface {
	eventKind() string
}

// AddressInfo is an unsolicited address announcement. A valid Address is
// a heartbeat; a zero or invalid one is a request for an address.
type AddressInfo struct {
	Identity      node.Identity    `json:"identity"`
	Address       node.Address     `json:"address"`
	Services      node.ServiceMask `json:"services"`
	EngineAddress node.Address     `json:"engine_address"`
}

// NodeOnline reports a node appearing on the bus.
type NodeOnline struct {
	Identity      node.Identity    `json:"identity"`
	Address       node.Address     `json:"address"`
	Services      node.ServiceMask `json:"services"`
	EngineAddress node.Address     `json:"engine_address"`
}

// NodeOffline reports a node no longer answering.
type NodeOffline struct {
	Address node.Address `json:"address"`
}

// SensorReply carries the value of a sensor object.
type SensorReply struct {
	Source node.Address `json:"source"`
	Object Object       `json:"object"`
	Data   []byte       `json:"data"`
}

// ActuatorReply carries the value of an actuator object.
type ActuatorReply struct {
	Source node.Address `json:"source"`
	Object Object       `json:"object"`
	Data   []byte       `json:"data"`
}

// AckTimeout reports a request to Target that was never acknowledged.
type AckTimeout struct {
	Target node.Address `json:"target"`
	Object Object       `json:"object"`
}

// ProtocolError is a bus-level error with no reply path.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (AddressInfo) eventKind() string   { return "address_info" }
func (NodeOnline) eventKind() string    { return "node_online" }
func (NodeOffline) eventKind() string   { return "node_offline" }
func (SensorReply) eventKind() string   { return "sensor_reply" }
func (ActuatorReply) eventKind() string { return "actuator_reply" }
func (AckTimeout) eventKind() string    { return "ack_timeout" }
func (ProtocolError) eventKind() string { return "protocol_error" }

// parentDataLength is three big-endian uint16 values.
const parentDataLength = 6

// DecodeParent decodes hardware-parent object data.
func DecodeParent(data []byte) (node.Identity, error) {
	if len(data) != parentDataLength {
		return node.Identity{}, ErrInvalidPayload
	}
	return node.Identity{
		Manufacturer: binary.BigEndian.Uint16(data[0:2]),
		Product:      binary.BigEndian.Uint16(data[2:4]),
		Unit:         binary.BigEndian.Uint16(data[4:6]),
	}, nil
}

// EncodeEngineAddress encodes engine-address object data.
func EncodeEngineAddress(addr node.Address) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(addr))
}
