// Package bus defines the messages the address server exchanges with
// nodes on the MambaNet bus, and a Transport that carries them over MQTT
// to the gateway that owns the physical bus.
//
// Outbound Messages are fire-and-forget. Acknowledgements and timeouts
// come back later as independent Events, correlated only by target
// address and object number.
//
// # Topics
//
//	<prefix>/in/address_info     AddressInfo
//	<prefix>/in/node_online      NodeOnline
//	<prefix>/in/node_offline     NodeOffline
//	<prefix>/in/sensor_reply     SensorReply
//	<prefix>/in/actuator_reply   ActuatorReply
//	<prefix>/in/ack_timeout      AckTimeout
//	<prefix>/in/protocol_error   ProtocolError
//
//	<prefix>/out/address_response  AddressResponse
//	<prefix>/out/read_request      ReadRequest
//	<prefix>/out/actuator_write    ActuatorWrite
//	<prefix>/out/ping_request      PingRequest
//
// Payloads are JSON. Addresses are eight hex digits, identities use the
// XXXX:XXXX:XXXX form and object data is base64.
package bus
