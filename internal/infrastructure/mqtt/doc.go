// Package mqtt carries bus traffic between the address server and the bus
// gateway over an MQTT broker.
//
// The gateway owns the physical bus and its wire encoding. It publishes
// decoded bus events under "<prefix>/in/<kind>" and forwards anything the
// server publishes under "<prefix>/out/<kind>" onto the bus.
//
// # Connection lifecycle
//
//	┌──────────┐  Connect()   ┌───────────┐  connection lost  ┌──────────────┐
//	│  (none)  │─────────────▶│ connected │──────────────────▶│ reconnecting │
//	└──────────┘              └───────────┘◀──────────────────└──────────────┘
//	                                │           resubscribe
//	                                │ Close()
//	                                ▼
//	                          ┌───────────┐
//	                          │  closed   │
//	                          └───────────┘
//
// On every (re)connect the client restores its subscriptions and publishes
// a retained "online" status. A Last Will publishes "offline" if the
// process dies without calling Close.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Bus.TopicPrefix})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllBusIn(), func(topic string, payload []byte) error {
//	    return handle(topic, payload)
//	})
package mqtt
