package mqtt

// Topics builds the topic names shared with the bus gateway.
//
//	topics := mqtt.Topics{Prefix: "mambanet/bus"}
//	topics.BusIn("address_info")   // "mambanet/bus/in/address_info"
//	topics.BusOut("ping_request")  // "mambanet/bus/out/ping_request"
type Topics struct {
	Prefix string
}

// BusIn returns the topic the gateway publishes inbound bus events of kind on.
func (t Topics) BusIn(kind string) string {
	return t.Prefix + "/in/" + kind
}

// AllBusIn matches every inbound bus event topic.
func (t Topics) AllBusIn() string {
	return t.Prefix + "/in/+"
}

// BusOut returns the topic the gateway forwards onto the bus.
func (t Topics) BusOut(kind string) string {
	return t.Prefix + "/out/" + kind
}

// Status is the retained online/offline status topic of this server.
func (t Topics) Status() string {
	return t.Prefix + "/server/status"
}

// Kind extracts the event kind from an inbound topic.
// It returns "" when topic is not under BusIn.
func (t Topics) Kind(topic string) string {
	base := t.Prefix + "/in/"
	if len(topic) <= len(base) || topic[:len(base)] != base {
		return ""
	}
	return topic[len(base):]
}
