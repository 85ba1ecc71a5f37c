package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAddressRequest records a node asking for an address.
// allocated is true when a fresh address was issued, false when the
// stored one was handed back.
func (c *Client) WriteAddressRequest(identity, address string, allocated bool) {
	outcome := "reused"
	if allocated {
		outcome = "allocated"
	}
	c.WritePoint("address_request",
		map[string]string{"identity": identity, "address": address, "outcome": outcome},
		map[string]any{"count": 1},
	)
}

// WriteConflict records an address conflict detected on an online event.
func (c *Client) WriteConflict(identity, address string) {
	c.WritePoint("address_conflict",
		map[string]string{"identity": identity, "address": address},
		map[string]any{"count": 1},
	)
}

// WriteAckTimeout records a bus write that was never acknowledged.
func (c *Client) WriteAckTimeout(address string, object uint16) {
	c.WritePoint("ack_timeout",
		map[string]string{"address": address, "object": strconv.Itoa(int(object))},
		map[string]any{"count": 1},
	)
}

// WriteNodeStatus records an online or offline transition.
func (c *Client) WriteNodeStatus(identity, address string, active bool) {
	c.WritePoint("node_status",
		map[string]string{"identity": identity, "address": address},
		map[string]any{"active": active},
	)
}

// WritePoint writes a point stamped with the current time.
// It is a no-op while disconnected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
