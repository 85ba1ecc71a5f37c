// Package influxdb records address-server diagnostics in InfluxDB.
//
// Nothing in the allocation protocol depends on these points; they exist
// so operators can chart address requests, conflicts, acknowledgement
// timeouts and online/offline churn per node over time.
//
// # Measurements
//
//	address_request  tags: identity, address, outcome (allocated|reused)
//	address_conflict tags: identity, address
//	ack_timeout      tags: address, object
//	node_status      tags: identity, address      fields: active
//
// Writes are non-blocking and batched according to config.yaml
// (batch_size, flush_interval); failures surface through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // diagnostics off
//	}
//	defer client.Close()
//
//	client.WriteConflict("0001:000C:0042", "0001ABCD")
package influxdb
