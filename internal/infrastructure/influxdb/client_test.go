package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mbn-address/internal/infrastructure/config"
)

// fakeWriteAPI records points. Unused methods fall through to the nil
// embedded interface.
type fakeWriteAPI struct {
	api.WriteAPI

	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriteAPI) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func tagValue(p *write.Point, key string) string {
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value
		}
	}
	return ""
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Org:     "o",
		Bucket:  "b",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriters(t *testing.T) {
	fake := &fakeWriteAPI{}
	c := newClient(nil, fake, config.InfluxDBConfig{})

	c.WriteAddressRequest("0001:000C:0042", "00010000", true)
	c.WriteAddressRequest("0001:000C:0042", "00010000", false)
	c.WriteConflict("0001:000C:0042", "0001ABCD")
	c.WriteAckTimeout("0001ABCD", 1)
	c.WriteNodeStatus("0001:000C:0042", "0001ABCD", true)

	tests := []struct {
		measurement string
		tag         string
		want        string
	}{
		{"address_request", "outcome", "allocated"},
		{"address_request", "outcome", "reused"},
		{"address_conflict", "address", "0001ABCD"},
		{"ack_timeout", "object", "1"},
		{"node_status", "identity", "0001:000C:0042"},
	}

	if len(fake.points) != len(tests) {
		t.Fatalf("wrote %d points, want %d", len(fake.points), len(tests))
	}
	for i, tt := range tests {
		p := fake.points[i]
		if p.Name() != tt.measurement {
			t.Errorf("point %d measurement = %q, want %q", i, p.Name(), tt.measurement)
		}
		if got := tagValue(p, tt.tag); got != tt.want {
			t.Errorf("point %d tag %s = %q, want %q", i, tt.tag, got, tt.want)
		}
	}
}

func TestWritePoint_Disconnected(t *testing.T) {
	fake := &fakeWriteAPI{}
	c := newClient(nil, fake, config.InfluxDBConfig{})
	c.connected = false

	c.WriteConflict("0001:000C:0042", "0001ABCD")
	c.Flush()

	if len(fake.points) != 0 || fake.flushes != 0 {
		t.Errorf("disconnected client wrote %d points, %d flushes", len(fake.points), fake.flushes)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
}
