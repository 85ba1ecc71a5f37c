package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mbn-address/internal/bus"
	"github.com/nerrad567/mbn-address/internal/infrastructure/database"
	"github.com/nerrad567/mbn-address/internal/node"
	_ "github.com/nerrad567/mbn-address/migrations"
)

const firstAddress node.Address = 0x00010000

var (
	testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	identityA = node.Identity{Manufacturer: 0x0001, Product: 0x000C, Unit: 0x0001}
	identityB = node.Identity{Manufacturer: 0x0001, Product: 0x000C, Unit: 0x0002}
)

// recordingSender captures every bus message.
type recordingSender struct {
	mu       sync.Mutex
	messages []bus.Message
	err      error
}

func (s *recordingSender) Send(_ context.Context, msg bus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.err
}

func (s *recordingSender) take() []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.messages
	s.messages = nil
	return out
}

// recordingNotifier captures Released notifications.
type recordingNotifier struct {
	released []node.Address
}

func (n *recordingNotifier) Released(addr node.Address) {
	n.released = append(n.released, addr)
}

// recordingDiagnostics counts diagnostics by kind.
type recordingDiagnostics struct {
	requests, conflicts, timeouts, status int
}

func (d *recordingDiagnostics) WriteAddressRequest(string, string, bool) { d.requests++ }
func (d *recordingDiagnostics) WriteConflict(string, string)             { d.conflicts++ }
func (d *recordingDiagnostics) WriteAckTimeout(string, uint16)           { d.timeouts++ }
func (d *recordingDiagnostics) WriteNodeStatus(string, string, bool)     { d.status++ }

type fixture struct {
	engine   *Engine
	store    *node.SQLiteRepository
	sender   *recordingSender
	notifier *recordingNotifier
	diag     *recordingDiagnostics
}

func setupEngine(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "engine.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	f := &fixture{
		store:    node.NewSQLiteRepository(db.DB, firstAddress),
		sender:   &recordingSender{},
		notifier: &recordingNotifier{},
		diag:     &recordingDiagnostics{},
	}
	f.engine = New(f.store, f.sender,
		WithClock(func() time.Time { return testTime }),
		WithDiagnostics(f.diag),
	)
	f.engine.AddNotifier(f.notifier)
	return f
}

// seed inserts a node directly into the store.
func (f *fixture) seed(t *testing.T, n *node.Node) *node.Node {
	t.Helper()
	if n.FirstSeen.IsZero() {
		n.FirstSeen = testTime
	}
	if err := f.store.Create(context.Background(), n); err != nil {
		t.Fatalf("seed Create() error = %v", err)
	}
	return n
}

func (f *fixture) get(t *testing.T, id node.Identity) *node.Node {
	t.Helper()
	n, err := f.store.GetByIdentity(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByIdentity(%s) error = %v", id, err)
	}
	return n
}

func (f *fixture) handle(t *testing.T, ev bus.Event) {
	t.Helper()
	if err := f.engine.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent(%T) error = %v", ev, err)
	}
}

func TestAddressInfo_RequestAllocatesThenReuses(t *testing.T) {
	f := setupEngine(t)
	request := bus.AddressInfo{Identity: identityA, Services: 0x01}

	f.handle(t, request)
	first := f.sender.take()
	if len(first) != 1 {
		t.Fatalf("sent %d messages, want 1", len(first))
	}
	resp, ok := first[0].(bus.AddressResponse)
	if !ok {
		t.Fatalf("sent %T, want AddressResponse", first[0])
	}
	if resp.Address != firstAddress || !resp.Services.Valid() || resp.Identity != identityA {
		t.Errorf("first response = %+v", resp)
	}

	n := f.get(t, identityA)
	if n.Active || !n.NeedsRefresh || n.AddressRequests != 1 ||
		!n.FirstSeen.Equal(testTime) || !n.LastSeen.Equal(testTime) {
		t.Errorf("new record = %+v", n)
	}

	// Resubmitted, still invalid: same address, counter bumped.
	f.handle(t, request)
	second := f.sender.take()
	if len(second) != 1 || second[0].(bus.AddressResponse).Address != firstAddress {
		t.Errorf("second response = %+v, want address %s", second, firstAddress)
	}
	if got := f.get(t, identityA).AddressRequests; got != 2 {
		t.Errorf("AddressRequests = %d, want 2", got)
	}
	if f.diag.requests != 2 {
		t.Errorf("diagnostics requests = %d, want 2", f.diag.requests)
	}
}

func TestAddressInfo_InvalidNonZeroIsRequest(t *testing.T) {
	f := setupEngine(t)

	f.handle(t, bus.AddressInfo{Identity: identityA, Address: 0x0001ABCD, Services: 0x01})
	msgs := f.sender.take()
	if len(msgs) != 1 || msgs[0].(bus.AddressResponse).Address != firstAddress {
		t.Errorf("response = %+v, want fresh allocation", msgs)
	}
}

func TestAddressInfo_Heartbeat(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, &node.Node{Identity: identityA, Address: 0x0001ABCD, LastSeen: testTime.Add(-time.Hour)})

	f.handle(t, bus.AddressInfo{Identity: identityA, Address: 0x0001ABCD, Services: node.ServiceValid})
	if got := f.get(t, identityA).LastSeen; !got.Equal(testTime) {
		t.Errorf("LastSeen = %v, want %v", got, testTime)
	}
	if msgs := f.sender.take(); len(msgs) != 0 {
		t.Errorf("heartbeat sent %d messages", len(msgs))
	}

	// Unknown address heartbeat is ignored.
	f.handle(t, bus.AddressInfo{Identity: identityB, Address: 0x0001FFFF, Services: node.ServiceValid})
	if _, err := f.store.GetByIdentity(context.Background(), identityB); !errors.Is(err, node.ErrNodeNotFound) {
		t.Errorf("heartbeat created a record: %v", err)
	}
}

func TestNodeOnline_FirstContactCreatesAndReads(t *testing.T) {
	f := setupEngine(t)

	f.handle(t, bus.NodeOnline{Identity: identityA, Address: 0x0001ABCD, Services: 0x81, EngineAddress: 0x00020000})

	n := f.get(t, identityA)
	if !n.Active || !n.NeedsRefresh || n.Address != 0x0001ABCD || n.EngineAddress != 0x00020000 {
		t.Errorf("record = %+v", n)
	}

	msgs := f.sender.take()
	want := []bus.Message{
		bus.ReadRequest{Target: 0x0001ABCD, Object: bus.ObjectName, Kind: bus.KindActuator},
		bus.ReadRequest{Target: 0x0001ABCD, Object: bus.ObjectHardwareParent, Kind: bus.KindSensor},
	}
	if len(msgs) != len(want) {
		t.Fatalf("sent %v, want %v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestNodeOnline_ConsistentUpdates(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, &node.Node{Identity: identityA, Address: 0x0001ABCD, Services: 0x01, Name: "Desk A"})

	f.handle(t, bus.NodeOnline{Identity: identityA, Address: 0x0001ABCD, Services: 0x83, EngineAddress: 0x00020000})

	n := f.get(t, identityA)
	if !n.Active || n.Services != 0x03 || n.EngineAddress != 0x00020000 {
		t.Errorf("record = %+v", n)
	}
	if msgs := f.sender.take(); len(msgs) != 0 {
		t.Errorf("refreshed record sent %v", msgs)
	}
	if f.diag.status != 1 {
		t.Errorf("status diagnostics = %d, want 1", f.diag.status)
	}
}

func TestNodeOnline_StoresServicesWithoutValidBit(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	f.handle(t, bus.AddressInfo{Identity: identityA, Services: 0x01})
	if got := f.get(t, identityA).Services; got != 0x01 {
		t.Fatalf("after request Services = %#x, want 0x01", got)
	}

	f.handle(t, bus.NodeOnline{Identity: identityA, Address: firstAddress, Services: 0x81})
	if got := f.get(t, identityA).Services; got != 0x01 {
		t.Errorf("after online Services = %#x, want 0x01", got)
	}

	services := node.ServiceMask(0x01)
	nodes, err := f.engine.Query(ctx, node.Query{Filter: node.Filter{Services: &services}, Limit: 10})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(nodes) != 1 {
		t.Errorf("Services=0x01 matched %d nodes, want 1", len(nodes))
	}
}

func TestNodeOnline_PendingNameWriteRetried(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, &node.Node{
		Identity:         identityA,
		Address:          0x0001ABCD,
		Name:             "Desk A",
		PendingNameWrite: true,
	})

	f.handle(t, bus.NodeOnline{Identity: identityA, Address: 0x0001ABCD})

	msgs := f.sender.take()
	if len(msgs) != 1 {
		t.Fatalf("sent %v, want one name write", msgs)
	}
	w, ok := msgs[0].(bus.ActuatorWrite)
	if !ok || w.Object != bus.ObjectName || string(w.Data) != "Desk A" || w.Target != 0x0001ABCD {
		t.Errorf("message = %+v", msgs[0])
	}
	if f.get(t, identityA).PendingNameWrite {
		t.Error("PendingNameWrite not cleared")
	}
}

func TestNodeOnline_Conflict(t *testing.T) {
	tests := []struct {
		name   string
		report bus.NodeOnline
	}{
		{
			name:   "address held by another identity",
			report: bus.NodeOnline{Identity: identityB, Address: 0x0001ABCD, Services: 0x81},
		},
		{
			name:   "identity registered at another address",
			report: bus.NodeOnline{Identity: identityA, Address: 0x0001BBBB, Services: 0x81},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupEngine(t)
			f.seed(t, &node.Node{Identity: identityA, Address: 0x0001ABCD})

			f.handle(t, tt.report)

			msgs := f.sender.take()
			want := bus.AddressResponse{Identity: tt.report.Identity, Services: 0x01}
			if len(msgs) != 1 || msgs[0] != want {
				t.Errorf("sent %+v, want %+v", msgs, want)
			}

			// Registry untouched.
			n := f.get(t, identityA)
			if n.Active || n.Address != 0x0001ABCD {
				t.Errorf("record mutated: %+v", n)
			}
			if _, err := f.store.GetByIdentity(context.Background(), identityB); !errors.Is(err, node.ErrNodeNotFound) {
				t.Errorf("conflict created a record: %v", err)
			}
			if f.diag.conflicts != 1 {
				t.Errorf("conflicts = %d, want 1", f.diag.conflicts)
			}
		})
	}
}

func TestNodeOffline(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, &node.Node{Identity: identityA, Address: 0x0001ABCD, Active: true})

	f.handle(t, bus.NodeOffline{Address: 0x0001ABCD})
	if f.get(t, identityA).Active {
		t.Error("node still active after offline")
	}

	// Repeated and unknown offline events are harmless.
	f.handle(t, bus.NodeOffline{Address: 0x0001ABCD})
	f.handle(t, bus.NodeOffline{Address: 0x0001FFFF})
	if f.diag.status != 1 {
		t.Errorf("status diagnostics = %d, want 1", f.diag.status)
	}
}

func TestReplies(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, &node.Node{Identity: identityA, Address: 0x0001ABCD, NeedsRefresh: true})

	f.handle(t, bus.SensorReply{Source: 0x0001ABCD, Object: bus.ObjectHardwareParent, Data: []byte{0, 1, 0, 2, 0, 3}})
	f.handle(t, bus.ActuatorReply{Source: 0x0001ABCD, Object: bus.ObjectName, Data: []byte("Desk A\x00\x00")})

	n := f.get(t, identityA)
	if n.Parent != (node.Identity{Manufacturer: 1, Product: 2, Unit: 3}) {
		t.Errorf("Parent = %v", n.Parent)
	}
	if n.Name != "Desk A" || n.NeedsRefresh {
		t.Errorf("Name = %q NeedsRefresh = %v", n.Name, n.NeedsRefresh)
	}

	// Malformed parent data is ignored.
	f.handle(t, bus.SensorReply{Source: 0x0001ABCD, Object: bus.ObjectHardwareParent, Data: []byte{1}})
	if f.get(t, identityA).Parent != n.Parent {
		t.Error("malformed reply changed Parent")
	}
}

func TestAckTimeout(t *testing.T) {
	f := setupEngine(t)
	f.seed(t, &node.Node{Identity: identityA, Address: 0x0001ABCD, Active: true})

	f.handle(t, bus.AckTimeout{Target: 0x0001ABCD, Object: bus.ObjectEngineAddress})
	if f.get(t, identityA).PendingNameWrite {
		t.Error("non-name timeout set PendingNameWrite")
	}

	f.handle(t, bus.AckTimeout{Target: 0x0001ABCD, Object: bus.ObjectName})
	if !f.get(t, identityA).PendingNameWrite {
		t.Error("name timeout did not set PendingNameWrite")
	}
	if f.diag.timeouts != 2 {
		t.Errorf("timeouts = %d, want 2", f.diag.timeouts)
	}
}

func TestSendFailureDoesNotUndoCommit(t *testing.T) {
	f := setupEngine(t)
	f.sender.err = errors.New("broker down")

	f.handle(t, bus.AddressInfo{Identity: identityA})
	if got := f.get(t, identityA).Address; got != firstAddress {
		t.Errorf("Address = %s, want %s", got, firstAddress)
	}
}

func TestProtocolErrorIgnored(t *testing.T) {
	f := setupEngine(t)
	f.handle(t, bus.ProtocolError{Code: 1, Message: "crc"})
	if msgs := f.sender.take(); len(msgs) != 0 {
		t.Errorf("protocol error sent %v", msgs)
	}
}
