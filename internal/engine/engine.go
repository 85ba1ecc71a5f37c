package engine

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/mbn-address/internal/bus"
	"github.com/nerrad567/mbn-address/internal/node"
)

// Notifier receives asynchronous registry notifications.
// Implementations must not block and must not call back into the engine.
type Notifier interface {
	// Released reports that addr is no longer held by any node.
	Released(addr node.Address)
}

// Diagnostics receives protocol events for time-series storage.
// *influxdb.Client satisfies it.
type Diagnostics interface {
	WriteAddressRequest(identity, address string, allocated bool)
	WriteConflict(identity, address string)
	WriteAckTimeout(address string, object uint16)
	WriteNodeStatus(identity, address string, active bool)
}

// Logger is the logging interface the engine needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine is the address allocation engine.
type Engine struct {
	mu        sync.Mutex
	store     node.Store
	sender    bus.Sender
	notifiers []Notifier
	diag      Diagnostics
	logger    Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDiagnostics sets the diagnostics sink.
func WithDiagnostics(d Diagnostics) Option {
	return func(e *Engine) { e.diag = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
//
// Parameters:
//   - store: Node registry
//   - sender: Bus the engine replies on
//   - opts: Optional logger, diagnostics sink and clock
//
// Returns:
//   - *Engine: Ready-to-use engine
func New(store node.Store, sender bus.Sender, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		sender: sender,
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddNotifier registers a Released subscriber. Call before the engine
// starts handling traffic.
func (e *Engine) AddNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// effects collects what an operation emits once it has committed.
type effects struct {
	messages []bus.Message
	released []node.Address
	diag     []func(Diagnostics)
}

func (fx *effects) send(msg bus.Message) {
	fx.messages = append(fx.messages, msg)
}

func (fx *effects) release(addr node.Address) {
	fx.released = append(fx.released, addr)
}

func (fx *effects) record(fn func(Diagnostics)) {
	fx.diag = append(fx.diag, fn)
}

// requestRefresh queues reads of the name and hardware parent of addr.
func (fx *effects) requestRefresh(addr node.Address) {
	fx.send(bus.ReadRequest{Target: addr, Object: bus.ObjectName, Kind: bus.KindActuator})
	fx.send(bus.ReadRequest{Target: addr, Object: bus.ObjectHardwareParent, Kind: bus.KindSensor})
}

// atomic runs fn under the engine lock in one registry transaction and
// emits its effects after commit. Nothing is emitted if fn fails.
func (e *Engine) atomic(ctx context.Context, fn func(tx node.Repository, fx *effects) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fx effects
	if err := e.store.Atomic(ctx, func(tx node.Repository) error {
		return fn(tx, &fx)
	}); err != nil {
		return err
	}

	e.emit(ctx, &fx)
	return nil
}

func (e *Engine) emit(ctx context.Context, fx *effects) {
	for _, msg := range fx.messages {
		if err := e.sender.Send(ctx, msg); err != nil {
			e.logger.Warn("bus send failed", "message", msg, "error", err)
		}
	}
	for _, addr := range fx.released {
		for _, n := range e.notifiers {
			n.Released(addr)
		}
	}
	if e.diag != nil {
		for _, fn := range fx.diag {
			fn(e.diag)
		}
	}
}
