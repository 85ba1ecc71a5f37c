package admin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mbn-address/internal/bus"
	"github.com/nerrad567/mbn-address/internal/node"
)

// socketDirPermissions is the mode of a socket directory created on demand.
const socketDirPermissions = 0755

// shutdownDrainTimeout bounds how long shutdown waits for sessions to
// flush queued output.
const shutdownDrainTimeout = 2 * time.Second

var errDrainTimeout = errors.New("admin: output not flushed before shutdown")

// Config holds admin socket settings.
type Config struct {
	SocketPath      string
	SocketMode      os.FileMode
	MaxSessions     int
	OutputQueueSize int
	MaxLineLength   int
}

// EventHandler applies bus events. *engine.Engine satisfies it.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev bus.Event) error
}

// Server is the admin connection manager.
//
// Run is the only goroutine that touches session state, dispatches
// commands or applies bus events. Per-session goroutines only move bytes
// between the socket and channels.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher
	handler    EventHandler
	events     <-chan bus.Event
	logger     Logger

	listener net.Listener
	sessions []*session
	active   atomic.Int32

	accepted chan net.Conn
	lines    chan lineEvent
	closed   chan closeEvent
	quit     chan struct{}

	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   []node.Address
}

// NewServer creates a connection manager. Call Listen, then Run.
//
// Parameters:
//   - cfg: Socket path, permissions and pool limits
//   - dispatcher: Command dispatcher
//   - handler: Receiver for bus events
//   - events: Inbound bus events (may be nil)
//   - logger: Logger (nil discards)
func NewServer(cfg Config, dispatcher *Dispatcher, handler EventHandler, events <-chan bus.Event, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		handler:    handler,
		events:     events,
		logger:     logger,
		sessions:   make([]*session, cfg.MaxSessions),
		accepted:   make(chan net.Conn),
		lines:      make(chan lineEvent),
		closed:     make(chan closeEvent),
		quit:       make(chan struct{}),
	}
}

// Listen binds the socket, replacing any stale socket file.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), socketDirPermissions); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", s.cfg.SocketPath, err)
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.SocketPath, err)
	}
	if s.cfg.SocketMode != 0 {
		if err := os.Chmod(s.cfg.SocketPath, s.cfg.SocketMode); err != nil {
			ln.Close() //nolint:errcheck // Best effort cleanup on error path
			return fmt.Errorf("setting socket permissions: %w", err)
		}
	}

	s.listener = ln
	s.logger.Info("admin socket listening", "path", s.cfg.SocketPath, "max_sessions", s.cfg.MaxSessions)
	return nil
}

// Addr returns the bound socket address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops listening and removes the socket file. It is safe to call
// more than once and without Run, so callers can defer it after Listen.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.listener != nil {
			err = s.listener.Close()
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
		if rmErr := os.Remove(s.cfg.SocketPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
			err = fmt.Errorf("removing socket %s: %w", s.cfg.SocketPath, rmErr)
		}
	})
	return err
}

// ActiveSessions returns the number of sessions holding a slot, including
// those still flushing output.
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

// Released queues a RELEASED notification. It is flushed to subscribed
// sessions once the current line or bus event has been handled.
func (s *Server) Released(addr node.Address) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, addr)
	s.pendingMu.Unlock()
}

// Run serves until ctx is cancelled, then closes every session and the
// listener and removes the socket file.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("admin: Run called before Listen")
	}
	go s.acceptLoop()
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case conn := <-s.accepted:
			s.open(conn)

		case ev := <-s.lines:
			if ev.sess.state != SessionConnected {
				continue
			}
			s.handleLine(ctx, ev)

		case ev := <-s.closed:
			s.handleClosed(ev)

		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			if err := s.handler.HandleEvent(ctx, ev); err != nil {
				s.logger.Error("bus event failed", "error", err)
			}
			s.flushReleased()
		}
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept failed", "error", err)
			}
			return
		}
		select {
		case s.accepted <- conn:
		case <-s.quit:
			conn.Close() //nolint:errcheck // Shutting down
			return
		}
	}
}

// open places conn in a free slot or closes it if the pool is full.
func (s *Server) open(conn net.Conn) {
	slot := -1
	for i, sess := range s.sessions {
		if sess == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		s.logger.Warn("session pool full, connection rejected", "max_sessions", s.cfg.MaxSessions)
		conn.Close() //nolint:errcheck // Rejected connection
		return
	}

	sess := newSession(conn, slot, s.cfg.OutputQueueSize)
	s.sessions[slot] = sess
	s.active.Add(1)

	go sess.readLoop(s.lines, s.closed, s.cfg.MaxLineLength)
	go sess.writeLoop(s.closed)

	s.logger.Info("admin session opened", "session", sess.id, "slot", slot)
}

func (s *Server) handleLine(ctx context.Context, ev lineEvent) {
	reply, ok := s.dispatcher.Dispatch(ctx, ev.line, &ev.sess.subs)
	if ok {
		s.send(ev.sess, reply)
	}
	s.flushReleased()
}

// send queues a reply, closing the session if its queue is full.
func (s *Server) send(sess *session, reply Reply) {
	if sess.state != SessionConnected {
		return
	}
	if err := sess.enqueue(reply.Line()); err != nil {
		s.teardown(sess, err)
	}
}

// flushReleased fans pending RELEASED notifications out to subscribers.
func (s *Server) flushReleased() {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, addr := range pending {
		reply := releasedReply(addr)
		for _, sess := range s.sessions {
			if sess != nil && sess.subs.Has(SubscribeReleased) {
				s.send(sess, reply)
			}
		}
	}
}

// handleClosed reacts to a reader or writer stopping. A peer EOF starts
// a graceful close; errors and a finished flush free the slot.
func (s *Server) handleClosed(ev closeEvent) {
	switch {
	case ev.flushed || ev.err != nil:
		s.teardown(ev.sess, ev.err)
	default:
		s.beginClose(ev.sess)
	}
}

// beginClose moves a session to Closing. Its input is ignored from now on
// and the writer flushes queued output before the slot is freed.
func (s *Server) beginClose(sess *session) {
	if sess.state != SessionConnected {
		return
	}
	sess.state = SessionClosing
	close(sess.closing)
	s.logger.Debug("admin session closing", "session", sess.id)
}

// teardown closes a session and frees its slot. It is safe to call more
// than once for the same session.
func (s *Server) teardown(sess *session, cause error) {
	if sess.state == SessionEmpty {
		return
	}
	close(sess.done)
	sess.conn.Close() //nolint:errcheck // Session is going away

	if s.sessions[sess.slot] == sess {
		s.sessions[sess.slot] = nil
		s.active.Add(-1)
	}
	sess.state = SessionEmpty

	if cause != nil {
		s.logger.Warn("admin session closed", "session", sess.id, "reason", cause)
	} else {
		s.logger.Info("admin session closed", "session", sess.id)
	}
}

// shutdown closes the listener and socket file, then lets every session
// flush its queue, bounded by shutdownDrainTimeout.
func (s *Server) shutdown() {
	close(s.quit)
	if err := s.Close(); err != nil {
		s.logger.Warn("closing admin socket", "path", s.cfg.SocketPath, "error", err)
	}

	for _, sess := range s.sessions {
		if sess != nil {
			s.beginClose(sess)
		}
	}

	timer := time.NewTimer(shutdownDrainTimeout)
	defer timer.Stop()
	for s.active.Load() > 0 {
		select {
		case <-s.lines:
		case ev := <-s.closed:
			if ev.flushed || ev.err != nil {
				s.teardown(ev.sess, ev.err)
			}
		case <-timer.C:
			for _, sess := range s.sessions {
				if sess != nil {
					s.teardown(sess, errDrainTimeout)
				}
			}
		}
	}
	s.logger.Info("admin socket closed")
}
