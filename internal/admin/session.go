package admin

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a session slot.
type SessionState int

// Session states. A slot moves Empty -> Connected -> Closing -> Empty.
const (
	SessionEmpty SessionState = iota
	SessionConnected
	SessionClosing
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionEmpty:
		return "empty"
	case SessionConnected:
		return "connected"
	case SessionClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// writeTimeout bounds one write to a client.
const writeTimeout = 10 * time.Second

var (
	errLineTooLong = errors.New("admin: input line too long")
	errQueueFull   = errors.New("admin: output queue full")
)

// session is one admin client. Fields other than conn, out, closing and
// done are owned by the Server's Run goroutine.
type session struct {
	id    string
	slot  int
	conn  net.Conn
	state SessionState
	subs  Subscriptions

	out     chan []byte
	closing chan struct{} // closed on Connected -> Closing; writer flushes out
	done    chan struct{} // closed on teardown; both goroutines stop
}

// lineEvent is a complete command line read from a session.
type lineEvent struct {
	sess *session
	line string
}

// closeEvent reports that a session's reader or writer stopped. A nil
// err without flushed is a clean EOF from the peer; flushed means the
// writer drained the queue after the session entered Closing.
type closeEvent struct {
	sess    *session
	err     error
	flushed bool
}

func newSession(conn net.Conn, slot, queueSize int) *session {
	return &session{
		id:      uuid.NewString(),
		slot:    slot,
		conn:    conn,
		state:   SessionConnected,
		out:     make(chan []byte, queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// enqueue queues data for the writer without blocking.
func (s *session) enqueue(data []byte) error {
	select {
	case s.out <- data:
		return nil
	default:
		return errQueueFull
	}
}

// readLoop frames input into lines: CR bytes are dropped and LF ends a
// line. It blocks on lines until the Run goroutine takes each one, so a
// slow server pauses reading instead of buffering without bound. Every
// line is delivered before EOF is reported.
func (s *session) readLoop(lines chan<- lineEvent, closed chan<- closeEvent, maxLine int) {
	r := bufio.NewReader(s.conn)
	buf := make([]byte, 0, 256)

	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			s.report(closed, closeEvent{sess: s, err: err})
			return
		}

		switch b {
		case '\r':
			continue
		case '\n':
			select {
			case lines <- lineEvent{sess: s, line: string(buf)}:
			case <-s.done:
				return
			}
			buf = buf[:0]
		default:
			if len(buf) >= maxLine {
				s.report(closed, closeEvent{sess: s, err: errLineTooLong})
				return
			}
			buf = append(buf, b)
		}
	}
}

// writeLoop drains the output queue onto the connection. Once closing is
// signalled it writes whatever is still queued and reports flushed.
func (s *session) writeLoop(closed chan<- closeEvent) {
	for {
		select {
		case data := <-s.out:
			if err := s.write(data); err != nil {
				s.report(closed, closeEvent{sess: s, err: err})
				return
			}
		case <-s.closing:
			s.flush(closed)
			return
		case <-s.done:
			return
		}
	}
}

// flush writes the remaining queue. Nothing is enqueued once a session
// is Closing, so an empty queue is final.
func (s *session) flush(closed chan<- closeEvent) {
	for {
		select {
		case data := <-s.out:
			if err := s.write(data); err != nil {
				s.report(closed, closeEvent{sess: s, err: err})
				return
			}
		default:
			s.report(closed, closeEvent{sess: s, flushed: true})
			return
		}
	}
}

func (s *session) write(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // Write reports failure
	_, err := s.conn.Write(data)
	return err
}

// report tells the Run goroutine about ev, unless the session was
// already torn down.
func (s *session) report(closed chan<- closeEvent, ev closeEvent) {
	select {
	case closed <- ev:
	case <-s.done:
	}
}
