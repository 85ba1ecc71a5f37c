// Package admin serves the administrative command protocol on a local
// Unix socket.
//
// # Protocol
//
// One command per LF-terminated line (CR bytes are ignored):
//
//	<VERB> <json-object>
//
// and one reply line per command:
//
//	OK {}
//	NODES {"result":[...]}
//	ERROR {"msg":"Node not found"}
//
// Sessions that enable it with NOTIFY {"enable":["RELEASED"]} also get
//
//	RELEASED {"MambaNetAddr":"0001ABCD"}
//
// whenever an address is freed by REMOVE or REASSIGN.
//
// # Components
//
//   - Dispatcher parses a line into a typed request, calls the engine and
//     formats the reply.
//   - Server owns the socket and a fixed pool of sessions. Every line and
//     every bus event is handled to completion on the Run goroutine before
//     the next one starts.
//
// # Backpressure
//
// Each session has a bounded output queue. A session whose queue
// overflows, or that sends a line longer than the configured maximum, is
// closed. Nothing is dropped silently.
package admin
