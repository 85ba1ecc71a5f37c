// Package engine implements the MambaNet address allocation engine.
//
// The engine is the only writer of the node registry. It reacts to bus
// events (address requests, online and offline transitions, object
// replies, acknowledgement timeouts) and serves the administrative
// operations behind the admin socket.
//
// Every operation holds one engine-wide lock and runs in one registry
// transaction, so bus handlers and admin commands never interleave and
// nothing observes a half-applied change. Bus messages and Released
// notifications produced by an operation are collected while it runs and
// emitted only after its transaction commits.
//
// There is no in-memory table of outstanding requests. Work that must be
// retried is recorded on the node itself:
//
//	NeedsRefresh      name and hardware parent still to be read
//	PendingNameWrite  name still to be pushed on the next online event
//
// so retries survive restarts and out-of-order acknowledgements.
package engine
