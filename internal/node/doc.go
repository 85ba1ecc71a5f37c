// Package node provides the node registry for the MambaNet address server.
//
// Every device that has presented its hardware identity on the bus has one
// record here. The registry maps identity to bus address, tracks online
// state, and persists the retry flags (NeedsRefresh, PendingNameWrite) that
// drive name and parent reads after a device reconnects.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                     Node Registry                        │
//	│                                                          │
//	│  ┌──────────────────┐    ┌────────────────────────────┐  │
//	│  │      Types       │    │      SQLiteRepository      │  │
//	│  │   (types.go)     │    │      (repository.go)       │  │
//	│  │                  │    │                            │  │
//	│  │ • Address        │    │ • Lookups by address/id    │  │
//	│  │ • Identity       │    │ • Filtered, paged queries  │  │
//	│  │ • ServiceMask    │    │ • Monotonic allocator      │  │
//	│  │ • Node           │    │ • Atomic transactions      │  │
//	│  └──────────────────┘    └────────────────────────────┘  │
//	└──────────────────────────────────────────────────────────┘
//
// # Addresses and identities
//
// Addresses are 32-bit values written as exactly eight hex digits
// ("0001ABCD"). Identities are the manufacturer/product/unit triple written
// as "XXXX:XXXX:XXXX". Parsing never pads or truncates: a string of the
// wrong length is rejected.
//
// # Atomicity
//
// Callers that need several reads and writes to appear as one step use
// Atomic, which runs a function against a transaction-bound Repository:
//
//	err := repo.Atomic(ctx, func(tx node.Repository) error {
//	    n, err := tx.GetByAddress(ctx, addr)
//	    if err != nil {
//	        return err
//	    }
//	    n.Name = "Desk A"
//	    return tx.Update(ctx, n)
//	})
package node
