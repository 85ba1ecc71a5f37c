package node

import "errors"

// Domain errors for the node package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, node.ErrNodeNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNodeNotFound is returned when no record matches an address or identity.
	ErrNodeNotFound = errors.New("node: not found")

	// ErrNodeExists is returned when creating a record for an identity that is already registered.
	ErrNodeExists = errors.New("node: identity already registered")

	// ErrNameTooLong is returned when a display name exceeds MaxNameLength bytes.
	ErrNameTooLong = errors.New("node: name too long")

	// ErrInvalidAddress is returned when an address string is not exactly eight hex digits.
	ErrInvalidAddress = errors.New("node: invalid address")

	// ErrInvalidIdentity is returned when an identity string is not in XXXX:XXXX:XXXX form.
	ErrInvalidIdentity = errors.New("node: invalid identity")

	// ErrInvalidOrder is returned when a query orders by an unknown field.
	ErrInvalidOrder = errors.New("node: invalid order field")

	// ErrAddressSpaceExhausted is returned when the allocator has issued every address.
	ErrAddressSpaceExhausted = errors.New("node: address space exhausted")
)
