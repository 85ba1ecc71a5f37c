package bus

import "errors"

var (
	// ErrInvalidPayload is returned when a bus payload cannot be decoded.
	ErrInvalidPayload = errors.New("bus: invalid payload")

	// ErrUnknownKind is returned for a topic with no matching event kind.
	ErrUnknownKind = errors.New("bus: unknown event kind")
)
