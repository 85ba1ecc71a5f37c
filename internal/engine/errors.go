package engine

import "errors"

var (
	// ErrNodeOnline is returned when removing a node that is currently active.
	ErrNodeOnline = errors.New("engine: node is currently online")

	// ErrNoNodesFound is returned when a refresh filter matches nothing.
	ErrNoNodesFound = errors.New("engine: no nodes found")
)
