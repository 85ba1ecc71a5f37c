package node

import (
	"fmt"
	"strconv"
	"time"
)

// Wire-level constants.
const (
	// BroadcastAddress reaches every node on the bus. It is never allocated.
	BroadcastAddress Address = 0x10000000

	// MaxNameLength is the longest display name a node can store, in bytes.
	MaxNameLength = 31

	addressDigits  = 8
	identityLength = 14
)

// Address is a 32-bit bus address. Zero means "no address".
type Address uint32

// ParseAddress parses exactly eight hex digits.
func ParseAddress(s string) (Address, error) {
	if len(s) != addressDigits {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address(v), nil
}

// String returns the address as eight upper-case hex digits.
func (a Address) String() string {
	return fmt.Sprintf("%08X", uint32(a))
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Identity is the hardware identity of a node. The same triple shape is
// used for the hardware-parent pointer.
type Identity struct {
	Manufacturer uint16
	Product      uint16
	Unit         uint16
}

// ParseIdentity parses the XXXX:XXXX:XXXX form.
func ParseIdentity(s string) (Identity, error) {
	if len(s) != identityLength || s[4] != ':' || s[9] != ':' {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	var parts [3]uint16
	for i, field := range []string{s[0:4], s[5:9], s[10:14]} {
		v, err := strconv.ParseUint(field, 16, 16)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
		}
		parts[i] = uint16(v)
	}
	return Identity{Manufacturer: parts[0], Product: parts[1], Unit: parts[2]}, nil
}

// String returns the identity as XXXX:XXXX:XXXX.
func (id Identity) String() string {
	return fmt.Sprintf("%04X:%04X:%04X", id.Manufacturer, id.Product, id.Unit)
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	v, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ServiceMask holds the service flags a node declares.
type ServiceMask uint8

// ServiceValid marks an address as confirmed by the allocator.
const ServiceValid ServiceMask = 0x80

// Valid reports whether the validity bit is set.
func (s ServiceMask) Valid() bool {
	return s&ServiceValid != 0
}

// WithValid returns the mask with the validity bit set.
func (s ServiceMask) WithValid() ServiceMask {
	return s | ServiceValid
}

// WithoutValid returns the mask with the validity bit cleared.
func (s ServiceMask) WithoutValid() ServiceMask {
	return s &^ ServiceValid
}

// Node is one registry record.
type Node struct {
	// ID is the storage key assigned on Create.
	ID int64

	Name          string
	Identity      Identity
	Address       Address
	EngineAddress Address
	Services      ServiceMask
	Active        bool

	// Parent points at the hardware location (rack, slot) the node sits in.
	Parent Identity

	FirstSeen time.Time
	LastSeen  time.Time

	// AddressRequests counts how many times the node asked for an address.
	AddressRequests int

	// NeedsRefresh is set until the name and parent have been read back.
	NeedsRefresh bool

	// PendingNameWrite is set when a name change could not reach the node
	// and must be pushed on its next online transition.
	PendingNameWrite bool
}

// ValidateName checks a display name fits the node's name object.
func ValidateName(name string) error {
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes, max %d", ErrNameTooLong, len(name), MaxNameLength)
	}
	return nil
}
