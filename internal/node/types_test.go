package node

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{"0001ABCD", 0x0001ABCD, false},
		{"0001abcd", 0x0001ABCD, false},
		{"00000000", 0, false},
		{"FFFFFFFF", 0xFFFFFFFF, false},
		{"1ABCD", 0, true},
		{"0001ABCDE", 0, true},
		{"0001ABCG", 0, true},
		{"+001ABCD", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestAddress_String(t *testing.T) {
	if got := Address(0x1ABCD).String(); got != "0001ABCD" {
		t.Errorf("String() = %q, want 0001ABCD", got)
	}
	if got := BroadcastAddress.String(); got != "10000000" {
		t.Errorf("BroadcastAddress.String() = %q", got)
	}
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		in      string
		want    Identity
		wantErr bool
	}{
		{"0001:000C:0042", Identity{0x0001, 0x000C, 0x0042}, false},
		{"ffff:ffff:ffff", Identity{0xFFFF, 0xFFFF, 0xFFFF}, false},
		{"AB", Identity{}, true},
		{"0001:000C:00420", Identity{}, true},
		{"0001-000C-0042", Identity{}, true},
		{"0001:000C:00G2", Identity{}, true},
		{"00010:00C:0042", Identity{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIdentity(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidIdentity) {
					t.Errorf("ParseIdentity(%q) error = %v, want ErrInvalidIdentity", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseIdentity(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseIdentity(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestIdentity_TextRoundTrip(t *testing.T) {
	id := Identity{Manufacturer: 1, Product: 0xC, Unit: 0x42}

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"0001:000C:0042"` {
		t.Errorf("Marshal = %s", data)
	}

	var back Identity
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != id {
		t.Errorf("round trip = %v, want %v", back, id)
	}
}

func TestServiceMask(t *testing.T) {
	var s ServiceMask = 0x03
	if s.Valid() {
		t.Error("0x03 should not be valid")
	}
	if v := s.WithValid(); v != 0x83 || !v.Valid() {
		t.Errorf("WithValid() = %#x", v)
	}
	if v := ServiceMask(0x83).WithoutValid(); v != 0x03 {
		t.Errorf("WithoutValid() = %#x", v)
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName(strings.Repeat("a", MaxNameLength)); err != nil {
		t.Errorf("31-byte name rejected: %v", err)
	}
	if err := ValidateName(strings.Repeat("a", MaxNameLength+1)); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("32-byte name error = %v, want ErrNameTooLong", err)
	}
}
