// Package endian selects the byte order used for output images.
//
// An Engine combines binary.ByteOrder and binary.AppendByteOrder so codecs
// can both patch fixed header offsets and append streamed payload values
// through the same value. Both binary.LittleEndian and binary.BigEndian
// satisfy it.
package endian

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Engine combines ByteOrder and AppendByteOrder from encoding/binary.
type Engine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Order names a configured output byte order.
type Order int

const (
	Little Order = iota
	Big
)

// String returns the configuration spelling of o.
func (o Order) String() string {
	if o == Big {
		return "big"
	}
	return "little"
}

// Engine returns the encoding engine for o.
func (o Order) Engine() Engine {
	if o == Big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ParseOrder accepts "little"/"big" (any case) as well as the numeric
// option-file spellings "0" and "1".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "little", "le", "littleendian":
		return Little, nil
	case "1", "big", "be", "bigendian":
		return Big, nil
	}
	return Little, fmt.Errorf("unknown byte order %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Order) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Order) UnmarshalText(b []byte) error {
	v, err := ParseOrder(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
