// Package wire implements the on-the-wire response packet format: a fixed
// 4-byte header followed by zero or more fixed 20-byte entries.
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// Command is the only command this implementation ever sends or
	// accepts: an unsolicited response.
	Command = 2
	// Version identifies this RIP variant.
	Version = 2

	// AFI is the address-family identifier carried by every entry; this
	// protocol has no notion of address families beyond router ids, but
	// the field is preserved for wire compatibility.
	AFI = 2

	// Infinity is the reachability ceiling: both the largest representable
	// cost and the sentinel for "unreachable".
	Infinity = 16

	headerSize = 4
	entrySize  = 20

	// MinRecvBuffer is the minimum receive buffer size a listener must use.
	MinRecvBuffer = 512

	minRouterID = 1
	maxRouterID = 64000
)

// Entry is one routing advertisement: a destination and the cost to reach
// it from the sender.
type Entry struct {
	RouterID int32
	Cost     int32
}

// Packet is a decoded response message.
type Packet struct {
	FromRouterID int16
	Entries      []Entry
}

// Kind names an error condition arising from malformed wire data.
type Kind string

const (
	// KindMalformedPacket covers every structural wire-format violation:
	// short length, bad entry stride, wrong command/version, out-of-range
	// from_router_id, wrong AFI. These are all dropped silently per the
	// protocol's error-handling policy; Kind lets a caller distinguish a
	// malformed packet from other errors without string matching.
	KindMalformedPacket Kind = "malformed-packet"
)

// Error is a decode failure tagged with its Kind.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Reason) }

func malformed(format string, args ...interface{}) error {
	return &Error{Kind: KindMalformedPacket, Reason: fmt.Sprintf(format, args...)}
}

// Saturate clamps a cost to [0, 16]. Applied to a sum a+b it gives the
// protocol's saturating addition a ⊕ b = min(a+b, 16).
func Saturate(cost int) int {
	if cost > Infinity {
		return Infinity
	}
	if cost < 0 {
		return 0
	}
	return cost
}

// Decode parses a received datagram into a Packet, or returns a
// *Error{Kind: KindMalformedPacket} describing why it was rejected.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < headerSize {
		return nil, malformed("length %d shorter than header", len(buf))
	}
	if (len(buf)-headerSize)%entrySize != 0 {
		return nil, malformed("length %d leaves a partial entry", len(buf))
	}

	command := int8(buf[0])
	version := int8(buf[1])
	if command != Command {
		return nil, malformed("command %d, want %d", command, Command)
	}
	if version != Version {
		return nil, malformed("version %d, want %d", version, Version)
	}

	fromRouterID := int16(binary.BigEndian.Uint16(buf[2:4]))
	if int(fromRouterID) < minRouterID || int(fromRouterID) > maxRouterID {
		return nil, malformed("from_router_id %d out of range [%d,%d]", fromRouterID, minRouterID, maxRouterID)
	}

	n := (len(buf) - headerSize) / entrySize
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		off := headerSize + i*entrySize
		entry, err := decodeEntry(buf[off : off+entrySize])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return &Packet{FromRouterID: fromRouterID, Entries: entries}, nil
}

func decodeEntry(b []byte) (Entry, error) {
	afi := int16(binary.BigEndian.Uint16(b[0:2]))
	if afi != AFI {
		return Entry{}, malformed("entry afi %d, want %d", afi, AFI)
	}
	// bytes 2:4 reserved, ignored.
	routerID := int32(binary.BigEndian.Uint32(b[4:8]))
	// bytes 8:16 reserved, ignored.
	cost := int32(binary.BigEndian.Uint32(b[16:20]))
	if cost < 0 {
		return Entry{}, malformed("entry cost %d out of range [0,%d]", cost, Infinity)
	}
	// A cost above the ceiling is lenient-saturated rather than rejected
	// (preserved from the source implementation; see design notes).
	if cost > Infinity {
		cost = Infinity
	}

	return Entry{RouterID: routerID, Cost: cost}, nil
}

// Encode serializes the packet into a single datagram payload.
func (p *Packet) Encode() []byte {
	buf := make([]byte, headerSize+entrySize*len(p.Entries))
	buf[0] = byte(Command)
	buf[1] = byte(Version)
	binary.BigEndian.PutUint16(buf[2:4], uint16(p.FromRouterID))

	for i, e := range p.Entries {
		off := headerSize + i*entrySize
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(AFI))
		// buf[off+2:off+4] left zero (reserved).
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(e.RouterID))
		// buf[off+8:off+16] left zero (reserved).
		binary.BigEndian.PutUint32(buf[off+16:off+20], uint32(e.Cost))
	}

	return buf
}
