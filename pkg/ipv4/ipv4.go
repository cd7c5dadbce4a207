// Package ipv4 does just enough IPv4 header inspection for dispatch:
// version/length sanity checking and destination-address extraction at
// bytes 16-19. Grounded on the narrow surface of
// etherparse::Ipv4HeaderSlice::from_slice used by the original
// cabernet.rs's send_frame/poll_from_ue.
package ipv4

import (
	"net"

	"github.com/annis-souames/cabernet/pkg/errs"
)

// MinHeaderLen is the shortest possible IPv4 header (no options).
const MinHeaderLen = 20

// MaxDatagramLen bounds the frames Cabernet moves between the router and
// a UE's TUN.
const MaxDatagramLen = 1500

// HeaderSlice is a read-only view over a parsed IPv4 header's fixed
// fields, backed by the original byte slice (no copy).
type HeaderSlice struct {
	raw []byte
}

// ParseHeader validates that b begins with a well-formed IPv4 header and
// returns a view over it. It rejects inputs shorter than MinHeaderLen,
// a version field other than 4, or a declared IHL longer than the
// supplied bytes.
func ParseHeader(b []byte) (HeaderSlice, error) {
	if len(b) < MinHeaderLen {
		return HeaderSlice{}, errs.NewIpv4HeaderParse("frame shorter than a minimal IPv4 header")
	}
	version := b[0] >> 4
	if version != 4 {
		return HeaderSlice{}, errs.NewIpv4HeaderParse("version field is not 4")
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < MinHeaderLen {
		return HeaderSlice{}, errs.NewIpv4HeaderParse("IHL smaller than minimum header length")
	}
	if ihl > len(b) {
		return HeaderSlice{}, errs.NewIpv4HeaderParse("IHL exceeds frame length")
	}
	totalLen := int(b[2])<<8 | int(b[3])
	if totalLen > len(b) {
		return HeaderSlice{}, errs.NewIpv4HeaderParse("total length exceeds frame length")
	}
	return HeaderSlice{raw: b}, nil
}

// DestinationAddr returns the destination address at bytes 16-19.
func (h HeaderSlice) DestinationAddr() net.IP {
	return net.IPv4(h.raw[16], h.raw[17], h.raw[18], h.raw[19]).To4()
}

// SourceAddr returns the source address at bytes 12-15.
func (h HeaderSlice) SourceAddr() net.IP {
	return net.IPv4(h.raw[12], h.raw[13], h.raw[14], h.raw[15]).To4()
}
