// Package tun opens and drives a raw TUN character device: exactly the
// fd-level slice of UE::new's contract (no packet-info prefix, set
// non-blocking, MTU left at the kernel default of 1500). Address
// assignment, bringing the link up, and routing are provisioning
// concerns handled by internal/provision, not this package.
//
// Grounded on the ioctl(TUNSETIFF) dance in WireGuard's tun_linux.go:
// open /dev/net/tun, build an ifreq naming the interface and
// IFF_TUN|IFF_NO_PI, and hand the resulting fd to TUNSETIFF.
package tun

import "errors"

// ErrWouldBlock is returned by Device.Read when no frame is currently
// available, the non-blocking equivalent of the original recv's "would
// block" case (surfaced by Cabernet as no-frame, never as an error).
var ErrWouldBlock = errors.New("tun: read would block")

// Device is a non-blocking raw IPv4 TUN device: no Ethernet header, no
// packet-info prefix.
type Device interface {
	// Name is the kernel-assigned interface name inside the namespace
	// the device was opened in (e.g. "cab-4821").
	Name() string
	// Read returns one frame's worth of bytes, or ErrWouldBlock if the
	// device currently has nothing to deliver.
	Read(buf []byte) (int, error)
	// Write sends a raw IPv4 datagram; it returns the number of bytes
	// written, equal to len(buf) on success.
	Write(buf []byte) (int, error)
	Close() error
}
