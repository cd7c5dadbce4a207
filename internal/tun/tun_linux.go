//go:build linux

package tun

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	clonePath  = "/dev/net/tun"
	ifReqSize  = unix.IFNAMSIZ + 64
	flagOffset = unix.IFNAMSIZ
)

// linuxDevice is a raw /dev/net/tun fd naming one interface.
type linuxDevice struct {
	fd   int
	name string
}

// Open creates (or attaches to) a TUN interface named name in whatever
// network namespace the calling OS thread currently belongs to. Callers
// that need this inside a UE's namespace must have already entered it
// (see internal/nsutil) on the same locked OS thread before calling
// Open.
func Open(name string) (Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("tun: interface name %q too long", name)
	}

	fd, err := unix.Open(clonePath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tun: open %s: %w", clonePath, err)
	}

	var ifr [ifReqSize]byte
	copy(ifr[:], name)
	flags := uint16(unix.IFF_TUN | unix.IFF_NO_PI)
	binary.LittleEndian.PutUint16(ifr[flagOffset:], flags)

	if _, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(fd),
		uintptr(unix.TUNSETIFF),
		uintptr(unsafe.Pointer(&ifr[0])),
	); errno != 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tun: TUNSETIFF %q: %w", name, errno)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tun: set non-blocking: %w", err)
	}

	actualName := strings.TrimRight(string(ifr[:unix.IFNAMSIZ]), "\x00")
	return &linuxDevice{fd: fd, name: actualName}, nil
}

func (d *linuxDevice) Name() string {
	return d.name
}

func (d *linuxDevice) Read(buf []byte) (int, error) {
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("tun: read: %w", err)
	}
	return n, nil
}

func (d *linuxDevice) Write(buf []byte) (int, error) {
	n, err := unix.Write(d.fd, buf)
	if err != nil {
		return n, fmt.Errorf("tun: write: %w", err)
	}
	return n, nil
}

func (d *linuxDevice) Close() error {
	return unix.Close(d.fd)
}
