// Package errs holds the error kinds Cabernet surfaces to callers, per
// the error handling design: IPNotAssigned, Ipv4HeaderParse, and IO,
// plus DuplicateIP for create_ue.
// Provisioning, recv-parse, and poll-per-UE failures are logged and
// swallowed rather than represented here; those never reach a caller.
package errs

import "fmt"

// IPNotAssigned is returned when a lookup (send_frame, delete_ue,
// change_ip) finds no UE, and no gateway fallback applies, for the
// given address.
type IPNotAssigned struct {
	IP string
}

func (e *IPNotAssigned) Error() string {
	return fmt.Sprintf("ip not assigned: %s", e.IP)
}

// NewIPNotAssigned builds an IPNotAssigned error for ip.
func NewIPNotAssigned(ip string) error {
	return &IPNotAssigned{IP: ip}
}

// Ipv4HeaderParse is returned when send_frame is handed bytes that do
// not begin with a valid IPv4 header.
type Ipv4HeaderParse struct {
	Reason string
}

func (e *Ipv4HeaderParse) Error() string {
	if e.Reason == "" {
		return "ipv4 header parse error"
	}
	return fmt.Sprintf("ipv4 header parse error: %s", e.Reason)
}

// NewIpv4HeaderParse builds an Ipv4HeaderParse error with a reason.
func NewIpv4HeaderParse(reason string) error {
	return &Ipv4HeaderParse{Reason: reason}
}

// DuplicateIP is returned when create_ue is asked to create a UE at an
// address already held by a live UE in the same Cabernet (§9's open
// question, resolved here as a rejection rather than a silent shadow).
type DuplicateIP struct {
	IP string
}

func (e *DuplicateIP) Error() string {
	return fmt.Sprintf("ip already assigned: %s", e.IP)
}

// NewDuplicateIP builds a DuplicateIP error for ip.
func NewDuplicateIP(ip string) error {
	return &DuplicateIP{IP: ip}
}

// IOError wraps an underlying TUN read/write or syscall failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError wraps err with the operation that failed.
func NewIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
