// Package ue implements the UE lifecycle manager: the namespace-and-
// interface manager that creates an isolated network namespace per
// emulated device, opens a TUN inside it, wires up addressing and
// routing, and tears everything down on Close. This is the "hard part"
// the spec calls out — kernel namespace syscalls, external tooling
// coordination, and non-blocking data-path I/O all meet here.
package ue

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/annis-souames/cabernet/internal/nsutil"
	"github.com/annis-souames/cabernet/internal/provision"
	"github.com/annis-souames/cabernet/internal/tun"
	"github.com/annis-souames/cabernet/pkg/errs"
	"github.com/annis-souames/cabernet/pkg/ipaddr"
	"github.com/annis-souames/cabernet/pkg/ipv4"
)

// MTU is the fixed TUN MTU per §3/§6.
const MTU = 1500

// These three indirections are the seams tests substitute fakes at,
// the same role atomicni's plugin_test.go mockNetOps/mockAllocator play
// for Plugin.Add: the real namespace/TUN syscalls need root and aren't
// exercised in unit tests, only the orchestration around them is.
var (
	spawnAnchorFn = spawnPauseAnchor
	killAnchorFn  = killPauseAnchor
	openTunFn     = openTunInNamespace
)

// openTunInNamespace implements the namespace entry algorithm (§4.1):
// enter the anchor's namespace on a locked OS thread, open the TUN
// there, and return to the original namespace before returning.
func openTunInNamespace(pausePID int, linkName string) (tun.Device, error) {
	var iface tun.Device
	err := nsutil.WithPidNamespace(pausePID, func() error {
		dev, err := tun.Open(linkName)
		if err != nil {
			return err
		}
		iface = dev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return iface, nil
}

// UE represents one emulated endpoint: its IPv4 address, its TUN
// handle, and the pause anchor process keeping its namespace alive.
type UE struct {
	mu sync.Mutex

	ip       string
	nsName   string
	linkName string
	anchor   *exec.Cmd
	iface    tun.Device
	runner   provision.Runner
	log      logrus.FieldLogger

	secondary []string // address from New plus those accumulated by ChangeIP, see §9
	closed    bool
}

// IP returns the UE's current dispatch address (the most recent of New
// or ChangeIP).
func (u *UE) IP() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ip
}

// Addresses returns every address ever assigned to the UE's TUN,
// oldest first — documenting the §9 wart that ChangeIP appends rather
// than replaces.
func (u *UE) Addresses() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.secondary)+1)
	out = append(out, u.secondary...)
	return out
}

// New creates a pristine UE at ip: a namespace named cab-<ip>, a TUN
// inside it configured with <ip>/24 and brought up, and a default
// route via <ip>. Provisioning failures (address/route) are logged and
// swallowed; creation aborts only on an invalid ip, a failure to spawn
// the pause anchor, or a failure to obtain the TUN fd.
func New(ctx context.Context, ipStr string, runner provision.Runner, log logrus.FieldLogger) (*UE, error) {
	return newUE(ctx, ipStr, runner, log, nil)
}

// WithGateway creates a UE exactly like New, and additionally runs the
// embedded NAT provisioning script so traffic leaving via its TUN is
// source-NATed to the host's primary interface and replies to subnet
// route back.
func WithGateway(ctx context.Context, ipStr, subnetCIDR string, runner provision.Runner, log logrus.FieldLogger) (*UE, error) {
	subnet, err := ipaddr.ParseIPv4CIDR(subnetCIDR)
	if err != nil {
		return nil, fmt.Errorf("ue: gateway subnet: %w", err)
	}
	gatewayIP, err := ipaddr.ParseIPv4(ipStr)
	if err != nil {
		return nil, fmt.Errorf("ue: gateway ip: %w", err)
	}
	if err := ipaddr.ValidateGatewayInSubnet(gatewayIP, subnet); err != nil {
		return nil, fmt.Errorf("ue: %w", err)
	}
	return newUE(ctx, ipStr, runner, log, func(u *UE) {
		if err := u.runner.RunGatewayScript(ctx, u.nsName, subnetCIDR); err != nil {
			u.log.WithError(err).WithField("ns", u.nsName).Warn("gateway provisioning script failed")
		}
	})
}

func newUE(ctx context.Context, ipStr string, runner provision.Runner, log logrus.FieldLogger, extra func(*UE)) (*UE, error) {
	if _, err := ipaddr.ParseIPv4(ipStr); err != nil {
		return nil, fmt.Errorf("ue: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if runner == nil {
		runner = provision.NewIPRunner(log)
	}

	rollback := rollbackStack{}

	anchor, err := spawnAnchorFn()
	if err != nil {
		return nil, fmt.Errorf("ue: %w", err)
	}
	rollback.push(func() { killAnchorFn(anchor) })

	nsName := NamespaceName(ipStr)
	if err := runner.AttachNamespace(ctx, nsName, anchor.Process.Pid); err != nil {
		log.WithError(err).WithField("ns", nsName).Warn("namespace attach failed, continuing best-effort")
	}
	rollback.push(func() { _ = runner.DeleteNamespace(ctx, nsName) })

	linkName := LinkName(anchor.Process.Pid)

	iface, openErr := openTunFn(anchor.Process.Pid, linkName)
	if openErr != nil {
		rollback.run()
		return nil, fmt.Errorf("ue: open tun for %s: %w", ipStr, openErr)
	}
	rollback.push(func() { _ = iface.Close() })

	u := &UE{
		ip:       ipStr,
		nsName:   nsName,
		linkName: linkName,
		anchor:   anchor,
		iface:    iface,
		runner:   runner,
		log:      log.WithField("ue", ipStr),
	}

	if err := runner.AddAddress(ctx, nsName, linkName, ipStr+"/24"); err != nil {
		u.log.WithError(err).Warn("address assignment failed, continuing best-effort")
	}
	if err := runner.SetLinkUpAndMTU(ctx, nsName, linkName, MTU); err != nil {
		u.log.WithError(err).Warn("bringing link up failed, continuing best-effort")
	}
	if err := runner.AddDefaultRoute(ctx, nsName, linkName, ipStr); err != nil {
		u.log.WithError(err).Warn("default route install failed, continuing best-effort")
	}
	u.secondary = append(u.secondary, ipStr)

	if extra != nil {
		extra(u)
	}

	return u, nil
}

// Send writes a raw IPv4 datagram to the TUN, with no L2 framing added.
func (u *UE) Send(data []byte) (int, error) {
	n, err := u.iface.Write(data)
	if err != nil {
		return n, errs.NewIOError("send", err)
	}
	return n, nil
}

// Recv performs one non-blocking read of the TUN. It returns ok=false
// (no error) when the device has nothing ready. Frames that don't parse
// as a valid IPv4 header are dropped and logged rather than returned,
// and the read loop continues until it finds a valid frame or the
// device reports would-block.
func (u *UE) Recv() (frame []byte, ok bool, err error) {
	buf := make([]byte, ipv4.MaxDatagramLen)
	for {
		n, rerr := u.iface.Read(buf)
		if rerr != nil {
			if errors.Is(rerr, tun.ErrWouldBlock) {
				return nil, false, nil
			}
			return nil, false, errs.NewIOError("recv", rerr)
		}
		candidate := make([]byte, n)
		copy(candidate, buf[:n])
		if _, perr := ipv4.ParseHeader(candidate); perr != nil {
			u.log.WithError(perr).Debug("dropping malformed frame")
			continue
		}
		return candidate, true, nil
	}
}

// ChangeIP adds <newIP>/24 to the TUN and installs a default route via
// newIP. It does not remove the previous address or rename the
// namespace — the known wart §9 calls out, kept explicit via
// Addresses().
func (u *UE) ChangeIP(ctx context.Context, newIP string) error {
	if _, err := ipaddr.ParseIPv4(newIP); err != nil {
		return fmt.Errorf("ue: %w", err)
	}

	u.mu.Lock()
	nsName, linkName := u.nsName, u.linkName
	u.mu.Unlock()

	if err := u.runner.AddAddress(ctx, nsName, linkName, newIP+"/24"); err != nil {
		u.log.WithError(err).Warn("change_ip address assignment failed, continuing best-effort")
	}
	if err := u.runner.AddDefaultRoute(ctx, nsName, linkName, newIP); err != nil {
		u.log.WithError(err).Warn("change_ip route install failed, continuing best-effort")
	}

	u.mu.Lock()
	u.ip = newIP
	u.secondary = append(u.secondary, newIP)
	u.mu.Unlock()
	return nil
}

// Close removes the named namespace entry, kills the pause anchor, and
// waits for it. Every step is best-effort and idempotent; Close never
// returns an error, matching §4.1's Drop contract.
func (u *UE) Close(ctx context.Context) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	nsName := u.nsName
	iface := u.iface
	anchor := u.anchor
	u.mu.Unlock()

	if iface != nil {
		_ = iface.Close()
	}
	if u.runner != nil {
		if err := u.runner.DeleteNamespace(ctx, nsName); err != nil {
			u.log.WithError(err).Warn("namespace delete failed during close")
		}
	}
	killAnchorFn(anchor)
	return nil
}
