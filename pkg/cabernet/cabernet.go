// Package cabernet implements the frame router: the collection of live
// UEs plus an optional gateway UE, destination-IP dispatch for outbound
// frames, and a fair inbound poll across every UE's TUN.
package cabernet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annis-souames/cabernet/internal/provision"
	"github.com/annis-souames/cabernet/pkg/errs"
	"github.com/annis-souames/cabernet/pkg/ipaddr"
	"github.com/annis-souames/cabernet/pkg/ipv4"
	"github.com/annis-souames/cabernet/pkg/ue"
)

// endpoint is the narrow surface Cabernet needs from a UE. *ue.UE
// satisfies it; tests substitute fakes the same way plugin_test.go
// substitutes mockNetOps for atomicni's NetOps interface.
type endpoint interface {
	IP() string
	Send(data []byte) (int, error)
	Recv() ([]byte, bool, error)
	ChangeIP(ctx context.Context, newIP string) error
	Close(ctx context.Context) error
}

// These indirections are the seams cabernet_test.go overrides to inject
// fake endpoints, so CreateUE/WithInternet can be exercised without root
// or real namespace syscalls.
var (
	newUEFn = func(ctx context.Context, ip string, runner provision.Runner, log logrus.FieldLogger) (endpoint, error) {
		return ue.New(ctx, ip, runner, log)
	}
	newGatewayFn = func(ctx context.Context, ip, subnet string, runner provision.Runner, log logrus.FieldLogger) (endpoint, error) {
		return ue.WithGateway(ctx, ip, subnet, runner, log)
	}
)

// pollInterval sets how often a UE's background poll loop checks its TUN
// for an inbound frame. recv is non-blocking, so this is a plain ticker
// rather than an epoll-style reactor.
const pollInterval = 2 * time.Millisecond

const inboxCapacity = 64

// entry pairs a live endpoint with the background goroutine that drains
// it into a shared inbox, the Go equivalent of original_source/cabernet.rs's
// one-thread-per-UE-into-a-SegQueue design.
type entry struct {
	ue    endpoint
	inbox chan []byte
	stop  chan struct{}
	log   logrus.FieldLogger
}

func newEntry(u endpoint, log logrus.FieldLogger) *entry {
	e := &entry{
		ue:    u,
		inbox: make(chan []byte, inboxCapacity),
		stop:  make(chan struct{}),
		log:   log,
	}
	go e.pollLoop()
	return e
}

func (e *entry) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			frame, ok, err := e.ue.Recv()
			if err != nil {
				e.log.WithError(err).WithField("ue", e.ue.IP()).Debug("poll loop recv error")
				continue
			}
			if !ok {
				continue
			}
			select {
			case e.inbox <- frame:
			case <-e.stop:
				return
			}
		}
	}
}

func (e *entry) close(ctx context.Context) {
	close(e.stop)
	_ = e.ue.Close(ctx)
}

// Cabernet holds the ordered collection of UEs plus an optional separate
// gateway slot, per §4.2/§3.
type Cabernet struct {
	mu      sync.Mutex
	ues     []*entry
	gateway *entry
	runner  provision.Runner
	log     logrus.FieldLogger
	rrIndex uint64
}

// New returns an empty router. A nil log defaults to logrus's standard
// logger; a nil runner defaults to provision.NewIPRunner.
func New(log logrus.FieldLogger, runner provision.Runner) *Cabernet {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if runner == nil {
		runner = provision.NewIPRunner(log)
	}
	return &Cabernet{log: log, runner: runner}
}

// WithInternet returns a router whose gateway slot holds an
// internet-provisioned UE at gatewayIP serving subnet.
func WithInternet(ctx context.Context, gatewayIP, subnet string, log logrus.FieldLogger, runner provision.Runner) (*Cabernet, error) {
	c := New(log, runner)
	gw, err := newGatewayFn(ctx, gatewayIP, subnet, c.runner, c.log)
	if err != nil {
		return nil, fmt.Errorf("cabernet: with_internet: %w", err)
	}
	c.gateway = newEntry(gw, c.log)
	return c, nil
}

// Gateway returns the distinguished gateway UE, if one was configured via
// WithInternet. It exists to make the §9 asymmetry explicit: the gateway
// is reachable here, via SendFrame's fallback, and by its own address
// through ChangeIP and PollFrameFromUE, but never via DeleteUE.
func (c *Cabernet) Gateway() (endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gateway == nil {
		return nil, false
	}
	return c.gateway.ue, true
}

// CreateUE inserts a new UE at ip. Duplicate IPs are rejected (§9's
// open question, resolved: reject rather than silently shadow).
func (c *Cabernet) CreateUE(ctx context.Context, ip string) error {
	c.mu.Lock()
	for _, e := range c.ues {
		if ipaddr.Equal(e.ue.IP(), ip) {
			c.mu.Unlock()
			return errs.NewDuplicateIP(ip)
		}
	}
	runner, log := c.runner, c.log
	c.mu.Unlock()

	u, err := newUEFn(ctx, ip, runner, log)
	if err != nil {
		return fmt.Errorf("cabernet: create_ue: %w", err)
	}

	c.mu.Lock()
	c.ues = append(c.ues, newEntry(u, log))
	c.mu.Unlock()
	return nil
}

// DeleteUE removes and closes the first UE matching ip. The gateway is
// never reachable through this call.
func (c *Cabernet) DeleteUE(ctx context.Context, ip string) error {
	c.mu.Lock()
	idx := -1
	for i, e := range c.ues {
		if ipaddr.Equal(e.ue.IP(), ip) {
			idx = i
			break
		}
	}
	if idx == -1 {
		c.mu.Unlock()
		return errs.NewIPNotAssigned(ip)
	}
	e := c.ues[idx]
	c.ues = append(c.ues[:idx], c.ues[idx+1:]...)
	c.mu.Unlock()

	e.close(ctx)
	return nil
}

// ChangeIP locates the UE (or gateway) currently addressed as old and
// reassigns it to new.
func (c *Cabernet) ChangeIP(ctx context.Context, old, newIP string) error {
	e, err := c.find(old)
	if err != nil {
		return err
	}
	if err := e.ue.ChangeIP(ctx, newIP); err != nil {
		return fmt.Errorf("cabernet: change_ip: %w", err)
	}
	return nil
}

// SendFrame parses bytes as an IPv4 datagram, extracts the destination
// address, and delivers it to the matching UE, falling back to the
// gateway (regardless of the gateway's own address) when no UE matches.
func (c *Cabernet) SendFrame(bytes []byte) (int, error) {
	hdr, err := ipv4.ParseHeader(bytes)
	if err != nil {
		return 0, err
	}
	dst := hdr.DestinationAddr().String()

	c.mu.Lock()
	var target *entry
	for _, e := range c.ues {
		if ipaddr.Equal(e.ue.IP(), dst) {
			target = e
			break
		}
	}
	if target == nil {
		target = c.gateway
	}
	c.mu.Unlock()

	if target == nil {
		return 0, errs.NewIPNotAssigned(dst)
	}
	return target.ue.Send(bytes)
}

// PollFrame performs a non-blocking poll across every UE and the gateway,
// in insertion order, rotating the starting point each call to avoid
// starving later UEs (§4.2's permitted fairness refinement).
func (c *Cabernet) PollFrame() ([]byte, bool, error) {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.ues)+1)
	entries = append(entries, c.ues...)
	if c.gateway != nil {
		entries = append(entries, c.gateway)
	}
	c.rrIndex++
	start := c.rrIndex
	c.mu.Unlock()

	if len(entries) == 0 {
		return nil, false, nil
	}
	n := uint64(len(entries))
	for i := uint64(0); i < n; i++ {
		e := entries[(start+i)%n]
		select {
		case frame := <-e.inbox:
			return frame, true, nil
		default:
		}
	}
	return nil, false, nil
}

// PollFrameFromUE polls exactly one UE (or the gateway), bypassing the
// shared inbox and reading the TUN directly in non-blocking mode.
func (c *Cabernet) PollFrameFromUE(ip string) ([]byte, bool, error) {
	e, err := c.find(ip)
	if err != nil {
		return nil, false, err
	}
	return e.ue.Recv()
}

// Close tears down every UE and the gateway, stopping their poll loops.
// Best-effort and idempotent per UE, matching each UE's own Close
// contract.
func (c *Cabernet) Close(ctx context.Context) error {
	c.mu.Lock()
	ues := c.ues
	c.ues = nil
	gw := c.gateway
	c.gateway = nil
	c.mu.Unlock()

	for _, e := range ues {
		e.close(ctx)
	}
	if gw != nil {
		gw.close(ctx)
	}
	return nil
}

func (c *Cabernet) find(ip string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.ues {
		if ipaddr.Equal(e.ue.IP(), ip) {
			return e, nil
		}
	}
	if c.gateway != nil && ipaddr.Equal(c.gateway.ue.IP(), ip) {
		return c.gateway, nil
	}
	return nil, errs.NewIPNotAssigned(ip)
}
