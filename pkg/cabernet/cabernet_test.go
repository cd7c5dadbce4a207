package cabernet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annis-souames/cabernet/internal/provision"
	"github.com/annis-souames/cabernet/pkg/errs"
)

// fakeEndpoint is an in-memory stand-in for *ue.UE, letting cabernet's
// dispatch/poll logic be exercised without any namespace or TUN syscall.
type fakeEndpoint struct {
	mu      sync.Mutex
	ip      string
	sent    [][]byte
	inbox   [][]byte
	recvErr error
	closed  bool
}

func (f *fakeEndpoint) IP() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ip
}

func (f *fakeEndpoint) Send(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return len(data), nil
}

func (f *fakeEndpoint) Recv() ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recvErr != nil {
		return nil, false, f.recvErr
	}
	if len(f.inbox) == 0 {
		return nil, false, nil
	}
	next := f.inbox[0]
	f.inbox = f.inbox[1:]
	return next, true, nil
}

func (f *fakeEndpoint) ChangeIP(ctx context.Context, newIP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ip = newIP
	return nil
}

func (f *fakeEndpoint) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEndpoint) push(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, frame)
}

// noopRunner satisfies provision.Runner without touching the host; the
// fake UE constructors below never delegate to it, but WithInternet/New
// still need a concrete value to hold.
type noopRunner struct{}

func (noopRunner) AttachNamespace(ctx context.Context, nsName string, pid int) error { return nil }
func (noopRunner) DeleteNamespace(ctx context.Context, nsName string) error          { return nil }
func (noopRunner) AddAddress(ctx context.Context, nsName, link, cidr string) error   { return nil }
func (noopRunner) SetLinkUpAndMTU(ctx context.Context, nsName, link string, mtu int) error {
	return nil
}
func (noopRunner) AddDefaultRoute(ctx context.Context, nsName, link, viaIP string) error {
	return nil
}
func (noopRunner) RunGatewayScript(ctx context.Context, nsName, subnet string) error { return nil }

var _ provision.Runner = noopRunner{}

func buildIPv4(dst [4]byte) []byte {
	b := make([]byte, 20)
	b[0] = 4<<4 | 5
	b[2] = 0
	b[3] = 20
	copy(b[16:20], dst[:])
	return b
}

// newTestCabernet returns a router whose CreateUE hands out fakeEndpoints
// instead of real *ue.UE, plus a lookup helper keyed by current IP.
func newTestCabernet(t *testing.T) (*Cabernet, func(ip string) *fakeEndpoint) {
	t.Helper()
	origNewUE := newUEFn
	newUEFn = func(ctx context.Context, ip string, runner provision.Runner, log logrus.FieldLogger) (endpoint, error) {
		return &fakeEndpoint{ip: ip}, nil
	}
	t.Cleanup(func() { newUEFn = origNewUE })

	c := New(nil, noopRunner{})
	lookup := func(ip string) *fakeEndpoint {
		e, err := c.find(ip)
		if err != nil {
			return nil
		}
		fe, _ := e.ue.(*fakeEndpoint)
		return fe
	}
	return c, lookup
}

// withFakeGateway overrides newGatewayFn to hand out a fakeEndpoint,
// restoring the real constructor on cleanup.
func withFakeGateway(t *testing.T) {
	t.Helper()
	orig := newGatewayFn
	newGatewayFn = func(ctx context.Context, ip, subnet string, runner provision.Runner, log logrus.FieldLogger) (endpoint, error) {
		return &fakeEndpoint{ip: ip}, nil
	}
	t.Cleanup(func() { newGatewayFn = orig })
}

func TestCreateUERejectsDuplicates(t *testing.T) {
	c, _ := newTestCabernet(t)
	if err := c.CreateUE(context.Background(), "10.0.0.4"); err != nil {
		t.Fatalf("CreateUE() error = %v", err)
	}
	err := c.CreateUE(context.Background(), "10.0.0.4")
	var dup *errs.DuplicateIP
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateIP, got %v", err)
	}
}

func TestDeleteUEMissingReturnsIPNotAssigned(t *testing.T) {
	c, _ := newTestCabernet(t)
	err := c.DeleteUE(context.Background(), "10.0.0.99")
	var notAssigned *errs.IPNotAssigned
	if !errors.As(err, &notAssigned) {
		t.Fatalf("expected IPNotAssigned, got %v", err)
	}
}

func TestDeleteThenRecreateSucceeds(t *testing.T) {
	c, _ := newTestCabernet(t)
	ctx := context.Background()
	if err := c.CreateUE(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("CreateUE() error = %v", err)
	}
	if err := c.DeleteUE(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("DeleteUE() error = %v", err)
	}
	if err := c.CreateUE(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("recreate CreateUE() error = %v", err)
	}
}

func TestSendFrameDispatchesToMatchingUE(t *testing.T) {
	c, lookup := newTestCabernet(t)
	ctx := context.Background()
	if err := c.CreateUE(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("CreateUE() error = %v", err)
	}
	if err := c.CreateUE(ctx, "10.0.0.5"); err != nil {
		t.Fatalf("CreateUE() error = %v", err)
	}

	frame := buildIPv4([4]byte{10, 0, 0, 5})
	n, err := c.SendFrame(frame)
	if err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	if n != len(frame) {
		t.Fatalf("SendFrame() = %d, want %d", n, len(frame))
	}

	fe4, fe5 := lookup("10.0.0.4"), lookup("10.0.0.5")
	if len(fe4.sent) != 0 {
		t.Fatalf("expected UE #1 to receive nothing, got %d frames", len(fe4.sent))
	}
	if len(fe5.sent) != 1 {
		t.Fatalf("expected UE #2 to receive exactly one frame, got %d", len(fe5.sent))
	}
}

func TestSendFrameFallsBackToGateway(t *testing.T) {
	withFakeGateway(t)
	ctx := context.Background()

	gw, err := WithInternet(ctx, "10.0.0.3", "10.0.0.0/24", nil, noopRunner{})
	if err != nil {
		t.Fatalf("WithInternet() error = %v", err)
	}
	origNewUE := newUEFn
	newUEFn = func(ctx context.Context, ip string, runner provision.Runner, log logrus.FieldLogger) (endpoint, error) {
		return &fakeEndpoint{ip: ip}, nil
	}
	t.Cleanup(func() { newUEFn = origNewUE })

	if err := gw.CreateUE(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("CreateUE() error = %v", err)
	}

	frame := buildIPv4([4]byte{8, 8, 8, 8})
	if _, err := gw.SendFrame(frame); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}

	gwEndpoint, ok := gw.Gateway()
	if !ok {
		t.Fatalf("expected a gateway to be configured")
	}
	fe := gwEndpoint.(*fakeEndpoint)
	if len(fe.sent) != 1 {
		t.Fatalf("expected gateway to receive exactly one frame, got %d", len(fe.sent))
	}
}

func TestSendFrameWithNoMatchAndNoGatewayFails(t *testing.T) {
	c, _ := newTestCabernet(t)
	frame := buildIPv4([4]byte{8, 8, 8, 8})
	_, err := c.SendFrame(frame)
	var notAssigned *errs.IPNotAssigned
	if !errors.As(err, &notAssigned) {
		t.Fatalf("expected IPNotAssigned, got %v", err)
	}
}

func TestSendFrameRejectsMalformedHeader(t *testing.T) {
	c, _ := newTestCabernet(t)
	_, err := c.SendFrame([]byte{0x00})
	var parseErr *errs.Ipv4HeaderParse
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected Ipv4HeaderParse, got %v", err)
	}
}

func TestPollFrameOnEmptyCabernetReturnsNone(t *testing.T) {
	c, _ := newTestCabernet(t)
	_, ok, err := c.PollFrame()
	if err != nil {
		t.Fatalf("PollFrame() error = %v", err)
	}
	if ok {
		t.Fatalf("expected no frame from an empty router")
	}
}

func TestPollFrameYieldsInjectedFrame(t *testing.T) {
	c, lookup := newTestCabernet(t)
	ctx := context.Background()
	if err := c.CreateUE(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("CreateUE() error = %v", err)
	}
	fe := lookup("10.0.0.4")
	frame := buildIPv4([4]byte{8, 8, 8, 8})
	fe.push(frame)

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for PollFrame to surface the injected frame")
		default:
		}
		got, ok, err := c.PollFrame()
		if err != nil {
			t.Fatalf("PollFrame() error = %v", err)
		}
		if ok {
			if string(got) != string(frame) {
				t.Fatalf("PollFrame() returned unexpected bytes")
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPollFrameFromUEBypassesSharedInbox(t *testing.T) {
	c, lookup := newTestCabernet(t)
	ctx := context.Background()
	if err := c.CreateUE(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("CreateUE() error = %v", err)
	}
	fe := lookup("10.0.0.4")
	frame := buildIPv4([4]byte{8, 8, 8, 8})
	fe.push(frame)

	got, ok, err := c.PollFrameFromUE("10.0.0.4")
	if err != nil {
		t.Fatalf("PollFrameFromUE() error = %v", err)
	}
	if !ok || string(got) != string(frame) {
		t.Fatalf("PollFrameFromUE() did not return the injected frame")
	}
}

func TestChangeIPMovesDispatch(t *testing.T) {
	c, lookup := newTestCabernet(t)
	ctx := context.Background()
	if err := c.CreateUE(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("CreateUE() error = %v", err)
	}
	if err := c.ChangeIP(ctx, "10.0.0.4", "10.0.0.9"); err != nil {
		t.Fatalf("ChangeIP() error = %v", err)
	}

	frame := buildIPv4([4]byte{10, 0, 0, 9})
	if _, err := c.SendFrame(frame); err != nil {
		t.Fatalf("SendFrame() after ChangeIP error = %v", err)
	}
	fe := lookup("10.0.0.9")
	if fe == nil || len(fe.sent) != 1 {
		t.Fatalf("expected the renamed UE to receive the frame")
	}
}

func TestDeleteUECannotRemoveGateway(t *testing.T) {
	withFakeGateway(t)
	ctx := context.Background()

	gw, err := WithInternet(ctx, "10.0.0.3", "10.0.0.0/24", nil, noopRunner{})
	if err != nil {
		t.Fatalf("WithInternet() error = %v", err)
	}
	err = gw.DeleteUE(ctx, "10.0.0.3")
	var notAssigned *errs.IPNotAssigned
	if !errors.As(err, &notAssigned) {
		t.Fatalf("expected DeleteUE to report IPNotAssigned for the gateway, got %v", err)
	}
}
