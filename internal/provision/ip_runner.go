package provision

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/annis-souames/cabernet/internal/gatewayscript"
)

// IPRunner is the default Runner, backed by iproute2 and bash — the
// same external-tooling shelling style as atomicni's NetlinkOps, just
// retargeted at `ip netns`/`ip -n`/`bash -s --` instead of veth/bridge
// commands.
type IPRunner struct {
	Log logrus.FieldLogger
}

// NewIPRunner returns an IPRunner logging through log, or a standard
// logrus logger if log is nil.
func NewIPRunner(log logrus.FieldLogger) *IPRunner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &IPRunner{Log: log}
}

func (r *IPRunner) AttachNamespace(ctx context.Context, nsName string, pid int) error {
	_, err := runIP(ctx, "netns", "attach", nsName, strconv.Itoa(pid))
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("attach namespace %q: %w", nsName, err)
	}
	return nil
}

func (r *IPRunner) DeleteNamespace(ctx context.Context, nsName string) error {
	_, err := runIP(ctx, "netns", "delete", nsName)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete namespace %q: %w", nsName, err)
	}
	return nil
}

func (r *IPRunner) AddAddress(ctx context.Context, nsName, link, cidr string) error {
	_, err := runIP(ctx, "-n", nsName, "addr", "add", cidr, "dev", link)
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("assign address %s to %s in %s: %w", cidr, link, nsName, err)
	}
	return nil
}

func (r *IPRunner) SetLinkUpAndMTU(ctx context.Context, nsName, link string, mtu int) error {
	if mtu > 0 {
		if _, err := runIP(ctx, "-n", nsName, "link", "set", "dev", link, "mtu", strconv.Itoa(mtu)); err != nil {
			return fmt.Errorf("set mtu on %s in %s: %w", link, nsName, err)
		}
	}
	if _, err := runIP(ctx, "-n", nsName, "link", "set", "dev", link, "up"); err != nil {
		return fmt.Errorf("bring up %s in %s: %w", link, nsName, err)
	}
	return nil
}

func (r *IPRunner) AddDefaultRoute(ctx context.Context, nsName, link, viaIP string) error {
	_, err := runIP(ctx, "-n", nsName, "route", "add", "default", "via", viaIP, "dev", link)
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("add default route via %s in %s: %w", viaIP, nsName, err)
	}
	return nil
}

func (r *IPRunner) RunGatewayScript(ctx context.Context, nsName, subnet string) error {
	cmd := exec.CommandContext(ctx, "bash", "-s", "--", nsName, subnet)
	cmd.Stdin = bytes.NewReader(gatewayscript.Script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gateway script for %s/%s: %w: %s", nsName, subnet, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// runIP executes iproute2 and returns trimmed output with contextual
// errors, same shape as atomicni's runIP helper.
func runIP(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "ip", args...)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if output == "" {
			output = err.Error()
		}
		return "", fmt.Errorf("%s (%s)", output, strings.Join(args, " "))
	}
	return output, nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "File exists") || strings.Contains(err.Error(), "RTNETLINK answers: File exists")
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "Cannot find device") ||
		strings.Contains(err.Error(), "does not exist") ||
		strings.Contains(err.Error(), "No such file or directory")
}
