// Package provision wraps the host IP configuration tooling a UE needs:
// naming a namespace, assigning an address, bringing a link up, and
// installing a default route, plus running the embedded gateway NAT
// script. Adapted from atomicni's pkg/netops: same runIP/isAlreadyExists
// shelling idiom, retargeted from CNI veth/bridge plumbing to Cabernet's
// namespace/route/NAT plumbing.
package provision

import (
	"context"
)

// Runner is the provisioning surface a UE depends on. Failures are the
// caller's (pkg/ue's) responsibility to log-and-swallow per §7; Runner
// methods just report what happened.
type Runner interface {
	// AttachNamespace registers pid's network namespace under nsName
	// (`ip netns attach nsName pid`), so later -n nsName invocations and
	// `ip netns list` can address it by name.
	AttachNamespace(ctx context.Context, nsName string, pid int) error
	// DeleteNamespace unregisters nsName (`ip netns delete nsName`).
	// Not finding the namespace is not an error.
	DeleteNamespace(ctx context.Context, nsName string) error
	// AddAddress assigns cidr (e.g. "10.0.0.4/24") to link inside nsName.
	// Already having the address is not an error.
	AddAddress(ctx context.Context, nsName, link, cidr string) error
	// SetLinkUpAndMTU brings link up inside nsName and sets its MTU.
	SetLinkUpAndMTU(ctx context.Context, nsName, link string, mtu int) error
	// AddDefaultRoute installs a default route via viaIP over link
	// inside nsName. An existing identical route is not an error.
	AddDefaultRoute(ctx context.Context, nsName, link, viaIP string) error
	// RunGatewayScript provisions outbound NAT/forwarding for nsName
	// toward subnet, running the embedded script under `bash -s --`.
	RunGatewayScript(ctx context.Context, nsName, subnet string) error
}
