// Package gatewayscript embeds the NAT/forwarding provisioning script
// run for a gateway UE. It takes the namespace name and subnet as
// positional arguments and is executed as `bash -s -- <namespace>
// <subnet>`, per §6's gateway provisioning contract.
package gatewayscript

import _ "embed"

//go:embed gateway.sh
var Script []byte
