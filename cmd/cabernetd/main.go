// Command cabernetd is the thin demo driver mentioned in §1's non-goals:
// it exercises the cabernet library the way original_source/main.rs
// exercises the layer3 crate, and is not itself a 5G core or traffic
// generator.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
