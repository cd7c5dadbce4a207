//go:build linux

package ue

import (
	"fmt"
	"os/exec"
	"syscall"
)

// spawnPauseAnchor starts the trivial child that blocks indefinitely
// inside a freshly allocated network namespace, keeping it alive until
// the anchor is killed. The Rust original clones a process whose entire
// body is libc::pause(); Go has no direct equivalent to a bare clone()
// that doesn't exec, so this launches the coreutils "sleep infinity" as
// the anchor binary instead, with CLONE_NEWNET set on the child via
// SysProcAttr — the same exec.Command+Cloneflags idiom
// euank-wirecage/wgcage.go uses to put a re-exec'd child into a fresh
// namespace.
func spawnPauseAnchor() (*exec.Cmd, error) {
	cmd := exec.Command("sleep", "infinity")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWNET,
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn pause anchor: %w", err)
	}
	return cmd, nil
}

// killPauseAnchor sends SIGKILL to the anchor and waits for it,
// tolerating ECHILD from an anchor some other reaper already collected
// (§9's explicit drop-time open question).
func killPauseAnchor(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	// cmd.Wait's error is always one of: an *exec.ExitError reporting the
	// SIGKILL we just sent, or ECHILD if some other reaper already
	// collected the anchor. Both are expected; drop never surfaces an
	// error regardless (§4.1/§7, and the ECHILD tolerance §9 calls for).
	_ = cmd.Wait()
}
