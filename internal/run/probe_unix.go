//go:build unix

package run

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// osProbe inspects live processes via signal 0 and ps.
type osProbe struct{}

func (osProbe) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return err == syscall.EPERM
}

func (osProbe) Name(pid int) string {
	out, err := exec.Command("ps", "-o", "comm=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// relatedProcessName reports whether a process name plausibly belongs to
// this runtime. Used only to detect PID reuse, so it errs on the side of
// matching (a false "related" just refuses the resume).
func relatedProcessName(name string) bool {
	base := name
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.Contains(base, "delta") || base == "go"
}
