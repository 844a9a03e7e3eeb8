package run

import (
	"errors"
	"fmt"
	"os"
)

// ErrRunActive is returned when a continuation targets a run whose recorded
// PID is alive and still looks like this runtime.
var ErrRunActive = errors.New("run still active")

// processProbe abstracts OS process inspection so the janitor's decision
// logic is testable without manufacturing live PIDs.
type processProbe interface {
	// Alive reports whether a process with the given PID exists.
	Alive(pid int) bool
	// Name returns the process name (best effort; empty when unknown).
	Name(pid int) string
}

// Janitor decides whether a run recorded as RUNNING is genuinely active or
// an orphan left behind by a crashed process.
type Janitor struct {
	hostname string
	probe    processProbe
}

// NewJanitor creates a janitor bound to the current host.
func NewJanitor() *Janitor {
	host, _ := os.Hostname()
	return &Janitor{hostname: host, probe: osProbe{}}
}

// ShouldReclaim inspects the metadata of a RUNNING run and reports whether
// it is orphaned and may be transitioned to INTERRUPTED.
//
// Rules, in order:
//  1. A run recorded on a different host cannot be liveness-checked here;
//     refuse unless force is set.
//  2. A dead PID means the owning process crashed: reclaim.
//  3. A live PID whose process name is unrelated to this runtime is PID
//     reuse: reclaim.
//  4. A live PID with a matching process name is a genuinely active run:
//     refuse with ErrRunActive.
func (j *Janitor) ShouldReclaim(meta Metadata, force bool) (bool, error) {
	if meta.Status != StatusRunning {
		return false, nil
	}
	if meta.Hostname != "" && meta.Hostname != j.hostname {
		if force {
			return true, nil
		}
		return false, fmt.Errorf(
			"run %s is recorded as RUNNING on host %q but this is host %q; cannot verify liveness remotely (use --force to override)",
			meta.RunID, meta.Hostname, j.hostname)
	}
	if !j.probe.Alive(meta.PID) {
		return true, nil
	}
	// PID is alive. Best-effort name check catches PID reuse after reboot.
	if name := j.probe.Name(meta.PID); name != "" && !relatedProcessName(name) {
		return true, nil
	}
	return false, fmt.Errorf("%w: run %s (pid %d on %s)", ErrRunActive, meta.RunID, meta.PID, j.hostname)
}
