//go:build windows

package sessions

import (
	"fmt"
	"os"
	"time"
)

// PTY sessions require a Unix host; on Windows every operation reports the
// limitation instead of half-working.

const HolderArg = "_holder"

var errUnsupported = fmt.Errorf("PTY sessions are not supported on Windows")

func (m *Manager) Start([]string) (Metadata, error)           { return Metadata{}, errUnsupported }
func (m *Manager) Write(string, string) error                 { return errUnsupported }
func (m *Manager) Read(string, time.Duration) (string, error) { return "", errUnsupported }
func (m *Manager) End(string) error                           { return errUnsupported }

func RunHolder(string, []string) error { return errUnsupported }

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
