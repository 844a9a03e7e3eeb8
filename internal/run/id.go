package run

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// idPattern restricts client-supplied run IDs to filesystem-safe names.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewID generates a run ID of the form YYYYMMDD_HHMMSS_<6-hex>.
// The hex suffix makes IDs collision-free even for runs created within the
// same second on the same workspace.
func NewID(now time.Time) string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), hex.EncodeToString(buf))
}

// ValidateID checks a client-supplied run ID. IDs become directory names
// under the control plane, so path separators and leading dots are rejected.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID must not be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid run ID %q: must match %s", id, idPattern.String())
	}
	return nil
}
