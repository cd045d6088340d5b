package bridge

import (
	"os/exec"

	"ticketflow/pkg/protocol"
)

// LookPathFunc resolves a binary on PATH.
type LookPathFunc func(file string) (string, error)

// RequireTools returns a *protocol.ToolMissingError naming every binary in
// names that look cannot find. A nil look uses exec.LookPath.
func RequireTools(look LookPathFunc, names ...string) error {
	if look == nil {
		look = exec.LookPath
	}
	var missing []string
	for _, n := range names {
		if _, err := look(n); err != nil {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return &protocol.ToolMissingError{Tools: missing}
	}
	return nil
}
