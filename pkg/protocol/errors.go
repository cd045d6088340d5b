package protocol

import (
	"fmt"
	"strings"
)

// ToolMissingError reports an external binary that is not on PATH. Commands
// that need pi or tk return it before doing anything else.
type ToolMissingError struct {
	Tools []string
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("required tool(s) not found in PATH: %s; install them or run 'tf doctor'",
		strings.Join(e.Tools, ", "))
}

// UserInputError is an invocation the CLI refuses to carry out as given,
// e.g. --apply without --yes in a non-interactive session.
type UserInputError struct {
	Msg string
}

func (e *UserInputError) Error() string {
	return e.Msg
}

// TicketNotFoundError reports a ticket id that neither tk nor .tickets/ knows.
type TicketNotFoundError struct {
	TicketID string
}

func (e *TicketNotFoundError) Error() string {
	return fmt.Sprintf("ticket %s not found", e.TicketID)
}
