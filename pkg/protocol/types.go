package protocol

import (
	"slices"
	"strings"
	"time"
)

// TicketStatus is the lifecycle state tk records for a ticket.
type TicketStatus string

// Ticket status constants.
const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketClosed     TicketStatus = "closed"
	TicketBlocked    TicketStatus = "blocked"
)

// Ticket is the read-only projection of a tk ticket. tk stores each ticket
// as Markdown with YAML frontmatter at .tickets/<id>.md; Path is set when the
// projection was read from that file.
type Ticket struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Status      TicketStatus `json:"status"`
	Priority    string       `json:"priority"` // raw frontmatter value, e.g. "P2" or "2"
	Type        string       `json:"type"`
	Tags        []string     `json:"tags,omitempty"`
	Deps        []string     `json:"deps,omitempty"`
	Description string       `json:"description,omitempty"`
	Assignee    string       `json:"assignee,omitempty"`
	Created     time.Time    `json:"created,omitzero"`
	Path        string       `json:"path,omitempty"`
}

// IsClosed reports whether tk considers the ticket done.
func (t Ticket) IsClosed() bool {
	return t.Status == TicketClosed
}

// HasTag reports whether the ticket carries tag (case-insensitive).
func (t Ticket) HasTag(tag string) bool {
	return slices.ContainsFunc(t.Tags, func(s string) bool {
		return strings.EqualFold(s, tag)
	})
}
