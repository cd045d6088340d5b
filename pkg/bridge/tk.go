package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ticketflow/pkg/frontmatter"
	"ticketflow/pkg/protocol"
)

// TK is a client for the tk ticket CLI.
type TK struct {
	runner CommandRunner
	// Root is the project root holding .tickets/.
	Root string
}

// NewTK creates a TK client backed by the given CommandRunner.
func NewTK(runner CommandRunner, root string) *TK {
	return &TK{runner: runner, Root: root}
}

// Ready runs `tk ready` and returns the ticket ids in the order listed.
func (c *TK) Ready(ctx context.Context) ([]string, error) {
	out, err := c.runner.Run(ctx, protocol.TicketBin, "ready")
	if err != nil {
		return nil, fmt.Errorf("tk ready: %w", err)
	}
	return ParseIDs(string(out)), nil
}

// List runs `tk ls` filtered by status and/or tag.
func (c *TK) List(ctx context.Context, status, tag string) ([]string, error) {
	args := []string{"ls"}
	if status != "" {
		args = append(args, "--status", status)
	}
	if tag != "" {
		args = append(args, "--tag", tag)
	}
	out, err := c.runner.Run(ctx, protocol.TicketBin, args...)
	if err != nil {
		return nil, fmt.Errorf("tk %s: %w", strings.Join(args, " "), err)
	}
	return ParseIDs(string(out)), nil
}

// Show loads a ticket. The file under .tickets/ is preferred because it
// carries the path needed for edits; `tk show <id>` is the fallback.
func (c *TK) Show(ctx context.Context, id string) (*protocol.Ticket, error) {
	if c.Root != "" {
		t, err := LoadTicketFile(c.Root, id)
		if err == nil {
			return t, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	out, err := c.runner.Run(ctx, protocol.TicketBin, "show", id)
	if err != nil {
		return nil, fmt.Errorf("tk show %s: %w", id, err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return nil, &protocol.TicketNotFoundError{TicketID: id}
	}
	t := ParseTicket(id, string(out))
	return &t, nil
}

// TicketPath returns .tickets/<id>.md under root.
func TicketPath(root, id string) string {
	return filepath.Join(root, protocol.TicketsDir, id+".md")
}

// LoadTicketFile reads and parses .tickets/<id>.md.
func LoadTicketFile(root, id string) (*protocol.Ticket, error) {
	path := TicketPath(root, id)
	data, err := os.ReadFile(path) //nolint:gosec // path built from project root and ticket id
	if err != nil {
		return nil, err
	}
	t := ParseTicket(id, string(data))
	t.Path = path
	return &t, nil
}

// ParseIDs takes the first whitespace-separated field of every non-empty
// line of tk list output.
func ParseIDs(out string) []string {
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		ids = append(ids, fields[0])
	}
	return ids
}

// ParseTicket builds a ticket projection from tk's Markdown. The title is
// the frontmatter title or else the first "# " heading, which is then
// dropped from the description.
func ParseTicket(id, content string) protocol.Ticket {
	doc := frontmatter.Parse(content)
	t := protocol.Ticket{ID: id}
	if v, ok := doc.Get("id"); ok && v != "" {
		t.ID = v
	}
	t.Status = protocol.TicketStatus(strings.ToLower(doc.Fields["status"]))
	t.Priority = doc.Fields["priority"]
	t.Type = doc.Fields["type"]
	t.Assignee = doc.Fields["assignee"]
	t.Tags = listField(doc, "tags")
	t.Deps = listField(doc, "deps")
	if created, ok := doc.Get("created"); ok {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			t.Created = ts
		}
	}

	body := doc.Body
	t.Title = doc.Fields["title"]
	if t.Title == "" {
		lines := strings.Split(body, "\n")
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "# ") {
				t.Title = strings.TrimSpace(trimmed[2:])
				body = strings.Join(lines[i+1:], "\n")
			}
			break
		}
	}
	t.Description = strings.TrimSpace(body)
	return t
}

// listField reads a YAML list field, accepting both flow ([a, b]) and block
// sequences, or a comma-separated scalar.
func listField(doc *frontmatter.Document, key string) []string {
	if raw, ok := doc.Values[key]; ok {
		switch v := raw.(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
					out = append(out, s)
				}
			}
			return out
		case string:
			return splitList(v)
		}
	}
	if v, ok := doc.Fields[key]; ok {
		return splitList(strings.Trim(v, "[]"))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.Trim(strings.TrimSpace(part), `"'`); p != "" {
			out = append(out, p)
		}
	}
	return out
}
