package frontmatter_test

import (
	"testing"

	"ticketflow/pkg/frontmatter"
)

const ticket = `---
id: sec-001
status: open
priority: P2
tags: [security, api]
created: 2026-01-05T10:00:00Z
---
# Fix token leak

Tokens are logged in plaintext.
`

func TestParse(t *testing.T) {
	d := frontmatter.Parse(ticket)
	if !d.HasFrontmatter {
		t.Fatal("HasFrontmatter = false")
	}
	if got, _ := d.Get("priority"); got != "P2" {
		t.Errorf("priority = %q, want P2", got)
	}
	if got, _ := d.Get("id"); got != "sec-001" {
		t.Errorf("id = %q, want sec-001", got)
	}
	tags, ok := d.Values["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("Values[tags] = %#v, want 2-element list", d.Values["tags"])
	}
	if d.Body != "# Fix token leak\n\nTokens are logged in plaintext.\n" {
		t.Errorf("Body = %q", d.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	tests := []string{
		"# Title\n\nbody\n",
		"---\nunterminated: true\n",
		"",
	}
	for _, in := range tests {
		d := frontmatter.Parse(in)
		if d.HasFrontmatter {
			t.Errorf("Parse(%q).HasFrontmatter = true", in)
		}
		if d.Body != in || len(d.Fields) != 0 {
			t.Errorf("Parse(%q) = body %q fields %v", in, d.Body, d.Fields)
		}
		if d.Render() != in {
			t.Errorf("Render() = %q, want %q", d.Render(), in)
		}
	}
}

func TestRender_RoundTrip(t *testing.T) {
	inputs := []string{
		ticket,
		"\n\n---\na: 1\n---\nbody",
		"---\r\na: 1\r\n---\r\nbody\r\n",
		"---\n---\n",
	}
	for _, in := range inputs {
		if got := frontmatter.Parse(in).Render(); got != in {
			t.Errorf("Render() = %q, want %q", got, in)
		}
	}
}

func TestUpdateFields(t *testing.T) {
	fm := "id: a\n  priority: 2\nstatus: open\n"

	t.Run("replace keeps indentation and neighbours", func(t *testing.T) {
		got, changed := frontmatter.UpdateFields(fm, []frontmatter.Field{{Key: "priority", Value: "0"}}, nil)
		if !changed {
			t.Fatal("changed = false")
		}
		if want := "id: a\n  priority: 0\nstatus: open\n"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("append missing", func(t *testing.T) {
		got, changed := frontmatter.UpdateFields("id: a\n", []frontmatter.Field{{Key: "model", Value: "gpt-x"}}, nil)
		if !changed || got != "id: a\nmodel: gpt-x\n" {
			t.Errorf("got (%q, %v)", got, changed)
		}
	})

	t.Run("equal value untouched", func(t *testing.T) {
		in := "model: \"gpt-x\"\n"
		got, changed := frontmatter.UpdateFields(in, []frontmatter.Field{{Key: "model", Value: "gpt-x"}}, nil)
		if changed || got != in {
			t.Errorf("got (%q, %v), want unchanged", got, changed)
		}
	})

	t.Run("predicate false", func(t *testing.T) {
		got, changed := frontmatter.UpdateFields(fm, []frontmatter.Field{{Key: "priority", Value: "0"}},
			func(string) bool { return false })
		if changed || got != fm {
			t.Errorf("got (%q, %v), want unchanged", got, changed)
		}
	})

	t.Run("top level preferred over nested", func(t *testing.T) {
		in := "meta:\n  model: nested\nmodel: top\n"
		got, _ := frontmatter.UpdateFields(in, []frontmatter.Field{{Key: "model", Value: "new"}}, nil)
		if want := "meta:\n  model: nested\nmodel: new\n"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

func TestDocumentSet_PreservesOtherFields(t *testing.T) {
	d := frontmatter.Parse(ticket)
	if !d.Set(frontmatter.Field{Key: "priority", Value: "P0"}) {
		t.Fatal("Set reported no change")
	}
	want := `---
id: sec-001
status: open
priority: P0
tags: [security, api]
created: 2026-01-05T10:00:00Z
---
# Fix token leak

Tokens are logged in plaintext.
`
	if got := d.Render(); got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
	if got, _ := d.Get("priority"); got != "P0" {
		t.Errorf("Fields not refreshed: priority = %q", got)
	}
}

func TestDocumentSet_CreatesFrontmatter(t *testing.T) {
	d := frontmatter.Parse("# Agent\n")
	d.Set(frontmatter.Field{Key: "model", Value: "m1"})
	if got := d.Render(); got != "---\nmodel: m1\n---\n# Agent\n" {
		t.Errorf("Render() = %q", got)
	}
}
