package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"ticketflow/pkg/frontmatter"
)

// Assignment is the model and thinking level applied to one agent or prompt.
type Assignment struct {
	MetaModel string
	Model     string
	Thinking  string
}

// Assignments maps agent and prompt names to their resolved models.
type Assignments struct {
	Agents  map[string]Assignment
	Prompts map[string]Assignment
}

// ResolveModelAssignments resolves the agents and prompts maps through
// metaModels. A value naming a metaModels key takes that entry's model and
// thinking; any other string is used as a literal model id.
func ResolveModelAssignments(s *Settings) Assignments {
	meta, _ := s.Section("metaModels")
	resolve := func(section string) map[string]Assignment {
		out := map[string]Assignment{}
		m, _ := s.Section(section)
		for name, v := range m {
			ref, ok := v.(string)
			if !ok || ref == "" {
				continue
			}
			a := Assignment{MetaModel: ref, Model: ref}
			if entry, ok := meta[ref].(map[string]any); ok {
				a.Model, _ = entry["model"].(string)
				a.Thinking, _ = entry["thinking"].(string)
			} else {
				a.MetaModel = ""
			}
			if a.Model != "" {
				out[name] = a
			}
		}
		return out
	}
	return Assignments{Agents: resolve("agents"), Prompts: resolve("prompts")}
}

// SyncResult lists what SyncModels did, by relative file path.
type SyncResult struct {
	Updated   []string
	Unchanged []string
	Missing   []string
}

// SyncModels writes the resolved model and thinking of every agent and
// prompt into the frontmatter of agents/<name>.md and prompts/<name>.md
// under projectRoot. Files that do not exist are reported, not created.
func SyncModels(projectRoot string, s *Settings, dryRun bool) (*SyncResult, error) {
	a := ResolveModelAssignments(s)
	res := &SyncResult{}
	for _, group := range []struct {
		dir string
		m   map[string]Assignment
	}{{"agents", a.Agents}, {"prompts", a.Prompts}} {
		names := make([]string, 0, len(group.m))
		for n := range group.m {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, name := range names {
			rel := filepath.Join(group.dir, name+".md")
			changed, err := syncFile(filepath.Join(projectRoot, rel), group.m[name], dryRun)
			switch {
			case os.IsNotExist(err):
				res.Missing = append(res.Missing, rel)
			case err != nil:
				return res, fmt.Errorf("sync %s: %w", rel, err)
			case changed:
				res.Updated = append(res.Updated, rel)
			default:
				res.Unchanged = append(res.Unchanged, rel)
			}
		}
	}
	return res, nil
}

func syncFile(path string, a Assignment, dryRun bool) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path built from project root
	if err != nil {
		return false, err
	}
	doc := frontmatter.Parse(string(data))
	fields := []frontmatter.Field{{Key: "model", Value: a.Model}}
	if a.Thinking != "" {
		fields = append(fields, frontmatter.Field{Key: "thinking", Value: a.Thinking})
	}
	if !doc.Set(fields...) {
		return false, nil
	}
	if dryRun {
		return true, nil
	}
	if err := atomic.WriteFile(path, strings.NewReader(doc.Render())); err != nil {
		return false, fmt.Errorf("write: %w", err)
	}
	return true, nil
}
