// Package settings loads .tf/config/settings.json. The effective settings
// are the built-in defaults, overlaid by the user file
// (~/.tf/config/settings.json), overlaid by the project file, merged key by
// key at every level. Files may contain comments and trailing commas.
package settings

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"ticketflow/pkg/artifact"
	"ticketflow/pkg/escalation"
	"ticketflow/pkg/protocol"
	"ticketflow/pkg/qualitygate"
)

// Role keys in the "agents" map that feed escalation base models.
const (
	RoleFixer                 = "fixer"
	RoleReviewerSecondOpinion = "reviewer-second-opinion"
	RoleWorker                = "worker"
)

// Settings is the merged configuration.
type Settings struct {
	Raw      map[string]any
	Sources  []string
	Warnings []string
}

// Defaults returns the built-in settings document.
func Defaults() map[string]any {
	return map[string]any{
		"metaModels": map[string]any{},
		"agents":     map[string]any{},
		"prompts":    map[string]any{},
		"workflow": map[string]any{
			"failOn": []any{"Critical", "Major"},
			"escalation": map[string]any{
				"enabled":    false,
				"maxRetries": float64(escalation.DefaultMaxRetries),
				"models": map[string]any{
					"fixer":                 nil,
					"reviewerSecondOpinion": nil,
					"worker":                nil,
				},
			},
		},
	}
}

// DefaultJSON renders Defaults as indented JSON for tf init.
func DefaultJSON() []byte {
	data, err := json.MarshalIndent(Defaults(), "", "  ")
	if err != nil {
		panic(fmt.Sprintf("settings: marshal defaults: %v", err))
	}
	return append(data, '\n')
}

// ProjectPath returns the project settings file path.
func ProjectPath(projectRoot string) string {
	return filepath.Join(projectRoot, protocol.ConfigDir, protocol.SettingsFile)
}

// UserPath returns the user settings file path, or "" when home is empty.
func UserPath(home string) string {
	if home == "" {
		return ""
	}
	return filepath.Join(home, protocol.ConfigDir, protocol.SettingsFile)
}

// Load merges defaults, the user file under home, and the project file. A
// layer that is missing is skipped silently; a layer that cannot be read or
// parsed is skipped with a warning.
func Load(projectRoot, home string) *Settings {
	s := &Settings{Raw: Defaults()}
	for _, path := range []string{UserPath(home), ProjectPath(projectRoot)} {
		if path == "" {
			continue
		}
		layer, err := LoadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			msg := fmt.Sprintf("settings: ignoring %s: %v", path, err)
			log.Print(msg)
			s.Warnings = append(s.Warnings, msg)
			continue
		}
		s.Raw = DeepMerge(s.Raw, layer)
		s.Sources = append(s.Sources, path)
	}
	return s
}

// LoadFile reads one settings file. Comments and trailing commas are allowed.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // settings path resolved from project root
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &out); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// DeepMerge returns dst overlaid with src. Nested objects merge key by key;
// every other value in src replaces the one in dst. Neither input is
// modified.
func DeepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = DeepMerge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

// Section returns the object at the dotted path, e.g. "workflow.escalation".
func (s *Settings) Section(keys ...string) (map[string]any, bool) {
	cur := s.Raw
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// FailOn returns workflow.failOn canonicalised. Unknown severity names are
// dropped with a warning. A missing list yields the default; an explicit
// empty list disables the gate.
func (s *Settings) FailOn() []artifact.Severity {
	wf, _ := s.Section("workflow")
	raw, ok := wf["failOn"].([]any)
	if !ok {
		return qualitygate.DefaultFailOn()
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			names = append(names, str)
		}
	}
	out, err := artifact.CanonicalSeverities(names)
	if err != nil {
		log.Printf("settings: workflow.failOn: %v", err)
	}
	return out
}

// Escalation returns workflow.escalation merged over the escalation defaults.
func (s *Settings) Escalation() escalation.Config {
	cfg := escalation.DefaultConfig()
	sec, ok := s.Section("workflow", "escalation")
	if !ok {
		return cfg
	}
	data, err := json.Marshal(sec)
	if err != nil {
		log.Printf("settings: workflow.escalation: %v (using defaults)", err)
		return cfg
	}
	merged, err := escalation.Merge(cfg, data)
	if err != nil {
		log.Printf("settings: workflow.escalation: %v (using defaults)", err)
		return cfg
	}
	return merged
}

// BaseModels resolves the un-escalated model of each escalation role through
// the agents map.
func (s *Settings) BaseModels() escalation.BaseModels {
	a := ResolveModelAssignments(s)
	return escalation.BaseModels{
		Fixer:                 a.Agents[RoleFixer].Model,
		ReviewerSecondOpinion: a.Agents[RoleReviewerSecondOpinion].Model,
		Worker:                a.Agents[RoleWorker].Model,
	}
}
