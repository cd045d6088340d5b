package assets

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"ticketflow/pkg/protocol"
)

// Action is what execution will do with one entry.
type Action string

// Plan actions.
const (
	ActionInstall Action = "install"
	ActionUpdate  Action = "update"
	ActionSkip    Action = "skip"
	ActionRemove  Action = "remove"
)

// PlannedAsset is one entry and the action chosen for it.
type PlannedAsset struct {
	Entry  Entry
	Action Action
	Reason string
	// Current and Incoming are set when planning compared content.
	Current  []byte
	Incoming []byte
}

// CurrentDigest is the BLAKE3 hex digest of Current, or "".
func (p PlannedAsset) CurrentDigest() string { return digest(p.Current) }

// IncomingDigest is the BLAKE3 hex digest of Incoming, or "".
func (p PlannedAsset) IncomingDigest() string { return digest(p.Incoming) }

func digest(data []byte) string {
	if data == nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PlanError records an entry that could not be planned.
type PlanError struct {
	Entry   string
	Message string
}

// Plan is the ordered result of PlanInstallation.
type Plan struct {
	ProjectRoot string
	Assets      []PlannedAsset
	Errors      []PlanError
	// Entries are the classified manifest paths, recorded after a full
	// execution so a later --prune can find stale installs.
	Entries []string

	source Source
}

// ByAction returns the planned assets with action a, in plan order.
func (p *Plan) ByAction(a Action) []PlannedAsset {
	var out []PlannedAsset
	for _, pa := range p.Assets {
		if pa.Action == a {
			out = append(out, pa)
		}
	}
	return out
}

// PlanOptions controls PlanInstallation.
type PlanOptions struct {
	ProjectRoot string
	// CheckUpdates compares existing destinations byte for byte.
	CheckUpdates bool
	// Force updates every existing destination without comparing.
	Force bool
	// Prune removes previously installed entries no longer in the manifest.
	Prune bool
}

// PlanInstallation decides an action for every manifest entry. Entries
// that fail to classify are ignored; failures to read or fetch are
// collected in Plan.Errors and never abort planning.
func PlanInstallation(ctx context.Context, manifest []string, opts PlanOptions, src Source) *Plan {
	plan := &Plan{ProjectRoot: opts.ProjectRoot, source: src}
	seen := map[string]bool{}

	for _, raw := range manifest {
		entry, ok := Classify(raw)
		if !ok || seen[entry.Path] {
			continue
		}
		seen[entry.Path] = true
		plan.Entries = append(plan.Entries, entry.Path)

		dest := entry.DestPath(opts.ProjectRoot)
		current, err := os.ReadFile(dest) //nolint:gosec // destination derived from classified entry
		switch {
		case os.IsNotExist(err):
			plan.Assets = append(plan.Assets, PlannedAsset{Entry: entry, Action: ActionInstall, Reason: "missing"})
		case err != nil:
			plan.Errors = append(plan.Errors, PlanError{Entry: entry.Path, Message: err.Error()})
		case opts.Force:
			plan.Assets = append(plan.Assets, PlannedAsset{Entry: entry, Action: ActionUpdate, Reason: "forced"})
		case opts.CheckUpdates:
			incoming, ferr := src.Fetch(ctx, entry.Path)
			if ferr != nil {
				plan.Errors = append(plan.Errors, PlanError{Entry: entry.Path, Message: ferr.Error()})
				continue
			}
			if bytes.Equal(current, incoming) {
				plan.Assets = append(plan.Assets, PlannedAsset{Entry: entry, Action: ActionSkip, Reason: "up to date"})
				continue
			}
			plan.Assets = append(plan.Assets, PlannedAsset{
				Entry: entry, Action: ActionUpdate, Reason: "content differs",
				Current: current, Incoming: incoming,
			})
		default:
			plan.Assets = append(plan.Assets, PlannedAsset{Entry: entry, Action: ActionSkip, Reason: "exists"})
		}
	}

	if opts.Prune {
		planRemovals(plan, seen)
	}
	return plan
}

func planRemovals(plan *Plan, seen map[string]bool) {
	recorded, err := ReadInstallRecord(plan.ProjectRoot)
	if err != nil {
		plan.Errors = append(plan.Errors, PlanError{Entry: protocol.InstallRecordFile, Message: err.Error()})
		return
	}
	for _, raw := range recorded {
		entry, ok := Classify(raw)
		if !ok || seen[entry.Path] {
			continue
		}
		seen[entry.Path] = true
		if _, err := os.Stat(entry.DestPath(plan.ProjectRoot)); err != nil {
			continue
		}
		plan.Assets = append(plan.Assets, PlannedAsset{Entry: entry, Action: ActionRemove, Reason: "no longer in manifest"})
	}
}

// InstallRecordPath is the install record under root.
func InstallRecordPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(protocol.InstallRecordFile))
}

// ReadInstallRecord returns the entries written by the last execution. A
// missing record is empty.
func ReadInstallRecord(root string) ([]string, error) {
	data, err := os.ReadFile(InstallRecordPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseManifest(string(data)), nil
}

func recordText(entries []string) string {
	sorted := append([]string(nil), entries...)
	sort.Strings(sorted)
	return "# Written by tf sync; do not edit.\n" + strings.Join(sorted, "\n") + "\n"
}
