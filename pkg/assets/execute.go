package assets

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/natefinch/atomic"
)

// ExecOptions controls ExecutePlan.
type ExecOptions struct {
	DryRun bool
	// Actions restricts execution to these actions; nil runs all of them
	// and rewrites the install record.
	Actions []Action
}

// Result counts execution outcomes.
type Result struct {
	Installed    int
	Updated      int
	Skipped      int
	Removed      int
	Errors       int
	ErrorDetails []string
}

func (r *Result) fail(entry string, err error) {
	r.Errors++
	r.ErrorDetails = append(r.ErrorDetails, fmt.Sprintf("%s: %v", entry, err))
}

// ExecutePlan carries out plan. A failure on one entry is recorded and the
// remaining entries still run. Planning errors are carried into the result.
func ExecutePlan(ctx context.Context, plan *Plan, opts ExecOptions) *Result {
	res := &Result{}
	for _, pe := range plan.Errors {
		res.Errors++
		res.ErrorDetails = append(res.ErrorDetails, fmt.Sprintf("%s: %s", pe.Entry, pe.Message))
	}

	for _, pa := range plan.Assets {
		if opts.Actions != nil && !slices.Contains(opts.Actions, pa.Action) {
			continue
		}
		if pa.Action == ActionSkip {
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			res.fail(pa.Entry.Path, err)
			continue
		}
		if opts.DryRun {
			res.count(pa.Action)
			continue
		}
		if err := apply(ctx, plan, pa); err != nil {
			res.fail(pa.Entry.Path, err)
			continue
		}
		res.count(pa.Action)
	}

	if !opts.DryRun && opts.Actions == nil && res.Errors == 0 {
		if err := writeInstallRecord(plan); err != nil {
			res.fail("install record", err)
		}
	}
	return res
}

func (r *Result) count(a Action) {
	switch a {
	case ActionInstall:
		r.Installed++
	case ActionUpdate:
		r.Updated++
	case ActionRemove:
		r.Removed++
	case ActionSkip:
		r.Skipped++
	}
}

func apply(ctx context.Context, plan *Plan, pa PlannedAsset) error {
	dest := pa.Entry.DestPath(plan.ProjectRoot)
	if pa.Action == ActionRemove {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	data := pa.Incoming
	if data == nil {
		if plan.source == nil {
			return ErrNoSource
		}
		var err error
		if data, err = plan.source.Fetch(ctx, pa.Entry.Path); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // project assets are world-readable
		return fmt.Errorf("create parent: %w", err)
	}
	if err := atomic.WriteFile(dest, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	mode := os.FileMode(0o644)
	if pa.Entry.Executable {
		mode = 0o755
	}
	if err := os.Chmod(dest, mode); err != nil { //nolint:gosec // scripts must be executable
		return fmt.Errorf("chmod: %w", err)
	}
	return nil
}

func writeInstallRecord(plan *Plan) error {
	path := InstallRecordPath(plan.ProjectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // config dir is world-readable
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader([]byte(recordText(plan.Entries))))
}

// CheckForUpdates plans with content comparison.
func CheckForUpdates(ctx context.Context, manifest []string, root string, src Source) *Plan {
	return PlanInstallation(ctx, manifest, PlanOptions{ProjectRoot: root, CheckUpdates: true}, src)
}

// UpdateAssets plans with content comparison and executes only updates.
func UpdateAssets(ctx context.Context, manifest []string, root string, src Source, dryRun bool) (*Plan, *Result) {
	plan := CheckForUpdates(ctx, manifest, root, src)
	return plan, ExecutePlan(ctx, plan, ExecOptions{DryRun: dryRun, Actions: []Action{ActionUpdate}})
}
