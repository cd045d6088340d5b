// Package escalation decides which stronger models replace the base models
// on retry attempts.
package escalation

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"ticketflow/pkg/retrystate"
)

// DefaultMaxRetries is the retry cap when none is configured.
const DefaultMaxRetries = 3

// Models holds optional per-role escalation models.
type Models struct {
	Fixer                 *string `json:"fixer"`
	ReviewerSecondOpinion *string `json:"reviewerSecondOpinion"`
	Worker                *string `json:"worker"`
}

// Config is the "escalation" block of settings.json.
type Config struct {
	Enabled    bool   `json:"enabled"`
	MaxRetries int    `json:"maxRetries"`
	Models     Models `json:"models"`
}

// DefaultConfig returns escalation disabled with the default retry cap.
func DefaultConfig() Config {
	return Config{MaxRetries: DefaultMaxRetries}
}

// BaseModels are the models each role uses when not escalated.
type BaseModels struct {
	Fixer                 string
	ReviewerSecondOpinion string
	Worker                string
}

// Overrides are the models to use for one attempt. Nil means "use base".
type Overrides struct {
	Fixer                 *string
	ReviewerSecondOpinion *string
	Worker                *string
}

type rawConfig struct {
	Enabled    *bool              `json:"enabled"`
	MaxRetries *int               `json:"maxRetries"`
	Models     map[string]*string `json:"models"`
}

// Merge overlays raw JSON onto base. Top-level fields replace base when
// present; models are merged key by key, so an explicit null clears a model.
func Merge(base Config, raw []byte) (Config, error) {
	var rc rawConfig
	if err := json.Unmarshal(jsonc.ToJSON(raw), &rc); err != nil {
		return base, fmt.Errorf("parse escalation config: %w", err)
	}
	out := base
	if rc.Enabled != nil {
		out.Enabled = *rc.Enabled
	}
	if rc.MaxRetries != nil {
		out.MaxRetries = *rc.MaxRetries
	}
	for key, v := range rc.Models {
		switch key {
		case "fixer":
			out.Models.Fixer = v
		case "reviewerSecondOpinion":
			out.Models.ReviewerSecondOpinion = v
		case "worker":
			out.Models.Worker = v
		}
	}
	return out, nil
}

// Resolve returns the overrides for attempt, the number of the attempt about
// to run. Attempt 2 escalates the fixer; attempt 3 and later also escalate
// the second-opinion reviewer, and the worker when one is configured.
func Resolve(cfg Config, base BaseModels, attempt int) Overrides {
	var o Overrides
	if !cfg.Enabled || attempt <= 1 {
		return o
	}
	o.Fixer = pick(cfg.Models.Fixer, base.Fixer)
	if attempt >= 3 {
		o.ReviewerSecondOpinion = pick(cfg.Models.ReviewerSecondOpinion, base.ReviewerSecondOpinion)
		if cfg.Models.Worker != nil && *cfg.Models.Worker != "" {
			w := *cfg.Models.Worker
			o.Worker = &w
		}
	}
	return o
}

// AttemptCounter reports the number the next attempt will run as.
type AttemptCounter interface {
	NextAttemptNumber() int
}

// ResolveNext resolves overrides for the attempt store will start next.
func ResolveNext(cfg Config, base BaseModels, store AttemptCounter) Overrides {
	return Resolve(cfg, base, store.NextAttemptNumber())
}

func pick(configured *string, base string) *string {
	if configured != nil && *configured != "" {
		v := *configured
		return &v
	}
	if base != "" {
		return &base
	}
	return nil
}

// IsZero reports whether no role is overridden.
func (o Overrides) IsZero() bool {
	return o.Fixer == nil && o.ReviewerSecondOpinion == nil && o.Worker == nil
}

// Record converts o into the form stored on a retry attempt, nil when empty.
func (o Overrides) Record() *retrystate.Escalation {
	if o.IsZero() {
		return nil
	}
	return &retrystate.Escalation{
		Fixer:                 o.Fixer,
		ReviewerSecondOpinion: o.ReviewerSecondOpinion,
		Worker:                o.Worker,
	}
}

// Env renders o as environment assignments for the Agent Runtime.
func (o Overrides) Env() []string {
	var env []string
	if o.Fixer != nil {
		env = append(env, "TF_ESCALATION_FIXER_MODEL="+*o.Fixer)
	}
	if o.ReviewerSecondOpinion != nil {
		env = append(env, "TF_ESCALATION_REVIEWER_SECOND_OPINION_MODEL="+*o.ReviewerSecondOpinion)
	}
	if o.Worker != nil {
		env = append(env, "TF_ESCALATION_WORKER_MODEL="+*o.Worker)
	}
	return env
}
