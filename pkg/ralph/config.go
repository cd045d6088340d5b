// Package ralph drives the Ralph loop: select a ready ticket, hand it to the
// Agent Runtime, judge the artifacts, record the attempt, sleep, repeat.
package ralph

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ticketflow/pkg/protocol"
)

// CaptureJSONEnv enables JSON capture unless the CLI flag overrides it.
const CaptureJSONEnv = "RALPH_CAPTURE_JSON"

// Config is the resolved .tf/ralph/config.json.
type Config struct {
	MaxIterations          int
	MaxIterationsPerTicket int
	TicketQuery            string
	CompletionCheck        string
	SleepBetweenTickets    time.Duration
	SleepBetweenRetries    time.Duration
	Workflow               string
	WorkflowFlags          string
	PromiseOnComplete      bool
	CaptureJSON            bool
	// Parallel is the worker count; 1 runs sequentially.
	Parallel int
}

// defaults are keyed as they appear in config.json. Durations are in
// milliseconds.
var defaults = map[string]any{ //nolint:gochecknoglobals // static table
	"maxIterations":          50,
	"maxIterationsPerTicket": 5,
	"ticketQuery":            "tk ready | head -1 | awk '{print $1}'",
	"completionCheck":        "tk ready | grep -q .",
	"sleepBetweenTickets":    5000,
	"sleepBetweenRetries":    10000,
	"workflow":               "/tf",
	"workflowFlags":          "--auto",
	"promiseOnComplete":      true,
	"captureJson":            false,
	"parallel":               1,
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return fromViper(newViper())
}

// DefaultJSON is the config.json written by tf init.
func DefaultJSON() []byte {
	data, _ := json.MarshalIndent(defaults, "", "  ") //nolint:errchkjson // static map of scalars
	return append(data, '\n')
}

// ConfigPath is .tf/ralph/config.json under projectRoot.
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, protocol.RalphDir, protocol.RalphConfigFile)
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// LoadConfig layers .tf/ralph/config.json over the defaults. A missing file
// yields the defaults; an unreadable one yields the defaults and a logged
// warning.
func LoadConfig(projectRoot string) Config {
	v := newViper()
	path := ConfigPath(projectRoot)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			log.Printf("ralph: ignoring %s: %v", path, err)
			v = newViper()
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	cfg := Config{
		MaxIterations:          v.GetInt("maxIterations"),
		MaxIterationsPerTicket: v.GetInt("maxIterationsPerTicket"),
		TicketQuery:            v.GetString("ticketQuery"),
		CompletionCheck:        v.GetString("completionCheck"),
		SleepBetweenTickets:    time.Duration(v.GetInt64("sleepBetweenTickets")) * time.Millisecond,
		SleepBetweenRetries:    time.Duration(v.GetInt64("sleepBetweenRetries")) * time.Millisecond,
		Workflow:               v.GetString("workflow"),
		WorkflowFlags:          v.GetString("workflowFlags"),
		PromiseOnComplete:      v.GetBool("promiseOnComplete"),
		CaptureJSON:            v.GetBool("captureJson"),
		Parallel:               v.GetInt("parallel"),
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return cfg
}

// ParseBoolEnv accepts 1, true and yes in any case.
func ParseBoolEnv(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// ResolveCaptureJSON applies CLI flag > RALPH_CAPTURE_JSON > config. A nil
// flag means the flag was not given. The env var can only enable capture.
func ResolveCaptureJSON(flag *bool, env string, cfg Config) bool {
	if flag != nil {
		return *flag
	}
	if ParseBoolEnv(env) {
		return true
	}
	return cfg.CaptureJSON
}
