package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"ticketflow/pkg/protocol"
)

// MCP endpoints written to ~/.pi/agent/mcp.json.
const (
	context7URL = "https://mcp.context7.com/mcp"
	exaURL      = "https://mcp.exa.ai/mcp"
	zaiURL      = "https://api.z.ai/api/mcp/web_search_prime/mcp"
)

// loginKeys are the API keys tf login collects. Empty keys leave the
// existing configuration alone.
type loginKeys struct {
	Perplexity string
	Context7   string
	Exa        string
	ZAI        string
}

func (k loginKeys) empty() bool {
	return k == loginKeys{}
}

// newLoginCmd creates the "tf login" subcommand.
func newLoginCmd() *cobra.Command {
	var keys loginKeys

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store web-search and MCP API keys for the agent runtime",
		Long: "Writes ~/.pi/agent/web-search.json and ~/.pi/agent/mcp.json (mode 0600).\n" +
			"Keys not given as flags are prompted for on a terminal; leaving a prompt\n" +
			"blank keeps the current value.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			if isTerminal(cmd.InOrStdin()) && isTerminal(cmd.OutOrStdout()) {
				if err := promptLoginKeys(&keys); err != nil {
					return err
				}
			}
			if keys.empty() {
				return &protocol.UserInputError{Msg: "no keys given; pass --perplexity-key, --context7-key, --exa-key or --zai-key"}
			}

			dir := filepath.Join(paths.Home, ".pi", "agent")
			written, err := writeLoginConfig(dir, keys)
			if err != nil {
				return err
			}
			log := newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout()))
			for _, p := range written {
				log.Step("wrote %s", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keys.Perplexity, "perplexity-key", "", "Perplexity API key")
	cmd.Flags().StringVar(&keys.Context7, "context7-key", "", "Context7 API key")
	cmd.Flags().StringVar(&keys.Exa, "exa-key", "", "Exa API key")
	cmd.Flags().StringVar(&keys.ZAI, "zai-key", "", "ZAI API key")
	return cmd
}

func promptLoginKeys(k *loginKeys) error {
	input := func(title string, v *string) *huh.Input {
		return huh.NewInput().
			Title(title).
			Description("Leave blank to keep the current value").
			EchoMode(huh.EchoModePassword).
			Value(v)
	}
	form := huh.NewForm(
		huh.NewGroup(
			input("Perplexity API key", &k.Perplexity),
			input("Context7 API key", &k.Context7),
			input("Exa API key", &k.Exa),
			input("ZAI API key", &k.ZAI),
		),
	).WithOutput(os.Stderr)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return &exitError{code: 1, err: errors.New("login cancelled")}
		}
		return fmt.Errorf("login form: %w", err)
	}
	return nil
}

// writeLoginConfig merges keys into web-search.json and mcp.json under dir
// and returns the files written.
func writeLoginConfig(dir string, k loginKeys) ([]string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	var written []string

	if k.Perplexity != "" || k.Exa != "" {
		path := filepath.Join(dir, "web-search.json")
		cfg, err := readJSONObject(path)
		if err != nil {
			return written, err
		}
		if k.Perplexity != "" {
			cfg["perplexityApiKey"] = k.Perplexity
		}
		if k.Exa != "" {
			cfg["exaApiKey"] = k.Exa
		}
		if err := writeSecretJSON(path, cfg); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if k.Context7 != "" || k.Exa != "" || k.ZAI != "" {
		path := filepath.Join(dir, "mcp.json")
		cfg, err := readJSONObject(path)
		if err != nil {
			return written, err
		}
		servers, _ := cfg["mcpServers"].(map[string]any)
		if servers == nil {
			servers = map[string]any{}
		}
		if k.Context7 != "" {
			servers["context7"] = map[string]any{
				"url":     context7URL,
				"headers": map[string]any{"CONTEXT7_API_KEY": k.Context7},
			}
		}
		if k.Exa != "" {
			servers["exa"] = map[string]any{"url": exaURL + "?exaApiKey=" + k.Exa}
		}
		if k.ZAI != "" {
			servers["zai-web-search"] = map[string]any{
				"url":     zaiURL,
				"headers": map[string]any{"Authorization": "Bearer " + k.ZAI},
			}
		}
		cfg["mcpServers"] = servers
		if err := writeSecretJSON(path, cfg); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func readJSONObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path under ~/.pi/agent
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// writeSecretJSON writes v atomically and restricts it to the owner. An
// existing file is tightened first because atomic.WriteFile gives the
// replacement the old file's mode.
func writeSecretJSON(path string, v map[string]any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
