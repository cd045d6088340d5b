package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRef is used when a source URL names no ref.
const DefaultRef = "main"

// HTTPTimeout bounds each remote download.
const HTTPTimeout = 30 * time.Second

// ErrNoSource is returned when neither a local checkout nor a remote URL
// can provide an entry.
var ErrNoSource = errors.New("no asset source configured")

// Source provides the bytes of a manifest entry.
type Source interface {
	Fetch(ctx context.Context, entry string) ([]byte, error)
}

// LocalSource reads entries from a checkout of the asset repository.
type LocalSource struct {
	Root string
}

// Has reports whether the checkout contains entry as a regular file.
func (s *LocalSource) Has(entry string) bool {
	info, err := os.Stat(filepath.Join(s.Root, filepath.FromSlash(entry)))
	return err == nil && info.Mode().IsRegular()
}

// Fetch reads entry from the checkout.
func (s *LocalSource) Fetch(_ context.Context, entry string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(entry))) //nolint:gosec // manifest entries are classified before fetch
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", entry, err)
	}
	return data, nil
}

// RemoteSource downloads entries from a raw-content host, one request at a
// time through Limiter.
type RemoteSource struct {
	SourceURL string
	// BaseURL, when set, is used instead of deriving a raw-content URL
	// from SourceURL. Entries are appended to it.
	BaseURL   string
	Client    *http.Client
	Limiter   *rate.Limiter
}

// NewRemoteSource validates sourceURL and returns a source with a 30s HTTP
// client and a limiter of 10 requests per second.
func NewRemoteSource(sourceURL string) (*RemoteSource, error) {
	if _, err := RawURL(sourceURL, "x"); err != nil {
		return nil, err
	}
	return &RemoteSource{
		SourceURL: sourceURL,
		Client:    &http.Client{Timeout: HTTPTimeout},
		Limiter:   rate.NewLimiter(rate.Limit(10), 1),
	}, nil
}

// Fetch downloads entry. Non-2xx responses are errors.
func (s *RemoteSource) Fetch(ctx context.Context, entry string) ([]byte, error) {
	url, err := s.url(entry)
	if err != nil {
		return nil, err
	}
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", entry, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", entry, err)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: HTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", entry, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: %s returned %s", entry, url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", entry, err)
	}
	return data, nil
}

func (s *RemoteSource) url(entry string) (string, error) {
	if s.BaseURL != "" {
		return strings.TrimRight(s.BaseURL, "/") + "/" + entry, nil
	}
	return RawURL(s.SourceURL, entry)
}

// RawURL builds the raw-content URL for entry from a source URL such as
// git+https://github.com/owner/repo.git@v1.2.0, https://github.com/owner/repo
// or owner/repo@ref. The ref defaults to main.
func RawURL(sourceURL, entry string) (string, error) {
	s := strings.TrimSpace(sourceURL)
	s = strings.TrimPrefix(s, "git+")
	for _, prefix := range []string{"https://", "http://", "ssh://git@", "git@"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "github.com/")
	s = strings.TrimPrefix(s, "github.com:")

	ref := DefaultRef
	if at := strings.LastIndex(s, "@"); at >= 0 {
		ref = s[at+1:]
		s = s[:at]
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || ref == "" {
		return "", fmt.Errorf("invalid asset source %q: want owner/repo[@ref]", sourceURL)
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", parts[0], parts[1], ref, entry), nil
}

// Resolver prefers the local checkout and falls back to the remote source.
type Resolver struct {
	Local  *LocalSource
	Remote *RemoteSource
}

// Fetch implements Source.
func (r *Resolver) Fetch(ctx context.Context, entry string) ([]byte, error) {
	if r.Local != nil && r.Local.Has(entry) {
		return r.Local.Fetch(ctx, entry)
	}
	if r.Remote != nil {
		return r.Remote.Fetch(ctx, entry)
	}
	if r.Local != nil {
		return nil, fmt.Errorf("%s: not in %s: %w", entry, r.Local.Root, ErrNoSource)
	}
	return nil, fmt.Errorf("%s: %w", entry, ErrNoSource)
}
