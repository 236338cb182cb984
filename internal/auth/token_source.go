// Package auth provides the bearer token sent to the remote virtm API.
//
// File-backed tokens are re-read whenever the file changes, so a rotated
// secret mount or a fresh CLI login is picked up by the next refresh without
// restarting the dashboard.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Source identifies where a token comes from.
type Source string

const (
	// SourceNone means no token was found; requests go out unauthenticated.
	SourceNone Source = "none"
	// SourceUIEnv is CHAMICORE_UI_TOKEN.
	SourceUIEnv Source = "chamicore_ui_token"
	// SourceTokenFile is the file named by CHAMICORE_UI_TOKEN_FILE.
	SourceTokenFile Source = "token_file"
	// SourceSharedEnv is CHAMICORE_TOKEN.
	SourceSharedEnv Source = "chamicore_token"
	// SourceCLIConfig is ~/.chamicore/config.yaml auth.token.
	SourceCLIConfig Source = "cli_config"
)

// Options controls token resolution.
type Options struct {
	// TokenFile holds the raw token. A configured file that is missing or
	// empty is an error.
	TokenFile string
	// AllowCLIConfigToken enables the CLI config as the last fallback.
	AllowCLIConfigToken bool
	CLIConfigPath       string
}

// Provider yields the current token. Token is safe for concurrent use.
type Provider struct {
	source Source
	static string
	file   *fileToken
}

// NewProvider resolves the token source using deterministic precedence:
// 1) CHAMICORE_UI_TOKEN
// 2) Options.TokenFile
// 3) CHAMICORE_TOKEN
// 4) CLI config auth.token (only when AllowCLIConfigToken=true)
//
// Environment tokens are read once. File tokens are read now, and again
// whenever the file's modification time changes.
func NewProvider(opts Options) (*Provider, error) {
	if token := strings.TrimSpace(os.Getenv("CHAMICORE_UI_TOKEN")); token != "" {
		return &Provider{source: SourceUIEnv, static: token}, nil
	}

	if path := strings.TrimSpace(opts.TokenFile); path != "" {
		file := newFileToken(expandPath(path), parseRawToken)
		if _, err := file.token(); err != nil {
			return nil, err
		}
		return &Provider{source: SourceTokenFile, file: file}, nil
	}

	if token := strings.TrimSpace(os.Getenv("CHAMICORE_TOKEN")); token != "" {
		return &Provider{source: SourceSharedEnv, static: token}, nil
	}

	none := &Provider{source: SourceNone}
	if !opts.AllowCLIConfigToken {
		return none, nil
	}

	configPath := expandPath(defaultIfEmpty(strings.TrimSpace(opts.CLIConfigPath), "~/.chamicore/config.yaml"))
	file := newFileToken(configPath, parseCLIConfigToken)
	token, err := file.token()
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return none, nil
	default:
		return nil, err
	}
	if token == "" {
		return none, nil
	}
	return &Provider{source: SourceCLIConfig, file: file}, nil
}

// Source reports where the token comes from.
func (p *Provider) Source() Source {
	if p == nil {
		return SourceNone
	}
	return p.source
}

// Token returns the current token, or "" when none is configured.
func (p *Provider) Token() (string, error) {
	if p == nil {
		return "", nil
	}
	if p.file != nil {
		return p.file.token()
	}
	return p.static, nil
}

// fileToken caches a token parsed from a file, keyed by modification time.
type fileToken struct {
	path  string
	parse func(data []byte) (string, error)

	mu      sync.Mutex
	modTime time.Time
	cached  string
	loaded  bool
}

func newFileToken(path string, parse func([]byte) (string, error)) *fileToken {
	return &fileToken{path: path, parse: parse}
}

// token returns the cached token unless the file changed since the last read.
// When a reread fails the error is returned and the cache is kept, so the
// next call retries.
func (f *fileToken) token() (string, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return "", fmt.Errorf("reading token from %s: %w", f.path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loaded && info.ModTime().Equal(f.modTime) {
		return f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("reading token from %s: %w", f.path, err)
	}
	token, err := f.parse(data)
	if err != nil {
		return "", fmt.Errorf("decoding token from %s: %w", f.path, err)
	}

	f.cached = token
	f.modTime = info.ModTime()
	f.loaded = true
	return token, nil
}

func parseRawToken(data []byte) (string, error) {
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errors.New("token file is empty")
	}
	return token, nil
}

type cliConfigFile struct {
	Auth struct {
		Token string `yaml:"token"`
	} `yaml:"auth"`
}

func parseCLIConfigToken(data []byte) (string, error) {
	var cfg cliConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", err
	}
	return strings.TrimSpace(cfg.Auth.Token), nil
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return filepath.Clean(path)
}
