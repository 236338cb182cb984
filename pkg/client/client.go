// Package client provides a typed HTTP client for the virtm UI API that the
// dashboard mirrors.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

const (
	versionPath    = "/"
	machinesPath   = "/machines"
	sshKeysPath    = "/ssh-keys"
	imagesPath     = "/images"
	networksPath   = "/networks"
	activitiesPath = "/activities"
)

// TokenSource yields the current bearer token. An empty token sends the
// request unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the root URL of the API (for example: http://localhost:9877/api).
	BaseURL string
	// Token is the bearer token sent with every request. Optional.
	Token string
	// TokenSource is asked for the bearer token on every request and takes
	// precedence over Token. Optional.
	TokenSource TokenSource
	// Timeout is the per-request timeout. Zero waits for the transport.
	Timeout time.Duration
	// HTTPClient overrides the default http.Client. Timeout is ignored when set.
	HTTPClient *http.Client
	// Tracing wraps the transport with OpenTelemetry instrumentation.
	Tracing bool
}

// Client is the typed SDK for the virtm UI API.
type Client struct {
	client  baseClient
	baseURL string
	cfg     Config
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL: %w", err)
	}
	baseURL = strings.TrimRight(baseURL, "/")
	cfg.BaseURL = baseURL
	cfg.Token = strings.TrimSpace(cfg.Token)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Tracing {
		transport := httpClient.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		traced := *httpClient
		traced.Transport = otelhttp.NewTransport(transport)
		httpClient = &traced
	}

	return &Client{
		client: baseClient{
			http:    httpClient,
			baseURL: baseURL,
			token:   cfg.Token,
			tokens:  cfg.TokenSource,
		},
		baseURL: baseURL,
		cfg:     cfg,
	}, nil
}

// Version returns the remote service build information.
func (c *Client) Version(ctx context.Context) (*types.VersionInfo, error) {
	var result types.VersionInfo
	if err := c.client.get(ctx, versionPath, &result); err != nil {
		return nil, fmt.Errorf("getting version: %w", err)
	}
	return &result, nil
}

// ListMachines returns the machine inventory in server order.
func (c *Client) ListMachines(ctx context.Context) ([]types.Record, error) {
	return c.list(ctx, machinesPath, "machines")
}

// ListSSHKeys returns the registered SSH keys.
func (c *Client) ListSSHKeys(ctx context.Context) ([]types.Record, error) {
	return c.list(ctx, sshKeysPath, "ssh keys")
}

// ListImages returns the available images.
func (c *Client) ListImages(ctx context.Context) ([]types.Record, error) {
	return c.list(ctx, imagesPath, "images")
}

// ListNetworks returns the configured networks.
func (c *Client) ListNetworks(ctx context.Context) ([]types.Record, error) {
	return c.list(ctx, networksPath, "networks")
}

// ListActivities returns the activity log, oldest first.
func (c *Client) ListActivities(ctx context.Context) (*types.ActivityList, error) {
	var result types.ActivityList
	if err := c.client.get(ctx, activitiesPath, &result); err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	return &result, nil
}

// GetMachine returns the detail record of one machine.
func (c *Client) GetMachine(ctx context.Context, id string) (types.Record, error) {
	machineID := strings.TrimSpace(id)
	if machineID == "" {
		return nil, fmt.Errorf("machine id is required")
	}

	var result types.Record
	path := fmt.Sprintf("%s/%s", machinesPath, url.PathEscape(machineID))
	if err := c.client.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("getting machine %q: %w", machineID, err)
	}
	return result, nil
}

func (c *Client) list(ctx context.Context, path, label string) ([]types.Record, error) {
	var result []types.Record
	if err := c.client.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("listing %s: %w", label, err)
	}
	return result, nil
}
