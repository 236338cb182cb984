package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

// APIError is returned when the remote service answers with a non-2xx status.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Body is the response body as JSON. Plain-text bodies are carried as a
	// JSON string so they stay representable. Empty when the server sent nothing.
	Body json.RawMessage
	// Problem is set when Body decodes as an RFC 9457 problem document.
	Problem *types.ProblemDetail
}

// Error implements error.
func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("remote API returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Problem != nil {
		detail := strings.TrimSpace(e.Problem.Detail)
		if detail == "" {
			detail = strings.TrimSpace(e.Problem.Title)
		}
		if detail != "" {
			msg += ": " + detail
		}
	}
	return msg
}

// Status returns the response status code.
func (e *APIError) Status() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// ResponseBody returns the structured response body, if any.
func (e *APIError) ResponseBody() json.RawMessage {
	if e == nil {
		return nil
	}
	return e.Body
}

type baseClient struct {
	http    *http.Client
	baseURL string
	token   string
	tokens  TokenSource
}

func (c *baseClient) bearer() (string, error) {
	if c.tokens == nil {
		return c.token, nil
	}
	token, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("resolving API token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

func (c *baseClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	token, err := c.bearer()
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return apiErr
	}
	if !json.Valid(trimmed) {
		quoted, err := json.Marshal(string(trimmed))
		if err == nil {
			apiErr.Body = quoted
		}
		return apiErr
	}

	apiErr.Body = json.RawMessage(trimmed)

	var problem types.ProblemDetail
	if err := json.Unmarshal(trimmed, &problem); err == nil && problem.Status != 0 && problem.Title != "" {
		apiErr.Problem = &problem
	}
	return apiErr
}
