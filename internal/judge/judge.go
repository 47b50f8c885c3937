// Package judge grades submitted answers. The grader is an opaque external
// collaborator as far as the world server is concerned; the hub only sees
// a verdict or an error.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Judge grades one submitted answer against the expected one.
type Judge interface {
	Grade(ctx context.Context, prompt, expected, submitted string) (bool, error)
}

// Key grades by normalized string comparison against the answer key. It
// is the default grader and the one used in tests.
type Key struct{}

// Grade reports whether submitted matches expected, ignoring case and
// surrounding whitespace.
func (Key) Grade(_ context.Context, _, expected, submitted string) (bool, error) {
	return normalize(submitted) == normalize(expected), nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// HTTP delegates grading to a remote endpoint, for deployments where an
// external service judges free-form answers.
type HTTP struct {
	URL    string
	Client *http.Client
}

// NewHTTP builds an HTTP judge with a bounded request timeout.
func NewHTTP(url string) *HTTP {
	return &HTTP{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

type gradeRequest struct {
	Prompt    string `json:"prompt"`
	Expected  string `json:"expected"`
	Submitted string `json:"submitted"`
}

type gradeResponse struct {
	Correct bool `json:"correct"`
}

// Grade posts the exchange to the grading endpoint. Any transport or
// status failure is returned as an error; the caller decides how to
// surface it.
func (j *HTTP) Grade(ctx context.Context, prompt, expected, submitted string) (bool, error) {
	body, err := json.Marshal(gradeRequest{Prompt: prompt, Expected: expected, Submitted: submitted})
	if err != nil {
		return false, fmt.Errorf("encoding grade request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building grade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("calling judge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("judge returned status %d", resp.StatusCode)
	}

	var verdict gradeResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false, fmt.Errorf("decoding judge response: %w", err)
	}
	return verdict.Correct, nil
}
