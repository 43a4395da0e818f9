package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

const (
	completionsPath = "/v1/completions"
	modelsPath      = "/v1/models"
	maxBodyBytes    = 4 << 20
)

type completionRequest struct {
	Model     string `json:"model,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// OpenAI calls an OpenAI-compatible completions endpoint.
type OpenAI struct {
	opts Options
}

// NewOpenAI creates a client for opts.Endpoint.
func NewOpenAI(opts Options) *OpenAI {
	return &OpenAI{opts: opts.withDefaults()}
}

// Submit posts the prompt and returns choices[0].text.
func (c *OpenAI) Submit(ctx context.Context, credential, prompt string) (string, error) {
	payload, err := json.Marshal(completionRequest{
		Model:     c.opts.Model,
		Prompt:    prompt,
		MaxTokens: c.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodPost, completionsPath, credential, payload)
	if err != nil {
		return "", err
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", newError(KindMalformedResponse, http.StatusOK, err, "decode response: %v", err)
	}
	if len(out.Choices) == 0 {
		return "", newError(KindMalformedResponse, http.StatusOK, nil, "response has no choices")
	}
	return out.Choices[0].Text, nil
}

// TestCredential lists models with the credential.
func (c *OpenAI) TestCredential(ctx context.Context, credential string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if _, err := c.do(ctx, http.MethodGet, modelsPath, credential, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *OpenAI) do(ctx context.Context, method, path, credential string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.opts.Endpoint+path, reader)
	if err != nil {
		return nil, newError(KindNetworkFailure, 0, err, "build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindNetworkFailure, 0, err, "request timed out after %s", c.opts.Timeout)
		}
		return nil, newError(KindNetworkFailure, 0, err, "%v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, newError(KindNetworkFailure, resp.StatusCode, err, "read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		log.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("credential rejected")
		return nil, newError(KindUnauthorized, resp.StatusCode, nil, "http %d: %s", resp.StatusCode, truncate(string(body)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		log.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("unexpected status code")
		return nil, newError(KindServerError, resp.StatusCode, nil, "http %d: %s", resp.StatusCode, truncate(string(body)))
	}
	return body, nil
}
