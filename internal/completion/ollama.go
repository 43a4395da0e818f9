package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama calls an Ollama server through its Go client. Output is streamed,
// so it also implements Streamer.
type Ollama struct {
	opts Options
	base *url.URL
}

// NewOllama validates opts.Endpoint and returns the client.
func NewOllama(opts Options) (*Ollama, error) {
	opts = opts.withDefaults()
	if opts.Endpoint == "" {
		return nil, errors.New("ollama endpoint is empty")
	}
	base, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ollama endpoint: %w", err)
	}
	return &Ollama{opts: opts, base: base}, nil
}

// Submit generates a completion without reporting chunks.
func (o *Ollama) Submit(ctx context.Context, credential, prompt string) (string, error) {
	return o.SubmitStream(ctx, credential, prompt, nil)
}

// SubmitStream generates a completion and calls onChunk for each streamed piece.
func (o *Ollama) SubmitStream(ctx context.Context, credential, prompt string, onChunk func(Chunk)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	stream := true
	req := &api.GenerateRequest{
		Model:   o.opts.Model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: map[string]any{"num_predict": o.opts.MaxTokens},
	}

	var (
		sb       strings.Builder
		received int
		done     bool
	)
	err := o.client(credential).Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		received++
		done = resp.Done
		if onChunk != nil {
			onChunk(Chunk{Text: resp.Response, Received: received, Budget: o.opts.MaxTokens, Done: resp.Done})
		}
		return nil
	})
	if err != nil {
		return "", o.classify(err)
	}
	if !done {
		return "", newError(KindMalformedResponse, http.StatusOK, nil, "stream ended before done")
	}
	return sb.String(), nil
}

// TestCredential lists local models, the cheapest authenticated call.
func (o *Ollama) TestCredential(ctx context.Context, credential string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	if _, err := o.client(credential).List(ctx); err != nil {
		return false, o.classify(err)
	}
	return true, nil
}

func (o *Ollama) client(credential string) *api.Client {
	httpClient := *o.opts.HTTPClient
	httpClient.Transport = bearerTransport{token: credential, next: o.opts.HTTPClient.Transport}
	return api.NewClient(o.base, &httpClient)
}

func (o *Ollama) classify(err error) *Error {
	if status, ok := authorizationStatus(err); ok {
		return newError(KindUnauthorized, status, err, "http %d: credential rejected", status)
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden {
			return newError(KindUnauthorized, statusErr.StatusCode, err, "%s", truncate(statusErr.Error()))
		}
		return newError(KindServerError, statusErr.StatusCode, err, "%s", truncate(statusErr.Error()))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindNetworkFailure, 0, err, "request timed out after %s", o.opts.Timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.Canceled) {
		return newError(KindNetworkFailure, 0, err, "%v", err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "unauthorized") {
		return newError(KindUnauthorized, http.StatusUnauthorized, err, "%s", truncate(err.Error()))
	}
	return newError(KindServerError, 0, err, "%s", truncate(err.Error()))
}

// authorizationStatus unwraps the error List and Generate return on a 401.
func authorizationStatus(err error) (int, bool) {
	var authErr api.AuthorizationError
	if errors.As(err, &authErr) {
		return statusOr401(authErr.StatusCode), true
	}
	var authPtr *api.AuthorizationError
	if errors.As(err, &authPtr) && authPtr != nil {
		return statusOr401(authPtr.StatusCode), true
	}
	return 0, false
}

func statusOr401(code int) int {
	if code == 0 {
		return http.StatusUnauthorized
	}
	return code
}

// bearerTransport adds the credential to every request, for servers behind
// an authenticating proxy.
type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	if t.token == "" {
		return next.RoundTrip(req) //nolint:wrapcheck
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return next.RoundTrip(clone) //nolint:wrapcheck
}
