// Package completion talks to the remote text-completion service: one call to
// submit a prompt and one read-only call to validate a credential.
package completion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 2048
	maxDiagnosticLen = 200
)

// Client is the single outbound dependency of a prompt run.
type Client interface {
	// Submit sends prompt and returns the completion text.
	Submit(ctx context.Context, credential, prompt string) (string, error)
	// TestCredential reports true only for a 2xx answer. The error, when
	// present, explains why the answer was false.
	TestCredential(ctx context.Context, credential string) (bool, error)
}

// Chunk is one piece of a streamed completion.
type Chunk struct {
	Text     string
	Received int
	Budget   int
	Done     bool
}

// Streamer is implemented by clients that can report partial output.
type Streamer interface {
	Client
	SubmitStream(ctx context.Context, credential, prompt string, onChunk func(Chunk)) (string, error)
}

// Options configure a Client.
type Options struct {
	Provider   string
	Endpoint   string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	o.Endpoint = strings.TrimRight(strings.TrimSpace(o.Endpoint), "/")
	return o
}

// New returns the client for opts.Provider.
func New(opts Options) (Client, error) { //nolint:ireturn
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderOpenAI:
		return NewOpenAI(opts), nil
	case ProviderOllama:
		return NewOllama(opts)
	default:
		return nil, fmt.Errorf("unknown provider %q", opts.Provider)
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDiagnosticLen {
		return s
	}
	cut := maxDiagnosticLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
