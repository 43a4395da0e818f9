package completion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

const validKey = "valid-key"

// newStubAPI imitates the completions service: valid-key is accepted, the
// prompt "malformed" yields a body without choices and "explode" a 500.
func newStubAPI(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+validKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
	router.GET(modelsPath, auth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": []gin.H{{"id": "gpt-3.5-turbo-instruct"}}})
	})
	router.POST(completionsPath, auth, func(c *gin.Context) {
		var req completionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		switch req.Prompt {
		case "malformed":
			c.JSON(http.StatusOK, gin.H{"id": "x"})
		case "explode":
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
		case "slow":
			time.Sleep(200 * time.Millisecond)
			c.JSON(http.StatusOK, gin.H{"choices": []gin.H{{"text": "late"}}})
		default:
			if req.MaxTokens != 64 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unexpected max_tokens"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"choices": []gin.H{{"text": "echo: " + req.Prompt}}})
		}
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAI(srv *httptest.Server) *OpenAI {
	return NewOpenAI(Options{Endpoint: srv.URL + "/", Model: "m", MaxTokens: 64, Timeout: 2 * time.Second})
}

func TestOpenAISubmitSuccess(t *testing.T) {
	c := newTestOpenAI(newStubAPI(t))
	got, err := c.Submit(context.Background(), validKey, "Hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got != "echo: Hello" {
		t.Fatalf("unexpected completion %q", got)
	}
}

func TestOpenAISubmitErrorKinds(t *testing.T) {
	c := newTestOpenAI(newStubAPI(t))
	cases := []struct {
		name   string
		key    string
		prompt string
		want   error
	}{
		{"unauthorized", "bad-key", "Hi", ErrUnauthorized},
		{"server error", validKey, "explode", ErrServerError},
		{"malformed", validKey, "malformed", ErrMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tc.key, tc.prompt)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Diagnostic == "" {
				t.Fatalf("expected diagnostic, got %#v", err)
			}
		})
	}
}

func TestOpenAIUnauthorizedMessageNamesKind(t *testing.T) {
	c := newTestOpenAI(newStubAPI(t))
	_, err := c.Submit(context.Background(), "bad-key", "Hi")
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected Unauthorized in message, got %v", err)
	}
	if strings.Contains(err.Error(), "bad-key") {
		t.Fatalf("credential leaked into diagnostic: %v", err)
	}
}

func TestOpenAINetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOpenAI(Options{Endpoint: url, Timeout: time.Second})
	_, err := c.Submit(context.Background(), validKey, "Hello")
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
	ok, err := c.TestCredential(context.Background(), validKey)
	if ok || !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected false with network failure, got %v %v", ok, err)
	}
}

func TestOpenAITimeout(t *testing.T) {
	srv := newStubAPI(t)
	c := NewOpenAI(Options{Endpoint: srv.URL, MaxTokens: 64, Timeout: 20 * time.Millisecond})
	_, err := c.Submit(context.Background(), validKey, "slow")
	if !errors.Is(err, ErrNetworkFailure) || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestOpenAITestCredential(t *testing.T) {
	c := newTestOpenAI(newStubAPI(t))
	if ok, err := c.TestCredential(context.Background(), validKey); !ok || err != nil {
		t.Fatalf("expected valid key, got %v %v", ok, err)
	}
	ok, err := c.TestCredential(context.Background(), "bad-key")
	if ok {
		t.Fatalf("expected false for bad key")
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized diagnostic, got %v", err)
	}
}

func TestTestCredentialFalseOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ok, _ := NewOpenAI(Options{Endpoint: srv.URL}).TestCredential(context.Background(), "any")
	if ok {
		t.Fatalf("expected false on 401")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(Options{Provider: "OpenAI", Endpoint: "http://x"})
	if err != nil {
		t.Fatalf("new openai: %v", err)
	}
	if _, ok := c.(*OpenAI); !ok {
		t.Fatalf("expected *OpenAI, got %T", c)
	}
	c, err = New(Options{Provider: ProviderOllama, Endpoint: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("new ollama: %v", err)
	}
	if _, ok := c.(Streamer); !ok {
		t.Fatalf("expected ollama client to stream, got %T", c)
	}
	if _, err := New(Options{Provider: "nope"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("a", maxDiagnosticLen-1) + "é" + strings.Repeat("b", 10)
	got := truncate(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got[len(got)-6:])
	}
	if !strings.HasSuffix(got, "...") || len(got) > maxDiagnosticLen+len("...") {
		t.Fatalf("unexpected truncation %q", got)
	}
	if short := truncate("  ok  "); short != "ok" {
		t.Fatalf("short strings are only trimmed, got %q", short)
	}
}
