package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	fileutil "promptrunner/internal/file"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	defaultFileName  = ".prompt_runner_config.yaml"
	defaultMaxTokens = 2048

	defaultOpenAIEndpoint = "https://api.openai.com"
	defaultOpenAIModel    = "gpt-3.5-turbo-instruct"
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "llama3"
)

var (
	// ErrSave wraps every failure to persist the document.
	ErrSave = errors.New("config save failed")
	// ErrLoad wraps failures recovered by Load.
	ErrLoad = errors.New("config load failed")
)

// Document is the persisted settings record. Field order is the on-disk key
// order.
type Document struct {
	PromptsFolder string `yaml:"promptsFolder"`
	OutputsFolder string `yaml:"outputsFolder"`
	APIKey        string `yaml:"apiKey"`
	DarkMode      bool   `yaml:"darkMode"`
	ConfigPath    string `yaml:"configPath"`
	Provider      string `yaml:"provider"`
	Endpoint      string `yaml:"endpoint"`
	Model         string `yaml:"model"`
	MaxTokens     int    `yaml:"maxTokens"`
}

// Default returns an empty document with the OpenAI backend selected.
func Default() Document {
	return Document{
		Provider:  ProviderOpenAI,
		Endpoint:  defaultOpenAIEndpoint,
		Model:     defaultOpenAIModel,
		MaxTokens: defaultMaxTokens,
	}
}

// DefaultPath is the home-relative location used when no path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultFileName
	}
	return filepath.Join(home, defaultFileName)
}

// Load reads the document at path and never fails. recovered is true when the
// file existed but could not be used as is; the cause is logged and the
// caller should not write the document back without the user asking.
func Load(path string) (doc Document, recovered bool) {
	doc, err := Read(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config recovered with defaults")
		return doc, true
	}
	return doc, false
}

// Read is the strict form of Load. A missing or empty file is not an error.
// An unknown provider is reported but the rest of the document is kept.
func Read(path string) (Document, error) {
	doc := Default()
	if path == "" {
		return doc, fmt.Errorf("%w: empty config path", ErrLoad)
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // path chosen by the user
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("%w: read: %v", ErrLoad, err)
	}
	if len(strings.TrimSpace(string(fileData))) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(fileData, &doc); err != nil {
		return Default(), fmt.Errorf("%w: parse yaml: %v", ErrLoad, err)
	}
	return normalize(doc)
}

// Save writes the full document to path, replacing any existing file.
func Save(path string, doc Document) error {
	if path == "" {
		return fmt.Errorf("%w: empty config path", ErrSave)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode yaml: %v", ErrSave, err)
	}
	if err := fileutil.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	log.Debug().Str("path", path).Msg("config saved")
	return nil
}

// EnsureDirectory creates path and its parents. Existing directories are left alone.
func EnsureDirectory(path string) error {
	return fileutil.EnsureDir(path) //nolint:wrapcheck
}

// SavePath returns where the document should be written: its own configPath
// when set, otherwise the file it was loaded from.
func (d Document) SavePath(loadedFrom string) string {
	if p := strings.TrimSpace(d.ConfigPath); p != "" {
		return p
	}
	return loadedFrom
}

// WithFolderDefaults fills empty folders with Documents/Prompts and
// Documents/Outputs under home.
func (d Document) WithFolderDefaults(home string) Document {
	if home == "" {
		return d
	}
	if strings.TrimSpace(d.PromptsFolder) == "" {
		d.PromptsFolder = filepath.Join(home, "Documents", "Prompts")
	}
	if strings.TrimSpace(d.OutputsFolder) == "" {
		d.OutputsFolder = filepath.Join(home, "Documents", "Outputs")
	}
	return d
}

func normalize(doc Document) (Document, error) {
	var err error
	doc.Provider = strings.ToLower(strings.TrimSpace(doc.Provider))
	if doc.Provider != "" && doc.Provider != ProviderOpenAI && doc.Provider != ProviderOllama {
		err = fmt.Errorf("%w: unknown provider %q", ErrLoad, doc.Provider)
		doc.Provider = ProviderOpenAI
	}
	switch doc.Provider {
	case "", ProviderOpenAI:
		doc.Provider = ProviderOpenAI
		if doc.Endpoint == "" {
			doc.Endpoint = defaultOpenAIEndpoint
		}
		if doc.Model == "" {
			doc.Model = defaultOpenAIModel
		}
	case ProviderOllama:
		if doc.Endpoint == "" {
			doc.Endpoint = defaultOllamaEndpoint
		}
		if doc.Model == "" {
			doc.Model = defaultOllamaModel
		}
	}
	doc.Endpoint = strings.TrimRight(strings.TrimSpace(doc.Endpoint), "/")
	if doc.MaxTokens < 1 {
		doc.MaxTokens = defaultMaxTokens
	}
	return doc, err
}
