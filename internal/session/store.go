package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	fileutil "promptrunner/internal/file"
)

const (
	untitled     = "untitled"
	promptSuffix = ".txt"
	outputSuffix = "_output.txt"
)

var (
	// ErrWrite wraps every failure to write a prompt or output file.
	ErrWrite = errors.New("write failed")
	// ErrFolderMissing is returned when a destination folder is not configured.
	ErrFolderMissing = errors.New("folder not set")
)

// Store persists the prompt and the completion of a successful run.
// The default implementation writes plain text files; tests plug in fakes.
type Store interface {
	SavePrompt(folder, title, body string) (string, error)
	SaveOutput(folder, title, output string) (string, error)
}

// FileStore writes {folder}/{title}.txt and {folder}/{title}_output.txt,
// creating folders on demand and overwriting existing files.
type FileStore struct{}

func NewFileStore() Store { //nolint:ireturn
	return FileStore{}
}

func (FileStore) SavePrompt(folder, title, body string) (string, error) {
	return writeFile(folder, PromptPath(folder, title), body)
}

func (FileStore) SaveOutput(folder, title, output string) (string, error) {
	return writeFile(folder, OutputPath(folder, title), output)
}

func writeFile(folder, path, content string) (string, error) {
	if strings.TrimSpace(folder) == "" {
		return "", fmt.Errorf("%w: %w", ErrWrite, ErrFolderMissing)
	}
	if err := fileutil.EnsureDir(folder); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := fileutil.WriteText(path, content); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return path, nil
}

// PromptPath is where the prompt of a run titled title is saved.
func PromptPath(folder, title string) string {
	return filepath.Join(folder, FileTitle(title)+promptSuffix)
}

// OutputPath is where the completion of a run titled title is saved.
func OutputPath(folder, title string) string {
	return filepath.Join(folder, FileTitle(title)+outputSuffix)
}

// FileTitle turns a user title into a single path element. Empty titles
// become "untitled".
func FileTitle(title string) string {
	t := strings.TrimSpace(title)
	t = strings.NewReplacer("/", "_", `\`, "_", "\x00", "").Replace(t)
	if t == "" || t == "." || t == ".." {
		return untitled
	}
	return t
}
