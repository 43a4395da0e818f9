package task

import "errors"

var (
	ErrPromptMissing     = errors.New("prompt is empty")
	ErrCredentialMissing = errors.New("api key is empty")
	ErrBusy              = errors.New("a prompt is already running")
)
