package main

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"promptrunner/internal/config"
)

// settingsFile writes the settings document. A file that could not be read at
// start is left untouched at exit until the user saves explicitly.
type settingsFile struct {
	loadedFrom string
	protected  atomic.Bool
}

func newSettingsFile(loadedFrom string, recovered bool) *settingsFile {
	f := &settingsFile{loadedFrom: loadedFrom}
	f.protected.Store(recovered)
	return f
}

// Save is the explicit save triggered by the user.
func (f *settingsFile) Save(doc config.Document) (string, error) {
	path := doc.SavePath(f.loadedFrom)
	if err := config.Save(path, doc); err != nil {
		return path, err //nolint:wrapcheck
	}
	f.protected.Store(false)
	log.Info().Str("path", path).Msg("settings saved")
	return path, nil
}

// SaveOnExit writes doc unless the loaded file is protected. It reports
// whether anything was written.
func (f *settingsFile) SaveOnExit(doc config.Document) (string, bool, error) {
	path := doc.SavePath(f.loadedFrom)
	if f.protected.Load() && path == f.loadedFrom {
		log.Warn().Str("path", path).Msg("settings file was unreadable at start, leaving it untouched")
		return path, false, nil
	}
	path, err := f.Save(doc)
	if err != nil {
		return path, false, err
	}
	return path, true, nil
}
