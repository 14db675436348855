package alarm

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

// Store persists the alarm history as a single JSON array. The file is small
// (history is capped) so every mutation rewrites it whole; a temp-file rename
// keeps a crash from leaving a torn file behind.
type Store struct {
	path   string
	logger log.Logger
}

// NewStore builds a store at the given path. An empty path disables
// persistence.
func NewStore(path string) *Store {
	return &Store{path: path, logger: log.WithName("alarm.store")}
}

// Load reads the persisted history. A missing or corrupt file yields an empty
// history; corruption is logged and the file will be overwritten on the next
// save.
func (s *Store) Load() []Alarm {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("alarm history unreadable, starting empty", "path", s.path, "err", err.Error())
		}
		return nil
	}
	var alarms []Alarm
	if err := json.Unmarshal(data, &alarms); err != nil {
		s.logger.Warn("alarm history corrupt, starting empty", "path", s.path, "err", err.Error())
		return nil
	}
	return alarms
}

// Save rewrites the history file.
func (s *Store) Save(alarms []Alarm) {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(alarms, "", "  ")
	if err != nil {
		s.logger.Error(err, "alarm history marshal failed")
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error(err, "alarm history write failed", "path", tmp)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error(err, "alarm history rename failed", "path", s.path)
	}
}

// Dir returns the directory holding the history file, for startup checks.
func (s *Store) Dir() string {
	if s.path == "" {
		return ""
	}
	return filepath.Dir(s.path)
}
