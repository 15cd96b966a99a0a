// Package state persists the orchestrator's sole durable entity: the
// current active/standby assignment, pre-warm status, and a bounded
// deployment history. Reads initialize sensible defaults on absence;
// writes are atomic and keep a .bak sibling of the prior document.
package state

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// MaxHistory bounds the number of retained deployment attempts.
const MaxHistory = 20

// HistoryEntry records the outcome of a single deployment attempt.
type HistoryEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	FromColor       string    `json:"from_color"`
	ToColor         string    `json:"to_color"`
	DurationSeconds float64   `json:"duration_seconds"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	Rollback        bool      `json:"rollback,omitempty"`
	Mode            string    `json:"mode,omitempty"`
}

// DeploymentState is the full durable document.
type DeploymentState struct {
	ActiveColor  string `json:"active_color"`
	StandbyColor string `json:"standby_color"`
	ActivePort   int    `json:"active_port"`
	StandbyPort  int    `json:"standby_port"`

	LastDeployment   *time.Time `json:"last_deployment"`
	LastModelVersion string     `json:"last_model_version"`
	DeploymentCount  int        `json:"deployment_count"`

	StandbyPrewarmed   bool       `json:"standby_prewarmed"`
	StandbyPrewarmedAt *time.Time `json:"standby_prewarmed_at,omitempty"`
	StandbyContainerID string     `json:"standby_container_id,omitempty"`

	History []HistoryEntry `json:"history"`
}

// Default builds the document the store initializes when no state
// file exists yet: the first configured color active, the second
// standby, empty history.
func Default(activeColor string, activePort int, standbyColor string, standbyPort int) DeploymentState {
	return DeploymentState{
		ActiveColor:  activeColor,
		StandbyColor: standbyColor,
		ActivePort:   activePort,
		StandbyPort:  standbyPort,
		History:      []HistoryEntry{},
	}
}

// AppendHistory appends an entry and truncates the head so History
// never exceeds MaxHistory.
func (s *DeploymentState) AppendHistory(entry HistoryEntry) {
	s.History = append(s.History, entry)
	if len(s.History) > MaxHistory {
		s.History = s.History[len(s.History)-MaxHistory:]
	}
}

// SwapActive exchanges the active/standby color and port pairs.
func (s *DeploymentState) SwapActive() {
	s.ActiveColor, s.StandbyColor = s.StandbyColor, s.ActiveColor
	s.ActivePort, s.StandbyPort = s.StandbyPort, s.ActivePort
}

// ClearPrewarm resets the pre-warm fields, as happens after every
// successful deployment and on any failed pre-warm attempt.
func (s *DeploymentState) ClearPrewarm() {
	s.StandbyPrewarmed = false
	s.StandbyPrewarmedAt = nil
	s.StandbyContainerID = ""
}

// Store reads and writes the DeploymentState document at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// New constructs a Store backed by the document at path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the state document, initializing it to defaults if the
// file does not yet exist. It never mutates the file on disk.
func (s *Store) Load(defaults DeploymentState) (*DeploymentState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			st := defaults
			return &st, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var st DeploymentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", s.path, err)
	}
	return &st, nil
}

// Save writes the state document atomically: the prior file (if any)
// is copied to a .bak sibling, the new document is marshaled with a
// 4-space indent and trailing newline to a temp sibling, then renamed
// over the target.
func (s *Store) Save(st *DeploymentState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: create dir %s: %w", dir, err)
	}

	if err := s.backupExisting(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(st, "", "    ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	data = append(data, '\n')

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("state: write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("state: rename temp file: %w", err)
	}

	s.logger.Debug("state: wrote document", "path", s.path)
	return nil
}

func (s *Store) backupExisting() error {
	src, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("state: open for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(s.path + ".bak")
	if err != nil {
		return fmt.Errorf("state: create backup: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("state: copy backup: %w", err)
	}
	return nil
}
