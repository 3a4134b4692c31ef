package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brianweld/scenecap/internal/capture"
	"github.com/brianweld/scenecap/internal/logger"
	"github.com/brianweld/scenecap/internal/scene"
)

// StateVersion is the persisted state format version. Files written by a
// newer build are treated as absent rather than half-read.
const StateVersion = 1

const stateFileName = "session_state.json"

// CameraState is the persisted per-camera row: the user's settings plus
// the last output written, but not the live frame counters.
type CameraState struct {
	ScenePath   string       `json:"scene_path"`
	DisplayName string       `json:"display_name"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	FPS         float64      `json:"fps"`
	Enabled     bool         `json:"enabled"`
	Mode        string       `json:"mode"`
	Optics      scene.Optics `json:"optics"`
	LastPath    string       `json:"last_capture_path,omitempty"`
}

// State is the persisted settings document.
type State struct {
	Version    int           `json:"version"`
	OutputRoot string        `json:"output_root,omitempty"`
	Cameras    []CameraState `json:"cameras"`
}

// CameraStateFromSpec strips a live spec down to its persisted settings.
func CameraStateFromSpec(spec capture.CameraSpec) CameraState {
	return CameraState{
		ScenePath:   spec.ScenePath,
		DisplayName: spec.DisplayName,
		Width:       spec.Width,
		Height:      spec.Height,
		FPS:         spec.FPS,
		Enabled:     spec.Enabled,
		Mode:        string(spec.Mode),
		Optics:      spec.Optics,
		LastPath:    spec.LastCapturePath,
	}
}

// ToSpec rebuilds a camera spec from a persisted row.
func (cs CameraState) ToSpec() capture.CameraSpec {
	spec := capture.NewCameraSpec(cs.ScenePath)
	if cs.DisplayName != "" {
		spec.DisplayName = cs.DisplayName
	}
	spec.Width = cs.Width
	spec.Height = cs.Height
	spec.FPS = cs.FPS
	spec.Enabled = cs.Enabled
	if cs.Mode != "" {
		spec.Mode = capture.CaptureMode(cs.Mode)
	}
	spec.Optics = cs.Optics
	spec.LastCapturePath = cs.LastPath
	return spec
}

// StateStore persists camera settings across sessions of the host.
type StateStore struct {
	path string
}

// NewStateStore creates a store writing under dir.
func NewStateStore(dir string) *StateStore {
	return &StateStore{path: filepath.Join(dir, stateFileName)}
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}

// Save writes the settings of the given cameras. Cameras owned by the host
// itself are skipped; they are rediscovered on startup and carry no user
// settings worth keeping.
func (s *StateStore) Save(specs []capture.CameraSpec, outputRoot string) error {
	st := State{
		Version:    StateVersion,
		OutputRoot: outputRoot,
	}
	for _, spec := range specs {
		if scene.IsBuiltin(spec.ScenePath) {
			continue
		}
		st.Cameras = append(st.Cameras, CameraStateFromSpec(spec))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	logger.WithComponent("state").Debug().
		Str("path", s.path).
		Int("cameras", len(st.Cameras)).
		Msg("Session state saved")
	return nil
}

// Load reads the persisted state. Returns nil when no state exists, when
// the file is unreadable, or when it was written by a newer format version;
// the caller falls back to defaults in all three cases.
func (s *StateStore) Load() *State {
	log := logger.WithComponent("state")

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("Failed to read session state")
		}
		return nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Ignoring corrupt session state")
		return nil
	}
	if st.Version > StateVersion {
		log.Warn().
			Int("file_version", st.Version).
			Int("supported", StateVersion).
			Msg("Ignoring session state from a newer version")
		return nil
	}

	log.Debug().Str("path", s.path).Int("cameras", len(st.Cameras)).Msg("Session state loaded")
	return &st
}

// Clear removes the persisted state file.
func (s *StateStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
