package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/brianweld/scenecap/internal/logger"
)

// CaptureDefaults seed new camera rows before the user edits them.
type CaptureDefaults struct {
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	FPS    float64 `json:"fps" yaml:"fps"`
	Mode   string  `json:"mode" yaml:"mode"`
}

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	// OutputRoot is where capture session folders are created.
	OutputRoot string `json:"output_root" yaml:"output_root"`

	Capture CaptureDefaults `json:"capture" yaml:"capture"`

	// StepTimeoutSeconds bounds a single render step.
	StepTimeoutSeconds float64 `json:"step_timeout_seconds" yaml:"step_timeout_seconds"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "scenecap")
	defaultConfigPath := filepath.Join(configDir, "config.yaml")

	actualConfigPath := defaultConfigPath
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = m.getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("output_root", m.config.OutputRoot).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration
func (m *Manager) getDefaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		OutputRoot: filepath.Join(home, "scenecap_output"),
		Capture: CaptureDefaults{
			Width:  640,
			Height: 480,
			FPS:    30,
			Mode:   "images",
		},
		StepTimeoutSeconds: 5,
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	// Fill gaps left by hand-edited or older config files.
	defaults := m.getDefaults()
	if cfg.ServerPort == 0 {
		cfg.ServerPort = defaults.ServerPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = defaults.OutputRoot
	}
	if cfg.Capture.Width <= 0 {
		cfg.Capture.Width = defaults.Capture.Width
	}
	if cfg.Capture.Height <= 0 {
		cfg.Capture.Height = defaults.Capture.Height
	}
	if cfg.Capture.FPS <= 0 {
		cfg.Capture.FPS = defaults.Capture.FPS
	}
	if cfg.Capture.Mode == "" {
		cfg.Capture.Mode = defaults.Capture.Mode
	}
	if cfg.StepTimeoutSeconds <= 0 {
		cfg.StepTimeoutSeconds = defaults.StepTimeoutSeconds
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return m.getDefaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update updates the entire configuration
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetOutputRoot sets the capture output root
func (m *Manager) SetOutputRoot(path string) error {
	m.mu.Lock()
	m.config.OutputRoot = path
	m.mu.Unlock()
	return m.Save()
}

// GetOutputRoot gets the capture output root
func (m *Manager) GetOutputRoot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.OutputRoot
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetCaptureDefaults returns the defaults applied to newly-discovered cameras
func (m *Manager) GetCaptureDefaults() CaptureDefaults {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Capture
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
