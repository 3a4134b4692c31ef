package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brianweld/scenecap/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage scenecap configuration",
	Long:  `View and manage scenecap configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current scenecap configuration.`,
	Example: `  # Show configuration as YAML (default)
  scenecap config show

  # Show configuration as JSON
  scenecap config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value.`,
	Example: `  # Set the capture output root
  scenecap config set output_root /data/captures

  # Set the default capture rate
  scenecap config set capture.fps 24`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get the capture output root
  scenecap config get output_root`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	switch key {
	case "server_port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port number: %s", value)
		}
		cfg.ServerPort = port
	case "log_level":
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
		cfg.LogLevel = value
	case "output_root":
		cfg.OutputRoot = value
	case "capture.width", "capture.height":
		num, err := strconv.Atoi(value)
		if err != nil || num <= 0 {
			return fmt.Errorf("invalid size: %s", value)
		}
		if key == "capture.width" {
			cfg.Capture.Width = num
		} else {
			cfg.Capture.Height = num
		}
	case "capture.fps":
		fps, err := strconv.ParseFloat(value, 64)
		if err != nil || fps <= 0 {
			return fmt.Errorf("invalid fps: %s", value)
		}
		cfg.Capture.FPS = fps
	case "capture.mode":
		if value != "images" && value != "video" {
			return fmt.Errorf("invalid mode: %s (use: images or video)", value)
		}
		cfg.Capture.Mode = value
	case "step_timeout_seconds":
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid timeout: %s", value)
		}
		cfg.StepTimeoutSeconds = secs
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	if err := configMgr.Update(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	switch key {
	case "server_port":
		fmt.Println(cfg.ServerPort)
	case "log_level":
		fmt.Println(cfg.LogLevel)
	case "output_root":
		fmt.Println(cfg.OutputRoot)
	case "capture.width":
		fmt.Println(cfg.Capture.Width)
	case "capture.height":
		fmt.Println(cfg.Capture.Height)
	case "capture.fps":
		fmt.Println(cfg.Capture.FPS)
	case "capture.mode":
		fmt.Println(cfg.Capture.Mode)
	case "step_timeout_seconds":
		fmt.Println(cfg.StepTimeoutSeconds)
	default:
		return fmt.Errorf("configuration key not found: %s", key)
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
