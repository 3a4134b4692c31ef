package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brianweld/scenecap/internal/config"
	"github.com/brianweld/scenecap/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "scenecap",
		Short: "scenecap - Scheduled multi-camera capture for 3D scenes",
		Long: `scenecap drives capture sessions over the cameras of a 3D scene.

Each camera captures at its own target frame rate, decoupled from the
host's render loop: an accumulator scheduler triggers at most one capture
per host tick per camera and carries the remainder forward, so capture
timing stays correct even when the host runs slower than the target rate.

Features:
  • Per-camera resolution, frame rate, and image/video mode
  • Image sequences (PNG/JPEG) or encoded video (FFmpeg, GIF fallback)
  • Mid-session enable and disable of individual cameras
  • End-of-session frame accounting with drop detection
  • REST API with live MJPEG preview and a websocket event feed
  • Persistent camera settings across sessions`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/scenecap/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("output", "", "capture output root folder")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("output_root", rootCmd.PersistentFlags().Lookup("output"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig builds the config manager and applies flag overrides.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
	if viper.IsSet("output_root") {
		if root := viper.GetString("output_root"); root != "" {
			configMgr.SetOutputRoot(root)
		}
	}

	logger.Init(configMgr.GetLogLevel(), true)
	return configMgr, nil
}
