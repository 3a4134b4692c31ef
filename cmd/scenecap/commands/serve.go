package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brianweld/scenecap/internal/api"
	"github.com/brianweld/scenecap/internal/capture"
	"github.com/brianweld/scenecap/internal/logger"
	"github.com/brianweld/scenecap/internal/render"
	"github.com/brianweld/scenecap/internal/scene"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scenecap server",
	Long: `Start the scenecap HTTP server over a demo scene.

The server provides a REST API for camera management and capture control,
an MJPEG preview stream per camera, and a websocket event feed. The demo
scene is driven by an internal render loop; embedding hosts wire their own
scene and tick feed instead.`,
	Example: `  # Start server on default port (8080)
  scenecap serve

  # Start server on custom port
  scenecap serve --port 9090

  # Start with debug logging
  scenecap serve --log-level debug`,
	RunE: runServe,
}

var serveTickRate float64

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Float64Var(&serveTickRate, "tick-rate", 60, "frame rate of the internal render loop")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	scn := scene.NewMemoryScene()
	scn.AddCamera("/World/CameraA", scene.DefaultOptics())
	scn.AddCamera("/World/CameraB", scene.DefaultOptics())

	renderer := render.NewSynthetic(scn)
	ticks := capture.NewTickBus()
	controller := capture.NewController(scn, renderer, ticks)
	defer func() {
		controller.Stop()
		controller.WaitIdle()
	}()

	if cfg.StepTimeoutSeconds > 0 {
		controller.SetStepTimeout(time.Duration(cfg.StepTimeoutSeconds * float64(time.Second)))
	}

	server := api.NewServer(controller, scn, configMgr)

	// Host render loop: wall-clock ticks feed the scheduler.
	if serveTickRate <= 0 {
		serveTickRate = 60
	}
	stopLoop := make(chan struct{})
	go func() {
		interval := time.Duration(float64(time.Second) / serveTickRate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case now := <-ticker.C:
				ticks.Publish(now.Sub(last).Seconds())
				last = now
			case <-stopLoop:
				return
			}
		}
	}()
	defer close(stopLoop)

	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			logger.WithComponent("api").Fatal().Err(err).Msg("server error")
		}
	}()

	log := logger.WithComponent("serve")
	log.Info().Int("port", cfg.ServerPort).Msg("scenecap is running")
	log.Info().Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).Msg("press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	return nil
}
