package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brianweld/scenecap/internal/capture"
	"github.com/brianweld/scenecap/internal/render"
	"github.com/brianweld/scenecap/internal/scene"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a timed capture session over a demo scene",
	Long: `Run a self-contained capture session: a synthetic renderer draws moving
gradients for a set of demo cameras, the session captures them at the
requested rate for the given duration, and the per-camera frame accounting
is printed at the end.

Useful for smoke-testing output folders, encoder availability, and
scheduler behavior without a real scene host.`,
	Example: `  # Capture 5 seconds of image sequences from two demo cameras
  scenecap capture --duration 5s

  # Capture video at 24 fps into a specific folder
  scenecap capture --mode video --fps 24 --output /tmp/caps

  # Stress the scheduler: 120 fps target on a 30 fps host loop
  scenecap capture --fps 120 --tick-rate 30`,
	RunE: runCapture,
}

var (
	captureDuration time.Duration
	captureFPS      float64
	captureTickRate float64
	captureMode     string
	captureCameras  int
	captureWidth    int
	captureHeight   int
)

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().DurationVarP(&captureDuration, "duration", "d", 5*time.Second, "session length")
	captureCmd.Flags().Float64Var(&captureFPS, "fps", 0, "target capture rate (default from config)")
	captureCmd.Flags().Float64Var(&captureTickRate, "tick-rate", 60, "frame rate of the host render loop")
	captureCmd.Flags().StringVar(&captureMode, "mode", "", "capture mode: images or video (default from config)")
	captureCmd.Flags().IntVar(&captureCameras, "cameras", 2, "number of demo cameras")
	captureCmd.Flags().IntVar(&captureWidth, "width", 0, "capture width (default from config)")
	captureCmd.Flags().IntVar(&captureHeight, "height", 0, "capture height (default from config)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	defaults := configMgr.GetCaptureDefaults()

	if captureFPS <= 0 {
		captureFPS = defaults.FPS
	}
	if captureMode == "" {
		captureMode = defaults.Mode
	}
	if captureWidth <= 0 {
		captureWidth = defaults.Width
	}
	if captureHeight <= 0 {
		captureHeight = defaults.Height
	}
	if captureCameras < 1 {
		captureCameras = 1
	}
	if captureTickRate <= 0 {
		captureTickRate = 60
	}

	scn := scene.NewMemoryScene()
	var specs []capture.CameraSpec
	for i := 0; i < captureCameras; i++ {
		path := fmt.Sprintf("/World/Camera%c", 'A'+i)
		scn.AddCamera(path, scene.DefaultOptics())

		spec := capture.NewCameraSpec(path)
		spec.Width = captureWidth
		spec.Height = captureHeight
		spec.FPS = captureFPS
		spec.Mode = capture.CaptureMode(captureMode)
		if err := spec.Validate(); err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	renderer := render.NewSynthetic(scn)
	ticks := capture.NewTickBus()
	controller := capture.NewController(scn, renderer, ticks)

	if err := controller.Start(specs, configMgr.GetOutputRoot()); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	fmt.Printf("Capturing %d camera(s) at %g fps for %v (host loop %g fps)\n",
		captureCameras, captureFPS, captureDuration, captureTickRate)
	fmt.Printf("Output: %s\n\n", controller.OutputDir())

	// Wall-clock host loop for the length of the session.
	interval := time.Duration(float64(time.Second) / captureTickRate)
	ticker := time.NewTicker(interval)
	deadline := time.After(captureDuration)
	last := time.Now()

loop:
	for {
		select {
		case now := <-ticker.C:
			ticks.Publish(now.Sub(last).Seconds())
			last = now
		case <-deadline:
			break loop
		}
	}
	ticker.Stop()

	summary := controller.Stop()
	controller.WaitIdle()

	printSummaryTable(summary)
	for _, w := range controller.Warnings() {
		fmt.Printf("warning: %s\n", w)
	}
	if n := controller.CaptureErrors(); n > 0 {
		fmt.Printf("capture errors: %d\n", n)
	}
	return nil
}

func printSummaryTable(summary []capture.CameraSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "CAMERA\tFRAMES\tEXPECTED\tTARGET FPS\tACTUAL FPS\tSTATUS\tOUTPUT")
	fmt.Fprintln(w, "------\t------\t--------\t----------\t----------\t------\t------")

	for _, row := range summary {
		status := "OK"
		if row.Dropped {
			status = "DROPPED"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%g\t%.1f\t%s\t%s\n",
			row.Camera, row.Actual, row.Expected, row.TargetFPS, row.ActualFPS, status, row.OutputPath)
	}
}
