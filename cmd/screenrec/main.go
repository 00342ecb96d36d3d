package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/screenrec/internal/capture"
	"github.com/breeze-rmm/screenrec/internal/config"
	"github.com/breeze-rmm/screenrec/internal/container"
	"github.com/breeze-rmm/screenrec/internal/health"
	"github.com/breeze-rmm/screenrec/internal/logging"
	"github.com/breeze-rmm/screenrec/internal/recorder"
	"github.com/breeze-rmm/screenrec/internal/workerpool"
)

var (
	version = "0.1.0"
	cfgFile string

	quality   string
	outputDir string
	duration  time.Duration
	noMic     bool
	displays  int
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:          "screenrec",
	Short:        "Screen and audio recorder",
	Long:         `screenrec records a display with system audio into one WebM file and the microphone into a second, time-aligned WebM file`,
	SilenceUsage: true,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record until interrupted or until --duration elapses",
	Long: `Record the display and system audio to <prefix>_<timestamp>.webm and the
microphone to <prefix>_<timestamp>_mic.webm.

This build uses the synthetic capture layer: audio tracks hold valid Opus
silence, but video frames are placeholders tagged SRSYNTH1 rather than
encoded VP9, so players show no picture. The files are structurally valid
WebM with correct track layout and anchor-relative timing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord(cmd)
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the quality presets",
	Run: func(cmd *cobra.Command, args []string) {
		listPresets()
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the output directory and list capture targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("screenrec v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./screenrec.yaml, then config.yaml in the user config directory)")
	rootCmd.PersistentFlags().IntVar(&displays, "displays", 1, "number of synthetic displays to expose")

	recordCmd.Flags().StringVarP(&quality, "quality", "q", "", "quality preset (low, medium, high, ultra)")
	recordCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for the recordings")
	recordCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 records until interrupted)")
	recordCmd.Flags().BoolVar(&noMic, "no-mic", false, "do not record the microphone")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and initializes logging.
// The returned writer is nil when logging goes to stderr only.
func loadConfig() (*config.Config, *logging.RotatingWriter, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	result := cfg.ValidateTiered()
	rw, logErr := logging.Setup(logging.Options{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if logErr != nil {
		log.Warn("log file unavailable, logging to stderr only", logging.KeyPath, cfg.LogFile, logging.KeyError, logErr.Error())
	}
	for _, w := range result.Warnings {
		log.Warn("config validation warning", logging.KeyError, w.Error())
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			log.Error("config validation fatal", logging.KeyError, f.Error())
		}
		if rw != nil {
			rw.Close()
		}
		return nil, nil, errors.Join(result.Fatals...)
	}
	return cfg, rw, nil
}

func runRecord(cmd *cobra.Command) error {
	cfg, rw, err := loadConfig()
	if err != nil {
		return err
	}
	if rw != nil {
		defer rw.Close()
	}

	if cmd.Flags().Changed("quality") {
		cfg.VideoQuality = quality
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if noMic {
		cfg.Microphone = false
	}
	q, err := recorder.ParseQuality(cfg.VideoQuality)
	if err != nil {
		return err
	}

	report, err := recorder.Preflight(cfg.OutputDir, cfg.MinFreeDiskMB)
	if err != nil {
		return err
	}
	log.Info("output volume ready",
		logging.KeyPath, report.Dir,
		"freeMB", report.FreeBytes/(1024*1024),
		"fstype", report.Fstype,
	)

	outputs := recorder.NameOutputs(cfg.OutputDir, cfg.FilePrefix, container.FormatWebM, time.Now())
	sessionCfg := recorder.SessionConfig{
		Quality:        q,
		MainPath:       outputs.Main,
		AuxPath:        outputs.Aux,
		Format:         container.FormatWebM,
		DisplayIndex:   cfg.DisplayIndex,
		QueueDepth:     cfg.CaptureQueueDepth,
		TrackBuffer:    cfg.TrackBuffer,
		SkipMicrophone: !cfg.Microphone,
	}
	if cfg.WriteManifest {
		sessionCfg.ManifestPath = outputs.Manifest
	}

	finalizer := workerpool.New(cfg.FinalizeWorkers, cfg.FinalizeWorkers*2)
	ctrl := recorder.New(recorder.Deps{
		Screen:    capture.SyntheticScreen{Displays: displays},
		Mic:       capture.SyntheticMic{},
		Sinks:     container.DefaultSinks,
		Finalizer: finalizer,
		Health:    health.NewMonitor(),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	reopenChan := make(chan os.Signal, 1)
	notifyReopen(reopenChan)
	defer signal.Stop(reopenChan)

	startCtx, cancelStart := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancelStart()
	started := make(chan error, 1)
	ctrl.Start(startCtx, sessionCfg, func(err error) { started <- err })

	select {
	case err := <-started:
		if err != nil {
			ctrl.Close(context.Background())
			return fmt.Errorf("recording did not start: %w", err)
		}
	case <-sigChan:
		ctrl.Stop()
		<-started
		return closeController(ctrl)
	}

	fmt.Printf("Recording to %s\n", outputs.Main)
	fmt.Printf("Microphone to %s\n", outputs.Aux)

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	done := ctrl.Done()
wait:
	for {
		select {
		case <-sigChan:
			fmt.Println("\nStopping recording...")
			break wait
		case <-timeout:
			break wait
		case <-done:
			break wait
		case <-reopenChan:
			if rw != nil {
				if err := rw.Reopen(); err != nil {
					log.Warn("log reopen failed", logging.KeyError, err.Error())
				}
			}
		}
	}

	ctrl.Stop()
	err = closeController(ctrl)
	printSummary(ctrl.Session().Info())
	return err
}

func closeController(ctrl *recorder.Controller) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ctrl.Close(ctx); err != nil && !errors.Is(err, recorder.ErrStartCancelled) {
		return err
	}
	return nil
}

func printSummary(info recorder.SessionInfo) {
	fmt.Printf("Session %s: %s\n", info.ID, info.State)
	if info.MicDegraded != "" {
		fmt.Printf("Microphone unavailable: %s\n", info.MicDegraded)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRACK\tRECEIVED\tACCEPTED\tDROPPED\tNOT READY")
	for _, t := range info.Metrics.Tracks {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", t.Kind, t.Received, t.Accepted, t.Dropped(), t.DroppedNotReady)
	}
	w.Flush()
	for _, c := range info.Containers {
		fmt.Printf("%s: %s (%s)\n", c.Name, c.Path, c.Duration.Round(time.Millisecond))
	}
}

func listPresets() {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUALITY\tRESOLUTION\tFPS\tBITRATE")
	for _, p := range recorder.Presets() {
		def := ""
		if p.Quality == recorder.DefaultQuality {
			def = " (default)"
		}
		fmt.Fprintf(w, "%s%s\t%dx%d\t%d\t%.1f Mbps\n", p.Quality, def, p.Width, p.Height, p.FPS, float64(p.Bitrate)/1e6)
	}
	w.Flush()
}

func runDoctor(ctx context.Context) error {
	cfg, rw, err := loadConfig()
	if err != nil {
		return err
	}
	if rw != nil {
		defer rw.Close()
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}

	failed := false
	report, err := recorder.Preflight(cfg.OutputDir, cfg.MinFreeDiskMB)
	if err != nil {
		failed = true
		fmt.Printf("Output directory: FAIL (%v)\n", err)
	} else {
		fmt.Printf("Output directory: OK %s (%d MB free of %d MB, %s)\n",
			report.Dir, report.FreeBytes/(1024*1024), report.TotalBytes/(1024*1024), report.Fstype)
	}

	targets, err := capture.SyntheticScreen{Displays: displays}.Targets(ctx)
	if err != nil || len(targets) == 0 {
		failed = true
		fmt.Printf("Capture targets: FAIL (%v)\n", err)
	} else {
		fmt.Println("Capture targets:")
		for i, t := range targets {
			fmt.Printf("  [%d] %s %dx%d\n", i, t.Name, t.Width, t.Height)
		}
	}

	if dev, err := (capture.SyntheticMic{}).DefaultDevice(); err != nil {
		fmt.Printf("Microphone: unavailable (%v)\n", err)
	} else {
		fmt.Printf("Microphone: %s\n", dev.Name)
	}

	if failed {
		return errors.New("doctor found problems")
	}
	return nil
}
