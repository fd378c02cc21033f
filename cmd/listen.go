// cmd/listen.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ColonelBlimp/micmap/internal/action"
	"github.com/ColonelBlimp/micmap/internal/audio"
	"github.com/ColonelBlimp/micmap/internal/config"
	"github.com/ColonelBlimp/micmap/internal/detect"
	"github.com/ColonelBlimp/micmap/internal/trigger"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for the trained gesture and fire the trigger",
	Long: `Starts audio capture and runs the detection pipeline against the
trained profile. When the gesture is held for the configured duration the
trigger command runs (or the trigger is logged if no command is set).`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().String("command", "", "command to run when the trigger fires")
	viper.BindPFlag("trigger_command", listenCmd.Flags().Lookup("command"))
}

func runListen(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	logger, err := newLogger(settings.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	detector, err := detect.NewDetector(detect.Config{
		SampleRate:           settings.SampleRate,
		FFTSize:              settings.FFTSize,
		Sensitivity:          settings.Sensitivity,
		MinDetectionDuration: time.Duration(settings.MinDetectionDurationMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}

	profilePath := settings.ProfilePath()
	if err := detector.LoadProfile(profilePath); err != nil {
		return fmt.Errorf("load profile %s (run 'micmap train' first): %w", profilePath, err)
	}
	logger.Info("profile loaded",
		zap.String("path", profilePath),
		zap.Time("trained_at", detector.Profile().TrainedAt))

	machine, err := trigger.NewMachine(trigger.Config{
		DetectionThreshold:   settings.DetectionThreshold,
		MinDetectionDuration: time.Duration(settings.MinDetectionDurationMs) * time.Millisecond,
		CooldownDuration:     time.Duration(settings.CooldownMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("create state machine: %w", err)
	}

	dispatcher := action.New(settings.TriggerCommand, logger)

	machine.SetStateChangeCallback(func(from, to trigger.State) {
		logger.Debug("state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	})
	machine.SetTriggerCallback(func() {
		logger.Info("gesture trigger fired")
		if dispatcher.Enabled() {
			dispatcher.Dispatch()
		}
	})

	capture := audio.New(audio.Config{
		DeviceIndex: settings.DeviceIndex,
		SampleRate:  uint32(settings.SampleRate),
		Channels:    uint32(settings.Channels),
		BufferSize:  uint32(settings.BufferSize),
	})
	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio init: %w", err)
	}
	defer capture.Close()

	// Only the audio thread touches lastBlock.
	lastBlock := time.Now()
	capture.SetCallback(func(samples []float32) {
		now := time.Now()
		dt := now.Sub(lastBlock)
		lastBlock = now

		result := detector.Analyze(samples)
		machine.Update(result.Confidence, dt)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := capture.Start(ctx); err != nil {
		return fmt.Errorf("audio start: %w", err)
	}
	logger.Info("listening for gesture",
		zap.Int("sample_rate", settings.SampleRate),
		zap.Int("fft_size", settings.FFTSize),
		zap.Float64("sensitivity", settings.Sensitivity))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
