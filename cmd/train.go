// cmd/train.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ColonelBlimp/micmap/internal/audio"
	"github.com/ColonelBlimp/micmap/internal/config"
	"github.com/ColonelBlimp/micmap/internal/detect"
)

var trainSeconds int

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Record the gesture and train a profile",
	Long: `Captures audio for a few seconds while you hold the gesture (for
example, covering the microphone) and trains the acoustic profile used by
'micmap listen'. The profile is written to the configured profile file.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().IntVar(&trainSeconds, "seconds", 5, "recording duration in seconds")
}

func runTrain(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}
	if trainSeconds <= 0 {
		return fmt.Errorf("seconds must be positive, got %d", trainSeconds)
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

	detector.SetProgressCallback(func(progress float64, status string) {
		logger.Debug("training progress",
			zap.Float64("progress", progress),
			zap.String("status", status))
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

	detector.StartTraining()
	capture.SetCallback(func(samples []float32) {
		detector.AddTrainingSample(samples)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := capture.Start(ctx); err != nil {
		return fmt.Errorf("audio start: %w", err)
	}

	logger.Info("training: hold the gesture now",
		zap.Int("seconds", trainSeconds))

	select {
	case <-time.After(time.Duration(trainSeconds) * time.Second):
	case <-ctx.Done():
		detector.CancelTraining()
		logger.Info("training cancelled")
		return nil
	}

	if err := capture.Stop(); err != nil {
		logger.Warn("audio stop", zap.Error(err))
	}

	stats := detector.Stats()
	if !detector.FinishTraining() {
		return fmt.Errorf("training failed: %d samples accepted (%d rejected), need at least 5",
			stats.SamplesAccepted, stats.SamplesRejected)
	}

	profilePath := settings.ProfilePath()
	if err := detector.SaveProfile(profilePath); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	logger.Info("training complete",
		zap.String("profile", profilePath),
		zap.Int("samples_accepted", stats.SamplesAccepted),
		zap.Int("samples_rejected", stats.SamplesRejected))
	return nil
}
