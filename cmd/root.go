// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ColonelBlimp/micmap/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "micmap",
	Short: "Acoustic gesture trigger from a microphone",
	Long: `micmap recognizes a trained acoustic gesture (such as covering the
microphone) from a live audio stream and fires a debounced trigger.

Train a profile with 'micmap train', then run 'micmap listen'.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().Float64P("sensitivity", "s", 0.7, "detection sensitivity (0.0-1.0)")
	rootCmd.PersistentFlags().StringP("profile", "p", "profile.bin", "trained profile file")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	// Bind flags to viper
	viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("sensitivity", rootCmd.PersistentFlags().Lookup("sensitivity"))
	viper.BindPFlag("profile_file", rootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the application logger. Debug selects the development
// encoder with debug-level output.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}
