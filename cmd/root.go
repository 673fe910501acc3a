// cmd/root.go
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/cwkeyer/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "cwkeyer",
	Short: "CW tone to key-down/key-up event converter",
	Long: `cwkeyer listens for a CW (Morse) audio tone, from a sound card or a WAV file,
and reports each key-down and key-up transition with its time offset.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags (override config file)
	flags := rootCmd.PersistentFlags()
	flags.IntP("device", "d", -1, "audio device index (-1 for default)")
	flags.Float64P("frequency", "f", 600, "CW tone frequency in Hz")
	flags.IntP("block-size", "b", 128, "samples per detection block")
	flags.BoolP("scan", "s", false, "follow the strongest tone between scan_min_frequency and scan_max_frequency")
	flags.StringP("format", "o", "text", "output format (text or json)")
	flags.BoolP("levels", "l", false, "print a status line for every processed chunk")
	flags.StringP("metrics-addr", "m", "", "serve Prometheus metrics on this address (e.g. :9110)")
	flags.BoolP("debug", "D", false, "enable debug output")
}

// flagKeys maps persistent flags to their config keys
var flagKeys = map[string]string{
	"device":       "device_index",
	"frequency":    "tone_frequency",
	"block-size":   "block_size",
	"scan":         "scan_enabled",
	"format":       "output_format",
	"levels":       "show_levels",
	"metrics-addr": "metrics_addr",
	"debug":        "debug",
}

// bindFlags binds the persistent flags to viper. It runs on every execution
// so that a viper.Reset does not lose the bindings.
func bindFlags() error {
	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func initConfig() error {
	if err := bindFlags(); err != nil {
		return err
	}
	if err := config.Init(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log.SetPrefix(config.AppName + ": ")
	log.SetFlags(log.LstdFlags)
	if viper.GetBool("debug") {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	return nil
}

// loadSettings returns validated settings after flags and config are merged
func loadSettings() (*config.Settings, error) {
	settings, err := config.Get()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return settings, nil
}
