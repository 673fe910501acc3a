// cmd/file.go
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/cwkeyer/internal/audio"
	"github.com/ColonelBlimp/cwkeyer/internal/session"
)

var fileCmd = &cobra.Command{
	Use:   "file <recording.wav>",
	Short: "Report key events from a WAV recording",
	Long: `Process a PCM WAV recording and print a line for every key-down and key-up
transition. Timestamps are offsets from the start of the file; the sample rate
is taken from the file.`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func init() {
	rootCmd.AddCommand(fileCmd)
}

func runFile(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	reader, err := audio.OpenWAV(args[0], settings.BufferSize)
	if err != nil {
		return err
	}
	defer reader.Close()

	procCfg := settings.ProcessorConfig()
	procCfg.SampleRate = float64(reader.SampleRate())

	p, err := newPipeline(settings, procCfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = p.run(ctx, func(ctx context.Context, sess *session.Session) error {
		return reader.Stream(ctx, func(samples []float32, at time.Duration) error {
			return sess.Submit(ctx, session.Chunk{Samples: samples, Timestamp: at})
		})
	})
	if err != nil {
		return fmt.Errorf("process %s: %w", args[0], err)
	}
	if settings.Debug {
		log.Printf("processed %v of audio (%d Hz, %d channels)",
			reader.Elapsed().Round(time.Millisecond), reader.SampleRate(), reader.Channels())
	}
	return nil
}
