// cmd/listen.go
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
	"github.com/ColonelBlimp/cwkeyer/internal/config"
	"github.com/ColonelBlimp/cwkeyer/internal/session"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Report key events from a live audio device",
	Long: `Capture audio from a sound card and print a line for every key-down and
key-up transition of the CW tone. Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func audioConfig(s *config.Settings) audio.Config {
	return audio.Config{
		DeviceIndex: s.DeviceIndex,
		SampleRate:  uint32(s.SampleRate),
		Channels:    uint32(s.Channels),
		BufferSize:  uint32(s.BufferSize),
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(settings, settings.ProcessorConfig(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	capture := audio.New(audioConfig(settings))
	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio init: %w", err)
	}
	defer func() {
		if err := capture.Close(); err != nil {
			log.Printf("audio close: %v", err)
		}
	}()

	return p.run(ctx, func(ctx context.Context, sess *session.Session) error {
		capture.SetCallback(func(samples []float32, at time.Duration) {
			sess.Offer(session.Chunk{Samples: samples, Timestamp: at})
		})
		if err := capture.Start(ctx); err != nil {
			return fmt.Errorf("audio start: %w", err)
		}
		log.Printf("listening on device %d at %v Hz", settings.DeviceIndex, settings.SampleRate)

		<-ctx.Done()
		log.Printf("stopped after %v of audio", capture.Elapsed().Round(time.Millisecond))
		return ctx.Err()
	})
}
