// cmd/pipeline.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ColonelBlimp/cwkeyer/internal/config"
	"github.com/ColonelBlimp/cwkeyer/internal/dsp"
	"github.com/ColonelBlimp/cwkeyer/internal/metrics"
	"github.com/ColonelBlimp/cwkeyer/internal/recovery"
	"github.com/ColonelBlimp/cwkeyer/internal/report"
	"github.com/ColonelBlimp/cwkeyer/internal/session"
)

const metricsShutdownTimeout = 2 * time.Second

// pipeline wires a session to its consumers: the printer and, when
// configured, the metrics endpoint
type pipeline struct {
	settings *config.Settings
	session  *session.Session
	printer  *report.Printer
	metrics  *metrics.Metrics
	server   *http.Server
	dropped  uint64
}

func newPipeline(settings *config.Settings, procCfg dsp.ProcessorConfig, out io.Writer) (*pipeline, error) {
	proc, err := dsp.NewProcessor(procCfg)
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}
	sess, err := session.New(proc, settings.QueueSize)
	if err != nil {
		return nil, err
	}
	printer, err := report.NewPrinter(out, settings.OutputFormat, settings.ShowLevels)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		settings: settings,
		session:  sess,
		printer:  printer,
		metrics:  metrics.New(),
	}
	if settings.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", p.metrics.Handler())
		p.server = &http.Server{
			Addr:              settings.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if settings.Debug {
		mode := fmt.Sprintf("fixed %v Hz", procCfg.ToneFrequency)
		if procCfg.Scan != nil {
			mode = fmt.Sprintf("scanning %v-%v Hz in %v Hz steps",
				procCfg.Scan.MinFrequency, procCfg.Scan.MaxFrequency, procCfg.Scan.Step)
		}
		log.Printf("pipeline: %v Hz, %d-sample blocks (%v), %s",
			procCfg.SampleRate, procCfg.BlockSize, proc.BlockDuration(), mode)
	}
	return p, nil
}

// run starts the session and the metrics server, then consumes results until
// the session stops. feed supplies audio and returns when its input ends or
// fails; its error is returned after the queued audio has been processed.
func (p *pipeline) run(ctx context.Context, feed func(ctx context.Context, sess *session.Session) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.startMetrics(ctx)

	runErr := make(chan error, 1)
	recovery.Go(func() { runErr <- p.session.Run(ctx) }, p.session.Close)

	feedErr := make(chan error, 1)
	recovery.Go(func() {
		err := feed(ctx, p.session)
		p.session.Close()
		feedErr <- err
	}, p.session.Close)

	if err := p.consume(cancel); err != nil {
		<-feedErr
		<-runErr
		return err
	}

	err := errors.Join(<-feedErr, <-runErr)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// interrupted
		return nil
	}
	return err
}

// consume drains session results until the results channel closes. A write
// failure cancels the session; the remaining results are still drained.
func (p *pipeline) consume(cancel context.CancelFunc) error {
	var firstErr error
	for res := range p.session.Results() {
		p.metrics.Observe(res)
		if dropped := p.session.Dropped(); dropped > p.dropped {
			if p.settings.Debug {
				log.Printf("dropped %d audio chunks (queue full)", dropped-p.dropped)
			}
			p.metrics.AddDropped(dropped - p.dropped)
			p.dropped = dropped
		}
		if firstErr != nil {
			continue
		}
		if err := p.printer.Result(res); err != nil {
			firstErr = fmt.Errorf("write output: %w", err)
			cancel()
		}
	}
	return firstErr
}

func (p *pipeline) startMetrics(ctx context.Context) {
	if p.server == nil {
		return
	}
	recovery.Go(func() {
		log.Printf("serving metrics on %s/metrics", p.server.Addr)
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}, nil)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = p.server.Shutdown(shutdownCtx)
	}()
}
