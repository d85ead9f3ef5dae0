// Package daemon assembles and runs the task runtime as a long-lived
// HTTP service: config, logging, history store, runtime, API server.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	makeparallel "github.com/amiyamandal-dev/makeParallel"
	"github.com/amiyamandal-dev/makeParallel/internal/api"
	"github.com/amiyamandal-dev/makeParallel/internal/config"
	"github.com/amiyamandal-dev/makeParallel/internal/history"
	"github.com/amiyamandal-dev/makeParallel/internal/logging"
)

// Daemon wires all long-lived components together.
type Daemon struct {
	Config  config.Config
	Logger  *zap.Logger
	Runtime *makeparallel.Runtime
	History *history.DB
	Server  *api.Server

	cancel context.CancelFunc
}

// New loads configuration and builds the daemon.
func New() (*Daemon, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Logging)

	d := &Daemon{Config: cfg, Logger: logger}

	if cfg.History.Enabled {
		db, err := history.Open(cfg.History.Dir)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		d.History = db
	}

	opts := []makeparallel.Option{
		makeparallel.WithLogger(logger),
		makeparallel.WithWorkers(cfg.Runtime.Workers),
	}
	if cfg.Runtime.MaxConcurrent > 0 {
		opts = append(opts, makeparallel.WithMaxConcurrent(cfg.Runtime.MaxConcurrent))
	}
	if d.History != nil {
		opts = append(opts, makeparallel.WithHistory(d.History))
	}
	d.Runtime = makeparallel.New(opts...)

	if cfg.Runtime.MemoryLimitPercent > 0 {
		d.Runtime.ConfigureMemoryLimit(cfg.Runtime.MemoryLimitPercent)
	}
	if cfg.Runtime.StartPriorityWorker {
		d.Runtime.StartPriorityWorker()
	}

	d.Server = api.NewServer(d.Runtime, d.History, logger)
	d.Server.EnableMetrics()

	return d, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownTimeout := time.Duration(d.Config.Runtime.ShutdownTimeoutSecs) * time.Second
		if shutdownTimeout <= 0 {
			shutdownTimeout = 30 * time.Second
		}

		d.Logger.Info("shutting down", zap.Duration("timeout", shutdownTimeout))
		drained := d.Runtime.Shutdown(shutdownTimeout, true)
		if !drained {
			d.Logger.Warn("tasks still pending at shutdown deadline")
		}
		d.Runtime.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if d.History != nil {
			_ = d.History.Close()
		}
	}()

	fmt.Printf("makeparallel serving on http://%s\n", addr)
	fmt.Printf("  Metrics: http://%s/metrics\n", addr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
}
