package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tutu-network/tutu-infer/internal/api"
	"github.com/tutu-network/tutu-infer/internal/health"
	"github.com/tutu-network/tutu-infer/internal/pool"
	"github.com/tutu-network/tutu-infer/internal/server"
)

// Daemon owns the core server, its HTTP front end, and the health
// checker, and runs them until an interrupt or terminate signal arrives.
type Daemon struct {
	cfg     Config
	core    *server.Server
	checker *health.Checker
	http    *http.Server
}

// New builds a Daemon from cfg. Models are loaded separately via
// Daemon.Core().LoadModel before Run is called.
func New(cfg Config) *Daemon {
	core := server.New(cfg.Pool.Workers)

	checker := health.NewChecker(
		time.Duration(cfg.Telemetry.HealthInterval)*time.Second,
		health.ThreadPoolCheck(core.WorkerCount),
	)

	apiServer := api.NewServer(core, checker)
	if cfg.Telemetry.Prometheus {
		apiServer.EnableMetrics()
	}

	return &Daemon{
		cfg:     cfg,
		core:    core,
		checker: checker,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
			Handler: apiServer.Handler(),
		},
	}
}

// Core returns the underlying server.Server, for loading models before
// Run starts serving traffic.
func (d *Daemon) Core() *server.Server { return d.core }

// Run starts the HTTP server, the health checker, and the pool
// autoscaler, and blocks until SIGINT/SIGTERM, shutting everything down
// gracefully.
func (d *Daemon) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go d.checker.Run(ctx)
	go d.core.Autoscale(ctx, pool.AutoscaleConfig{
		MinWorkers:      d.cfg.Pool.MinWorkers,
		MaxWorkers:      d.cfg.Pool.MaxWorkers,
		TickInterval:    2 * time.Second,
		GrowThreshold:   d.cfg.Pool.GrowThreshold,
		ShrinkThreshold: d.cfg.Pool.ShrinkThreshold,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("daemon: listening on %s", d.http.Addr)
		if err := d.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Print("daemon: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := d.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	d.core.ClearModelCache()
	return nil
}
