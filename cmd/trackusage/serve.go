package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgoulah/trackusage/internal/aggregator"
	"github.com/jgoulah/trackusage/internal/metrics"
)

var serveRunNow bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the weekly schedule and expose metrics",
	Long: `Runs in the foreground, processing the last completed week once the configured
weekday and time have passed (Monday 00:15 by default). A week missed while the
service was down is processed on start. /metrics and /healthz are served on the
configured listen address.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveRunNow, "run-now", false, "Process the last completed week immediately on start")
	rootCmd.AddCommand(serveCmd)
}

// pinger is the health dependency of the service
type pinger interface {
	Ping(ctx context.Context) error
}

func newRouter(db pinger) http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.Ping(ctx); err != nil {
			status, code = err.Error(), http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}).Methods(http.MethodGet)
	return router
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	p, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Metrics.GetListen(),
		Handler:           handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, newRouter(p.db))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		p.log.Info("HTTP listener started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if serveRunNow {
		if _, err := p.runner.RunOnce(ctx, aggregator.Request{WeekOffset: 1}); err != nil {
			p.log.Error("Immediate run failed", zap.Error(err))
		}
	}

	scheduleDone := make(chan struct{})
	go func() {
		defer close(scheduleDone)
		p.runner.ScheduleWeekly(ctx)
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		p.log.Error("HTTP listener failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	<-scheduleDone

	if err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
