package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/legalqa/legalqa/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Example: `  legalqa serve
  legalqa serve --listen :9000 --config ./legalqa.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	return cmd
}

func runServe(listen string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if listen == "" {
		listen = a.cfg.Listen
	}
	metricsHandler := promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})

	opts := []server.Option{server.WithLogger(a.log), server.WithMetrics(a.metrics)}
	if a.cfg.MetricsListen == "" {
		opts = append(opts, server.WithMetricsHandler(metricsHandler))
	}
	srv := server.New(a.pipeline, a.conversations(), opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(listen) })

	var metricsSrv *http.Server
	if a.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsSrv = &http.Server{Addr: a.cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.log.Info().Str("addr", metricsSrv.Addr).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		errs = append(errs, srv.Shutdown(shutdownCtx))
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
