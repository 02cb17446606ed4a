// Command mock-products serves a stand-in product similarity API on the
// address the bundled test targets by default.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/volleyload/volley/internal/mockserver"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		addr    string
		latency time.Duration
		jitter  time.Duration
	)
	cmd := &cobra.Command{
		Use:          "mock-products",
		Short:        "Serve a mocked /product/{id}/similar API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr, mockserver.Config{Latency: latency, Jitter: jitter})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":5000", "Listen address")
	cmd.Flags().DurationVar(&latency, "latency", 0, "Delay added to every product response")
	cmd.Flags().DurationVar(&jitter, "jitter", 0, "Random delay added on top of --latency")
	return cmd
}

func serve(ctx context.Context, addr string, cfg mockserver.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              addr,
		Handler:           mockserver.New(mockserver.DefaultCatalog(), cfg),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"addr": addr, "latency": cfg.Latency, "jitter": cfg.Jitter}).Info("serving mocked product API")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
