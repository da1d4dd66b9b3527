package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/httpserver"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/revalidation"
)

func (a *App) newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the revalidation consumer and its HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.setup()
			if err != nil {
				return err
			}
			defer e.close(context.Background())

			queue, err := openQueue(e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer queue.Close()

			consumer := revalidation.NewConsumer(queue,
				revalidation.NewHTTPRegenerator(e.cfg.RevalidationToken, 0),
				revalidation.ConsumerConfig{Concurrency: concurrency, Logger: e.logger})
			server := httpserver.New(httpserver.Config{Token: e.cfg.RevalidationToken, Logger: e.logger}, queue)
			httpServer := &http.Server{
				Addr:              e.cfg.WorkerAddr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				consumer.Run(ctx)
				return nil
			})
			g.Go(func() error {
				e.logger.Info("worker listening", "addr", e.cfg.WorkerAddr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					e.logger.Warn("graceful shutdown failed", "error", err)
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "grouping keys processed at once (defaults to the batch size)")
	return cmd
}
