package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-record-service/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. Unless --workers=false is given the indexing workers and
the periodic reconciler run in the same process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.serve(cmd)
		},
	}
	cmd.Flags().String("address", "", "Address to listen on")
	cmd.Flags().Bool("workers", true, "Run indexing workers in this process")
	cmd.Flags().Bool("init-schema", false, "Create tables and the index before serving")
	bind(e.v, cmd, "server.address", "address")
	return cmd
}

func (e *env) serve(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := e.container(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close(c)

	if initSchema, _ := cmd.Flags().GetBool("init-schema"); initSchema {
		if err := c.InitSchema(ctx); err != nil {
			return err
		}
	}

	sc := e.cfg.Server
	server := &http.Server{
		Addr: sc.Address,
		Handler: c.Handler(sc.RequestTimeout,
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
		),
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.logger.Info().Str("address", sc.Address).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if workers, _ := cmd.Flags().GetBool("workers"); workers {
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		e.logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), sc.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	e.logger.Info().Msg("server shutdown complete")
	return nil
}

func newWorkerCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run indexing workers and the reconciler without the HTTP API",
		Long: `Run indexing workers without the HTTP API. Only useful with the sql queue
driver, where tasks enqueued by other processes are shared through the database,
and a shared index driver such as elasticsearch.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := e.load(cmd); err != nil {
				return err
			}
			if err := e.cfg.ValidateWorker(); err != nil {
				_ = e.logger.Close()
				return err
			}
			c, err := e.build(ctx)
			if err != nil {
				return err
			}
			defer e.close(c)

			if e.cfg.Queue.Driver != config.QueueSQL {
				e.logger.Warn().Msg("memory queue selected; this worker only sees tasks it enqueues itself")
			}
			return c.Run(ctx)
		},
	}
}
