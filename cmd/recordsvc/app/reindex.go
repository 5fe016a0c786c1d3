package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-record-service/internal/config"
	"github.com/goliatone/go-record-service/pkg/di"
	"github.com/goliatone/go-record-service/queue"
	"github.com/spf13/cobra"
)

func newReindexCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Enqueue an index upsert for every stored record",
		Long: `Walk the database and enqueue an index upsert for every record. With the
memory queue the tasks are processed in this process before it exits; with the
sql queue they are left for the running workers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := e.container(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close(c)

			reset, _ := cmd.Flags().GetBool("reset-index")
			return e.reindex(ctx, c, reset)
		},
	}
	cmd.Flags().Bool("reset-index", false, "Delete and recreate the search index first")
	return cmd
}

func (e *env) reindex(ctx context.Context, c *di.Container, reset bool) error {
	mem, inProcess := c.Queue().(*queue.MemoryQueue)

	var (
		runCtx context.Context
		cancel context.CancelFunc
		done   chan error
	)
	if inProcess {
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		done = make(chan error, 1)
		go func() { done <- c.Run(runCtx) }()
	}

	res, err := c.Reindex(ctx, reset)
	if err != nil {
		return err
	}
	e.logger.Info().
		Int("records", res.Records).
		Int("enqueued", res.Enqueued).
		Int("failed", res.Failed).
		Msg("reindex tasks enqueued")

	if !inProcess {
		if e.cfg.Queue.Driver == config.QueueSQL {
			e.logger.Info().Msg("tasks left for the sql queue workers")
		}
		return nil
	}

	if err := drain(ctx, mem); err != nil {
		return err
	}
	cancel()
	if err := <-done; err != nil {
		return fmt.Errorf("workers: %w", err)
	}
	e.logger.Info().Msg("reindex complete")
	return nil
}

// drain waits until the memory queue holds no buffered, delayed or in-flight tasks.
func drain(ctx context.Context, q *queue.MemoryQueue) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	// two idle ticks in a row cover a task caught between channel and in-flight set
	idle := 0
	for {
		if q.Len() == 0 && q.Pending() == 0 && q.InFlight() == 0 {
			idle++
		} else {
			idle = 0
		}
		if idle >= 2 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
