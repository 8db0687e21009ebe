package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/threadscribe/internal/database"
	"github.com/threadscribe/internal/jobqueue"
)

// CleanupCommand returns the CLI command for queuing an immediate ledger sweep
func CleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Queue an immediate sweep of the processed event ledger",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "ttl-hours",
				Usage: "Delete processed event records older than this many hours",
				Value: 24,
			},
		},
		Action: runCleanup,
	}
}

func runCleanup(c *cli.Context) error {
	dbURL, err := database.DatabaseURL()
	if err != nil {
		return err
	}

	queue, err := jobqueue.NewJobQueue(dbURL)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	defer queue.Stop(context.Background())

	if err := queue.QueueEventSweep(context.Background(), c.Int("ttl-hours")); err != nil {
		return err
	}

	fmt.Println("Queued event ledger sweep")
	return nil
}
