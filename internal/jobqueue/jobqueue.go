/*
Package jobqueue provides a River-based job queue for background maintenance.

Two recurring jobs run here: sweeping expired entries out of the processed
event ledger, and discarding pending ticket batches that were never confirmed.
For tunable parameters see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
)

// EventSweepJobArgs represents the arguments for a ledger sweep job.
type EventSweepJobArgs struct {
	TTLHours int `json:"ttl_hours"`
}

// Kind returns the job kind for River
func (EventSweepJobArgs) Kind() string {
	return "event_ledger_sweep"
}

// EventSweepWorker deletes processed event records past their retention
// window. Delivery ids older than the platform redelivery horizon can never
// arrive again, so keeping them only grows the table.
type EventSweepWorker struct {
	river.WorkerDefaults[EventSweepJobArgs]
	pool *pgxpool.Pool
}

// Work performs the ledger sweep
func (w *EventSweepWorker) Work(ctx context.Context, job *river.Job[EventSweepJobArgs]) error {
	ttl := time.Duration(job.Args.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cutoff := time.Now().Add(-ttl)

	tag, err := w.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to sweep processed events: %w", err)
	}

	if tag.RowsAffected() > 0 {
		log.Info().Int64("removed", tag.RowsAffected()).Time("cutoff", cutoff).Msg("swept processed event ledger")
	}
	return nil
}

// BatchSweepJobArgs represents the arguments for a stale batch sweep job.
type BatchSweepJobArgs struct {
	MaxAgeHours int `json:"max_age_hours"`
}

// Kind returns the job kind for River
func (BatchSweepJobArgs) Kind() string {
	return "pending_batch_sweep"
}

// BatchSweepWorker discards pending ticket batches whose confirmation was
// never completed. The thread owner abandoned the flow; a later request
// starts a fresh extraction rather than resurrecting a stale preview.
type BatchSweepWorker struct {
	river.WorkerDefaults[BatchSweepJobArgs]
	pool *pgxpool.Pool
}

// Work performs the stale batch sweep
func (w *BatchSweepWorker) Work(ctx context.Context, job *river.Job[BatchSweepJobArgs]) error {
	maxAge := time.Duration(job.Args.MaxAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge)

	tag, err := w.pool.Exec(ctx,
		`DELETE FROM pending_batches WHERE updated_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to sweep pending batches: %w", err)
	}

	if tag.RowsAffected() > 0 {
		log.Info().Int64("removed", tag.RowsAffected()).Time("cutoff", cutoff).Msg("discarded abandoned ticket batches")
	}
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance
func NewJobQueue(databaseURL string) (*JobQueue, error) {
	config := GetQueueConfig()

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &EventSweepWorker{pool: pool})
	river.AddWorker(workers, &BatchSweepWorker{pool: pool})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      workers,
		PeriodicJobs: config.PeriodicJobs(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// QueueEventSweep queues an immediate ledger sweep, outside the periodic
// schedule. Used by the cleanup CLI command.
func (jq *JobQueue) QueueEventSweep(ctx context.Context, ttlHours int) error {
	_, err := jq.client.Insert(ctx, EventSweepJobArgs{TTLHours: ttlHours}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue event sweep job: %w", err)
	}
	return nil
}
