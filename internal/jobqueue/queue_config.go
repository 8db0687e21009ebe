/*
Package jobqueue configuration - tunable parameters for the maintenance queue.

The sweep intervals are deliberately coarse. The ledger only needs to stay
ahead of table growth, and stale batches are harmless until they are read, so
hourly is plenty.
*/
package jobqueue

import (
	"os"
	"strconv"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent workers processing jobs (default: 2)

	// Retention Configuration
	EventTTLHours    int // Processed event records older than this are swept (default: 24)
	BatchMaxAgeHours int // Unconfirmed batches older than this are discarded (default: 24)

	// Schedule Configuration
	SweepInterval time.Duration // How often the periodic sweeps run (default: 1 hour)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:       2,
		EventTTLHours:    24,
		BatchMaxAgeHours: 24,
		SweepInterval:    1 * time.Hour,
	}
}

// GetQueueConfig returns the configuration, with retention overridable via
// THREADSCRIBE_EVENTS_TTL_HOURS for deployments with longer redelivery
// horizons.
func GetQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	if raw := os.Getenv("THREADSCRIBE_EVENTS_TTL_HOURS"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 {
			config.EventTTLHours = hours
		}
	}
	return config
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

// PeriodicJobs returns the recurring sweep schedule for the River client.
func (c *QueueConfig) PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(c.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return EventSweepJobArgs{TTLHours: c.EventTTLHours}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(c.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return BatchSweepJobArgs{MaxAgeHours: c.BatchMaxAgeHours}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	}
}
