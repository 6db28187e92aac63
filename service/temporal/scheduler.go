package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that keeps the mint cache warm.
// The cache indexes one feed (the minting authority's signatures), so there
// is a single sync schedule rather than one per token.
type Scheduler interface {
	// UpsertSyncSchedule creates or updates the schedule that triggers
	// SyncMintCacheWorkflow at the given interval.
	UpsertSyncSchedule(ctx context.Context, interval time.Duration) error

	// DeleteSyncSchedule removes the sync schedule.
	DeleteSyncSchedule(ctx context.Context) error
}

// syncScheduleID is the Temporal schedule ID for the cache sync.
const syncScheduleID = "sync-mint-cache"
