package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SyncMintCacheWorkflow is the Temporal workflow that keeps the mint cache
// warm. It is triggered by a schedule at a configured interval and runs a
// single activity: one incremental sync pass. Retries are bounded; a pass
// that ultimately fails is simply picked up by the next scheduled run,
// since the sync cursor only advances on successful persistence.
func SyncMintCacheWorkflow(ctx workflow.Context, input SyncMintCacheInput) (*SyncMintCacheResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncMintCacheWorkflow started")

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 600 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *SyncMintCacheResult
	if err := workflow.ExecuteActivity(ctx, a.SyncMintCache, input).Get(ctx, &result); err != nil {
		logger.Error("mint cache sync activity failed", "error", err)
		errMsg := fmt.Sprintf("sync activity failed: %v", err)
		return &SyncMintCacheResult{
			SyncTime: workflow.Now(ctx),
			Error:    &errMsg,
		}, err
	}

	logger.Info("SyncMintCacheWorkflow complete", "stored", result.Stored)
	return result, nil
}
