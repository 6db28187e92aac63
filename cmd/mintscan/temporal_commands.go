package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lanternlabs/mintscan/service/temporal"
	"github.com/urfave/cli/v2"
)

func upsertScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "upsert-schedule",
		Usage: "Create or update the recurring cache sync schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often the sync runs",
				Value:   30 * time.Second,
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Temporal task queue for the sync workflow",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "mintscan-cache-sync",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			interval := c.Duration("interval")
			if err := tc.UpsertSyncSchedule(context.Background(), interval); err != nil {
				return fmt.Errorf("failed to upsert sync schedule: %w", err)
			}

			fmt.Printf("Sync schedule ensured (interval: %s)\n", interval)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the recurring cache sync schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Temporal task queue for the sync workflow",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "mintscan-cache-sync",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteSyncSchedule(context.Background()); err != nil {
				return fmt.Errorf("failed to delete sync schedule: %w", err)
			}

			fmt.Println("Sync schedule deleted")
			return nil
		},
	}
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		errorLogger(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return tc, nil
}
