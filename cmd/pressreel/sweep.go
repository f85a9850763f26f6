package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pressreel-worker/internal/config"
	"pressreel-worker/internal/logging"
	"pressreel-worker/internal/tempfiles"
)

var sweepOlderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove files left in the scratch directory by crashed workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		_, undo := logging.Init(cfg.Service.LogLevel)
		defer undo()

		olderThan := sweepOlderThan
		if olderThan <= 0 {
			olderThan = cfg.Worker.OrphanAge
		}

		temp, err := tempfiles.NewManager(cfg.Worker.ScratchDir)
		if err != nil {
			return err
		}
		n, err := temp.SweepOrphans(olderThan)
		if err != nil {
			return err
		}
		zap.S().Infow("scratch dir swept", "dir", temp.Dir(), "removed", n, "older_than", olderThan)
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "minimum age of removed files (default ORPHAN_AGE)")
}
