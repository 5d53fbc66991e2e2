package cli

import (
	"log"

	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/config"
)

// NewSweepCmd runs a single sweep pass over the shared session store. It is
// the entry point for an external scheduler (cron, k8s CronJob) when the
// in-process sweeper is not wanted.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim expired and idle sessions once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			engine, cleanup, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			completed, err := engine.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("sweep reclaimed %d sessions", completed)
			return nil
		},
	}
}
