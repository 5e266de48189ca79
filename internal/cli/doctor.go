package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/llm/configbuilder"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %d\n", len(cfg.Providers), len(cfg.Models))

			reg, err := configbuilder.BuildRegistryFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("model registry: %w", err)
			}
			fmt.Fprintf(out, "Models: %s (default: %s)\n", strings.Join(reg.Models(), ", "), reg.DefaultModel())

			fmt.Fprintf(out, "Sandbox enabled: %v, metrics: %v\n", cfg.Sandbox.Enabled, cfg.Server.MetricsEnabled)
			fmt.Fprintf(out, "Transport: %s on %s\n", cfg.Server.Transport, cfg.Server.Addr)
			fmt.Fprintf(out, "Loop caps: agent=%d chat=%d worker=%d\n", cfg.Loop.AgentMaxIterations, cfg.Loop.ChatMaxIterations, cfg.Phases.WorkerCap)
			fmt.Fprintf(out, "Watchdog timeout: %ds, read slots: %d\n", cfg.Watchdog.TimeoutSeconds, cfg.Scheduler.ReadSlots)
			if cfg.Audit.Enabled {
				fmt.Fprintf(out, "Audit store: %s\n", cfg.Audit.Path)
			}
			return nil
		},
	}
}
