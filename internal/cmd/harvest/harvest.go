package harvest

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/turbolytics/harvester/internal"
	"github.com/turbolytics/harvester/internal/catalog"
	"github.com/turbolytics/harvester/internal/config"
	"github.com/turbolytics/harvester/internal/harvest"
)

func NewCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvests every configured source once and prints the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			h, err := config.NewHarvesterFromFile(v.GetString("config"))
			if err != nil {
				return err
			}
			applyOverrides(v, &h.Control)

			logger, err := newLogger(h.Control.Logger.Level, v.GetString("logfile"))
			if err != nil {
				return err
			}
			defer logger.Sync()
			l := logger.Named("harvester")

			from, err := internal.ParseTemporalFilter(v.GetString("from"))
			if err != nil {
				return err
			}

			reg, err := h.Registry()
			if err != nil {
				return err
			}

			if err := config.EnsureDirectories(h.Control, reg, l.Named("bootstrap")); err != nil {
				return err
			}

			driver, err := config.InitializeDriver(h.Control, from, l.Named("driver"))
			if err != nil {
				return err
			}

			if addr := v.GetString("status-addr"); addr != "" {
				srv := harvest.NewServer(driver, l.Named("status"))
				go func() {
					if err := srv.Start(ctx, addr); err != nil {
						l.Error("status server stopped", zap.Error(err))
					}
				}()
			}

			report := driver.Run(ctx, reg)
			report.Render(cmd.OutOrStdout())

			if h.Control.Report != "" {
				w := catalog.NewFilesystemWriter(h.Control.Report, l.Named("catalog"))
				if err := w.Save(report); err != nil {
					return err
				}
			}

			// failed sources are reported, not returned
			return nil
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to config file")
	cmd.Flags().StringP("logfile", "l", "", "Also write logs to this file")
	cmd.Flags().StringP("from", "f", "", "Only harvest records changed since this date (YYYY-MM-DD or YYYY-MM-DDThh:mm:ssZ)")
	cmd.Flags().Int("concurrency", 0, "Number of sources harvested at once")
	cmd.Flags().Duration("timeout", 0, "Upper bound on a single source's harvest")
	cmd.Flags().String("report", "", "Write the JSON report to this path")
	cmd.Flags().String("log-level", "", "Log level, overrides the control section")
	cmd.Flags().String("status-addr", "", "Serve harvest progress on this address, e.g. :8080")
	cmd.MarkFlagRequired("config")

	bindFlags(v, cmd, "config", "logfile", "from", "concurrency", "timeout", "report", "log-level", "status-addr")

	return cmd
}

var envKeyReplacer = strings.NewReplacer("-", "_")

func bindFlags(v *viper.Viper, cmd *cobra.Command, names ...string) {
	for _, name := range names {
		v.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
}

// applyOverrides lets flags and HARVESTER_* variables win over the control section.
func applyOverrides(v *viper.Viper, c *config.Control) {
	if v.IsSet("concurrency") {
		c.Concurrency = v.GetInt("concurrency")
	}
	if v.IsSet("timeout") {
		c.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("log-level") {
		c.Logger.Level = v.GetString("log-level")
	}
	if v.IsSet("report") {
		c.Report = v.GetString("report")
	}
}
