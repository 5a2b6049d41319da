package harvest

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/turbolytics/harvester/internal"
	"github.com/turbolytics/harvester/internal/config"
	"github.com/turbolytics/harvester/internal/harvest"
	"github.com/turbolytics/harvester/internal/request"
)

func NewPlanCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Builds the job list for every source without harvesting",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger("", v.GetString("logfile"))
			if err != nil {
				return err
			}
			defer logger.Sync()
			l := logger.Named("harvester.plan")

			h, err := config.NewHarvesterFromFile(v.GetString("config"))
			if err != nil {
				return err
			}

			from, err := internal.ParseTemporalFilter(v.GetString("from"))
			if err != nil {
				return err
			}

			reg, err := h.Registry()
			if err != nil {
				return err
			}

			var jobs []harvest.Job
			for _, src := range reg.Sources() {
				job, err := harvest.BuildJob(src, from)
				switch {
				case errors.Is(err, request.ErrUnsupportedProtocol):
					l.Info("skipping source",
						zap.String("source", src.Name),
						zap.String("protocol", string(src.Protocol)),
					)
					continue
				case err != nil:
					l.Warn("invalid source configuration",
						zap.String("source", src.Name),
						zap.Error(err),
					)
					continue
				}
				jobs = append(jobs, job)
			}

			var w io.Writer = cmd.OutOrStdout()
			if p := v.GetString("jobs"); p != "" {
				f, err := os.Create(p)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return harvest.WriteJobs(w, jobs)
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to config file")
	cmd.Flags().StringP("logfile", "l", "", "Also write logs to this file")
	cmd.Flags().StringP("from", "f", "", "Only harvest records changed since this date")
	cmd.Flags().String("jobs", "", "Write the job list to this path instead of stdout")
	cmd.MarkFlagRequired("config")

	bindFlags(v, cmd, "config", "logfile", "from", "jobs")

	return cmd
}
