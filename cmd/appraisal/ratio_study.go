package main

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/appraisal/internal/repository"
	"github.com/stwalsh4118/appraisal/internal/services"
)

func newRatioStudyService(e *env) services.RatioStudyService {
	return services.NewRatioStudyService(
		repository.NewParcelRepository(e.db),
		repository.NewMetricsRepository(e.db),
		e.cfg.Ratio,
		e.cfg.Comparables,
		e.log,
	)
}

func RatioStudyCmd() *cobra.Command {
	var (
		year         int
		neighborhood string
		all          bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ratio-study",
		Short: "Recompute and store neighborhood ratio studies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (neighborhood != "") {
				return errors.New("pass exactly one of --neighborhood or --all")
			}
			if year == 0 {
				year = time.Now().Year()
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := withDeadline(cmd.Context(), timeout, e.cfg.Schedule.RatioStudyTimeout)
			defer cancel()

			svc := newRatioStudyService(e)

			var out interface{}
			if all {
				out, err = svc.RefreshAll(ctx, year)
			} else {
				out, err = svc.RefreshRatioStudy(ctx, neighborhood, year)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().IntVar(&year, "year", 0, "Roll year (default: current year)")
	cmd.Flags().StringVar(&neighborhood, "neighborhood", "", "Neighborhood code to refresh")
	cmd.Flags().BoolVar(&all, "all", false, "Refresh every neighborhood with valid sales")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (default from RATIO_STUDY_TIMEOUT)")

	return cmd
}
