package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/regression"
	"github.com/stwalsh4118/appraisal/internal/repository"
)

type fitOptions struct {
	runID        string
	predictors   string
	bundle       string
	experiment   bool
	countywide   bool
	tiered       bool
	workers      int
	maxSteps     int
	minSegment   int
	neighborhood string
	timeout      time.Duration
}

// params merges flags over the configured defaults. Zero flags fall back
// to configuration.
func (o fitOptions) params(cfg *config.Config) regression.Params {
	p := regression.Params{
		RunID:          o.runID,
		PredictorSet:   o.predictors,
		Bundle:         o.bundle,
		Mode:           regression.ModeLive,
		Countywide:     o.countywide,
		Tiered:         o.tiered,
		MinSegmentSize: o.minSegment,
		MaxSteps:       o.maxSteps,
		Workers:        o.workers,
		Filter: models.SaleFilter{
			SaleWindowStart:  cfg.Comparables.SaleWindowStart,
			MinSalePrice:     cfg.Comparables.MinSalePrice,
			NeighborhoodCode: o.neighborhood,
		},
	}
	if o.experiment {
		p.Mode = regression.ModeExperiment
	}
	if p.PredictorSet == "" {
		p.PredictorSet = cfg.Regression.DefaultPredictors
	}
	if p.Bundle == "" {
		p.Bundle = cfg.Regression.DefaultBundle
	}
	if p.MinSegmentSize == 0 {
		p.MinSegmentSize = cfg.Regression.MinSegmentSize
	}
	if p.MaxSteps == 0 {
		p.MaxSteps = cfg.Regression.MaxStepwiseSteps
	}
	if p.Workers == 0 {
		p.Workers = cfg.Regression.Workers
	}
	return p
}

type fitSummary struct {
	RunID           string                      `json:"runId"`
	Mode            regression.Mode             `json:"mode"`
	SalesLoaded     int                         `json:"salesLoaded"`
	Segments        int                         `json:"segments"`
	Skipped         []regression.SkippedSegment `json:"skipped"`
	Coefficients    int                         `json:"coefficients"`
	DiagnosticsPath string                      `json:"diagnosticsPath"`
}

func summarizeFit(res *regression.Result) fitSummary {
	s := fitSummary{
		RunID:           res.RunID,
		Mode:            res.Mode,
		Coefficients:    len(res.Coefficients),
		DiagnosticsPath: res.DiagnosticsPath,
		Skipped:         []regression.SkippedSegment{},
	}
	if res.Diagnostics != nil {
		s.SalesLoaded = res.Diagnostics.SalesLoaded
		s.Segments = len(res.Diagnostics.Segments)
		if res.Diagnostics.SkippedSegments != nil {
			s.Skipped = res.Diagnostics.SkippedSegments
		}
	}
	return s
}

func FitCmd() *cobra.Command {
	var opts fitOptions

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit adjustment coefficients from valid sales",
		Long: "Fit log-linear adjustment models per market group and value tier.\n\n" +
			"Predictor sets: " + strings.Join(regression.PredictorSets(), ", ") + "\n" +
			"Interaction bundles: " + strings.Join(regression.Bundles(), ", "),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := withDeadline(cmd.Context(), opts.timeout, e.cfg.Regression.Timeout)
			defer cancel()

			job := regression.NewJob(
				repository.NewParcelRepository(e.db),
				repository.NewCoefficientRepository(e.db),
				e.tables,
				e.cfg.Regression.DiagnosticsDir,
				e.log,
			)

			res, err := job.Run(ctx, opts.params(e.cfg))
			if err != nil {
				return fmt.Errorf("fit failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summarizeFit(res))
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run identifier (default: UTC timestamp)")
	cmd.Flags().StringVar(&opts.predictors, "predictors", "", "Predictor set (default from REGRESSION_PREDICTORS)")
	cmd.Flags().StringVar(&opts.bundle, "bundle", "", "Interaction bundle (default from REGRESSION_BUNDLE)")
	cmd.Flags().BoolVar(&opts.experiment, "experiment", false, "Write diagnostics only, leave stored coefficients untouched")
	cmd.Flags().BoolVar(&opts.countywide, "countywide", false, "Fit one COUNTYWIDE model instead of one per market group")
	cmd.Flags().BoolVar(&opts.tiered, "tiered", false, "Split each market group into LOW/MID/HIGH value tiers")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Segments fitted in parallel (default from REGRESSION_WORKERS)")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", 0, "Stepwise additions per segment (default from REGRESSION_MAX_STEPS)")
	cmd.Flags().IntVar(&opts.minSegment, "min-segment", 0, "Smallest segment that is fitted (default from REGRESSION_MIN_SEGMENT)")
	cmd.Flags().StringVar(&opts.neighborhood, "neighborhood", "", "Restrict training sales to one neighborhood")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this long without saving (default from REGRESSION_TIMEOUT)")

	return cmd
}

func UndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <run-id>",
		Short: "Delete a stored run and its diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			job := regression.NewJob(nil, repository.NewCoefficientRepository(e.db), e.tables, e.cfg.Regression.DiagnosticsDir, e.log)
			n, err := job.Undo(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Deleted run %s (%d coefficients)\n", args[0], n)
			return nil
		},
	}
}
