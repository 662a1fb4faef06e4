package regression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/reference"
)

// Mode selects whether a run is persisted.
type Mode string

const (
	// ModeLive commits coefficients, segments and the run summary together.
	ModeLive Mode = "live"
	// ModeExperiment computes everything but writes only the diagnostics file.
	ModeExperiment Mode = "experiment"
)

// RunIDLayout is the default run identifier format.
const RunIDLayout = "20060102_150405"

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// SalesSource loads valid sales joined to parcel attributes.
type SalesSource interface {
	FindTrainingSales(ctx context.Context, filter models.SaleFilter) ([]models.TrainingSale, error)
}

// RunStore persists and removes fitted runs atomically.
type RunStore interface {
	SaveRun(ctx context.Context, run models.AdjustmentRun) error
	DeleteRun(ctx context.Context, runID string) (int64, error)
}

// Params configures one fit run.
type Params struct {
	RunID          string
	PredictorSet   string
	Bundle         string
	Mode           Mode
	Countywide     bool
	Tiered         bool
	MinSegmentSize int
	MaxSteps       int
	Workers        int
	Filter         models.SaleFilter
}

// Result is the outcome of a run.
type Result struct {
	RunID           string
	Mode            Mode
	Diagnostics     *Diagnostics
	Coefficients    []models.AdjustmentCoefficient
	Segments        []models.AdjustmentModelSegment
	DiagnosticsPath string
}

// Job fits adjustment coefficients per market group and value tier.
type Job struct {
	sales          SalesSource
	store          RunStore
	tables         *reference.Tables
	diagnosticsDir string
	log            *logger.Logger
	now            func() time.Time
}

// NewJob creates a fitting job. store may be nil when only experiment runs
// are performed.
func NewJob(sales SalesSource, store RunStore, tables *reference.Tables, diagnosticsDir string, log *logger.Logger) *Job {
	return &Job{
		sales:          sales,
		store:          store,
		tables:         tables,
		diagnosticsDir: diagnosticsDir,
		log:            log.WithComponent("regression"),
		now:            time.Now,
	}
}

// Run fits every segment and, in live mode, commits the run. Either the
// whole run is stored or nothing is.
func (j *Job) Run(ctx context.Context, p Params) (*Result, error) {
	spec, err := Resolve(p.PredictorSet, p.Bundle)
	if err != nil {
		return nil, err
	}
	if p.Mode != ModeLive && p.Mode != ModeExperiment {
		return nil, &analytics.ConfigurationError{Reason: fmt.Sprintf("unknown run mode %q", p.Mode)}
	}
	if p.Mode == ModeLive && j.store == nil {
		return nil, &analytics.ConfigurationError{Reason: "live runs need a coefficient store"}
	}
	if p.MinSegmentSize < 2 {
		p.MinSegmentSize = 2
	}
	if p.Workers < 1 {
		p.Workers = 1
	}

	createdAt := j.now().UTC()
	runID := p.RunID
	if runID == "" {
		runID = createdAt.Format(RunIDLayout)
	}
	if !runIDPattern.MatchString(runID) {
		return nil, &analytics.ConfigurationError{RunID: runID, Reason: "run id must be 1-32 letters, digits, '_' or '-'"}
	}
	if _, err := os.Stat(pathForMode(j.diagnosticsDir, runID, p.Mode)); err == nil {
		return nil, &analytics.ConfigurationError{RunID: runID, Reason: fmt.Sprintf("%s diagnostics for this run id already exist", p.Mode)}
	}

	log := j.log.With(map[string]interface{}{"run_id": runID, "mode": string(p.Mode)})
	log.Info("Starting regression run", map[string]interface{}{
		"predictor_set": spec.PredictorSet,
		"bundle":        spec.Bundle,
		"countywide":    p.Countywide,
		"tiered":        p.Tiered,
	})

	sales, err := j.sales.FindTrainingSales(ctx, p.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load training sales: %w", err)
	}

	groups, unassigned := j.groupSales(sales, p.Countywide)
	var segments []segment
	for _, name := range sortedKeys(groups) {
		segments = append(segments, splitTiers(name, groups[name], p.Tiered, p.MinSegmentSize)...)
	}

	results := make([]*SegmentResult, len(segments))
	var (
		mu      sync.Mutex
		skipped []SkippedSegment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for i, seg := range segments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, skip := fitSegment(gctx, seg, spec, p.MinSegmentSize, p.MaxSteps)
			if err := gctx.Err(); err != nil {
				return err
			}
			if skip != nil {
				mu.Lock()
				skipped = append(skipped, *skip)
				mu.Unlock()
				log.Warn("Segment skipped", map[string]interface{}{
					"market_group": skip.MarketGroup,
					"value_tier":   skip.ValueTier,
					"reason":       skip.Reason,
				})
				return nil
			}
			results[i] = res
			log.Info("Segment fitted", map[string]interface{}{
				"market_group": res.MarketGroup,
				"value_tier":   res.ValueTier,
				"n":            res.N,
				"r2":           res.R2,
				"cod":          res.COD,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("regression run %s aborted: %w", runID, err)
	}

	sort.Slice(skipped, func(a, b int) bool {
		if skipped[a].MarketGroup != skipped[b].MarketGroup {
			return skipped[a].MarketGroup < skipped[b].MarketGroup
		}
		return skipped[a].ValueTier < skipped[b].ValueTier
	})

	doc := &Diagnostics{
		RunID:           runID,
		CreatedAt:       createdAt,
		Mode:            p.Mode,
		Countywide:      p.Countywide,
		Tiered:          p.Tiered,
		Model:           spec,
		MinSegmentSize:  p.MinSegmentSize,
		MaxSteps:        p.MaxSteps,
		SalesLoaded:     len(sales),
		SalesUnassigned: unassigned,
		Segments:        []SegmentResult{},
		SkippedSegments: skipped,
	}
	for _, r := range results {
		if r != nil {
			doc.Segments = append(doc.Segments, *r)
		}
	}

	if len(doc.Segments) == 0 {
		return nil, &analytics.InsufficientDataError{Scope: "regression run " + runID, Required: p.MinSegmentSize}
	}

	result := &Result{RunID: runID, Mode: p.Mode, Diagnostics: doc}
	result.Coefficients, result.Segments = toRows(doc)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("regression run %s aborted: %w", runID, err)
	}

	var summary []byte
	if p.Mode == ModeLive {
		if summary, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("failed to encode run summary: %w", err)
		}
	}

	staged, err := stageDiagnostics(j.diagnosticsDir, doc)
	if err != nil {
		return nil, err
	}

	// Publish before saving; a failed save retracts the file.
	path, err := staged.Commit()
	if err != nil {
		if errors.Is(err, ErrDiagnosticsExist) {
			return nil, &analytics.ConfigurationError{RunID: runID, Reason: err.Error()}
		}
		return nil, err
	}

	if p.Mode == ModeLive {
		run := models.AdjustmentRun{
			RunID:        runID,
			CreatedAt:    createdAt,
			Coefficients: result.Coefficients,
			Segments:     result.Segments,
			Summary:      summary,
		}
		if err := j.store.SaveRun(ctx, run); err != nil {
			staged.Retract()
			return nil, fmt.Errorf("failed to save run %s: %w", runID, err)
		}
	}

	result.DiagnosticsPath = path

	log.Info("Regression run complete", map[string]interface{}{
		"segments":     len(doc.Segments),
		"skipped":      len(doc.SkippedSegments),
		"coefficients": len(result.Coefficients),
		"diagnostics":  path,
	})
	return result, nil
}

// Undo deletes a stored run and its diagnostics file.
func (j *Job) Undo(ctx context.Context, runID string) (int64, error) {
	if j.store == nil {
		return 0, &analytics.ConfigurationError{Reason: "undo needs a coefficient store"}
	}
	if !runIDPattern.MatchString(runID) {
		return 0, &analytics.ConfigurationError{RunID: runID, Reason: "invalid run id"}
	}

	n, err := j.store.DeleteRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	if n == 0 {
		return 0, &analytics.ConfigurationError{RunID: runID, Reason: "run not found"}
	}

	if err := os.Remove(DiagnosticsPath(j.diagnosticsDir, runID)); err != nil && !os.IsNotExist(err) {
		j.log.Warn("Failed to remove diagnostics file", map[string]interface{}{"run_id": runID, "error": err.Error()})
	}

	j.log.Info("Run deleted", map[string]interface{}{"run_id": runID, "coefficients": n})
	return n, nil
}

func (j *Job) groupSales(sales []models.TrainingSale, countywide bool) (map[string][]models.TrainingSale, int) {
	groups := make(map[string][]models.TrainingSale)
	unassigned := 0
	for _, s := range sales {
		group := models.MarketGroupCountywide
		if !countywide {
			group = j.tables.ValuationArea(s.Parcel.NeighborhoodCode)
		}
		if strings.TrimSpace(group) == "" {
			unassigned++
			continue
		}
		groups[group] = append(groups[group], s)
	}
	return groups, unassigned
}

func toRows(doc *Diagnostics) ([]models.AdjustmentCoefficient, []models.AdjustmentModelSegment) {
	var coefs []models.AdjustmentCoefficient
	var segs []models.AdjustmentModelSegment
	for _, s := range doc.Segments {
		for _, c := range s.Coefficients {
			se := c.StdErr
			coefs = append(coefs, models.AdjustmentCoefficient{
				MarketGroup: s.MarketGroup,
				ValueTier:   s.ValueTier,
				Term:        c.Term,
				Beta:        c.Beta,
				StdErr:      &se,
				RunID:       doc.RunID,
				CreatedAt:   doc.CreatedAt,
			})
		}
		segs = append(segs, models.AdjustmentModelSegment{
			RunID:       doc.RunID,
			MarketGroup: s.MarketGroup,
			ValueTier:   s.ValueTier,
			N:           s.N,
			R2:          s.R2,
			COD:         s.COD,
			PRD:         s.PRD,
			MedianRatio: s.MedianRatio,
			Predictors:  s.Predictors,
			PriceMin:    s.PriceMin,
			PriceMax:    s.PriceMax,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return coefs, segs
}
