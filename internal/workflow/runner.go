// Package workflow orchestrates full morphing runs: the cross product of
// pathways, percentiles, and future years over one baseline weather
// file. Combinations are isolated; one combination failing to assemble
// an ensemble skips that combination and the run continues.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/buildenergy/epwmorph/internal/delta"
	"github.com/buildenergy/epwmorph/internal/domain"
	"github.com/buildenergy/epwmorph/internal/ensemble"
	"github.com/buildenergy/epwmorph/internal/epw"
	"github.com/buildenergy/epwmorph/internal/grid"
	"github.com/buildenergy/epwmorph/internal/morph"
	"github.com/buildenergy/epwmorph/internal/observability"
)

// projectionHorizon bounds future windows: CMIP6 scenario runs end here.
const projectionHorizon = 2100

// Combination identifies one morphed output.
type Combination struct {
	Pathway    string
	Percentile float64
	Year       int
}

func (c Combination) String() string {
	return fmt.Sprintf("%s/p%s/%d", c.Pathway, formatPercentile(c.Percentile), c.Year)
}

// SkipReport records a combination the run could not produce and why.
type SkipReport struct {
	Combination Combination
	Reason      string
}

// Result is the outcome of a run: morphed series per combination, the
// combinations that were skipped, and how many models survived ensemble
// assembly for each output.
type Result struct {
	Outputs     map[Combination]*domain.MorphedSeries
	Skipped     []SkipReport
	ModelCounts map[Combination]int
}

// StatSource assembles ensemble statistics; implemented by
// ensemble.Assembler.
type StatSource interface {
	Assemble(ctx context.Context, req ensemble.Request) (domain.EnsembleStat, domain.EnsembleStat, error)
}

// Params is the workflow-level view of a run configuration; the config
// package produces it once the weather file is loaded.
type Params struct {
	Project     string
	Variables   []string
	Pathways    []string
	Percentiles []float64
	Years       []int
	Models      []string
	Resolution  string
	Mode        grid.Mode
	Baseline    domain.YearRange

	// OutputDir, when set, makes the run write each morphed series to
	// disk as it completes.
	OutputDir string
}

// Runner drives morphing runs.
type Runner struct {
	source  StatSource
	engine  *morph.Engine
	logger  *slog.Logger
	metrics *observability.Metrics

	total     atomic.Int64
	completed atomic.Int64
	skipped   atomic.Int64
}

func NewRunner(source StatSource, engine *morph.Engine, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{source: source, engine: engine, logger: logger, metrics: metrics}
}

// Run morphs the base series for every (pathway, percentile, year)
// combination. Cancellation is honored between combinations; a started
// combination runs to completion and its output is kept. On early
// cancellation the partial result is returned along with the context
// error.
func (r *Runner) Run(ctx context.Context, base *domain.WeatherSeries, p Params) (*Result, error) {
	ordered, autoAdded, err := domain.Resolve(p.Variables)
	if err != nil {
		return nil, err
	}
	if p.Baseline.Start == 0 {
		p.Baseline = base.BaselineRange
	}
	if p.Baseline.Start == 0 {
		return nil, errors.New("no baseline year range: weather file has no period of record and none was configured")
	}

	result := &Result{
		Outputs:     make(map[Combination]*domain.MorphedSeries),
		ModelCounts: make(map[Combination]int),
	}
	r.total.Store(int64(len(p.Pathways) * len(p.Percentiles) * len(p.Years)))
	r.completed.Store(0)
	r.skipped.Store(0)

	for _, pathway := range p.Pathways {
		for _, percentile := range p.Percentiles {
			for _, year := range p.Years {
				if err := ctx.Err(); err != nil {
					return result, err
				}
				comb := Combination{Pathway: pathway, Percentile: percentile, Year: year}
				if err := r.runOne(ctx, base, p, ordered, autoAdded, comb, result); err != nil {
					return result, err
				}
			}
		}
	}
	return result, nil
}

func (r *Runner) runOne(ctx context.Context, base *domain.WeatherSeries, p Params, ordered []domain.VariableSpec, autoAdded []string, comb Combination, result *Result) error {
	start := time.Now()
	future := futureWindow(comb.Year, p.Baseline)

	signals, modelCount, err := r.assembleSignals(ctx, base, p, ordered, comb, future)
	if err != nil {
		var empty *domain.EmptyEnsembleError
		if errors.As(err, &empty) {
			r.logger.Warn("skipping combination", "combination", comb.String(), "error", err)
			r.metrics.Combinations.WithLabelValues("skipped").Inc()
			result.Skipped = append(result.Skipped, SkipReport{Combination: comb, Reason: err.Error()})
			r.skipped.Add(1)
			return nil
		}
		r.metrics.Combinations.WithLabelValues("error").Inc()
		return fmt.Errorf("combination %s: %w", comb, err)
	}

	morphed, err := r.engine.Morph(base, ordered, autoAdded, signals, domain.Provenance{
		Pathway:    comb.Pathway,
		Percentile: comb.Percentile,
		Year:       comb.Year,
	})
	if err != nil {
		r.metrics.Combinations.WithLabelValues("error").Inc()
		return fmt.Errorf("combination %s: %w", comb, err)
	}

	if p.OutputDir != "" {
		if err := r.writeOutput(p, comb, morphed, modelCount); err != nil {
			return fmt.Errorf("combination %s: %w", comb, err)
		}
	}

	result.Outputs[comb] = morphed
	result.ModelCounts[comb] = modelCount
	r.completed.Add(1)
	r.metrics.Combinations.WithLabelValues("success").Inc()
	r.logger.Info("combination complete",
		"combination", comb.String(),
		"morphed", morphed.Provenance.Morphed,
		"passed_through", morphed.Provenance.PassedThrough,
		"models", modelCount,
		"duration", time.Since(start))
	return nil
}

// Progress reports the run's combination counts so far. Safe to call
// from another goroutine while Run is executing.
func (r *Runner) Progress() (total, completed, skipped int64) {
	return r.total.Load(), r.completed.Load(), r.skipped.Load()
}

// assembleSignals builds the per-model-variable change signals one
// combination needs. Returns the smallest surviving model count across
// the assembled signals.
func (r *Runner) assembleSignals(ctx context.Context, base *domain.WeatherSeries, p Params, ordered []domain.VariableSpec, comb Combination, future domain.YearRange) (map[string]domain.Delta, int, error) {
	signals := make(map[string]domain.Delta)
	modelCount := 0

	for _, spec := range ordered {
		if spec.Kind == domain.Derived {
			continue
		}
		for _, sig := range signalPlans(spec) {
			req := ensemble.Request{
				Models:     p.Models,
				Pathway:    comb.Pathway,
				Variable:   sig.code,
				Resolution: p.Resolution,
				Components: sig.components,
				Latitude:   base.Location.Latitude,
				Longitude:  base.Location.Longitude,
				Mode:       p.Mode,
				Baseline:   p.Baseline,
				Future:     future,
				Percentile: comb.Percentile,
			}
			baseStat, futStat, err := r.source.Assemble(ctx, req)
			if err != nil {
				return nil, 0, err
			}
			d, err := delta.Derive(baseStat, futStat, sig.kind, comb.Year)
			if err != nil {
				r.logger.Warn("signal derivation failed, variable will pass through",
					"variable", spec.Name, "signal", sig.code, "error", err)
				continue
			}
			signals[sig.code] = d
			if modelCount == 0 || baseStat.ModelCount < modelCount {
				modelCount = baseStat.ModelCount
			}
		}
	}
	return signals, modelCount, nil
}

// signalPlan names one ensemble computation a variable needs.
type signalPlan struct {
	code       string
	components []string
	kind       domain.TransformKind
}

// signalPlans expands a variable into its change signals. Temperature
// needs the extreme-temperature signals for the combined morph; wind
// speed is the magnitude of its two components.
func signalPlans(spec domain.VariableSpec) []signalPlan {
	switch spec.Name {
	case "Temperature":
		return []signalPlan{
			{code: "tas", kind: domain.Additive},
			{code: "tasmax", kind: domain.Additive},
			{code: "tasmin", kind: domain.Additive},
		}
	case "Wind":
		return []signalPlan{
			{code: "sfcWind", components: []string{"uas", "vas"}, kind: domain.Multiplicative},
		}
	}
	plans := make([]signalPlan, 0, len(spec.ModelVariables))
	for _, code := range spec.ModelVariables {
		plans = append(plans, signalPlan{code: code, kind: spec.Kind})
	}
	return plans
}

// futureWindow centers a window of the baseline's span on the target
// year, sliding it back inside the projection horizon when it would run
// past 2100.
func futureWindow(year int, baseline domain.YearRange) domain.YearRange {
	span := baseline.Span()
	half := span / 2
	w := domain.YearRange{Start: year - half, End: year - half + span - 1}
	if w.End > projectionHorizon {
		shift := w.End - projectionHorizon
		w.Start -= shift
		w.End = projectionHorizon
	}
	return w
}

func (r *Runner) writeOutput(p Params, comb Combination, morphed *domain.MorphedSeries, modelCount int) error {
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s_%d.epw", p.Project, comb.Pathway, formatPercentile(comb.Percentile), comb.Year)
	path := filepath.Join(p.OutputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	comment := provenanceComment(morphed.Provenance, modelCount)
	if err := epw.Write(f, &morphed.WeatherSeries, comment); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	r.logger.Info("wrote morphed weather file", "path", path)
	return nil
}

func provenanceComment(prov domain.Provenance, modelCount int) string {
	return fmt.Sprintf("morphed: pathway=%s percentile=%s year=%d models=%d variables=%s",
		prov.Pathway, formatPercentile(prov.Percentile), prov.Year, modelCount,
		strings.Join(prov.Morphed, ";"))
}

func formatPercentile(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
