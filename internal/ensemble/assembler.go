// Package ensemble turns per-model raw datasets into time-binned ensemble
// statistics. For each model it extracts the series at the target
// coordinate, reduces it to a climatology over a year window, then takes
// a percentile across the surviving models per bin.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/buildenergy/epwmorph/internal/domain"
	"github.com/buildenergy/epwmorph/internal/grid"
	"github.com/buildenergy/epwmorph/internal/observability"
)

// Source provides raw datasets, normally the dataset cache.
type Source interface {
	Fetch(ctx context.Context, key domain.DatasetKey) (*domain.RawDataset, error)
}

// Request names one ensemble computation: a model set, a model variable,
// a coordinate, and the two year windows to reduce over.
type Request struct {
	Models     []string
	Pathway    string
	Variable   string // model-variable code, e.g. "tas"
	Resolution string

	// Components, when set, names the dataset variables fetched per model
	// and combined by vector magnitude (wind speed from uas and vas).
	// Empty means fetch Variable itself.
	Components []string
	Latitude   float64
	Longitude  float64
	Mode       grid.Mode
	Baseline   domain.YearRange
	Future     domain.YearRange
	Percentile float64
}

// Assembler fetches and reduces model ensembles with bounded parallelism.
type Assembler struct {
	source  Source
	logger  *slog.Logger
	metrics *observability.Metrics
	limit   int
}

// NewAssembler creates an Assembler. limit bounds concurrent model
// fetches; values below one fall back to four.
func NewAssembler(source Source, logger *slog.Logger, metrics *observability.Metrics, limit int) *Assembler {
	if limit < 1 {
		limit = 4
	}
	return &Assembler{source: source, logger: logger, metrics: metrics, limit: limit}
}

type modelStat struct {
	model    string
	baseline []float64
	future   []float64
}

// Assemble computes the baseline and future ensemble statistics for one
// request. Models whose data is unavailable are dropped with a warning;
// if every model drops out the combination fails with EmptyEnsembleError.
// Any other per-model error is fatal and cancels the remaining fetches.
func (a *Assembler) Assemble(ctx context.Context, req Request) (domain.EnsembleStat, domain.EnsembleStat, error) {
	var zero domain.EnsembleStat
	models := dedupe(req.Models)
	if err := validate(req, models); err != nil {
		return zero, zero, err
	}

	var (
		mu    sync.Mutex
		stats []modelStat
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)

	components := req.Components
	if len(components) == 0 {
		components = []string{req.Variable}
	}

	for _, model := range models {
		model := model
		g.Go(func() error {
			cell, dropped, err := a.modelSeries(gctx, req, model, components)
			if err != nil {
				return err
			}
			if dropped {
				return nil
			}

			diurnal := isSubDaily(req.Resolution)
			base, err := climatology(cell.SliceYears(req.Baseline), diurnal)
			if err != nil {
				return fmt.Errorf("baseline climatology for %s/%s: %w", model, req.Variable, err)
			}
			fut, err := climatology(cell.SliceYears(req.Future), diurnal)
			if err != nil {
				return fmt.Errorf("future climatology for %s/%s: %w", model, req.Variable, err)
			}

			mu.Lock()
			stats = append(stats, modelStat{model: model, baseline: base, future: fut})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, zero, err
	}

	if len(stats) == 0 {
		return zero, zero, &domain.EmptyEnsembleError{
			Pathway:  req.Pathway,
			Variable: req.Variable,
			Models:   len(models),
		}
	}

	// Deterministic bin aggregation regardless of fetch completion order.
	sort.Slice(stats, func(i, j int) bool { return stats[i].model < stats[j].model })

	baseStat := reduce(req, req.Baseline, stats, func(s modelStat) []float64 { return s.baseline })
	futStat := reduce(req, req.Future, stats, func(s modelStat) []float64 { return s.future })
	a.logger.Debug("ensemble assembled",
		"pathway", req.Pathway, "variable", req.Variable,
		"models", len(stats), "dropped", len(models)-len(stats))
	return baseStat, futStat, nil
}

// modelSeries fetches one model's component datasets, resolves them at
// the request coordinate, and combines multi-component series by vector
// magnitude. dropped is true when the model's data is unavailable.
func (a *Assembler) modelSeries(ctx context.Context, req Request, model string, components []string) (domain.GridCellSeries, bool, error) {
	cells := make([]domain.GridCellSeries, 0, len(components))
	for _, comp := range components {
		key := domain.DatasetKey{
			Model:      model,
			Pathway:    req.Pathway,
			Variable:   comp,
			Resolution: req.Resolution,
		}
		ds, err := a.source.Fetch(ctx, key)
		if err != nil {
			var unavailable *domain.DataUnavailableError
			if errors.As(err, &unavailable) {
				a.logger.Warn("dropping model from ensemble",
					"model", model, "pathway", req.Pathway, "variable", req.Variable, "error", err)
				a.metrics.ModelsDropped.Inc()
				return domain.GridCellSeries{}, true, nil
			}
			return domain.GridCellSeries{}, false, fmt.Errorf("fetch %s: %w", key, err)
		}
		cell, err := grid.Resolve(ds, req.Latitude, req.Longitude, req.Mode)
		if err != nil {
			return domain.GridCellSeries{}, false, fmt.Errorf("resolve %s: %w", key, err)
		}
		cells = append(cells, cell)
	}
	if len(cells) == 1 {
		return cells[0], false, nil
	}
	combined, err := vectorMagnitude(cells)
	if err != nil {
		return domain.GridCellSeries{}, false, fmt.Errorf("combine %s components for %s: %w", req.Variable, model, err)
	}
	return combined, false, nil
}

// vectorMagnitude combines two orthogonal component series pointwise.
func vectorMagnitude(cells []domain.GridCellSeries) (domain.GridCellSeries, error) {
	if len(cells) != 2 {
		return domain.GridCellSeries{}, fmt.Errorf("%d components, want 2", len(cells))
	}
	u, v := cells[0], cells[1]
	if len(u.Values) != len(v.Values) {
		return domain.GridCellSeries{}, fmt.Errorf("component lengths differ: %d vs %d", len(u.Values), len(v.Values))
	}
	out := domain.GridCellSeries{Key: u.Key, Times: u.Times, Values: make([]float64, len(u.Values))}
	for i := range u.Values {
		out.Values[i] = math.Hypot(u.Values[i], v.Values[i])
	}
	return out, nil
}

func validate(req Request, models []string) error {
	if len(models) == 0 {
		return fmt.Errorf("no models requested")
	}
	if req.Percentile < 0 || req.Percentile > 100 {
		return fmt.Errorf("percentile %v out of range [0, 100]", req.Percentile)
	}
	if req.Baseline.Start > req.Baseline.End || req.Future.Start > req.Future.End {
		return fmt.Errorf("inverted year window")
	}
	if req.Baseline.Overlaps(req.Future) {
		return fmt.Errorf("baseline %s and future %s windows overlap", req.Baseline, req.Future)
	}
	return nil
}

func reduce(req Request, window domain.YearRange, stats []modelStat, pick func(modelStat) []float64) domain.EnsembleStat {
	bins := make([]float64, len(pick(stats[0])))
	sample := make([]float64, 0, len(stats))
	for b := range bins {
		sample = sample[:0]
		for _, s := range stats {
			sample = append(sample, pick(s)[b])
		}
		bins[b] = Percentile(sample, req.Percentile)
	}
	return domain.EnsembleStat{
		Pathway:    req.Pathway,
		Variable:   req.Variable,
		Window:     window,
		Percentile: req.Percentile,
		ModelCount: len(stats),
		Bins:       bins,
	}
}

// isSubDaily reports whether a dataset resolution bins diurnally rather
// than monthly.
func isSubDaily(resolution string) bool {
	switch resolution {
	case "1hr", "3hr", "6hr":
		return true
	}
	return false
}

// climatology reduces a windowed series to mean-per-calendar-month, or
// mean-per-hour-of-day for sub-daily datasets. A window that selects no
// samples, or one leaving any bin empty, is a data gap and fails the
// model.
func climatology(s domain.GridCellSeries, diurnal bool) ([]float64, error) {
	if len(s.Values) == 0 {
		return nil, fmt.Errorf("window selects no samples")
	}
	n := 12
	if diurnal {
		n = 24
	}
	buckets := make([][]float64, n)
	for i, t := range s.Times {
		b := int(t.Month()) - 1
		if diurnal {
			b = t.Hour()
		}
		buckets[b] = append(buckets[b], s.Values[i])
	}
	bins := make([]float64, n)
	for b, vals := range buckets {
		if len(vals) == 0 {
			return nil, fmt.Errorf("no samples for bin %d", b)
		}
		bins[b] = stat.Mean(vals, nil)
	}
	return bins, nil
}

// Percentile computes percentile p over values using linear interpolation
// between order statistics (Hyndman-Fan type 7).
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func dedupe(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
