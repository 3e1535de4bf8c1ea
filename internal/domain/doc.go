// Package domain models the data that flows through the climate morphing
// engine: hourly weather series, climate-model datasets, ensemble
// statistics, change signals, and the variable dependency graph.
//
// # Morphing
//
// "Morphing" combines a historical hourly weather record with statistical
// change signals derived from an ensemble of global climate model runs to
// produce a projected future weather record. The method follows Belcher,
// Hacker and Powell (2005): each weather variable is adjusted with either
// an additive "shift" (e.g. pressure), a multiplicative "stretch" (e.g.
// wind speed, where a ratio prevents negative results), or a derived
// physical relation evaluated from already-morphed prerequisites (e.g. dew
// point from morphed temperature and humidity).
//
// # Time binning
//
// Change signals are binned by calendar month (12 bins) or hour-of-day
// (24 bins). A monthly bin broadcasts to hours via the hour's calendar
// month in a fixed non-leap year: every WeatherSeries holds exactly 8760
// hourly records and leap-day rows are never represented.
//
// # Variable dependencies
//
// Variables form a dependency DAG: Humidity needs Temperature and Pressure
// morphed first, Dew Point is recomputed from morphed Temperature and
// Humidity rather than carrying a change signal of its own. Resolve
// topologically orders a request, silently adding missing prerequisites
// and reporting them so callers can surface what was auto-added.
//
// # Error taxonomy
//
// Configuration-level errors (CoordinateOutOfRange, InvalidDependencyGraph)
// surface before any network cost. DataUnavailable degrades an ensemble
// rather than failing it; EmptyEnsemble is fatal to one (pathway,
// percentile, year) combination only; IncompleteDelta is fatal to one
// variable only. Callers discriminate with errors.Is and errors.As.
package domain
