package domain

import "fmt"

// HoursPerYear is the fixed length of every weather series: one non-leap
// year of hourly records. Leap-day rows are never represented.
const HoursPerYear = 8760

// monthDays is the non-leap-year month lengths used to map an hour index
// to its calendar month.
var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// monthOfHour maps hour index (0..8759) to month index (0..11), built once
// at init.
var monthOfHour [HoursPerYear]int

func init() {
	h := 0
	for m, days := range monthDays {
		for i := 0; i < days*24; i++ {
			monthOfHour[h] = m
			h++
		}
	}
}

// MonthOfHour returns the 0-based calendar month of an hour index in a
// non-leap year.
func MonthOfHour(hour int) int { return monthOfHour[hour] }

// HourOfDay returns the 0-based hour-of-day of an hour index.
func HourOfDay(hour int) int { return hour % 24 }

// Location is the geographic metadata of a weather series.
type Location struct {
	Title          string
	Latitude       float64
	Longitude      float64
	Elevation      float64
	TimezoneOffset float64 // hours from UTC
}

// YearRange is an inclusive span of calendar years.
type YearRange struct {
	Start int
	End   int
}

func (r YearRange) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// Span returns the number of years covered, inclusive.
func (r YearRange) Span() int { return r.End - r.Start + 1 }

// Overlaps reports whether two year ranges share any year.
func (r YearRange) Overlaps(o YearRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Contains reports whether a year falls inside the range.
func (r YearRange) Contains(year int) bool { return year >= r.Start && year <= r.End }

// WeatherSeries is one non-leap year of hourly weather data plus the
// metadata needed to write it back out. Columns map a variable column name
// (e.g. "drybulb_C") to exactly 8760 values. A loaded series is immutable
// by convention: morphing copies columns, it never mutates in place.
type WeatherSeries struct {
	Location      Location
	BaselineRange YearRange
	Columns       map[string][]float64

	// Header carries the weather file's header lines verbatim and Rows the
	// raw data-row tokens, so an unmorphed round trip is byte-identical.
	Header []string
	Rows   [][]string

	// LineEnding is the terminator detected when the file was read
	// ("\n" or "\r\n"); writing reuses it.
	LineEnding string
}

// Column returns the named column, or an error naming the column when it
// is absent or malformed.
func (s *WeatherSeries) Column(name string) ([]float64, error) {
	col, ok := s.Columns[name]
	if !ok {
		return nil, fmt.Errorf("series has no column %q", name)
	}
	if len(col) != HoursPerYear {
		return nil, fmt.Errorf("column %q has %d rows, want %d", name, len(col), HoursPerYear)
	}
	return col, nil
}

// CloneColumns returns a deep copy of the column map. The header, rows and
// metadata are shared: they are read-only.
func (s *WeatherSeries) CloneColumns() map[string][]float64 {
	out := make(map[string][]float64, len(s.Columns))
	for name, col := range s.Columns {
		dup := make([]float64, len(col))
		copy(dup, col)
		out[name] = dup
	}
	return out
}

// Provenance records what a morphing run did to a series.
type Provenance struct {
	Pathway       string   `json:"pathway"`
	Percentile    float64  `json:"percentile"`
	Year          int      `json:"year"`
	Morphed       []string `json:"morphed"`
	PassedThrough []string `json:"passed_through,omitempty"`
	AutoAdded     []string `json:"auto_added,omitempty"`
}

// MorphedSeries is a weather series with one or more variables replaced by
// morphed values, plus full provenance of the run that produced it.
type MorphedSeries struct {
	WeatherSeries
	Provenance Provenance
}
