// Package epw reads and writes EnergyPlus weather files. Header lines
// are carried verbatim and data rows keep their original tokens, so a
// file that round-trips without morphing is reproduced byte for byte.
package epw

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/buildenergy/epwmorph/internal/domain"
)

// fieldCount is the number of comma-separated fields in an EPW data row.
const fieldCount = 35

// columnField maps a series column name to its data-row field index and
// the decimals used when re-rendering a morphed value.
type columnField struct {
	index    int
	decimals int
}

var columnFields = map[string]columnField{
	"drybulb_C":         {index: 6, decimals: 1},
	"dewpoint_C":        {index: 7, decimals: 1},
	"relhum_percent":    {index: 8, decimals: 0},
	"atmos_Pa":          {index: 9, decimals: 0},
	"exthorrad_Whm2":    {index: 10, decimals: 0},
	"glohorrad_Whm2":    {index: 13, decimals: 0},
	"dirnorrad_Whm2":    {index: 14, decimals: 0},
	"difhorrad_Whm2":    {index: 15, decimals: 0},
	"windspd_ms":        {index: 21, decimals: 1},
	"totskycvr_tenths":  {index: 22, decimals: 0},
	"opaqskycvr_tenths": {index: 23, decimals: 0},
}

var periodOfRecord = regexp.MustCompile(`(?i)period of record[^0-9]*(\d{4})[^0-9]+(\d{4})`)

// Read parses an EPW file. The header runs through the DATA PERIODS
// line; the body must hold exactly one non-leap year of hourly rows.
// The baseline year range is detected from a "Period of Record" note in
// the comment headers when present.
func Read(r io.Reader) (*domain.WeatherSeries, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	series := &domain.WeatherSeries{
		Columns: make(map[string][]float64, len(columnFields)),
	}
	for name := range columnFields {
		series.Columns[name] = make([]float64, 0, domain.HoursPerYear)
	}

	inHeader := true
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSuffix(raw, "\r")
		if series.LineEnding == "" {
			series.LineEnding = "\n"
			if line != raw {
				series.LineEnding = "\r\n"
			}
		}
		if inHeader {
			series.Header = append(series.Header, line)
			if err := parseHeaderLine(line, series); err != nil {
				return nil, err
			}
			if strings.HasPrefix(line, "DATA PERIODS") {
				inHeader = false
			}
			continue
		}
		if line == "" {
			continue
		}
		if err := parseDataRow(line, series); err != nil {
			return nil, fmt.Errorf("row %d: %w", len(series.Rows)+1, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read weather file: %w", err)
	}
	if inHeader {
		return nil, fmt.Errorf("no DATA PERIODS header line")
	}
	if len(series.Rows) != domain.HoursPerYear {
		return nil, fmt.Errorf("%d data rows, want %d", len(series.Rows), domain.HoursPerYear)
	}
	return series, nil
}

func parseHeaderLine(line string, series *domain.WeatherSeries) error {
	switch {
	case strings.HasPrefix(line, "LOCATION"):
		return parseLocation(line, &series.Location)
	case strings.HasPrefix(line, "COMMENTS"):
		if m := periodOfRecord.FindStringSubmatch(line); m != nil {
			start, _ := strconv.Atoi(m[1])
			end, _ := strconv.Atoi(m[2])
			if start <= end {
				series.BaselineRange = domain.YearRange{Start: start, End: end}
			}
		}
	}
	return nil
}

// parseLocation reads the LOCATION header:
// LOCATION,title,state,country,source,wmo,lat,lon,tz,elevation
func parseLocation(line string, loc *domain.Location) error {
	fields := strings.Split(line, ",")
	if len(fields) < 10 {
		return fmt.Errorf("LOCATION header has %d fields, want 10", len(fields))
	}
	loc.Title = fields[1]

	vals := make([]float64, 4)
	for i, f := range fields[6:10] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return fmt.Errorf("LOCATION field %d: %w", 6+i, err)
		}
		vals[i] = v
	}
	loc.Latitude = vals[0]
	loc.Longitude = vals[1]
	loc.TimezoneOffset = vals[2]
	loc.Elevation = vals[3]
	return nil
}

func parseDataRow(line string, series *domain.WeatherSeries) error {
	tokens := strings.Split(line, ",")
	if len(tokens) < fieldCount {
		return fmt.Errorf("%d fields, want %d", len(tokens), fieldCount)
	}
	for name, cf := range columnFields {
		v, err := strconv.ParseFloat(strings.TrimSpace(tokens[cf.index]), 64)
		if err != nil {
			return fmt.Errorf("field %d (%s): %w", cf.index, name, err)
		}
		series.Columns[name] = append(series.Columns[name], v)
	}
	series.Rows = append(series.Rows, tokens)
	return nil
}

// Write renders a series back to EPW form. Header lines pass through
// untouched except COMMENTS 2, which gets the provenance comment
// appended when one is given. Data fields re-render only where the
// column value differs from the original token, so untouched columns
// keep their exact source bytes.
func Write(w io.Writer, series *domain.WeatherSeries, comment string) error {
	bw := bufio.NewWriter(w)
	nl := series.LineEnding
	if nl == "" {
		nl = "\n"
	}

	for _, line := range series.Header {
		if comment != "" && strings.HasPrefix(line, "COMMENTS 2") {
			line = strings.TrimRight(line, " ") + " " + comment
		}
		if _, err := fmt.Fprint(bw, line, nl); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for i, tokens := range series.Rows {
		row, err := renderRow(series, i, tokens)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		if _, err := fmt.Fprint(bw, row, nl); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	return bw.Flush()
}

func renderRow(series *domain.WeatherSeries, i int, tokens []string) (string, error) {
	out := tokens
	copied := false
	for name, cf := range columnFields {
		col, ok := series.Columns[name]
		if !ok || len(col) != len(series.Rows) {
			continue
		}
		orig, err := strconv.ParseFloat(strings.TrimSpace(tokens[cf.index]), 64)
		if err == nil && orig == col[i] {
			continue
		}
		if !copied {
			out = make([]string, len(tokens))
			copy(out, tokens)
			copied = true
		}
		out[cf.index] = strconv.FormatFloat(col[i], 'f', cf.decimals, 64)
	}
	return strings.Join(out, ","), nil
}
