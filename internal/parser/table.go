package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	goexcel "github.com/VantageDataChat/GoExcel"
)

// table is a rectangular grid of cell strings with a header row.
type table struct {
	name   string
	header []string
	rows   [][]string
}

// newTable takes the first record as the header and pads or trims the rest
// to the header width. Blank header names become "Unnamed: i".
func newTable(name string, records [][]string) *table {
	if len(records) == 0 {
		return &table{name: name}
	}
	width := 0
	for _, r := range records {
		if len(r) > width {
			width = len(r)
		}
	}
	header := make([]string, width)
	for i := range header {
		if i < len(records[0]) {
			header[i] = strings.TrimSpace(records[0][i])
		}
		if header[i] == "" {
			header[i] = fmt.Sprintf("Unnamed: %d", i)
		}
	}
	rows := make([][]string, 0, len(records)-1)
	for _, r := range records[1:] {
		row := make([]string, width)
		copy(row, r)
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		rows = append(rows, row)
	}
	return &table{name: name, header: header, rows: rows}
}

// columnStats is one column of the describe table.
type columnStats struct {
	numeric bool
	count   int
	// non-numeric
	unique int
	top    string
	freq   int
	// numeric
	mean, std, min, q25, q50, q75, max float64
}

var describeRows = []string{"count", "unique", "top", "freq", "mean", "std", "min", "25%", "50%", "75%", "max"}

func (t *table) describe(col int) columnStats {
	var (
		values  []string
		numbers []float64
	)
	numeric := true
	for _, row := range t.rows {
		v := row[col]
		if v == "" {
			continue
		}
		values = append(values, v)
		if numeric {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(f) {
				numeric = false
				continue
			}
			numbers = append(numbers, f)
		}
	}

	st := columnStats{count: len(values)}
	if numeric && len(numbers) > 0 {
		st.numeric = true
		sort.Float64s(numbers)
		var sum float64
		for _, f := range numbers {
			sum += f
		}
		st.mean = sum / float64(len(numbers))
		if len(numbers) > 1 {
			var ss float64
			for _, f := range numbers {
				d := f - st.mean
				ss += d * d
			}
			st.std = math.Sqrt(ss / float64(len(numbers)-1))
		} else {
			st.std = math.NaN()
		}
		st.min = numbers[0]
		st.max = numbers[len(numbers)-1]
		st.q25 = quantile(numbers, 0.25)
		st.q50 = quantile(numbers, 0.50)
		st.q75 = quantile(numbers, 0.75)
		return st
	}

	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
		// first value seen wins ties
		if counts[v] > st.freq {
			st.top, st.freq = v, counts[v]
		}
	}
	st.unique = len(counts)
	return st
}

// quantile uses linear interpolation between closest ranks on sorted data.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func formatStat(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', 6, 64)
}

func (st columnStats) cell(row string) string {
	const nan = "NaN"
	switch row {
	case "count":
		return strconv.Itoa(st.count)
	case "unique":
		if st.numeric || st.count == 0 {
			return nan
		}
		return strconv.Itoa(st.unique)
	case "top":
		if st.numeric || st.count == 0 {
			return nan
		}
		return st.top
	case "freq":
		if st.numeric || st.count == 0 {
			return nan
		}
		return strconv.Itoa(st.freq)
	}
	if !st.numeric {
		return nan
	}
	switch row {
	case "mean":
		return formatStat(st.mean)
	case "std":
		return formatStat(st.std)
	case "min":
		return formatStat(st.min)
	case "25%":
		return formatStat(st.q25)
	case "50%":
		return formatStat(st.q50)
	case "75%":
		return formatStat(st.q75)
	case "max":
		return formatStat(st.max)
	}
	return nan
}

// summary renders the dataset summary block for one table.
func (t *table) summary() string {
	var sb strings.Builder
	sb.WriteString("Dataset Summary:\n")
	fmt.Fprintf(&sb, "Shape: %d rows, %d columns\n", len(t.rows), len(t.header))
	fmt.Fprintf(&sb, "Columns: %s\n", strings.Join(t.header, ", "))
	sb.WriteString("\nData Overview:\n")
	if len(t.header) == 0 {
		return sb.String()
	}

	stats := make([]columnStats, len(t.header))
	for i := range t.header {
		stats[i] = t.describe(i)
	}

	labelWidth := 0
	for _, r := range describeRows {
		if len(r) > labelWidth {
			labelWidth = len(r)
		}
	}

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%-*s\t", labelWidth, "")
	for _, h := range t.header {
		fmt.Fprintf(tw, "%s\t", h)
	}
	fmt.Fprintln(tw)
	for _, r := range describeRows {
		fmt.Fprintf(tw, "%-*s\t", labelWidth, r)
		for _, st := range stats {
			fmt.Fprintf(tw, "%s\t", st.cell(r))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
	return sb.String()
}

// summarizeTables joins per-sheet summaries. Sheet names are only shown when
// there is more than one.
func summarizeTables(tables []*table) string {
	var parts []string
	for _, t := range tables {
		s := t.summary()
		if len(tables) > 1 && t.name != "" {
			s = fmt.Sprintf("Sheet: %s\n%s", t.name, s)
		}
		parts = append(parts, s)
	}
	return cleanTable(strings.Join(parts, "\n"))
}

func tableMetadata(tables []*table) map[string]string {
	rows, cols := 0, 0
	for _, t := range tables {
		rows += len(t.rows)
		if len(t.header) > cols {
			cols = len(t.header)
		}
	}
	return map[string]string{
		"sheet_count": strconv.Itoa(len(tables)),
		"rows":        strconv.Itoa(rows),
		"columns":     strconv.Itoa(cols),
	}
}

// parseCSV reads comma-separated data with a header row and summarizes it.
func (dp *DocumentParser) parseCSV(data []byte) (result *ParseResult, err error) {
	defer recoverAs(&err)

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.New("no columns to parse from file")
	}

	tables := []*table{newTable("", records)}
	return &ParseResult{
		Text:     summarizeTables(tables),
		Metadata: tableMetadata(tables),
	}, nil
}

// parseExcel summarizes each non-empty sheet of an .xlsx workbook.
func (dp *DocumentParser) parseExcel(data []byte) (result *ParseResult, err error) {
	defer recoverAs(&err)

	reader := goexcel.NewXLSXReader()
	wb, err := reader.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var tables []*table
	for _, name := range wb.GetSheetNames() {
		sheet, err := wb.GetSheetByName(name)
		if err != nil {
			continue
		}
		rows, err := sheet.RowIterator()
		if err != nil {
			continue
		}
		var records [][]string
		for _, row := range rows {
			var rec []string
			for _, cell := range row {
				if cell == nil || cell.IsEmpty() {
					continue
				}
				col := cell.Col()
				for len(rec) <= col {
					rec = append(rec, "")
				}
				rec[col] = cell.GetFormattedValue()
			}
			if len(rec) > 0 || len(records) > 0 {
				records = append(records, rec)
			}
		}
		if len(records) > 0 {
			tables = append(tables, newTable(name, records))
		}
	}
	if len(tables) == 0 {
		return nil, errors.New("workbook has no data")
	}

	return &ParseResult{
		Text:     summarizeTables(tables),
		Metadata: tableMetadata(tables),
	}, nil
}
