package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/domain/repository"
	"Backtest/pkg/util"
)

// CSVBarSource reads one <dir>/<SYMBOL>.csv file per symbol. Rows are
// datetime,open,high,low,close,volume with an optional adj_close column.
// A leading header row is skipped.
type CSVBarSource struct {
	dir string
}

// NewCSVBarSource creates a bar source rooted at dir.
func NewCSVBarSource(dir string) repository.BarSource {
	return &CSVBarSource{dir: dir}
}

func (s *CSVBarSource) LoadBars(ctx context.Context, symbol string) ([]models.RawBar, error) {
	path := filepath.Join(s.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars %s: %w", symbol, err)
	}
	defer f.Close()
	return readCSV(ctx, path, f)
}

func readCSV(ctx context.Context, source string, r io.Reader) ([]models.RawBar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []models.RawBar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		if line == 1 && isHeader(rec[0]) {
			continue
		}
		bar, err := parseRow(source, line, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, nil
}

func isHeader(first string) bool {
	first = strings.TrimSpace(first)
	return first != "" && (first[0] < '0' || first[0] > '9')
}

func parseRow(source string, line int, rec []string) (models.RawBar, error) {
	if len(rec) < 6 {
		return models.RawBar{}, fmt.Errorf("%s:%d: expected at least 6 columns, got %d", source, line, len(rec))
	}
	t, ok := util.ParseBarTime(strings.TrimSpace(rec[0]))
	if !ok {
		return models.RawBar{}, &errs.TimestampParseError{Source: source, Line: line, Value: rec[0]}
	}
	var vals [6]float64
	for i := 1; i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return models.RawBar{}, fmt.Errorf("%s:%d column %d: %w", source, line, i+1, err)
		}
		vals[i] = v
	}
	bar := models.RawBar{Time: t, Open: vals[1], High: vals[2], Low: vals[3], Close: vals[4], Volume: vals[5]}
	if len(rec) > 6 && strings.TrimSpace(rec[6]) != "" {
		adj, err := strconv.ParseFloat(strings.TrimSpace(rec[6]), 64)
		if err != nil {
			return models.RawBar{}, fmt.Errorf("%s:%d adj_close: %w", source, line, err)
		}
		bar.AdjClose = adj
		bar.HasAdj = true
	}
	return bar, nil
}
