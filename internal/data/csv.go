// Package data loads the per-underlying equity and options tables.
package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/eddiefleurent/scranton_backtester/internal/calendar"
	"github.com/eddiefleurent/scranton_backtester/internal/chain"
	"github.com/eddiefleurent/scranton_backtester/internal/simulator"
)

// Column names of the EOD files.
const (
	ColTicker  = "Ticker"
	ColDate    = "Date"
	ColEQClose = "EQ_Close"
	ColOpen    = "Open"
	ColHigh    = "High"
	ColLow     = "Low"
	ColClose   = "Close"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing column")

type header map[string]int

func readHeader(r *csv.Reader, required ...string) (header, error) {
	names, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file: no header row")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	h := make(header, len(names))
	for i, n := range names {
		h[strings.TrimSpace(strings.TrimPrefix(n, "\ufeff"))] = i
	}
	for _, col := range required {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	return h, nil
}

// width is the number of fields a row needs to reach every named column.
func (h header) width() int {
	w := 0
	for _, i := range h {
		if i+1 > w {
			w = i + 1
		}
	}
	return w
}

func (h header) str(rec []string, col string) string {
	return strings.TrimSpace(rec[h[col]])
}

func (h header) float(rec []string, col string) (float64, error) {
	v, err := strconv.ParseFloat(h.str(rec, col), 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

// eachRow calls fn for every data row, prefixing errors with the line number.
func eachRow(cr *csv.Reader, width int, fn func(rec []string) error) error {
	line := 1
	for {
		rec, err := cr.Read()
		line++
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < width {
			return fmt.Errorf("line %d: expected %d fields, got %d", line, width, len(rec))
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

// LoadEquityCSV reads Ticker, Date and EQ_Close columns.
func LoadEquityCSV(r io.Reader) ([]simulator.EquityBar, error) {
	cr := newReader(r)
	h, err := readHeader(cr, ColTicker, ColDate, ColEQClose)
	if err != nil {
		return nil, err
	}

	var bars []simulator.EquityBar
	err = eachRow(cr, h.width(), func(rec []string) error {
		date, err := calendar.ParseDate(h.str(rec, ColDate))
		if err != nil {
			return err
		}
		closePx, err := h.float(rec, ColEQClose)
		if err != nil {
			return err
		}
		bars = append(bars, simulator.EquityBar{
			Ticker: h.str(rec, ColTicker),
			Date:   date,
			Close:  closePx,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("equity csv: %w", err)
	}
	return bars, nil
}

// LoadOptionsCSV reads Date, Ticker (the contract identifier) and OHLC columns.
// Identifiers are kept verbatim; they are decoded per date by the simulator.
func LoadOptionsCSV(r io.Reader) ([]chain.Quote, error) {
	cr := newReader(r)
	h, err := readHeader(cr, ColDate, ColTicker, ColOpen, ColHigh, ColLow, ColClose)
	if err != nil {
		return nil, err
	}

	var quotes []chain.Quote
	err = eachRow(cr, h.width(), func(rec []string) error {
		date, err := calendar.ParseDate(h.str(rec, ColDate))
		if err != nil {
			return err
		}
		q := chain.Quote{Date: date, ContractID: h.str(rec, ColTicker)}
		for _, f := range []struct {
			col string
			dst *float64
		}{
			{ColOpen, &q.Open},
			{ColHigh, &q.High},
			{ColLow, &q.Low},
			{ColClose, &q.Close},
		} {
			if *f.dst, err = h.float(rec, f.col); err != nil {
				return err
			}
		}
		quotes = append(quotes, q)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("options csv: %w", err)
	}
	return quotes, nil
}

// WriteEquityCSV writes bars in the format LoadEquityCSV reads.
func WriteEquityCSV(w io.Writer, bars []simulator.EquityBar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColTicker, ColDate, ColEQClose}); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			b.Ticker,
			b.Date.Format(calendar.DateLayout),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOptionsCSV writes quotes in the format LoadOptionsCSV reads.
func WriteOptionsCSV(w io.Writer, quotes []chain.Quote) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColDate, ColTicker, ColOpen, ColHigh, ColLow, ColClose}); err != nil {
		return err
	}
	for _, q := range quotes {
		if err := cw.Write([]string{
			q.Date.Format(calendar.DateLayout),
			q.ContractID,
			strconv.FormatFloat(q.Open, 'f', -1, 64),
			strconv.FormatFloat(q.High, 'f', -1, 64),
			strconv.FormatFloat(q.Low, 'f', -1, 64),
			strconv.FormatFloat(q.Close, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
