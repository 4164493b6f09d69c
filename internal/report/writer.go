package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/eddiefleurent/scranton_backtester/internal/calendar"
	"github.com/eddiefleurent/scranton_backtester/internal/models"
)

var tradebookHeader = []string{
	"ticker", "Option Type", "Option Open Date", "Spot Price", "Option Strike",
	"Option Initial Price", "Option Final Price", "Option Close Date", "Options PNL",
	"lot_size", "Options SL", "Re-entry", "Reentry Count",
}

// FileNames returns the tradebook, monthly and summary file names of a run,
// e.g. Options_Tradebook_call_1_200.25_SELL.csv.
func FileNames(optionType, mode string, sl float64, dte int, delta float64) (tradebook, monthly, summary string) {
	tag := fmt.Sprintf("%s_%s_%d%s_%s", optionType, ftoa(sl), dte, ftoa(delta), modeTag(mode))
	return "Options_Tradebook_" + tag + ".csv",
		"Options_Monthly_PNL_" + tag + ".csv",
		"Options_Summary_" + tag + ".json"
}

func modeTag(mode string) string {
	if mode == "buy" {
		return "BUY"
	}
	return "SELL"
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteTradebookCSV writes one row per trade record.
func WriteTradebookCSV(path string, trades []models.TradeRecord) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(tradebookHeader); err != nil {
			return err
		}
		for _, t := range trades {
			row := []string{
				t.Ticker,
				string(t.Right),
				t.OpenDate.Format(calendar.DateLayout),
				ftoa(t.SpotPrice),
				ftoa(t.Strike),
				ftoa(t.InitialPremium),
				ftoa(t.FinalPremium),
				t.CloseDate.Format(calendar.DateLayout),
				ftoa(t.PnL),
				ftoa(t.LotSize),
				string(t.StopReason),
				strconv.FormatBool(t.Reentry),
				strconv.Itoa(t.ReentryCount),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteMonthlyCSV writes the monthly PNL series.
func WriteMonthlyCSV(path string, monthly []PeriodPnL) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"Month", "Options PNL"}); err != nil {
			return err
		}
		for _, m := range monthly {
			if err := cw.Write([]string{m.Period, ftoa(m.PnL)}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteSummaryJSON writes s as indented JSON.
func WriteSummaryJSON(path string, s *Summary) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	})
}

// Print writes the human-readable summary.
func Print(w io.Writer, s *Summary) {
	fmt.Fprintf(w, "\nTotal Options PNL for all stocks: %.2f\n", s.TotalPnL)
	fmt.Fprintf(w, "Trades: %d (won %d, lost %d, win rate %.1f%%, stop-loss hits %d, re-entries %d)\n",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate, s.StopLossHits, s.Reentries)

	fmt.Fprintln(w, "\nYearly PNL Summary:")
	for _, y := range s.Yearly {
		fmt.Fprintf(w, "  %s: %.2f\n", y.Period, y.PnL)
	}

	fmt.Fprintf(w, "\nMax Drawdown: %.2f\n", s.MaxDrawdown)
	fmt.Fprintf(w, "Average Yearly Returns: %.2f\n", s.AvgYearlyReturn)
	fmt.Fprintf(w, "Average Monthly Returns: %.2f\n", s.AvgMonthlyReturn)
	fmt.Fprintf(w, "Max Profit Month: %s %.2f\n", s.MaxProfitMonth.Period, s.MaxProfitMonth.PnL)
	fmt.Fprintf(w, "Max Loss Month: %s %.2f\n", s.MaxLossMonth.Period, s.MaxLossMonth.PnL)
	fmt.Fprintf(w, "Positive Months: %d, Negative Months: %d\n", s.PositiveMonths, s.NegativeMonths)
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place, so readers never see a partial file.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
