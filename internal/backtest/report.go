package backtest

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteText renders a human-readable summary of the results.
func (r *Results) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Backtest results for %s\n", r.Symbol)
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(&b, "Bars replayed:    %d\n", r.Bars)
	fmt.Fprintf(&b, "Initial value:    %.2f\n", r.InitialValue)
	fmt.Fprintf(&b, "Final value:      %.2f\n", r.FinalValue)
	fmt.Fprintf(&b, "Total return:     %.2f%%\n", r.TotalReturn*100)
	fmt.Fprintf(&b, "Trades:           %d\n", r.NumTrades)
	fmt.Fprintf(&b, "Win rate:         %.1f%%\n", r.WinRate*100)
	fmt.Fprintf(&b, "Profit factor:    %.2f\n", r.ProfitFactor)
	fmt.Fprintf(&b, "Max drawdown:     %.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(&b, "Sharpe ratio:     %.2f\n", r.Sharpe)
	fmt.Fprintf(&b, "Sortino ratio:    %.2f\n", r.Sortino)
	fmt.Fprintf(&b, "Calmar ratio:     %.2f\n", r.Calmar)
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON renders the full results, including trades and the equity
// curve, as indented JSON.
func (r *Results) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
