package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"deriv-signalbot/internal/strategy"
)

// FormatSignal renders the chat message for a confirmed signal.
func FormatSignal(sig strategy.TradeSignal) string {
	emoji := "🟢"
	if sig.Direction == strategy.Sell {
		emoji = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s SIGNAL", emoji)
	if sig.Symbol != "" {
		fmt.Fprintf(&b, " %s", sig.Symbol)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Direction: %s\n", sig.Direction)
	fmt.Fprintf(&b, "Entry: %s\n", price(sig.Entry))
	fmt.Fprintf(&b, "SL: %s\n", price(sig.StopLoss))
	fmt.Fprintf(&b, "TP (1:%s): %s\n", price(strategy.RewardRisk), price(sig.TakeProfit))
	b.WriteString("BOS: ✅\n")
	b.WriteString("OB Tap: ✅\n")
	b.WriteString("Wick Confirmation: ✅")
	return b.String()
}

func price(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
