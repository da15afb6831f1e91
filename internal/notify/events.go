package notify

import (
	"fmt"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// FormatMarketCreated renders the alert for a newly opened bond market.
func FormatMarketCreated(snap domain.MarketSnapshot) (title, message string) {
	title = fmt.Sprintf("Market %d opened", snap.ID)
	message = fmt.Sprintf(
		"quote %s\ncapacity %s\nmax payout %s\nconcludes at %d",
		snap.Market.QuoteToken.Hex(),
		snap.Market.Capacity.Dec(),
		snap.Market.MaxPayout.Dec(),
		snap.Terms.Conclusion,
	)
	return title, message
}

// FormatMarketClosed renders the alert for a market closed by an operator or
// by reaching its conclusion.
func FormatMarketClosed(snap domain.MarketSnapshot) (title, message string) {
	title = fmt.Sprintf("Market %d closed", snap.ID)
	message = fmt.Sprintf(
		"purchased %s\nsold %s",
		snap.Market.Purchased.Dec(),
		snap.Market.Sold.Dec(),
	)
	return title, message
}

// FormatCircuitBreaker renders the alert for a market concluded by the debt
// ceiling.
func FormatCircuitBreaker(snap domain.MarketSnapshot) (title, message string) {
	title = fmt.Sprintf("Circuit breaker: market %d", snap.ID)
	message = fmt.Sprintf(
		"total debt %s exceeded max debt %s; market concluded",
		snap.Market.TotalDebt.Dec(),
		snap.Terms.MaxDebt.Dec(),
	)
	return title, message
}
