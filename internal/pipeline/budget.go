package pipeline

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var budgetPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\s*(\d{1,3}(?:,\d{3})+|\d{3,5})`),
	regexp.MustCompile(`(?i)\b(\d{3,5})\s*(?:dollars?|usd|bucks)\b`),
	regexp.MustCompile(`(?i)budget\D{0,15}(\d{3,5})\b`),
}

// ExtractBudget finds a dollar budget in a natural-language request, such as
// "$1200", "$1,500" or "1000 dollars". Bare numbers like "1440p" are ignored.
func ExtractBudget(query string) (decimal.Decimal, bool) {
	for _, re := range budgetPatterns {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
		if err == nil && d.IsPositive() {
			return d, true
		}
	}
	return decimal.Zero, false
}
