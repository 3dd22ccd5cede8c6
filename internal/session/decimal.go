package session

import "github.com/shopspring/decimal"

func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func formatFloat(f float64) string {
	return decimal.NewFromFloat(f).String()
}
