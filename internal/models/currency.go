package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	BTC  Currency = "BTC"
	ETH  Currency = "ETH"
	USDT Currency = "USDT"
	NGN  Currency = "NGN"
	KES  Currency = "KES"
)

var currencyPrecision = map[Currency]int32{
	BTC:  8,
	ETH:  18,
	USDT: 6,
	NGN:  2,
	KES:  2,
}

// Currencies lists every supported currency in a stable order.
var Currencies = []Currency{BTC, ETH, USDT, NGN, KES}

func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := currencyPrecision[c]; !ok {
		return "", fmt.Errorf("unsupported currency %q", s)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	_, ok := currencyPrecision[c]
	return ok
}

func (c Currency) Precision() int32 {
	return currencyPrecision[c]
}

func (c Currency) IsCrypto() bool {
	return c == BTC || c == ETH || c == USDT
}

func (c Currency) IsFiat() bool {
	return c == NGN || c == KES
}

// ValidateAmount checks that amount is positive and fits the currency's precision.
func (c Currency) ValidateAmount(amount decimal.Decimal) error {
	p, ok := currencyPrecision[c]
	if !ok {
		return fmt.Errorf("unsupported currency %q", string(c))
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	if !amount.Equal(amount.Truncate(p)) {
		return fmt.Errorf("amount %s exceeds %s precision of %d decimals", amount.String(), c, p)
	}
	return nil
}

// FiatForCountry maps an ISO country code to its settlement fiat currency.
func FiatForCountry(country string) (Currency, bool) {
	switch strings.ToUpper(country) {
	case "NG":
		return NGN, true
	case "KE":
		return KES, true
	}
	return "", false
}
