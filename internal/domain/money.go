package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minor units per ISO 4217 code; anything not listed uses two decimals
var currencyExponent = map[string]int32{
	"CLP": 0,
	"JPY": 0,
	"KRW": 0,
	"PYG": 0,
	"VND": 0,
	"COP": 0,
	"USD": 2,
	"EUR": 2,
	"ARS": 2,
	"BRL": 2,
	"MXN": 2,
	"PEN": 2,
	"UYU": 2,
}

func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponent[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// RoundMoney rounds half away from zero to the currency's smallest unit.
func RoundMoney(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(CurrencyExponent(currency))
}
