// Package terminal is the client side of the market data terminal. Every call
// is batched: one request carries all securities.
package terminal

//go:generate mockgen -destination=mocks/terminal.go -package=mocks github.com/ahmethakanbesel/jobbridge/internal/terminal Terminal

import (
	"context"
	"fmt"
	"strings"
)

// Field and override names understood by the terminal.
const (
	FieldCurrency          = "CRNCY"
	FieldLastPrice         = "PX_LAST"
	FieldContingentCapital = "CONTINGENT_CAPITAL_EVENT"
	FieldCallable          = "CALLABLE"
	FieldSinkable          = "SINKABLE"
	FieldYieldFlag         = "YAS_YLD_FLAG"
	FieldCashflows         = "DES_CASH_FLOW"

	OverrideSettleDate = "SETTLE_DT"
	OverrideYieldFlag  = "YLD_FLAG"
	OverrideFaceAmount = "BQ_FACE_AMT"
)

// Column names of a DES_CASH_FLOW row.
const (
	ColPaymentDate     = "payment_date"
	ColCouponAmount    = "coupon_amount"
	ColPrincipalAmount = "principal_amount"
)

// Terminal fetches reference and bulk data. Securities are terminal tickers
// such as "US912828U246 Corp". A security the terminal has no data for is
// absent from the result.
type Terminal interface {
	// Reference returns one value per requested field and security.
	Reference(ctx context.Context, securities, fields []string) (map[string]map[string]string, error)
	// Bulk returns the rows of a multi-row field per security.
	Bulk(ctx context.Context, securities []string, field string, overrides map[string]string) (map[string][]map[string]string, error)
}

// CorpTicker returns the corporate bond ticker for an ISIN.
func CorpTicker(isin string) string { return isin + " Corp" }

// ISINOf reverses CorpTicker.
func ISINOf(ticker string) string { return strings.TrimSuffix(ticker, " Corp") }

// FXTicker returns the ticker quoting ccy in USD.
func FXTicker(ccy string) string { return ccy + "USD Curncy" }

// CurrencyOf reverses FXTicker.
func CurrencyOf(ticker string) string {
	return strings.TrimSpace(strings.TrimSuffix(ticker, "USD Curncy"))
}

// New builds the terminal selected by mode.
func New(mode, fixturePath string) (Terminal, error) {
	switch strings.ToLower(mode) {
	case "", "offline":
		return NewOffline(), nil
	case "fixture":
		return LoadFixture(fixturePath)
	default:
		return nil, fmt.Errorf("unknown terminal mode %q", mode)
	}
}
