// Package cashflow fetches projected bond cashflows for the instruments of a
// job and writes them to the result tables.
package cashflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ahmethakanbesel/jobbridge/internal/result"
)

// Columns of cashflows.csv.
const (
	ColPK2          = "pk2"
	ColISIN         = "isin"
	ColDate         = "fecha"
	ColLocalAmount  = "flujo_moneda_local"
	ColUSDAmount    = "flujo_usd"
	ColBalanceSheet = "balance_sheet"
	ColCurrency     = "moneda_local"
	ColYieldFlag    = "yas_yld_flag"
	ColOverride     = "override"
	ColSource       = "source"
)

// Columns of bond_characteristics.csv.
const (
	ColCoCo     = "coco"
	ColCallable = "callable"
	ColSinkable = "sinkable"
)

var CashflowSchema = result.Schema{
	Name: "cashflows.csv",
	Columns: []string{
		ColPK2, ColISIN, ColDate, ColLocalAmount, ColUSDAmount, ColBalanceSheet,
		ColCurrency, ColYieldFlag, ColOverride, ColSource, result.ColJobID, result.ColFetchedAt,
	},
	EntityKey:      []string{ColPK2},
	ObservationKey: ColDate,
}

var CharacteristicsSchema = result.Schema{
	Name: "bond_characteristics.csv",
	Columns: []string{
		ColPK2, ColISIN, ColCoCo, ColCallable, ColSinkable, ColYieldFlag, ColOverride,
		result.ColJobID, result.ColFetchedAt,
	},
	EntityKey: []string{ColPK2},
}

// Instrument is one entry of a job's instruments_json.
type Instrument struct {
	PK2       scalar `json:"pk2"`
	ISIN      scalar `json:"isin"`
	Override  scalar `json:"override"`
	YieldFlag scalar `json:"yas_yld_flag"`
}

// Overridden reports whether the form asked to use YieldFlag instead of the
// terminal's value.
func (i Instrument) Overridden() bool {
	return strings.EqualFold(string(i.Override), "true") && i.YieldFlag != ""
}

// scalar accepts any JSON scalar and keeps its text. Producers send pk2 as a
// number or a string and override as a bool or "True".
type scalar string

func (s *scalar) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = scalar(strings.TrimSpace(v))
	case bool, float64:
		*s = scalar(strings.TrimSpace(string(b)))
	default:
		return fmt.Errorf("expected a scalar, got %s", b)
	}
	return nil
}

// Characteristics of a bond as reported by the terminal, after overrides.
type Characteristics struct {
	CoCo      bool
	Callable  bool
	Sinkable  bool
	YieldFlag string
	Override  bool
}

func defaultCharacteristics() Characteristics {
	return Characteristics{YieldFlag: "Y"}
}

// NormalizeYieldFlag maps a YAS_YLD_FLAG value onto the flags DES_CASH_FLOW
// accepts. Yield-to-maturity spellings and empty values become Y. known is
// false when flag was not recognised and Y was substituted.
func NormalizeYieldFlag(flag string) (norm string, known bool) {
	f := strings.ToUpper(strings.TrimSpace(flag))
	switch f {
	case "Y", "N", "YTC", "YTS", "YTW":
		return f, true
	case "", "YTM", "YES", "TRUE", "1", "FALSE", "0":
		return "Y", true
	default:
		return "Y", false
	}
}

func truthy(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "YES", "TRUE", "1", "T":
		return true
	default:
		return false
	}
}

// titleBool renders b the way the producer application writes flags.
func titleBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
