package terminal

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Offline stands in for the terminal on machines without access to it.
// Reference data is empty, so callers fall back to their defaults, and every
// security gets one mock cashflow of 50 coupon paid on the settlement date.
type Offline struct {
	now func() time.Time
}

func NewOffline() *Offline {
	return &Offline{now: time.Now}
}

func (o *Offline) Reference(_ context.Context, securities, fields []string) (map[string]map[string]string, error) {
	slog.Warn("terminal: offline, returning no reference data", "securities", len(securities), "fields", fields)
	return map[string]map[string]string{}, nil
}

func (o *Offline) Bulk(_ context.Context, securities []string, field string, overrides map[string]string) (map[string][]map[string]string, error) {
	slog.Warn("terminal: offline, returning mock data", "securities", len(securities), "field", field)
	out := make(map[string][]map[string]string, len(securities))
	if field != FieldCashflows {
		return out, nil
	}

	date := o.now()
	if d, err := time.Parse("20060102", overrides[OverrideSettleDate]); err == nil {
		date = d
	}
	for _, s := range securities {
		out[s] = []map[string]string{{
			ColPaymentDate:     date.Format(time.DateOnly),
			ColCouponAmount:    strconv.FormatFloat(50, 'f', -1, 64),
			ColPrincipalAmount: "0",
		}}
	}
	return out, nil
}
