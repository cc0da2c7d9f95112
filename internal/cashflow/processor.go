package cashflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/result"
	"github.com/ahmethakanbesel/jobbridge/internal/terminal"
)

const (
	faceAmount = "1000"
	maxErrors  = 5
)

// Processor runs cashflow jobs. A job costs four batched terminal calls plus
// one cashflow call per distinct yield flag, whatever its size.
type Processor struct {
	jobs      job.Repository
	cashflows result.Repository
	chars     result.Repository
	term      terminal.Terminal
	now       func() time.Time
}

func NewProcessor(jobs job.Repository, cashflows, chars result.Repository, term terminal.Terminal) *Processor {
	return &Processor{
		jobs:      jobs,
		cashflows: cashflows,
		chars:     chars,
		term:      term,
		now:       time.Now,
	}
}

type instrument struct {
	pk2       string
	isin      string
	overrides bool
	yieldFlag string
}

func (p *Processor) Process(ctx context.Context, j *job.Job) error {
	instruments, total, skipped, err := parseInstruments(j.Payload)
	if err != nil {
		return err
	}
	p.update(ctx, j.ID, job.Update{Total: &total, Skipped: &skipped})

	isins := lo.Map(instruments, func(in instrument, _ int) string { return in.isin })

	p.progress(ctx, j.ID, fmt.Sprintf("Fetching currencies for %d instruments...", len(isins)))
	currencies, err := p.fetchCurrencies(ctx, isins)
	if err != nil {
		return err
	}

	p.progress(ctx, j.ID, fmt.Sprintf("Fetching bond characteristics for %d instruments...", len(isins)))
	chars, err := p.fetchCharacteristics(ctx, isins)
	if err != nil {
		return err
	}
	for _, in := range instruments {
		if !in.overrides {
			continue
		}
		c := chars[in.isin]
		slog.Info("cashflow: applying yield flag override", "isin", in.isin, "from", c.YieldFlag, "to", in.yieldFlag)
		c.YieldFlag, c.Override = in.yieldFlag, true
		chars[in.isin] = c
	}
	if err := p.saveCharacteristics(ctx, j.ID, instruments, chars); err != nil {
		return err
	}

	p.progress(ctx, j.ID, fmt.Sprintf("Fetching cashflows for %d instruments...", len(isins)))
	flows, err := p.fetchCashflows(ctx, j.AsOf, isins, chars)
	if err != nil {
		return err
	}

	ccys := lo.Uniq(lo.Values(currencies))
	sort.Strings(ccys)
	p.progress(ctx, j.ID, fmt.Sprintf("Fetching FX rates for %d currencies...", len(ccys)))
	fx, err := p.fetchFXRates(ctx, ccys)
	if err != nil {
		return err
	}

	p.progress(ctx, j.ID, "Processing cashflow data...")
	fetchedAt := p.now().Format(time.RFC3339)
	var rows []result.Row
	var failures []string
	fetched := 0
	for _, in := range instruments {
		cf := flows[in.isin]
		if len(cf) == 0 {
			failures = append(failures, in.pk2+": No cashflows returned")
			continue
		}
		fetched++

		ccy := currencies[in.isin]
		rate := fx[ccy]
		c := chars[in.isin]
		for _, r := range cf {
			date, ok := parseDate(r[terminal.ColPaymentDate])
			if !ok {
				slog.Warn("cashflow: skipping row with invalid payment date", "pk2", in.pk2, "value", r[terminal.ColPaymentDate])
				continue
			}
			local := parseAmount(r[terminal.ColCouponAmount]) + parseAmount(r[terminal.ColPrincipalAmount])
			usd := local
			if ccy != "USD" {
				usd = local * rate
			}
			rows = append(rows, result.Row{
				ColPK2:              in.pk2,
				ColISIN:             in.isin,
				ColDate:             date.Format(time.DateOnly),
				ColLocalAmount:      formatAmount(local),
				ColUSDAmount:        formatAmount(usd),
				ColBalanceSheet:     "Asset",
				ColCurrency:         ccy,
				ColYieldFlag:        c.YieldFlag,
				ColOverride:         titleBool(c.Override),
				ColSource:           "BBG",
				result.ColJobID:     strconv.FormatInt(j.ID, 10),
				result.ColFetchedAt: fetchedAt,
			})
		}
	}

	if len(rows) > 0 {
		inserted, dup, err := p.cashflows.Append(ctx, rows)
		if err != nil {
			return fmt.Errorf("write cashflows: %w", err)
		}
		slog.Info("cashflow: rows written", "job", j.ID, "inserted", inserted, "duplicates", dup)
	} else {
		slog.Warn("cashflow: no cashflows to write", "job", j.ID)
	}

	if len(failures) > 0 && fetched == 0 {
		msg := summarize(failures)
		u := job.Fail(msg)
		u.Progress = lo.ToPtr("Failed")
		u.Fetched = &fetched
		p.update(ctx, j.ID, u)
		return errors.New(msg)
	}

	p.update(ctx, j.ID, job.Complete(
		fmt.Sprintf("Completed: %d cashflows from %d instruments", len(rows), fetched),
		fetched, skipped,
	))
	return nil
}

// parseInstruments decodes instruments_json. Entries without pk2 or isin are
// skipped, as is any later entry repeating an isin; both count towards the
// skipped total.
func parseInstruments(payload string) ([]instrument, int, int, error) {
	var raw []Instrument
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, 0, 0, apperror.Wrap(apperror.MalformedPayload, err, "invalid instruments JSON")
	}

	var out []instrument
	skipped := 0
	for _, r := range raw {
		if r.PK2 == "" || r.ISIN == "" {
			slog.Warn("cashflow: skipping instrument with missing pk2/isin", "pk2", r.PK2, "isin", r.ISIN)
			skipped++
			continue
		}
		out = append(out, instrument{
			pk2:       string(r.PK2),
			isin:      string(r.ISIN),
			overrides: r.Overridden(),
			yieldFlag: string(r.YieldFlag),
		})
	}
	valid := len(out)
	out = lo.UniqBy(out, func(in instrument) string { return in.isin })
	if dups := valid - len(out); dups > 0 {
		slog.Warn("cashflow: skipping instruments with repeated isin", "count", dups)
		skipped += dups
	}
	if len(out) == 0 {
		return nil, len(raw), skipped, apperror.New(apperror.MalformedPayload, "No valid instruments found")
	}
	return out, len(raw), skipped, nil
}

// The reference lookups below fall back to defaults when the terminal call
// fails: a missing currency or flag should not sink the whole job. Only
// cancellation is returned.

func (p *Processor) fetchCurrencies(ctx context.Context, isins []string) (map[string]string, error) {
	out := lo.SliceToMap(isins, func(isin string) (string, string) { return isin, "USD" })

	data, err := p.term.Reference(ctx, lo.Map(isins, toTicker), []string{terminal.FieldCurrency})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("cashflow: fetch currencies, defaulting to USD", "error", err)
		return out, nil
	}
	for ticker, vals := range data {
		if ccy := strings.TrimSpace(vals[terminal.FieldCurrency]); ccy != "" {
			out[terminal.ISINOf(ticker)] = strings.ToUpper(ccy)
		}
	}
	return out, nil
}

func (p *Processor) fetchCharacteristics(ctx context.Context, isins []string) (map[string]Characteristics, error) {
	out := lo.SliceToMap(isins, func(isin string) (string, Characteristics) { return isin, defaultCharacteristics() })

	data, err := p.term.Reference(ctx, lo.Map(isins, toTicker), []string{
		terminal.FieldContingentCapital, terminal.FieldCallable, terminal.FieldSinkable, terminal.FieldYieldFlag,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("cashflow: fetch bond characteristics, using defaults", "error", err)
		return out, nil
	}
	for ticker, vals := range data {
		c := defaultCharacteristics()
		c.CoCo = truthy(vals[terminal.FieldContingentCapital])
		c.Callable = truthy(vals[terminal.FieldCallable])
		c.Sinkable = truthy(vals[terminal.FieldSinkable])
		if f := strings.TrimSpace(vals[terminal.FieldYieldFlag]); f != "" {
			c.YieldFlag = f
		}
		out[terminal.ISINOf(ticker)] = c
	}
	return out, nil
}

func (p *Processor) saveCharacteristics(ctx context.Context, jobID int64, instruments []instrument, chars map[string]Characteristics) error {
	now := p.now().Format(time.RFC3339)
	rows := lo.Map(instruments, func(in instrument, _ int) result.Row {
		c := chars[in.isin]
		return result.Row{
			ColPK2:              in.pk2,
			ColISIN:             in.isin,
			ColCoCo:             titleBool(c.CoCo),
			ColCallable:         titleBool(c.Callable),
			ColSinkable:         titleBool(c.Sinkable),
			ColYieldFlag:        c.YieldFlag,
			ColOverride:         titleBool(c.Override),
			result.ColJobID:     strconv.FormatInt(jobID, 10),
			result.ColFetchedAt: now,
		}
	})
	if _, err := p.chars.Upsert(ctx, rows); err != nil {
		return fmt.Errorf("write bond characteristics: %w", err)
	}
	return nil
}

// fetchCashflows issues one DES_CASH_FLOW call per normalized yield flag.
// A failed group leaves its instruments without cashflows.
func (p *Processor) fetchCashflows(ctx context.Context, asOf time.Time, isins []string, chars map[string]Characteristics) (map[string][]map[string]string, error) {
	groups := lo.GroupBy(isins, func(isin string) string {
		flag, known := NormalizeYieldFlag(chars[isin].YieldFlag)
		if !known {
			slog.Warn("cashflow: unknown yield flag, using Y", "isin", isin, "flag", chars[isin].YieldFlag)
		}
		return flag
	})
	flags := lo.Keys(groups)
	sort.Strings(flags)

	out := make(map[string][]map[string]string, len(isins))
	for _, flag := range flags {
		group := groups[flag]
		slog.Info("cashflow: fetching cashflows", "yieldFlag", flag, "instruments", len(group))
		data, err := p.term.Bulk(ctx, lo.Map(group, toTicker), terminal.FieldCashflows, map[string]string{
			terminal.OverrideSettleDate: asOf.Format("20060102"),
			terminal.OverrideYieldFlag:  flag,
			terminal.OverrideFaceAmount: faceAmount,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Error("cashflow: fetch cashflows", "yieldFlag", flag, "error", err)
			continue
		}
		for ticker, rows := range data {
			out[terminal.ISINOf(ticker)] = rows
		}
	}
	return out, nil
}

func (p *Processor) fetchFXRates(ctx context.Context, ccys []string) (map[string]float64, error) {
	out := lo.SliceToMap(ccys, func(c string) (string, float64) { return c, 1.0 })
	out["USD"] = 1.0

	nonUSD := lo.Filter(ccys, func(c string, _ int) bool { return c != "" && c != "USD" })
	if len(nonUSD) == 0 {
		return out, nil
	}
	data, err := p.term.Reference(ctx, lo.Map(nonUSD, func(c string, _ int) string { return terminal.FXTicker(c) }),
		[]string{terminal.FieldLastPrice})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("cashflow: fetch FX rates, defaulting to 1.0", "error", err)
		return out, nil
	}
	for ticker, vals := range data {
		rate, err := strconv.ParseFloat(strings.TrimSpace(vals[terminal.FieldLastPrice]), 64)
		if err == nil && rate > 0 {
			out[terminal.CurrencyOf(ticker)] = rate
		}
	}
	return out, nil
}

func (p *Processor) progress(ctx context.Context, id int64, msg string) {
	p.update(ctx, id, job.SetProgress(msg))
}

// update writes job state. Progress is best effort; the worker records the
// final outcome if this write is lost.
func (p *Processor) update(ctx context.Context, id int64, u job.Update) {
	if err := p.jobs.Update(ctx, id, u); err != nil {
		slog.Warn("cashflow: update job", "job", id, "error", err)
	}
}

func summarize(failures []string) string {
	msg := strings.Join(lo.Slice(failures, 0, maxErrors), "; ")
	if len(failures) > maxErrors {
		msg += fmt.Sprintf(" ... and %d more errors", len(failures)-maxErrors)
	}
	return msg
}

func toTicker(isin string, _ int) string { return terminal.CorpTicker(isin) }

var dateLayouts = []string{time.DateOnly, "20060102", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseAmount(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
