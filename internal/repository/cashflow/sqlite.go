package cashflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
	domain "github.com/ahmethakanbesel/jobbridge/internal/cashflow"
	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/result"
)

const dateFormat = "2006-01-02"

// Ack records that the producer has taken a finished job's results.
type Ack struct {
	JobID           int64
	Status          job.Status
	AsOf            time.Time
	ErrorMessage    string
	Cashflows       int64
	Characteristics int64
	CompletedAt     *time.Time
	AckedAt         time.Time
}

// Cashflow is a stored cashflow row.
type Cashflow struct {
	PK2       string
	ISIN      string
	Date      time.Time
	LocalFlow float64
	USDFlow   float64
	Currency  string
	YieldFlag string
	Override  bool
	JobID     int64
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveJob stores a job's result rows and its ack in one transaction.
// Cashflows already present for (pk2, fecha) are kept; characteristics are
// replaced. The returned ack carries the number of rows written.
func (r *Repository) SaveJob(ctx context.Context, ack Ack, cashflows, chars []result.Row) (Ack, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ack, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if ack.Cashflows, err = saveCashflows(ctx, tx, cashflows); err != nil {
		return ack, err
	}
	if ack.Characteristics, err = saveCharacteristics(ctx, tx, chars); err != nil {
		return ack, err
	}

	var completed any
	if ack.CompletedAt != nil {
		completed = ack.CompletedAt.UTC().Format(time.RFC3339)
	}
	if ack.AckedAt.IsZero() {
		ack.AckedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO job_acks
		(job_id, status, report_date, error_message, cashflows, characteristics, completed_at, acked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ack.JobID, string(ack.Status), ack.AsOf.Format(dateFormat), ack.ErrorMessage,
		ack.Cashflows, ack.Characteristics, completed, ack.AckedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return ack, fmt.Errorf("record ack: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ack, fmt.Errorf("commit: %w", err)
	}
	return ack, nil
}

func saveCashflows(ctx context.Context, tx *sql.Tx, rows []result.Row) (int64, error) {
	const batchSize = 500
	var total int64

	for i := 0; i < len(rows); i += batchSize {
		batch := rows[i:min(i+batchSize, len(rows))]

		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*12)
		for _, row := range batch {
			local, err1 := strconv.ParseFloat(row[domain.ColLocalAmount], 64)
			usd, err2 := strconv.ParseFloat(row[domain.ColUSDAmount], 64)
			jobID, err3 := strconv.ParseInt(row[result.ColJobID], 10, 64)
			if err := errors.Join(err1, err2, err3); err != nil {
				slog.Warn("ingest: skipping malformed cashflow row", "pk2", row[domain.ColPK2], "fecha", row[domain.ColDate], "error", err)
				continue
			}
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				row[domain.ColPK2], row[domain.ColISIN], row[domain.ColDate], local, usd,
				orDefault(row[domain.ColBalanceSheet], "Asset"), orDefault(row[domain.ColCurrency], "USD"),
				orDefault(row[domain.ColYieldFlag], "Y"), flag(row[domain.ColOverride]),
				orDefault(row[domain.ColSource], "BBG"), jobID, row[result.ColFetchedAt],
			)
		}
		if len(placeholders) == 0 {
			continue
		}

		query := fmt.Sprintf(
			`INSERT OR IGNORE INTO cashflows
			(pk2, isin, fecha, flujo_moneda_local, flujo_usd, balance_sheet, moneda_local, yas_yld_flag, override, source, job_id, fetched_at)
			VALUES %s`,
			strings.Join(placeholders, ", "),
		)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("save cashflows: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func saveCharacteristics(ctx context.Context, tx *sql.Tx, rows []result.Row) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO bond_characteristics
		(pk2, isin, coco, callable, sinkable, yas_yld_flag, override, job_id, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare characteristics: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var total int64
	for _, row := range rows {
		jobID, err := strconv.ParseInt(row[result.ColJobID], 10, 64)
		if err != nil {
			slog.Warn("ingest: skipping malformed characteristics row", "pk2", row[domain.ColPK2], "error", err)
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			row[domain.ColPK2], row[domain.ColISIN],
			flag(row[domain.ColCoCo]), flag(row[domain.ColCallable]), flag(row[domain.ColSinkable]),
			orDefault(row[domain.ColYieldFlag], "Y"), flag(row[domain.ColOverride]),
			jobID, row[result.ColFetchedAt],
		); err != nil {
			return total, fmt.Errorf("save characteristics: %w", err)
		}
		total++
	}
	return total, nil
}

func (r *Repository) GetAck(ctx context.Context, jobID int64) (*Ack, error) {
	const query = `SELECT job_id, status, report_date, error_message, cashflows, characteristics, completed_at, acked_at
		FROM job_acks WHERE job_id = ?`

	var a Ack
	var status, asOf, ackedAt string
	var completed sql.NullString
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&a.JobID, &status, &asOf, &a.ErrorMessage, &a.Cashflows, &a.Characteristics, &completed, &ackedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("no ack for job %d", jobID))
	}
	if err != nil {
		return nil, fmt.Errorf("get ack: %w", err)
	}
	a.Status = job.Status(status)
	a.AsOf, _ = time.Parse(dateFormat, asOf)
	a.AckedAt, _ = time.Parse(time.RFC3339, ackedAt)
	if completed.Valid {
		if t, err := time.Parse(time.RFC3339, completed.String); err == nil {
			a.CompletedAt = &t
		}
	}
	return &a, nil
}

// AckedJobs returns the ids among ids that already have an ack.
func (r *Repository) AckedJobs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	acked := make(map[int64]bool)
	if len(ids) == 0 {
		return acked, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT job_id FROM job_acks WHERE job_id IN (?" + strings.Repeat(", ?", len(ids)-1) + ")"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("acked jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ack: %w", err)
		}
		acked[id] = true
	}
	return acked, rows.Err()
}

func (r *Repository) ListCashflows(ctx context.Context, pk2 string) ([]Cashflow, error) {
	const query = `SELECT pk2, isin, fecha, flujo_moneda_local, flujo_usd, moneda_local, yas_yld_flag, override, job_id
		FROM cashflows
		WHERE pk2 = ?
		ORDER BY fecha ASC`

	rows, err := r.db.QueryContext(ctx, query, pk2)
	if err != nil {
		return nil, fmt.Errorf("list cashflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Cashflow
	for rows.Next() {
		var c Cashflow
		var date string
		if err := rows.Scan(&c.PK2, &c.ISIN, &date, &c.LocalFlow, &c.USDFlow, &c.Currency, &c.YieldFlag, &c.Override, &c.JobID); err != nil {
			return nil, fmt.Errorf("scan cashflow: %w", err)
		}
		c.Date, _ = time.Parse(dateFormat, date)
		out = append(out, c)
	}
	return out, rows.Err()
}

func flag(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "Y", "YES", "1":
		return true
	default:
		return false
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
