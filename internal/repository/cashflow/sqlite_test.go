package cashflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/platform/sqlite"
	"github.com/ahmethakanbesel/jobbridge/internal/result"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func cashflowRow(pk2, fecha, usd string, jobID int) result.Row {
	return result.Row{
		"pk2": pk2, "isin": "XS" + pk2, "fecha": fecha,
		"flujo_moneda_local": usd, "flujo_usd": usd,
		"balance_sheet": "Asset", "moneda_local": "USD", "yas_yld_flag": "Y",
		"override": "False", "source": "BBG",
		"job_id": fmt.Sprint(jobID), "fetched_at": "2024-07-01T09:00:00Z",
	}
}

func TestSaveJob_StoresRowsAndAck(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()
	completed := time.Date(2024, 7, 1, 9, 5, 0, 0, time.UTC)

	ack, err := repo.SaveJob(ctx, Ack{
		JobID:       1,
		Status:      job.StatusCompleted,
		AsOf:        time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		CompletedAt: &completed,
	}, []result.Row{
		cashflowRow("A", "2024-12-31", "25", 1),
		cashflowRow("A", "2025-06-30", "1025", 1),
	}, []result.Row{
		{"pk2": "A", "isin": "XSA", "coco": "False", "callable": "True", "sinkable": "False", "yas_yld_flag": "YTC", "override": "True", "job_id": "1", "fetched_at": "2024-07-01T09:00:00Z"},
	})
	if err != nil {
		t.Fatalf("save job: %v", err)
	}
	if ack.Cashflows != 2 || ack.Characteristics != 1 {
		t.Errorf("expected 2 cashflows and 1 characteristics row, got %d and %d", ack.Cashflows, ack.Characteristics)
	}

	got, err := repo.GetAck(ctx, 1)
	if err != nil {
		t.Fatalf("get ack: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("expected completed_at %v, got %v", completed, got.CompletedAt)
	}

	flows, err := repo.ListCashflows(ctx, "A")
	if err != nil {
		t.Fatalf("list cashflows: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("expected 2 cashflows, got %d", len(flows))
	}
	if flows[1].USDFlow != 1025 {
		t.Errorf("expected 1025, got %f", flows[1].USDFlow)
	}

	var callable, override bool
	if err := db.QueryRow("SELECT callable, override FROM bond_characteristics WHERE pk2 = 'A'").Scan(&callable, &override); err != nil {
		t.Fatalf("read characteristics: %v", err)
	}
	if !callable || !override {
		t.Errorf("expected callable and override to be stored as true")
	}
}

func TestSaveJob_CashflowsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	rows := []result.Row{cashflowRow("A", "2024-12-31", "25", 1)}
	if _, err := repo.SaveJob(ctx, Ack{JobID: 1, Status: job.StatusCompleted}, rows, nil); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// Same key from a later job -- the first value stays
	ack, err := repo.SaveJob(ctx, Ack{JobID: 2, Status: job.StatusCompleted},
		[]result.Row{cashflowRow("A", "2024-12-31", "99", 2)}, nil)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if ack.Cashflows != 0 {
		t.Errorf("expected 0 rows (idempotent), got %d", ack.Cashflows)
	}

	flows, err := repo.ListCashflows(ctx, "A")
	if err != nil {
		t.Fatalf("list cashflows: %v", err)
	}
	if len(flows) != 1 || flows[0].USDFlow != 25 || flows[0].JobID != 1 {
		t.Errorf("expected the first row to be retained, got %+v", flows)
	}
}

func TestSaveJob_LargeBatch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)

	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]result.Row, 1200)
	for i := range rows {
		rows[i] = cashflowRow("A", start.AddDate(0, 0, i).Format("2006-01-02"), "1", 1)
	}
	rows = append(rows, result.Row{"pk2": "B", "fecha": "2024-01-01", "flujo_usd": "n/a"})

	ack, err := repo.SaveJob(context.Background(), Ack{JobID: 1, Status: job.StatusCompleted}, rows, nil)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ack.Cashflows != 1200 {
		t.Errorf("expected 1200 rows across batches, got %d", ack.Cashflows)
	}
}

func TestGetAck_NotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t).DB)
	_, err := repo.GetAck(context.Background(), 42)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAckedJobs(t *testing.T) {
	repo := NewRepository(setupTestDB(t).DB)
	ctx := context.Background()

	for _, id := range []int64{1, 3} {
		if _, err := repo.SaveJob(ctx, Ack{JobID: id, Status: job.StatusError, ErrorMessage: "boom"}, nil, nil); err != nil {
			t.Fatalf("save ack %d: %v", id, err)
		}
	}

	acked, err := repo.AckedJobs(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("acked jobs: %v", err)
	}
	if !acked[1] || acked[2] || !acked[3] {
		t.Errorf("unexpected acked set %v", acked)
	}
}
