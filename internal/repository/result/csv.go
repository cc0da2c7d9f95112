package result

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	domain "github.com/ahmethakanbesel/jobbridge/internal/result"
	"github.com/ahmethakanbesel/jobbridge/internal/table"
)

var errUnchanged = errors.New("unchanged")

type Repository struct {
	store  *table.Store
	schema domain.Schema
}

func NewRepository(store *table.Store, schema domain.Schema) *Repository {
	return &Repository{store: store, schema: schema}
}

// NewStore opens the schema's table inside dir.
func NewStore(dir string, schema domain.Schema, opts ...table.Option) *table.Store {
	return table.NewStore(filepath.Join(dir, schema.Name),
		append([]table.Option{table.WithHeader(schema.Columns...)}, opts...)...)
}

func (r *Repository) Schema() domain.Schema { return r.schema }

func (r *Repository) update(ctx context.Context, fn func(*table.Table) error) error {
	err := r.store.Update(ctx, fn)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// Append is idempotent: a row whose key already exists in the table, or
// earlier in the same batch, is skipped and the stored value is kept.
// Rows with an empty key column are skipped too.
func (r *Repository) Append(ctx context.Context, rows []domain.Row) (inserted, skipped int, err error) {
	err = r.update(ctx, func(t *table.Table) error {
		inserted, skipped = 0, 0
		t.EnsureColumns(r.schema.Columns...)

		seen := make(map[string]struct{}, t.Len()+len(rows))
		for i := range t.Rows {
			seen[r.schema.Key(t.Record(i))] = struct{}{}
		}
		for _, row := range rows {
			if err := r.schema.Validate(row); err != nil {
				slog.Warn("skipping invalid result row", "table", r.schema.Name, "error", err)
				skipped++
				continue
			}
			k := r.schema.Key(row)
			if _, dup := seen[k]; dup {
				skipped++
				continue
			}
			seen[k] = struct{}{}
			t.AppendRecord(row)
			inserted++
		}
		if inserted == 0 {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("append %s: %w", r.schema.Name, err)
	}
	return inserted, skipped, nil
}

func (r *Repository) Upsert(ctx context.Context, rows []domain.Row) (int, error) {
	written := 0
	err := r.update(ctx, func(t *table.Table) error {
		written = 0
		t.EnsureColumns(r.schema.Columns...)

		index := make(map[string]int, t.Len())
		for i := range t.Rows {
			index[r.schema.EntityKeyOf(t.Record(i))] = i
		}
		for _, row := range rows {
			if err := r.schema.Validate(row); err != nil {
				slog.Warn("skipping invalid result row", "table", r.schema.Name, "error", err)
				continue
			}
			k := r.schema.EntityKeyOf(row)
			if i, ok := index[k]; ok {
				for _, c := range t.Header {
					if v, ok := row[c]; ok {
						t.Set(i, c, v)
					}
				}
			} else {
				t.AppendRecord(row)
				index[k] = t.Len() - 1
			}
			written++
		}
		if written == 0 {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", r.schema.Name, err)
	}
	return written, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Row, error) {
	t, err := r.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.schema.Name, err)
	}
	rows := make([]domain.Row, t.Len())
	for i := range t.Rows {
		rows[i] = t.Record(i)
	}
	return rows, nil
}

func (r *Repository) ListByJob(ctx context.Context, jobID int64) ([]domain.Row, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var rows []domain.Row
	for _, row := range all {
		if id, err := table.ParseInt(row[domain.ColJobID]); err == nil && id == jobID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
