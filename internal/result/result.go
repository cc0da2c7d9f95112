// Package result describes the append-only tables jobs write their output to.
package result

import (
	"context"
	"fmt"
	"strings"
)

const (
	ColJobID     = "job_id"
	ColFetchedAt = "fetched_at"
)

// Row is one result record keyed by column name.
type Row map[string]string

// Schema fixes the columns of a result table and its uniqueness key.
// Tables without an ObservationKey hold one row per entity and are written
// with Upsert.
type Schema struct {
	Name           string
	Columns        []string
	EntityKey      []string
	ObservationKey string
}

const keySep = "\x1f"

// Key returns the duplicate-detection key of r.
func (s Schema) Key(r Row) string {
	parts := make([]string, 0, len(s.EntityKey)+1)
	for _, c := range s.EntityKey {
		parts = append(parts, strings.TrimSpace(r[c]))
	}
	if s.ObservationKey != "" {
		parts = append(parts, strings.TrimSpace(r[s.ObservationKey]))
	}
	return strings.Join(parts, keySep)
}

// EntityKeyOf returns the key of r ignoring the observation column.
func (s Schema) EntityKeyOf(r Row) string {
	parts := make([]string, 0, len(s.EntityKey))
	for _, c := range s.EntityKey {
		parts = append(parts, strings.TrimSpace(r[c]))
	}
	return strings.Join(parts, keySep)
}

// Validate checks that every key column is filled.
func (s Schema) Validate(r Row) error {
	for _, c := range s.EntityKey {
		if strings.TrimSpace(r[c]) == "" {
			return fmt.Errorf("%s: missing %s", s.Name, c)
		}
	}
	if s.ObservationKey != "" && strings.TrimSpace(r[s.ObservationKey]) == "" {
		return fmt.Errorf("%s: missing %s", s.Name, s.ObservationKey)
	}
	return nil
}

type Repository interface {
	// Append inserts rows whose key is not yet present and reports how many
	// were inserted and how many skipped as duplicates.
	Append(ctx context.Context, rows []Row) (inserted, skipped int, err error)
	// Upsert replaces rows by entity key and appends new entities.
	Upsert(ctx context.Context, rows []Row) (int, error)
	List(ctx context.Context) ([]Row, error)
	ListByJob(ctx context.Context, jobID int64) ([]Row, error)
}
