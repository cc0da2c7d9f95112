// Package replica keeps the producer (P) and terminal (T) copies of the job
// table in step and copies result tables from T to P.
package replica

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
	"github.com/ahmethakanbesel/jobbridge/internal/table"
)

// Merge reconciles the two job tables by job_id:
//
//  1. in both: T's row wins
//  2. only in T and finished: dropped, P has acknowledged it
//  3. only in T and unfinished: T's row
//  4. only in P: P's row
//
// The header is P's followed by any columns only T has. Output rows are
// sorted by job_id; P rows without a usable id are kept at the end in their
// original order.
func Merge(p, t *table.Table) *table.Table {
	out := table.New(p.Header...)
	out.EnsureColumns(t.Header...)

	pRows, unkeyed := index(p, "producer")
	tRows, _ := index(t, "terminal")

	merged := make(map[int64]map[string]string, len(pRows)+len(tRows))
	for id, pr := range pRows {
		merged[id] = pr
	}
	for id, tr := range tRows {
		pr, inP := pRows[id]
		switch {
		case inP:
			// Overlay so that P-only columns survive.
			rec := make(map[string]string, len(pr)+len(tr))
			for k, v := range pr {
				rec[k] = v
			}
			for k, v := range tr {
				rec[k] = v
			}
			merged[id] = rec
		case rowStatus(tr).Terminal():
			continue
		default:
			merged[id] = tr
		}
	}

	ids := make([]int64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		rec := merged[id]
		rec[job.ColID] = table.FormatInt(id)
		out.AppendRecord(rec)
	}
	for _, rec := range unkeyed {
		out.AppendRecord(rec)
	}
	return out
}

// index maps rows by job_id. The first row wins when an id repeats. Rows
// with an unparsable id are returned separately; Merge keeps them only from
// P.
func index(t *table.Table, side string) (map[int64]map[string]string, []map[string]string) {
	rows := make(map[int64]map[string]string, t.Len())
	var unkeyed []map[string]string
	for i := range t.Rows {
		raw := t.Get(i, job.ColID)
		id, err := table.ParseInt(raw)
		if err != nil {
			slog.Warn("replica: job row without a valid id", "side", side, "row", i+1, "value", raw)
			unkeyed = append(unkeyed, t.Record(i))
			continue
		}
		if _, dup := rows[id]; dup {
			slog.Warn("replica: duplicate job id, keeping first row", "side", side, "job", id)
			continue
		}
		rows[id] = t.Record(i)
	}
	return rows, unkeyed
}

func rowStatus(rec map[string]string) job.Status {
	return job.Status(strings.ToUpper(strings.TrimSpace(rec[job.ColStatus])))
}
