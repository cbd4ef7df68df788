package journal

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/scripthost/internal/ir"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	RunID    string
	ScriptID string
	Kinds    []ir.RecordKind
	AfterSeq int64
	Limit    int
}

// List returns records matching f, ordered by seq.
//
// Returns an empty slice (not nil) when nothing matches.
func (j *Journal) List(ctx context.Context, f Filter) ([]ir.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.ScriptID != "" {
		where = append(where, "script_id = ?")
		args = append(args, f.ScriptID)
	}
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := "SELECT seq, tick, kind, script_id, category, fanout, task, detail FROM records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		var (
			rec    ir.Record
			kind   string
			task   int64
			detail string
		)
		if err := rows.Scan(&rec.Seq, &rec.Tick, &kind, &rec.ScriptID, &rec.Category, &rec.Fanout, &task, &detail); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Kind = ir.RecordKind(kind)
		rec.Task = uint64(task)
		if detail != "" && detail != "{}" {
			obj, err := ir.UnmarshalIRObject([]byte(detail))
			if err != nil {
				return nil, fmt.Errorf("record %d: unmarshal detail: %w", rec.Seq, err)
			}
			rec.Detail = obj
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Runs returns the distinct run ids in the journal, oldest first.
func (j *Journal) Runs(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id FROM records
		GROUP BY run_id
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
