package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Record is a guild or user row.
type Record struct {
	ID      string
	Created time.Time
}

// Repo reads and writes one table of records.
type Repo struct {
	db    *DB
	table string
	now   func() time.Time
}

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02 15:04:05.000000000"

func (r *Repo) timeArg(t time.Time) any {
	if r.db.Dialect == SQLite {
		return t.UTC().Format(timeLayout)
	}
	return t.UTC()
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.ParseInLocation(timeLayout, t, time.UTC)
	case []byte:
		return time.ParseInLocation(timeLayout, string(t), time.UTC)
	}
	return time.Time{}, fmt.Errorf("storage: unexpected time value %T", v)
}

func (r *Repo) placeholder(n int) string {
	return placeholder(r.db.Dialect, n)
}

func placeholder(d Dialect, n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Get returns the record or ErrNotFound.
func (r *Repo) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, created FROM "+r.table+" WHERE id = "+r.placeholder(1), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", r.table, id, err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec     Record
		created any
	)
	if err := s.Scan(&rec.ID, &created); err != nil {
		return nil, err
	}
	t, err := scanTime(created)
	if err != nil {
		return nil, err
	}
	rec.Created = t
	return &rec, nil
}

// Create inserts id with the current time and returns the stored row.
func (r *Repo) Create(ctx context.Context, id string) (*Record, error) {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO "+r.table+" (id, created) VALUES ("+r.placeholder(1)+", "+r.placeholder(2)+")",
		id, r.timeArg(r.now()))
	if err != nil {
		return nil, fmt.Errorf("create %s %s: %w", r.table, id, err)
	}
	return r.Get(ctx, id)
}

// Ensure returns the record, creating it when missing.
func (r *Repo) Ensure(ctx context.Context, id string) (*Record, bool, error) {
	rec, err := r.Get(ctx, id)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	rec, err = r.Create(ctx, id)
	return rec, err == nil, err
}

// Update writes rec and returns the stored row.
func (r *Repo) Update(ctx context.Context, rec Record) (*Record, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE "+r.table+" SET created = "+r.placeholder(1)+" WHERE id = "+r.placeholder(2),
		r.timeArg(rec.Created), rec.ID)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", r.table, rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, rec.ID)
}

// Delete removes id. Deleting a missing row is not an error.
func (r *Repo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+r.table+" WHERE id = "+r.placeholder(1), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", r.table, id, err)
	}
	return nil
}

// Sort orders Find results by creation time.
type Sort string

const (
	Asc  Sort = "asc"
	Desc Sort = "desc"
)

// FindOptions filters and pages Find. Zero values take the defaults: page 1,
// 10 rows, newest first, created between the Unix epoch and now. A non-zero
// Created matches that instant exactly instead of the range.
type FindOptions struct {
	ID      string
	Created time.Time
	From    time.Time
	To      time.Time
	Sort    Sort
	Page    int
	Count   int
}

func (o FindOptions) withDefaults(now time.Time) FindOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Count < 1 {
		o.Count = 10
	}
	if o.Sort != Asc {
		o.Sort = Desc
	}
	if o.From.IsZero() {
		o.From = time.Unix(0, 0)
	}
	if o.To.IsZero() {
		o.To = now
	}
	return o
}

func (r *Repo) buildFind(opts FindOptions) (string, []any) {
	opts = opts.withDefaults(r.now())

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return r.placeholder(len(args))
	}
	if opts.ID != "" {
		where = append(where, "id = "+arg(opts.ID))
	}
	if !opts.Created.IsZero() {
		where = append(where, "created = "+arg(r.timeArg(opts.Created)))
	} else {
		where = append(where, "created BETWEEN "+arg(r.timeArg(opts.From))+" AND "+arg(r.timeArg(opts.To)))
	}

	var b strings.Builder
	b.WriteString("SELECT id, created FROM ")
	b.WriteString(r.table)
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(where, " AND "))
	b.WriteString(" ORDER BY created ")
	b.WriteString(strings.ToUpper(string(opts.Sort)))
	b.WriteString(", id ")
	b.WriteString(strings.ToUpper(string(opts.Sort)))
	b.WriteString(" LIMIT " + arg(opts.Count))
	b.WriteString(" OFFSET " + arg((opts.Page-1)*opts.Count))
	return b.String(), args
}

// Find lists records matching opts.
func (r *Repo) Find(ctx context.Context, opts FindOptions) ([]Record, error) {
	query, args := r.buildFind(opts)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *Repo) buildExisting(ids []string) (string, []any) {
	if r.db.Dialect == Postgres {
		return "SELECT id FROM " + r.table + " WHERE id = ANY($1)", []any{pq.Array(ids)}
	}
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return "SELECT id FROM " + r.table + " WHERE id IN (" + strings.Join(marks, ", ") + ")", args
}

// Existing returns the subset of ids that have a row.
func (r *Repo) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args := r.buildExisting(ids)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("existing %s: %w", r.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
