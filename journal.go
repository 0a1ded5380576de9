package capbatch

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Journal is an append only record of runs and the outcome of every item in
// them. It is never consulted to decide what to process.
type Journal struct {
	mu sync.Mutex // serializes writes from concurrent items
	db *sql.DB

	filepath string
}

type Run struct {
	Id         string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Backend    string
	Model      string
	InputDir   string
	OutputDir  string

	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

type Item struct {
	Id          int
	RunId       string
	SourcePath  string
	OutputPath  string
	Status      string
	Error       sql.NullString
	ProcessedAt time.Time
}

func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.db.Close()
}

func OpenJournal(ctx context.Context, fname string) (*Journal, error) {
	// Open the DB but flip on the cleaner timestamps from Go
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: is a different database
	sqldb.SetMaxOpenConns(1)

	if err := sqldb.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}

	return &Journal{db: sqldb, filepath: fname}, nil
}

// BeginRun inserts a new run, assigning it an id.
func (j *Journal) BeginRun(ctx context.Context, run *Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	run.Id = uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, started_at, backend, model, input_dir, output_dir, total)
		VALUES (?,?,?,?,?,?,?)`,
		run.Id, run.StartedAt, run.Backend, run.Model, run.InputDir, run.OutputDir, run.Total,
	)
	return err
}

// FinishRun stores the final counts and finished_at timestamp of run.
func (j *Journal) FinishRun(ctx context.Context, run *Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		"UPDATE runs SET finished_at=$1,total=$2,succeeded=$3,failed=$4,skipped=$5 WHERE id=$6",
		run.FinishedAt,
		run.Total,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.Id)
	return err
}

// RecordItem inserts the outcome of a single item.
func (j *Journal) RecordItem(ctx context.Context, item *Item) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO items
		(run_id, source_path, output_path, status, error, processed_at)
		VALUES (?,?,?,?,?,?)`,
		item.RunId, item.SourcePath, item.OutputPath, item.Status, item.Error, item.ProcessedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	item.Id = int(id)

	return nil
}

// InsertItems bulk inserts items using multi-row INSERTs of up to batchSize
// rows inside one transaction. It returns the number of rows inserted.
func (j *Journal) InsertItems(ctx context.Context, items []*Item, batchSize int) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	txn, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()

	const ncols = 6
	start := 0
	affected := 0
	for start < len(items) {
		end := min(start+batchSize, len(items))

		qsb := strings.Builder{}
		qsb.WriteString("INSERT INTO items (run_id, source_path, output_path, status, error, processed_at) VALUES")
		values := make([]any, 0, (end-start)*ncols)
		for idx, item := range items[start:end] {
			qsb.WriteString(" (")
			for c := range ncols {
				qsb.WriteString("$")
				qsb.WriteString(strconv.Itoa(idx*ncols + c + 1))
				if c < ncols-1 {
					qsb.WriteString(",")
				}
			}
			qsb.WriteString("),")

			values = append(values, item.RunId, item.SourcePath, item.OutputPath, item.Status, item.Error, item.ProcessedAt)
		}
		queryString := qsb.String()

		// Remove trailing comma
		queryString = queryString[0 : len(queryString)-1]

		res, err := txn.ExecContext(ctx, queryString, values...)
		if err != nil {
			return 0, err
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		affected += int(ra)
		start = end
	}

	return affected, txn.Commit()
}

// GetRun retrieves a Run model by id.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, backend, model, input_dir, output_dir,
			   total, succeeded, failed, skipped
		FROM runs
		WHERE id=?`, id)

	run := &Run{}
	err := row.Scan(
		&run.Id,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Backend,
		&run.Model,
		&run.InputDir,
		&run.OutputDir,
		&run.Total,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
	)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ItemsForRun returns the recorded items of a run ordered by source path.
func (j *Journal) ItemsForRun(ctx context.Context, runID string) ([]*Item, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_id, source_path, output_path, status, error, processed_at
		FROM items
		WHERE run_id=?
		ORDER BY source_path, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item := &Item{}
		err := rows.Scan(
			&item.Id,
			&item.RunId,
			&item.SourcePath,
			&item.OutputPath,
			&item.Status,
			&item.Error,
			&item.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning items: %w", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}
