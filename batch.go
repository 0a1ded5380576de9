package capbatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chriskillpack/capbatch/describer"
)

const journalBatchSize = 100

// Options configure a single run over a directory of images.
type Options struct {
	InputDir  string
	OutputDir string // defaults to InputDir
	Prompt    string

	Schema       json.RawMessage // optional, forwarded verbatim
	ModelOptions json.RawMessage // optional JSON object, forwarded verbatim

	Pretty       bool
	BatchSize    int // images processed concurrently, values below 1 mean 1
	SkipExisting bool
	Suffix       string
	Count        int // when > 0 only the first Count images are processed

	Verbose  bool
	Logger   *log.Logger // defaults to log.Default()
	Progress io.Writer   // where the progress bar is drawn, nil for none
	Journal  *Journal    // optional
}

// Summary reports the outcome of a run. Total counts the images that were
// dispatched or rejected by the name collision check, Skipped those left out
// because their output already existed.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	RunId     string // journal run id, empty without a journal
}

// ParseOptions decodes a model options string. An empty string yields nil.
// Anything that is not a JSON object is rejected with ErrInvalidOptions.
func ParseOptions(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: null", ErrInvalidOptions)
	}

	return json.RawMessage(s), nil
}

// LoadSchema reads a JSON schema file. The schema content is not validated
// beyond being well formed JSON.
func LoadSchema(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("schema %s is not valid JSON", path)
	}

	return json.RawMessage(data), nil
}

// Discover lists dir, without descending into subdirectories, and returns the
// paths of supported images in name order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		if !IsSupported(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			// Follow links but only to files
			fi, err := os.Stat(path)
			if err != nil || !fi.Mode().IsRegular() {
				continue
			}
		}
		files = append(files, path)
	}

	return files, nil
}

// FilterExisting splits files into those whose output file is missing and
// those whose output already exists.
func FilterExisting(files []string, outDir, suffix string) (todo, existing []string) {
	for _, f := range files {
		if _, err := os.Stat(OutputPath(outDir, BaseName(f), suffix)); err == nil {
			existing = append(existing, f)
			continue
		}
		todo = append(todo, f)
	}

	return todo, existing
}

// claimOutputs keeps the first file for every output path and returns the
// rest as collisions.
func claimOutputs(files []string, outDir, suffix string) (kept, collisions []string) {
	claimed := make(map[string]bool, len(files))
	for _, f := range files {
		p := OutputPath(outDir, BaseName(f), suffix)
		if claimed[p] {
			collisions = append(collisions, f)
			continue
		}
		claimed[p] = true
		kept = append(kept, f)
	}

	return kept, collisions
}

// Partition splits items into consecutive batches of at most size elements.
// A size below 1 is treated as 1.
func Partition[T any](items []T, size int) [][]T {
	size = max(size, 1)

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}

	return batches
}

type runner struct {
	d    describer.Describer
	opts Options

	logger   *log.Logger
	progress *Progress
	run      *Run
}

// Run captions every supported image in opts.InputDir. Failures of individual
// images are logged and counted, they never stop the run. An error is only
// returned when the run cannot start, e.g. the input directory is unreadable.
func (c *Capbatch) Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = opts.InputDir
	}
	opts.BatchSize = max(opts.BatchSize, 1)

	r := &runner{d: c.Describer, opts: opts, logger: opts.Logger}
	if r.logger == nil {
		r.logger = log.Default()
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("creating output directory: %w", err)
	}

	files, err := Discover(opts.InputDir)
	if err != nil {
		return Summary{}, fmt.Errorf("reading input directory: %w", err)
	}

	var skipped []string
	if opts.SkipExisting {
		files, skipped = FilterExisting(files, opts.OutputDir, opts.Suffix)
	}
	if opts.Count > 0 {
		files = files[:min(len(files), opts.Count)]
	}
	files, collisions := claimOutputs(files, opts.OutputDir, opts.Suffix)

	total := len(files) + len(collisions)
	r.debugf("%d images to process, %d skipped, batch size %d", total, len(skipped), opts.BatchSize)

	if opts.Journal != nil {
		r.run = &Run{
			StartedAt: time.Now(),
			Backend:   c.Name(),
			Model:     c.Model(),
			InputDir:  opts.InputDir,
			OutputDir: opts.OutputDir,
			Total:     total,
			Skipped:   len(skipped),
		}
		if err := opts.Journal.BeginRun(ctx, r.run); err != nil {
			return Summary{}, fmt.Errorf("journal: %w", err)
		}
		r.journalSkipped(ctx, skipped)
	}

	r.progress = NewProgress(total, opts.Progress)

	for _, f := range collisions {
		err := fmt.Errorf("%w: %s", ErrNameCollision, OutputPath(opts.OutputDir, BaseName(f), opts.Suffix))
		r.finish(ctx, f, err)
	}

	for i, batch := range Partition(files, opts.BatchSize) {
		r.debugf("batch %d: %d images", i+1, len(batch))

		var g errgroup.Group
		for _, path := range batch {
			g.Go(func() error {
				r.finish(ctx, path, r.processItem(ctx, path))
				return nil // failures are isolated to the item
			})
		}
		g.Wait()
	}
	r.progress.Finish()

	summary := Summary{
		Total:     total,
		Succeeded: r.progress.Succeeded(),
		Failed:    r.progress.Failed(),
		Skipped:   len(skipped),
	}

	if r.run != nil {
		r.run.FinishedAt = sql.NullTime{Time: time.Now(), Valid: true}
		r.run.Succeeded = summary.Succeeded
		r.run.Failed = summary.Failed
		if err := opts.Journal.FinishRun(ctx, r.run); err != nil {
			r.logger.Printf("warning: journal: %s", err)
		}
		summary.RunId = r.run.Id
	}

	return summary, nil
}

// processItem runs the encode, describe, resolve and write stages for one
// image. A nil return means the output file was written.
func (r *runner) processItem(ctx context.Context, path string) error {
	start := time.Now()

	img, err := EncodeImage(path)
	if err != nil {
		return err
	}

	r.debugf("%s: %s, %d bytes encoded", path, img.MediaType, len(img.Data))
	contents, err := r.d.Describe(ctx, describer.Request{
		Prompt:  r.opts.Prompt,
		Images:  []describer.Image{{Data: img.Data, MediaType: img.MediaType}},
		Schema:  r.opts.Schema,
		Options: r.opts.ModelOptions,
	})
	if err != nil {
		return err
	}
	if len(contents) != 1 {
		return fmt.Errorf("%w: expected 1 content value, got %d", describer.ErrMalformedResponse, len(contents))
	}

	v, warn := ResolveContent(contents[0], len(r.opts.Schema) > 0)
	if warn != nil {
		r.logger.Printf("warning: %s: %s, storing raw text", img.Base, warn)
	}

	out := OutputPath(r.opts.OutputDir, img.Base, r.opts.Suffix)
	if err := WriteOutput(out, v, r.opts.Pretty); err != nil {
		return err
	}

	r.debugf("%s -> %s, %d ms", path, out, time.Since(start).Milliseconds())
	return nil
}

// finish records the terminal outcome of path. It is called exactly once per
// dispatched image.
func (r *runner) finish(ctx context.Context, path string, err error) {
	if err != nil {
		var se *describer.ServerError
		if errors.As(err, &se) {
			r.logger.Printf("error: %s: server returned %d: %s", path, se.StatusCode, se.Body)
		} else {
			r.logger.Printf("error: %s: %s", path, err)
		}
	}

	r.progress.Complete(err)

	if r.run == nil {
		return
	}
	item := &Item{
		RunId:       r.run.Id,
		SourcePath:  path,
		OutputPath:  OutputPath(r.opts.OutputDir, BaseName(path), r.opts.Suffix),
		Status:      StatusOK,
		ProcessedAt: time.Now(),
	}
	if err != nil {
		item.Status = StatusFailed
		item.Error = sql.NullString{String: err.Error(), Valid: true}
	}
	if jerr := r.opts.Journal.RecordItem(ctx, item); jerr != nil {
		r.logger.Printf("warning: journal: %s", jerr)
	}
}

func (r *runner) journalSkipped(ctx context.Context, skipped []string) {
	if len(skipped) == 0 {
		return
	}

	now := time.Now()
	items := make([]*Item, len(skipped))
	for i, f := range skipped {
		items[i] = &Item{
			RunId:       r.run.Id,
			SourcePath:  f,
			OutputPath:  OutputPath(r.opts.OutputDir, BaseName(f), r.opts.Suffix),
			Status:      StatusSkipped,
			ProcessedAt: now,
		}
	}
	if _, err := r.opts.Journal.InsertItems(ctx, items, journalBatchSize); err != nil {
		r.logger.Printf("warning: journal: %s", err)
	}
}

func (r *runner) debugf(format string, args ...any) {
	if r.opts.Verbose {
		r.logger.Printf("debug: "+format, args...)
	}
}
