// Package ingest streams JSON document exports into the knowledge store.
//
// An export is a bare array of entries, an object with an "entries" array,
// or the same object with a "fileMetadata" header. Arrays are read one
// element at a time; object roots are materialized since they are bounded
// by the exporter. Records are written in batches and the full-text index
// is rebuilt once per run.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amankb/internal/async"
	"github.com/Aman-CERP/amankb/internal/blocks"
	"github.com/Aman-CERP/amankb/internal/contentid"
	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/table"
	"github.com/Aman-CERP/amankb/internal/textnorm"
)

// DefaultBatchSize is the number of records per store write.
const DefaultBatchSize = 100

// State is the position of a run in the ingestion state machine.
type State int

const (
	StateInit State = iota
	StateArrayBody
	StateObjectBody
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateArrayBody:
		return "array_body"
	case StateObjectBody:
		return "object_body"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source identifies the file being imported. ID is the provenance key
// stored on every record and must stay the same across re-imports.
type Source struct {
	ID   string
	Name string
}

// RunOnce holds one-time diagnostic flags for a single job. It is owned by
// the caller so repeated runs of one job share it and separate jobs do not.
type RunOnce struct {
	duplicateLogged   bool
	suppressionLogged bool
	malformedLogged   bool
	manifestLogged    bool
}

// first returns true the first time it is called for flag.
func first(flag *bool) bool {
	if *flag {
		return false
	}
	*flag = true
	return true
}

// Options configures an Ingester.
type Options struct {
	// BatchSize is the number of records per UpsertBatch call.
	BatchSize int

	// PoolCapacity bounds idle builders kept between batches.
	PoolCapacity int

	// TablePolicy is applied to malformed tables in contentMarkdown.
	TablePolicy table.DegradePolicy

	// Suppression empties the search key of matching entries. Nil disables it.
	Suppression *SuppressionRule

	// Publish receives progress events. Nil discards them.
	Publish func(async.ImportProgress)

	// Once carries one-time diagnostic state. Nil allocates a private one.
	Once *RunOnce
}

// DefaultOptions returns the options used by the import command.
func DefaultOptions() Options {
	return Options{
		BatchSize:    DefaultBatchSize,
		PoolCapacity: DefaultPoolCapacity,
		TablePolicy:  table.PolicyFence,
		Suppression:  DefaultSuppressionRule(),
	}
}

// Result summarizes a run.
type Result struct {
	State      State
	Status     async.ImportStatus
	Shape      Shape
	Imported   int64
	Duplicates int
	Malformed  int
	Suppressed int
	Batches    int
	Duration   time.Duration
	Err        error
}

// Ingester imports one source. It is not safe for concurrent use: the
// builder pool and batch array belong to the goroutine calling Run.
type Ingester struct {
	store store.Store
	opts  Options
	pool  *Pool
	once  *RunOnce

	// per run
	source          Source
	seen            map[int64]struct{}
	pending         []*builder
	records         []store.Record
	total           *int64
	defaultCategory string
	result          Result
}

// New creates an ingester writing to st.
func New(st store.Store, opts Options) *Ingester {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PoolCapacity <= 0 {
		opts.PoolCapacity = DefaultPoolCapacity
	}
	once := opts.Once
	if once == nil {
		once = &RunOnce{}
	}
	return &Ingester{
		store:   st,
		opts:    opts,
		pool:    NewPool(opts.PoolCapacity),
		once:    once,
		pending: make([]*builder, 0, opts.BatchSize),
		records: make([]store.Record, 0, opts.BatchSize),
	}
}

// Pool exposes the builder pool for inspection.
func (in *Ingester) Pool() *Pool {
	return in.pool
}

// errSkipped ends a run whose input is a manifest.
var errSkipped = errors.New("manifest skipped")

// Run reads one export from r. The returned Result carries the terminal
// status; err is non-nil only when the run failed.
//
// Cancellation is observed between batch flushes, never mid-batch.
// Batches flushed before a failure stay committed.
func (in *Ingester) Run(ctx context.Context, r io.Reader, src Source) (Result, error) {
	start := time.Now()
	in.begin(src)

	if IsReservedName(src.Name) || IsReservedName(src.ID) {
		in.skip("reserved file name")
		in.result.Duration = time.Since(start)
		return in.result, nil
	}

	in.publish(async.StatusInProgress, "")

	err := in.read(ctx, r)
	in.result.Duration = time.Since(start)

	switch {
	case errors.Is(err, errSkipped):
		in.skip("manifest")
		return in.result, nil
	case err != nil:
		in.fail(err)
		return in.result, err
	}

	if err := in.store.RebuildFullTextIndex(ctx); err != nil {
		err = kberrors.StoreError("full-text rebuild failed", err)
		in.fail(err)
		return in.result, err
	}

	in.result.State = StateDone
	status := async.StatusImported
	if in.result.Malformed > 0 {
		status = async.StatusPartialFailure
	}
	in.result.Status = status

	msg := fmt.Sprintf("%d records", in.result.Imported)
	if in.result.Malformed > 0 {
		msg = fmt.Sprintf("%d records, %d malformed entries skipped", in.result.Imported, in.result.Malformed)
	}
	in.publish(status, msg)

	slog.Info("import_complete",
		slog.String("source", src.ID),
		slog.String("shape", in.result.Shape.String()),
		slog.Int64("records", in.result.Imported),
		slog.Int("batches", in.result.Batches),
		slog.Int("duplicates", in.result.Duplicates),
		slog.Int("malformed", in.result.Malformed),
		slog.Int("suppressed", in.result.Suppressed),
		slog.Int64("duration_ms", in.result.Duration.Milliseconds()))

	return in.result, nil
}

func (in *Ingester) begin(src Source) {
	for i, b := range in.pending {
		in.pool.put(b)
		in.pending[i] = nil
	}
	in.source = src
	in.seen = make(map[int64]struct{})
	in.total = nil
	in.defaultCategory = ""
	in.result = Result{State: StateInit}
	in.pending = in.pending[:0]
	in.records = in.records[:0]
}

// read drives the state machine from Init to the end of the body.
func (in *Ingester) read(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	tok, err := peekStructural(br)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	switch tok {
	case '[':
		in.result.State = StateArrayBody
		in.result.Shape = ShapeArray
		return in.readArray(ctx, dec)
	case '{':
		in.result.State = StateObjectBody
		return in.readObject(ctx, dec)
	default:
		return kberrors.SchemaError(fmt.Sprintf("unsupported top-level token %q", tok), nil)
	}
}

// peekStructural skips a byte order mark and whitespace and returns the
// first structural byte without consuming it.
func peekStructural(br *bufio.Reader) (byte, error) {
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	for {
		b, err := br.Peek(1)
		if err == io.EOF {
			return 0, kberrors.SchemaError("empty input", nil)
		}
		if err != nil {
			return 0, kberrors.IOError("failed to read input", err)
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.Discard(1)
		default:
			return b[0], nil
		}
	}
}

func (in *Ingester) readArray(ctx context.Context, dec *json.Decoder) error {
	if _, err := dec.Token(); err != nil {
		return structuralError(err)
	}

	for index := 0; dec.More(); index++ {
		var v any
		if err := dec.Decode(&v); err != nil {
			return structuralError(err)
		}
		if obj, ok := v.(map[string]any); ok && isManifest(obj) {
			if index == 0 {
				in.result.Shape = ShapeManifest
				return errSkipped
			}
			if first(&in.once.manifestLogged) {
				slog.Warn("manifest element inside export ignored",
					slog.String("source", in.source.ID),
					slog.Int("index", index))
			}
			continue
		}
		if err := in.element(ctx, v, index); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return structuralError(err)
	}
	return in.flush(ctx)
}

func (in *Ingester) readObject(ctx context.Context, dec *json.Decoder) error {
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return structuralError(err)
	}

	in.result.Shape = Classify(root)
	switch in.result.Shape {
	case ShapeManifest:
		return errSkipped
	case ShapeUnrecognized:
		return kberrors.SchemaError("object root has no entries array", nil)
	case ShapeObjectWithFileMetadata:
		meta := root["fileMetadata"].(map[string]any)
		if c, ok := meta["category"].(string); ok {
			in.defaultCategory = strings.TrimSpace(c)
		}
	}

	entries := root["entries"].([]any)
	total := int64(len(entries))
	in.total = &total

	for index, v := range entries {
		if err := in.element(ctx, v, index); err != nil {
			return err
		}
		entries[index] = nil
	}
	return in.flush(ctx)
}

// element converts one entry into a pending record. Malformed entries are
// logged and skipped; only flush failures are returned.
func (in *Ingester) element(ctx context.Context, v any, index int) error {
	b := in.pool.get()
	suppressed, err := in.build(b, v, index)
	if err != nil {
		in.pool.put(b)
		in.result.Malformed++
		elemErr := kberrors.ElementError(index, err).WithDetail("source", in.source.ID)
		if first(&in.once.malformedLogged) {
			slog.Warn("malformed entry skipped",
				slog.Any("error", kberrors.FormatForLog(elemErr)))
		} else {
			slog.Debug("malformed entry skipped",
				slog.String("source", in.source.ID),
				slog.Int("index", index),
				slog.String("error", err.Error()))
		}
		return nil
	}

	if _, dup := in.seen[b.rec.ID]; dup {
		in.result.Duplicates++
		if first(&in.once.duplicateLogged) {
			slog.Warn("duplicate entry skipped",
				slog.String("source", in.source.ID),
				slog.Int64("id", b.rec.ID),
				slog.Int("index", index))
		}
		in.pool.put(b)
		return nil
	}
	in.seen[b.rec.ID] = struct{}{}

	if suppressed {
		in.result.Suppressed++
		if first(&in.once.suppressionLogged) {
			slog.Info("image carrier entry excluded from search",
				slog.String("source", in.source.ID),
				slog.String("title", b.rec.Title))
		}
	}

	in.pending = append(in.pending, b)
	if len(in.pending) >= in.opts.BatchSize {
		return in.flush(ctx)
	}
	return nil
}

// build fills b from a decoded element.
func (in *Ingester) build(b *builder, v any, index int) (suppressed bool, err error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return false, fmt.Errorf("want object, got %s", kindOf(v))
	}
	e, err := ParseEntry(obj)
	if err != nil {
		return false, err
	}

	position := int64(index)
	if e.Position != nil {
		position = *e.Position
	}
	title := textnorm.Sanitize(e.Title())

	rec := &b.rec
	rec.ID = contentid.RecordID(in.source.ID, e.ID(), title, position)
	rec.Title = title
	rec.Source = in.source.ID
	rec.PageNumber = e.PageNumber

	if e.ContentMarkdown != nil {
		rec.Content = table.Normalize(textnorm.Sanitize(*e.ContentMarkdown), in.opts.TablePolicy)
	}

	var blockText string
	if e.Blocks != nil {
		if arr := blocks.Array(e.Blocks); arr != nil {
			raw, err := blocksJSON(e.Blocks)
			if err != nil {
				return false, fmt.Errorf("field \"blocks\": %w", err)
			}
			rec.ContentBlocksJSON = &raw
			blockText = blocks.JoinedText(arr)
			if len(e.ImageURIs) == 0 {
				for _, blk := range blocks.FromValue(arr) {
					if blk.ImageURI != "" {
						b.uris = append(b.uris, blk.ImageURI)
					}
				}
			}
		}
	}

	var keySource string
	switch {
	case strings.TrimSpace(blockText) != "":
		keySource = blockText
	case e.ContentNormalized != nil && strings.TrimSpace(*e.ContentNormalized) != "":
		keySource = *e.ContentNormalized
	case e.ContentMarkdown != nil:
		keySource = *e.ContentMarkdown
	}

	suppressed = in.opts.Suppression.Matches(e.ID(), title)
	if !suppressed {
		key := textnorm.NormalizeForSearch(keySource)
		rec.ContentNormalized = key
		rec.SearchContent = key
	}

	b.uris = append(b.uris, e.ImageURIs...)
	if len(b.uris) > 0 {
		raw, err := json.Marshal(b.uris)
		if err != nil {
			return false, err
		}
		s := string(raw)
		rec.ImageURIs = &s
	}

	if e.BBox != nil {
		raw, err := json.Marshal(e.BBox)
		if err != nil {
			return false, fmt.Errorf("field \"bbox\": %w", err)
		}
		s := string(raw)
		rec.BBoxJSON = &s
	}

	rec.Category = store.UnassignedCategory
	if e.Category != nil && strings.TrimSpace(*e.Category) != "" {
		rec.Category = strings.TrimSpace(*e.Category)
	} else if in.defaultCategory != "" {
		rec.Category = in.defaultCategory
	}

	b.tags = append(b.tags, e.Tags...)
	rec.Keywords = strings.Join(b.tags, ",")

	return suppressed, nil
}

// blocksJSON re-serializes the blocks payload. Embedded JSON strings are
// stored as their trimmed text.
func blocksJSON(v any) (string, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// flush writes pending records in one batch, returns the builders to the
// pool and then checks for cancellation.
func (in *Ingester) flush(ctx context.Context) error {
	if len(in.pending) > 0 {
		in.records = in.records[:0]
		for _, b := range in.pending {
			in.records = append(in.records, b.rec)
		}

		if err := in.store.UpsertBatch(ctx, in.records); err != nil {
			return err
		}

		in.result.Imported += int64(len(in.records))
		in.result.Batches++
		for i, b := range in.pending {
			in.pool.put(b)
			in.pending[i] = nil
		}
		in.pending = in.pending[:0]
		in.records = in.records[:0]

		in.publish(async.StatusInProgress, "")
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (in *Ingester) skip(reason string) {
	in.result.State = StateDone
	in.result.Status = async.StatusSkipped
	in.publish(async.StatusSkipped, "skipped: "+reason)
	slog.Info("import_skipped",
		slog.String("source", in.source.ID),
		slog.String("reason", reason))
}

// fail records a terminal failure. Committed batches are made searchable
// with a best-effort rebuild that ignores the run's cancellation.
func (in *Ingester) fail(err error) {
	in.result.State = StateFailed
	in.result.Status = async.StatusFailed
	in.result.Err = err

	if in.result.Batches > 0 && kberrors.GetCode(err) != kberrors.ErrCodeStoreWrite {
		if rerr := in.store.RebuildFullTextIndex(context.Background()); rerr != nil {
			slog.Warn("full-text rebuild after failed import failed",
				slog.String("source", in.source.ID),
				slog.String("error", rerr.Error()))
		}
	}

	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "import cancelled"
	}
	in.publish(async.StatusFailed, kberrors.Truncate(msg, kberrors.MaxMessageRunes))

	slog.Error("import_failed",
		slog.String("source", in.source.ID),
		slog.Int64("records_committed", in.result.Imported),
		slog.Int("batches", in.result.Batches),
		slog.String("error", err.Error()))
}

func (in *Ingester) publish(status async.ImportStatus, msg string) {
	if in.opts.Publish == nil {
		return
	}
	p := async.ImportProgress{
		SourceID:      in.source.ID,
		SourceName:    in.source.Name,
		TotalItems:    in.total,
		ImportedItems: in.result.Imported,
		Status:        status,
	}
	p.Percent = async.ComputePercent(p.ImportedItems, p.TotalItems, status)
	if msg != "" {
		p = p.WithMessage(msg)
	}
	in.opts.Publish(p)
}

// structuralError classifies a decoder failure. Syntax and type errors in
// the document structure are schema errors; anything else is I/O.
func structuralError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return kberrors.SchemaError(fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset), err)
	case errors.As(err, &typeErr):
		return kberrors.SchemaError("unexpected JSON type", err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return kberrors.SchemaError("truncated JSON", err)
	default:
		return kberrors.IOError("failed to read input", err)
	}
}
