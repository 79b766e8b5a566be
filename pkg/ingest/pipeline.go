// Package ingest registers source table files in a lake.
//
// AddTable runs a fixed sequence of steps as an explicit state machine:
//
//	Start -> StructureEnsured -> IDAssigned -> SchemaInspected ->
//	FilesCopied -> CatalogCommitted -> VersionNotified
//
// with Aborted reachable from every non-terminal state. Files are copied
// into place before the catalog may reference them, and the catalog is
// committed before version control hears about the table.
package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
	"github.com/logflow/datalake/pkg/ingest/schema"
	"github.com/logflow/datalake/pkg/storage/catalog"
	"github.com/logflow/datalake/pkg/storage/layout"
	"github.com/logflow/datalake/pkg/telemetry"
	"github.com/logflow/datalake/pkg/validation"
	"github.com/logflow/datalake/pkg/vcs"
)

// Store is the catalog persistence used by the pipeline.
type Store interface {
	Load() (*catalog.Catalog, error)
	Commit(cat *catalog.Catalog, entry catalog.Entry) (*catalog.Catalog, error)
}

// Result describes a successful ingestion.
type Result struct {
	RunID string
	Entry catalog.Entry
	State State
	// Warning is set when the table was committed but version control was
	// not notified.
	Warning  error
	Duration time.Duration
}

// Pipeline ingests tables into one lake root. It is safe for concurrent use.
// Runs against the same root are serialized from catalog load through
// commit, across every Pipeline in the process.
type Pipeline struct {
	root      string
	store     Store
	inspector schema.Inspector
	recorder  vcs.Recorder
	message   string

	log          zerolog.Logger
	now          func() time.Time
	onTransition func(Transition)
	progress     func(label string, size int64) io.Writer

	mu *sync.Mutex
}

// rootLocks holds one mutex per cleaned absolute lake root.
var rootLocks sync.Map

func lockFor(root string) *sync.Mutex {
	key := filepath.Clean(root)
	if abs, err := filepath.Abs(root); err == nil {
		key = abs
	}
	mu, _ := rootLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore replaces the file catalog store.
func WithStore(s Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithRecorder sets the version-control recorder. The default records nothing.
func WithRecorder(r vcs.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithMessageTemplate sets the commit message template; see vcs.Message.
func WithMessageTemplate(tmpl string) Option {
	return func(p *Pipeline) { p.message = tmpl }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithClock sets the time source for created_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// OnTransition registers an observer called on every state change. It runs
// with the pipeline lock held and must not call AddTable.
func OnTransition(fn func(Transition)) Option {
	return func(p *Pipeline) { p.onTransition = fn }
}

// WithCopyProgress sets a factory for a writer that receives the bytes of
// the data file as it is copied.
func WithCopyProgress(fn func(label string, size int64) io.Writer) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// NewPipeline creates a pipeline for the lake at root.
func NewPipeline(root string, inspector schema.Inspector, opts ...Option) *Pipeline {
	p := &Pipeline{
		root:      root,
		inspector: inspector,
		recorder:  vcs.Noop{},
		message:   vcs.DefaultMessageTemplate,
		log:       zerolog.Nop(),
		now:       time.Now,
		mu:        lockFor(root),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = catalog.NewStore(root, p.log)
	}
	return p
}

// Root returns the lake root.
func (p *Pipeline) Root() string {
	return p.root
}

// AddTable ingests sourcePath as logicalName with the markdown description
// at descriptionPath. An empty descriptionPath writes a stub description.
//
// Cancellation of ctx is honored until copying starts; from then on the run
// completes or aborts on its own. A version-control failure does not fail
// the call: the Result carries it as Warning.
func (p *Pipeline) AddTable(ctx context.Context, logicalName, sourcePath, descriptionPath string) (*Result, error) {
	r := &run{
		p:     p,
		id:    uuid.NewString(),
		name:  logicalName,
		state: StateStart,
		table: -1,
		start: time.Now(),
	}
	r.log = p.log.With().Str("run_id", r.id).Str("table", logicalName).Logger()

	ctx, span := telemetry.StartSpan(ctx, "datalake.add_table",
		attribute.String("run_id", r.id),
		attribute.String("table", logicalName),
		attribute.String("source", sourcePath),
	)
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := r.execute(ctx, sourcePath, descriptionPath)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return res, nil
}

// run carries the state of one AddTable call.
type run struct {
	p     *Pipeline
	id    string
	name  string
	state State
	table int64
	start time.Time
	log   zerolog.Logger

	// copied holds absolute paths written so far, removed on abort.
	copied []string
}

func (r *run) execute(ctx context.Context, sourcePath, descriptionPath string) (*Result, error) {
	p := r.p

	// Start -> StructureEnsured
	if err := r.checkCanceled(ctx); err != nil {
		return nil, r.abort(ctx, err)
	}
	if err := layout.EnsureStructure(p.root); err != nil {
		return nil, r.abort(ctx, err)
	}
	r.advance(ctx, StateStructureEnsured)

	// StructureEnsured -> IDAssigned
	if err := r.checkCanceled(ctx); err != nil {
		return nil, r.abort(ctx, err)
	}
	cat, err := p.store.Load()
	if err != nil {
		return nil, r.abort(ctx, err)
	}
	id, err := catalog.AssignID(cat, r.name)
	if err != nil {
		return nil, r.abort(ctx, err)
	}
	r.table = id
	r.log = r.log.With().Int64("id", id).Logger()
	telemetry.SetSpanAttributes(ctx, attribute.Int64("table.id", id))
	r.advance(ctx, StateIDAssigned)

	// IDAssigned -> SchemaInspected
	if err := r.checkCanceled(ctx); err != nil {
		return nil, r.abort(ctx, err)
	}
	sch, err := p.inspector.Inspect(ctx, sourcePath)
	if err != nil {
		if ctx.Err() != nil {
			err = lakeerrors.ContextCanceled(StateSchemaInspected.Step(), ctx.Err())
		}
		return nil, r.abort(ctx, err)
	}
	r.advance(ctx, StateSchemaInspected)

	// SchemaInspected -> FilesCopied. Last point at which ctx is honored.
	if err := r.checkCanceled(ctx); err != nil {
		return nil, r.abort(ctx, err)
	}
	if descriptionPath != "" {
		if _, err := validation.SourceFile(descriptionPath); err != nil {
			return nil, r.abort(ctx, err)
		}
	}
	ctx = context.WithoutCancel(ctx)

	paths := layout.DestinationPaths(id, sch.Format)
	size, err := r.copyFiles(sourcePath, descriptionPath, paths)
	if err != nil {
		return nil, r.abort(ctx, err)
	}
	r.advance(ctx, StateFilesCopied)

	// FilesCopied -> CatalogCommitted
	entry := catalog.Entry{
		ID:              id,
		LogicalName:     r.name,
		DataPath:        paths.Data,
		DescriptionPath: paths.Description,
		Format:          sch.Format,
		Schema:          sch.Columns,
		CreatedAt:       p.now().UTC().Truncate(time.Second),
		SourceFile:      filepath.Base(sourcePath),
		SizeBytes:       size,
	}
	if _, err := p.store.Commit(cat, entry); err != nil {
		return nil, r.abort(ctx, err)
	}
	r.copied = nil
	r.advance(ctx, StateCatalogCommitted)

	// CatalogCommitted -> VersionNotified
	res := &Result{RunID: r.id, Entry: entry}
	changed := []string{
		paths.Data,
		paths.Description,
		filepath.ToSlash(filepath.Join(layout.MetadataDir, layout.CatalogFile)),
		filepath.ToSlash(filepath.Join(layout.MetadataDir, layout.NameIndexFile)),
	}
	if err := p.recorder.RecordChange(ctx, changed, vcs.Message(p.message, r.name, id)); err != nil {
		warn := lakeerrors.Wrap(err, lakeerrors.CodeVersionControl, "table committed without version control record").
			WithContext("step", StateVersionNotified.Step())
		r.log.Warn().Err(err).Msg("version control not notified")
		telemetry.AddSpanEvent(ctx, "vcs.failed", attribute.String("error", err.Error()))
		res.Warning = warn
	}
	r.advance(ctx, StateVersionNotified)

	res.State = r.state
	res.Duration = time.Since(r.start)
	r.log.Info().
		Str("data_path", entry.DataPath).
		Str("format", entry.Format.String()).
		Strs("columns", sch.Names()).
		Dur("duration", res.Duration).
		Msg("table added")
	return res, nil
}

// copyFiles copies the data file and the description concurrently and
// returns the size of the data file.
func (r *run) copyFiles(sourcePath, descriptionPath string, paths layout.Paths) (int64, error) {
	dataDst := layout.Abs(r.p.root, paths.Data)
	descDst := layout.Abs(r.p.root, paths.Description)
	r.copied = []string{dataDst, descDst}

	var progress io.Writer
	if r.p.progress != nil {
		info, err := validation.SourceFile(sourcePath)
		if err != nil {
			return 0, err
		}
		progress = r.p.progress(r.name, info.Size())
	}

	var size int64
	var g errgroup.Group
	g.Go(func() error {
		n, err := copyFile(sourcePath, dataDst, progress)
		size = n
		return err
	})
	g.Go(func() error {
		if descriptionPath == "" {
			_, err := writeStub(descDst, r.name)
			return err
		}
		_, err := copyFile(descriptionPath, descDst, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return size, nil
}

func (r *run) checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return lakeerrors.ContextCanceled((r.state + 1).Step(), err)
	}
	return nil
}

func (r *run) advance(ctx context.Context, to State) {
	if !r.state.CanTransition(to) {
		panic("ingest: invalid transition " + r.state.String() + " -> " + to.String())
	}
	from := r.state
	r.state = to

	r.log.Debug().Str("from", from.String()).Str("state", to.String()).Msg("transition")
	telemetry.AddSpanEvent(ctx, "state",
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)
	if r.p.onTransition != nil {
		r.p.onTransition(Transition{
			RunID: r.id,
			Table: r.name,
			From:  from,
			To:    to,
			ID:    r.table,
		})
	}
}

// abort records the failing step on err, removes copied files and moves the
// run to Aborted.
func (r *run) abort(ctx context.Context, err error) error {
	step := (r.state + 1).Step()

	var lakeErr *lakeerrors.LakeError
	if !errors.As(err, &lakeErr) {
		lakeErr = lakeerrors.Wrap(err, lakeerrors.CodeUnknown, "ingestion failed")
		err = lakeErr
	}
	if lakeErr.Step() == "" {
		lakeErr.WithContext("step", step)
	}

	if len(r.copied) > 0 {
		if rmErr := removeFiles(r.copied...); rmErr != nil {
			r.log.Error().Err(rmErr).Strs("paths", r.copied).Msg("failed to remove copied files")
		}
		r.copied = nil
	}

	from := r.state
	r.state = StateAborted
	r.log.Error().Err(err).Str("from", from.String()).Str("step", step).Msg("ingestion aborted")
	telemetry.AddSpanEvent(ctx, "state",
		attribute.String("from", from.String()),
		attribute.String("to", StateAborted.String()),
	)
	if r.p.onTransition != nil {
		r.p.onTransition(Transition{
			RunID: r.id,
			Table: r.name,
			From:  from,
			To:    StateAborted,
			ID:    r.table,
			Err:   err,
		})
	}
	return err
}
