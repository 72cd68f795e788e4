// Package pipeline composes a source, an ordered list of stages and a sink
// into a runnable job.
//
// A Builder is immutable: every stage method returns a new Builder and
// leaves the receiver untouched, so a common prefix can be shared between
// pipelines. Nothing runs until Pipeline.Run, which executes stages in
// the order they were appended and hands the final table to the sink only
// when every stage succeeded. A Pipeline runs at most once; a second Run
// fails with etlerr.ErrLifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/engine"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/logging"
	"github.com/razeghi71/feedflow/metrics"
	"github.com/razeghi71/feedflow/table"
)

// Source produces the table a pipeline starts from, or the right side of
// a join.
type Source interface {
	Read(ctx context.Context) (*table.Table, error)
}

// Sink consumes the final table.
type Sink interface {
	Write(ctx context.Context, t *table.Table) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*table.Table, error)

func (f SourceFunc) Read(ctx context.Context) (*table.Table, error) { return f(ctx) }

// Resolver maps the table name of a parsed join stage to a Source.
type Resolver func(name string) (Source, error)

type stage struct {
	op    ast.Op
	right Source // join stages only; nil means resolve op.Table
}

// Builder accumulates stages. The zero value has no source; use New.
type Builder struct {
	name    string
	source  Source
	stages  []stage
	sink    Sink
	workers int
	prefix  string
	resolve Resolver
	log     *logging.Logger
}

// New starts a pipeline reading from source.
func New(source Source) Builder {
	return Builder{name: "pipeline", source: source}
}

func (b Builder) with(st stage) Builder {
	b.stages = append(slices.Clip(b.stages), st)
	return b
}

// Named sets the job name used in logs and metrics.
func (b Builder) Named(name string) Builder {
	b.name = name
	return b
}

// WithLogger sets the logger. The default discards output.
func (b Builder) WithLogger(l *logging.Logger) Builder {
	b.log = l
	return b
}

// WithWorkers evaluates row-wise stages over n goroutines. Output is the
// same as with a single worker.
func (b Builder) WithWorkers(n int) Builder {
	b.workers = n
	return b
}

// WithJoinPrefix replaces engine.DefaultJoinPrefix for joins that do not
// set their own prefix.
func (b Builder) WithJoinPrefix(prefix string) Builder {
	b.prefix = prefix
	return b
}

// WithResolver sets how join stages added through Apply find their
// right-hand table.
func (b Builder) WithResolver(r Resolver) Builder {
	b.resolve = r
	return b
}

// WithEntries derives columns in order; later entries see earlier ones.
func (b Builder) WithEntries(entries ...ast.Assignment) Builder {
	return b.with(stage{op: &ast.WithEntriesOp{Assignments: slices.Clone(entries)}})
}

// WithEntry derives a single column.
func (b Builder) WithEntry(column string, expr ast.Expr) Builder {
	return b.WithEntries(ast.Assignment{Column: column, Expr: expr})
}

// Filter keeps rows for which pred is true.
func (b Builder) Filter(pred ast.Expr) Builder {
	return b.FilterLabeled("", pred)
}

// FilterLabeled is Filter with a label reported in stage stats and errors.
func (b Builder) FilterLabeled(label string, pred ast.Expr) Builder {
	return b.with(stage{op: &ast.FilterOp{Expr: pred, Label: label}})
}

// DropDuplicates keeps the first row of each distinct key combination.
// With no keys whole rows are compared.
func (b Builder) DropDuplicates(keys ...string) Builder {
	return b.with(stage{op: &ast.DropDuplicatesOp{Columns: slices.Clone(keys)}})
}

// Drop removes columns; absent columns are ignored.
func (b Builder) Drop(columns ...string) Builder {
	return b.with(stage{op: &ast.DropOp{Columns: slices.Clone(columns)}})
}

// Rename renames one column.
func (b Builder) Rename(from, to string) Builder {
	return b.with(stage{op: &ast.RenameOp{Pairs: []ast.RenamePair{{Old: from, New: to}}}})
}

// Select keeps only the given columns, in the given order.
func (b Builder) Select(columns ...string) Builder {
	return b.with(stage{op: &ast.SelectOp{Columns: slices.Clone(columns)}})
}

// Head keeps the first n rows.
func (b Builder) Head(n int) Builder {
	return b.with(stage{op: &ast.HeadOp{N: n}})
}

// Sort orders rows by columns; nulls sort last.
func (b Builder) Sort(desc bool, columns ...string) Builder {
	return b.with(stage{op: &ast.SortOp{Columns: slices.Clone(columns), Desc: desc}})
}

// Aggregate groups by the given columns and computes one row per group.
func (b Builder) Aggregate(by []string, assignments ...ast.Assignment) Builder {
	return b.with(stage{op: &ast.AggregateOp{By: slices.Clone(by), Assignments: slices.Clone(assignments)}})
}

// Join left-joins right on keys. Right columns are added with prefix, or
// the pipeline default when prefix is empty.
func (b Builder) Join(right Source, keys []ast.JoinKey, prefix string) Builder {
	name := "right"
	if s, ok := right.(fmt.Stringer); ok {
		name = s.String()
	}
	return b.with(stage{op: &ast.JoinOp{Table: name, Keys: slices.Clone(keys), Prefix: prefix}, right: right})
}

// Apply appends parsed stages. Join stages are resolved through the
// Resolver at run time.
func (b Builder) Apply(ops ...ast.Op) Builder {
	for _, op := range ops {
		b = b.with(stage{op: op})
	}
	return b
}

// WriteTo binds the sink. A pipeline without a sink only returns its
// result table.
func (b Builder) WriteTo(sink Sink) Builder {
	b.sink = sink
	return b
}

// Build checks the definition and freezes it. Expressions are checked for
// unknown functions and misplaced aggregates here rather than mid-run.
func (b Builder) Build() (*Pipeline, error) {
	if b.source == nil {
		return nil, etlerr.Configf("pipeline %s: no source", b.name)
	}
	for i, st := range b.stages {
		if st.op == nil {
			return nil, etlerr.Configf("stage %d: nil operation", i)
		}
		if err := b.check(st); err != nil {
			return nil, engine.WrapStage(i, st.op, err)
		}
	}
	log := b.log
	if log == nil {
		log = logging.Nop()
	}
	return &Pipeline{
		name:    b.name,
		source:  b.source,
		stages:  slices.Clone(b.stages),
		sink:    b.sink,
		resolve: b.resolve,
		opts:    engine.Options{Workers: b.workers, JoinPrefix: b.prefix},
		log:     log,
	}, nil
}

func (b Builder) check(st stage) error {
	switch op := st.op.(type) {
	case *ast.WithEntriesOp:
		if len(op.Assignments) == 0 {
			return etlerr.Configf("no entries")
		}
		return checkAssignments(op.Assignments, false)
	case *ast.AggregateOp:
		return checkAssignments(op.Assignments, true)
	case *ast.FilterOp:
		if op.Expr == nil {
			return etlerr.Configf("filter without predicate")
		}
		return engine.Check(op.Expr, false)
	case *ast.RenameOp:
		for _, p := range op.Pairs {
			if p.Old == "" || p.New == "" {
				return etlerr.Configf("rename needs both names, got %q -> %q", p.Old, p.New)
			}
		}
	case *ast.HeadOp:
		if op.N < 0 {
			return etlerr.Configf("head: negative row count %d", op.N)
		}
	case *ast.JoinOp:
		if len(op.Keys) == 0 {
			return etlerr.Configf("join %s: no key columns", op.Table)
		}
		if st.right == nil && b.resolve == nil {
			return etlerr.Configf("join %s: no source for the right table", op.Table)
		}
	}
	return nil
}

func checkAssignments(assignments []ast.Assignment, aggregate bool) error {
	for _, a := range assignments {
		if a.Column == "" {
			return etlerr.Configf("entry without a column name")
		}
		if a.Expr == nil {
			return etlerr.WithColumn(a.Column, etlerr.Configf("entry without an expression"))
		}
		if err := engine.Check(a.Expr, aggregate); err != nil {
			return etlerr.WithColumn(a.Column, err)
		}
	}
	return nil
}

// Pipeline is a built, single-use job.
type Pipeline struct {
	name    string
	source  Source
	stages  []stage
	sink    Sink
	resolve Resolver
	opts    engine.Options
	log     *logging.Logger
	ran     atomic.Bool
}

// Name returns the job name.
func (p *Pipeline) Name() string { return p.name }

// StageStats describes one executed stage.
type StageStats struct {
	Index    int
	Stage    string
	Label    string
	RowsIn   int
	RowsOut  int
	Duration time.Duration
}

// Dropped is the number of rows the stage removed.
func (s StageStats) Dropped() int {
	if s.RowsOut > s.RowsIn {
		return 0
	}
	return s.RowsIn - s.RowsOut
}

// Result summarizes a run.
type Result struct {
	RunID       string
	RowsRead    int
	Stages      []StageStats
	RowsWritten int
	Duration    time.Duration
	// Table is the final table, nil when the run failed.
	Table *table.Table
}

// Run executes the pipeline. The returned Result is never nil and holds
// the stats of the stages that completed, even on failure.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	if !p.ran.CompareAndSwap(false, true) {
		return res, fmt.Errorf("%w: pipeline %s has already run", etlerr.ErrLifecycle, p.name)
	}

	log := p.log.With("run_id", res.RunID, "pipeline", p.name)
	start := time.Now()
	err := p.run(ctx, log, res)
	res.Duration = time.Since(start)
	metrics.RecordRun(p.name, err)

	if err != nil {
		log.Error("run failed", failureFields(err)...)
		return res, err
	}
	log.Info("run finished",
		"rows_read", res.RowsRead,
		"rows_written", res.RowsWritten,
		"stages", len(res.Stages),
		"duration", res.Duration,
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *logging.Logger, res *Result) error {
	start := time.Now()
	current, err := p.source.Read(ctx)
	metrics.RecordStep(p.name, "source", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	res.RowsRead = current.Len()
	metrics.RecordRow(p.name, "read", int64(res.RowsRead))
	log.Debug("source read", "rows", res.RowsRead, "columns", len(current.Columns))

	for i, st := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		next, err := p.apply(ctx, st, current)
		d := time.Since(start)
		metrics.RecordStep(p.name, st.op.Name(), err, d)
		if err != nil {
			return engine.WrapStage(i, st.op, err)
		}

		stats := StageStats{
			Index:    i,
			Stage:    st.op.Name(),
			RowsIn:   current.Len(),
			RowsOut:  next.Len(),
			Duration: d,
		}
		if f, ok := st.op.(*ast.FilterOp); ok {
			stats.Label = f.Label
		}
		res.Stages = append(res.Stages, stats)
		metrics.RecordRow(p.name, "dropped", int64(stats.Dropped()))
		log.Debug("stage finished",
			"index", i,
			"stage", stats.Stage,
			"label", stats.Label,
			"rows_in", stats.RowsIn,
			"rows_out", stats.RowsOut,
			"duration", d,
		)
		current = next
	}

	if p.sink != nil {
		start := time.Now()
		err := p.sink.Write(ctx, current)
		metrics.RecordStep(p.name, "sink", err, time.Since(start))
		if err != nil {
			return fmt.Errorf("sink: %w", err)
		}
		res.RowsWritten = current.Len()
		metrics.RecordRow(p.name, "written", int64(res.RowsWritten))
	}
	res.Table = current
	return nil
}

func (p *Pipeline) apply(ctx context.Context, st stage, t *table.Table) (*table.Table, error) {
	join, ok := st.op.(*ast.JoinOp)
	if !ok {
		return p.opts.Apply(st.op, t)
	}

	src := st.right
	if src == nil {
		var err error
		if src, err = p.resolve(join.Table); err != nil {
			return nil, err
		}
	}
	right, err := src.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", join.Table, err)
	}
	prefix := join.Prefix
	if prefix == "" {
		prefix = p.opts.JoinPrefix
	}
	return engine.LeftJoin(t, right, join.Keys, prefix)
}

func failureFields(err error) []any {
	fields := []any{"error", err}
	var se *etlerr.StageError
	if errors.As(err, &se) {
		fields = append(fields, "stage", se.Stage, "index", se.Index)
		if se.Label != "" {
			fields = append(fields, "label", se.Label)
		}
		if se.Column != "" {
			fields = append(fields, "column", se.Column)
		}
	}
	return fields
}
