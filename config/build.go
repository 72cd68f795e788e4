package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/engine"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/loader"
	"github.com/razeghi71/feedflow/logging"
	"github.com/razeghi71/feedflow/parser"
	"github.com/razeghi71/feedflow/pipeline"
	"github.com/razeghi71/feedflow/refdb"
	"github.com/razeghi71/feedflow/sink"
)

// IssueSeverity represents the severity of a job definition issue.
type IssueSeverity string

const (
	// SeverityError blocks Build.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block Build.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one finding of Validate. Path is a dotted path into the job,
// e.g. "stages[2].with.PRICE".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks the job without touching any file or database:
// required fields, expression syntax, unknown functions and misplaced
// aggregates.
func (j *Job) Validate() []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(j.Name) == "" {
		add(SeverityWarning, "name", "job has no name; logs and metrics will use %q", "pipeline")
	}
	issues = append(issues, validateSource("source", j.Source)...)
	if j.Workers < 0 {
		add(SeverityError, "workers", "must not be negative")
	}

	if len(j.Stages) == 0 {
		add(SeverityWarning, "stages", "no stages; the source is copied as is")
	}
	for i, st := range j.Stages {
		path := stagePath(i, st.Kind)
		switch st.Kind {
		case "with":
			if len(st.Entries) == 0 {
				add(SeverityError, path, "no entries")
			}
			if _, err := compileEntries(st.Entries, false); err != nil {
				add(SeverityError, path+"."+etlerr.ColumnOf(err), "%v", errors.Unwrap(err))
			}
		case "aggregate":
			if len(st.Columns) == 0 {
				add(SeverityError, path+".by", "no group columns")
			}
			if _, err := compileEntries(st.Entries, true); err != nil {
				add(SeverityError, path+"."+etlerr.ColumnOf(err), "%v", errors.Unwrap(err))
			}
		case "filter":
			if _, err := compileExpr(st.Expr, false); err != nil {
				add(SeverityError, path, "%v", err)
			}
		case "select", "sort":
			if len(st.Columns) == 0 {
				add(SeverityError, path, "no columns")
			}
		case "drop":
			if len(st.Columns) == 0 {
				add(SeverityWarning, path, "no columns; stage has no effect")
			}
		case "rename":
			if len(st.Renames) == 0 {
				add(SeverityError, path, "no columns to rename")
			}
			for _, p := range st.Renames {
				if p.New == "" {
					add(SeverityError, path+"."+p.Old, "empty target name")
				}
			}
		case "head":
			if st.N < 0 {
				add(SeverityError, path, "negative row count %d", st.N)
			}
		case "join":
			if st.Join == nil {
				add(SeverityError, path, "missing join definition")
				continue
			}
			issues = append(issues, validateSource(path+".source", st.Join.Source)...)
			if len(st.Join.On) == 0 {
				add(SeverityError, path+".on", "no key columns")
			}
			for _, k := range st.Join.On {
				if k.Left == "" || k.Right == "" {
					add(SeverityError, path+".on", "empty key column")
				}
			}
		case "query":
			if _, err := compileQuery(st.Query); err != nil {
				add(SeverityError, path, "%v", err)
			}
		}
	}

	if j.Sink == nil {
		add(SeverityWarning, "sink", "no sink; results are discarded")
	} else {
		if _, err := sink.For(j.Sink.Path, j.Sink.Header, j.Sink.Overwrite); err != nil {
			add(SeverityError, "sink.path", "%v", err)
		}
		if j.Sink.Delimiter != "" && utf8.RuneCountInString(j.Sink.Delimiter) != 1 {
			add(SeverityError, "sink.delimiter", "must be a single character, got %q", j.Sink.Delimiter)
		}
	}
	return issues
}

func validateSource(path string, s SourceSpec) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, p, msg string) {
		issues = append(issues, Issue{Severity: sev, Path: p, Message: msg})
	}
	switch s.kind() {
	case "file":
		if s.Path == "" {
			add(SeverityError, path+".path", "file source requires a path")
		}
	case "xml":
		if s.Path == "" {
			add(SeverityError, path+".path", "xml source requires a path")
		}
		if strings.Trim(s.NodeSelector, "/ ") == "" {
			add(SeverityError, path+".node_selector", "xml source requires a node selector such as products/product")
		}
	case "records":
		if len(s.Records) == 0 {
			add(SeverityWarning, path+".records", "no records; the table is empty")
		}
	case "sql":
		if strings.TrimSpace(s.Query) == "" {
			add(SeverityError, path+".query", "sql source requires a query")
		}
		if s.Database == "" && (s.Driver == "" || s.DSN == "") {
			add(SeverityError, path, "sql source requires a database name or a driver and dsn")
		}
	default:
		add(SeverityError, path+".type", fmt.Sprintf("unknown source type %q (want file, xml, records or sql)", s.Type))
	}
	return issues
}

// Build validates the job and compiles it into a pipeline. app supplies
// named databases and engine defaults; nil means Default().
func (j *Job) Build(app *Config, log *logging.Logger) (*pipeline.Pipeline, error) {
	if app == nil {
		app = Default()
	}
	if issues := j.Validate(); HasErrors(issues) {
		var errs []error
		for _, iss := range issues {
			if iss.Severity == SeverityError {
				errs = append(errs, iss)
			}
		}
		return nil, fmt.Errorf("%w: job %s: %w", etlerr.ErrConfiguration, j.Name, errors.Join(errs...))
	}

	src, err := j.newSource(app, j.Source)
	if err != nil {
		return nil, fmt.Errorf("job %s: source: %w", j.Name, err)
	}
	workers := j.Workers
	if workers == 0 {
		workers = app.Engine.Workers
	}
	b := pipeline.New(src).
		Named(j.Name).
		WithLogger(log).
		WithWorkers(workers).
		WithJoinPrefix(app.Engine.JoinPrefix).
		WithResolver(func(name string) (pipeline.Source, error) {
			return loader.File{Path: j.Path(name)}, nil
		})

	for i, st := range j.Stages {
		b, err = j.addStage(app, b, st)
		if err != nil {
			return nil, fmt.Errorf("job %s: %s: %w", j.Name, stagePath(i, st.Kind), err)
		}
	}

	if j.Sink != nil {
		out, err := j.newSink(*j.Sink)
		if err != nil {
			return nil, fmt.Errorf("job %s: sink: %w", j.Name, err)
		}
		b = b.WriteTo(out)
	}
	return b.Build()
}

func (j *Job) addStage(app *Config, b pipeline.Builder, st Stage) (pipeline.Builder, error) {
	switch st.Kind {
	case "with":
		entries, err := compileEntries(st.Entries, false)
		if err != nil {
			return b, err
		}
		return b.WithEntries(entries...), nil
	case "filter":
		pred, err := compileExpr(st.Expr, false)
		if err != nil {
			return b, err
		}
		return b.FilterLabeled(st.Label, pred), nil
	case "dedup":
		return b.DropDuplicates(st.Columns...), nil
	case "drop":
		return b.Drop(st.Columns...), nil
	case "select":
		return b.Select(st.Columns...), nil
	case "head":
		return b.Head(st.N), nil
	case "sort":
		return b.Sort(st.Desc, st.Columns...), nil
	case "rename":
		return b.Apply(&ast.RenameOp{Pairs: st.Renames}), nil
	case "aggregate":
		entries, err := compileEntries(st.Entries, true)
		if err != nil {
			return b, err
		}
		return b.Aggregate(st.Columns, entries...), nil
	case "join":
		right, err := j.newSource(app, st.Join.Source)
		if err != nil {
			return b, err
		}
		return b.Join(right, st.Join.On, st.Join.Prefix), nil
	case "query":
		ops, err := compileQuery(st.Query)
		if err != nil {
			return b, err
		}
		return b.Apply(ops...), nil
	default:
		return b, etlerr.Configf("unknown stage %q", st.Kind)
	}
}

func (j *Job) newSource(app *Config, s SourceSpec) (pipeline.Source, error) {
	switch s.kind() {
	case "file":
		return loader.File{Path: j.Path(s.Path)}, nil
	case "xml":
		return loader.XMLNodes{Path: j.Path(s.Path), NodeSelector: s.NodeSelector, Column: s.Column}, nil
	case "records":
		return loader.Records(s.Records), nil
	case "sql":
		driver, dsn := s.Driver, s.DSN
		if s.Database != "" {
			// viper lower-cases map keys
			db, ok := app.Databases[strings.ToLower(s.Database)]
			if !ok {
				return nil, etlerr.Configf("unknown database %q", s.Database)
			}
			driver, dsn = db.Driver, db.DSN
		}
		if driver == "sqlite" && !strings.Contains(dsn, ":") {
			dsn = j.Path(dsn)
		}
		if err := refdb.Check(driver, dsn); err != nil {
			return nil, err
		}
		return refdb.Query{Driver: driver, DSN: dsn, SQL: s.Query}, nil
	default:
		return nil, etlerr.Configf("unknown source type %q", s.Type)
	}
}

func (j *Job) newSink(s SinkSpec) (pipeline.Sink, error) {
	out, err := sink.For(j.Path(s.Path), s.Header, s.Overwrite)
	if err != nil {
		return nil, err
	}
	if c, ok := out.(sink.CSV); ok && s.Delimiter != "" {
		c.Delimiter, _ = utf8.DecodeRuneInString(s.Delimiter)
		return c, nil
	}
	return out, nil
}

func compileExpr(src string, aggregate bool) (ast.Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, etlerr.Configf("empty expression")
	}
	e, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", etlerr.ErrConfiguration, src, err)
	}
	if err := engine.Check(e, aggregate); err != nil {
		return nil, err
	}
	return e, nil
}

func compileEntries(entries Entries, aggregate bool) ([]ast.Assignment, error) {
	out := make([]ast.Assignment, 0, len(entries))
	for _, e := range entries {
		expr, err := compileExpr(e.Expr, aggregate)
		if err != nil {
			return nil, etlerr.WithColumn(e.Column, err)
		}
		out = append(out, ast.Assignment{Column: e.Column, Expr: expr})
	}
	return out, nil
}

// compileQuery parses a pipe fragment such as "filter { PRICE > 0 } | head 5".
func compileQuery(fragment string) ([]ast.Op, error) {
	if strings.TrimSpace(fragment) == "" {
		return nil, etlerr.Configf("empty query")
	}
	q, err := parser.Parse("input | " + fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", etlerr.ErrConfiguration, err)
	}
	return q.Ops, nil
}
