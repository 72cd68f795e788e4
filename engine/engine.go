package engine

import (
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
)

// TableResolver loads the reference table a join stage names.
type TableResolver func(name string) (*table.Table, error)

// Options tunes stage execution. The zero value runs sequentially.
type Options struct {
	// Workers > 1 evaluates with and filter over row chunks in parallel.
	// Output is identical to sequential execution.
	Workers int
	// JoinPrefix overrides DefaultJoinPrefix for joins without a prefix.
	JoinPrefix string
	// Tables resolves JoinOp.Table.
	Tables TableResolver
}

// Execute runs a full query pipeline on the given input table.
func Execute(query *ast.Query, input *table.Table) (*table.Table, error) {
	return Options{}.Execute(query, input)
}

// Execute runs every stage of query in order.
func (o Options) Execute(query *ast.Query, input *table.Table) (*table.Table, error) {
	current := input
	for i, op := range query.Ops {
		var err error
		current, err = o.Apply(op, current)
		if err != nil {
			return nil, WrapStage(i, op, err)
		}
	}
	return current, nil
}

// WrapStage attaches the stage position and kind to err.
func WrapStage(index int, op ast.Op, err error) error {
	se := &etlerr.StageError{Index: index, Stage: op.Name(), Column: etlerr.ColumnOf(err), Err: err}
	if f, ok := op.(*ast.FilterOp); ok {
		se.Label = f.Label
	}
	return se
}

// Apply runs a single stage. The input table is never modified.
func (o Options) Apply(op ast.Op, t *table.Table) (*table.Table, error) {
	switch op := op.(type) {
	case *ast.WithEntriesOp:
		return o.WithEntries(t, op.Assignments)
	case *ast.FilterOp:
		return o.Filter(t, op.Expr)
	case *ast.DropDuplicatesOp:
		return DropDuplicates(t, op.Columns...)
	case *ast.DropOp:
		return Drop(t, op.Columns...), nil
	case *ast.RenameOp:
		return renamePairs(t, op.Pairs)
	case *ast.SelectOp:
		return Select(t, op.Columns...)
	case *ast.HeadOp:
		return Head(t, op.N)
	case *ast.SortOp:
		return Sort(t, op.Desc, op.Columns...)
	case *ast.AggregateOp:
		return Aggregate(t, op.By, op.Assignments)
	case *ast.JoinOp:
		if o.Tables == nil {
			return nil, etlerr.Configf("join %q: no reference tables available", op.Table)
		}
		right, err := o.Tables(op.Table)
		if err != nil {
			return nil, err
		}
		prefix := op.Prefix
		if prefix == "" {
			prefix = o.JoinPrefix
		}
		return LeftJoin(t, right, op.Keys, prefix)
	case nil:
		return nil, etlerr.Configf("nil stage")
	default:
		return nil, etlerr.Configf("unknown operation type %T", op)
	}
}

// forEachRow calls fn for every row index, in chunks across Workers
// goroutines when configured. The error returned is the one of the
// lowest failing row, as in a sequential run.
func (o Options) forEachRow(n int, fn func(i int) error) error {
	workers := o.Workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	chunk := (n + workers - 1) / workers
	errs := make([]error, workers)
	var g errgroup.Group
	for c := 0; c < workers; c++ {
		lo, hi := c*chunk, (c+1)*chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := fn(i); err != nil {
					errs[c] = err
					return err
				}
			}
			return nil
		})
	}
	if g.Wait() == nil {
		return nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// WithEntries derives columns sequentially.
func WithEntries(t *table.Table, assignments []ast.Assignment) (*table.Table, error) {
	return Options{}.WithEntries(t, assignments)
}

// WithEntries evaluates assignments in declared order for each row; later
// entries see the values written by earlier ones. Existing columns are
// overwritten in place and new columns are appended in order.
func (o Options) WithEntries(t *table.Table, assignments []ast.Assignment) (*table.Table, error) {
	newCols := make([]string, len(t.Columns))
	copy(newCols, t.Columns)
	targets := make([]int, len(assignments)) // index in newCols

	for i, a := range assignments {
		if a.Column == "" {
			return nil, etlerr.Configf("with: empty column name")
		}
		idx := -1
		for j, c := range newCols {
			if c == a.Column {
				idx = j
				break
			}
		}
		if idx < 0 {
			idx = len(newCols)
			newCols = append(newCols, a.Column)
		}
		targets[i] = idx
	}

	result := table.NewTable(newCols)
	result.Rows = make([]table.Row, len(t.Rows))
	err := o.forEachRow(len(t.Rows), func(r int) error {
		vals := make([]table.Value, len(newCols))
		copy(vals, t.Rows[r].Values)
		// Fill new columns with null
		for i := len(t.Rows[r].Values); i < len(newCols); i++ {
			vals[i] = table.Null()
		}
		row := table.Row{Values: vals}
		ctx := &EvalContext{Table: result, Row: &row}
		for i, a := range assignments {
			v, err := Eval(a.Expr, ctx)
			if err != nil {
				return etlerr.WithColumn(a.Column, err)
			}
			vals[targets[i]] = v
		}
		result.Rows[r] = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Filter keeps rows whose predicate is true, sequentially.
func Filter(t *table.Table, pred ast.Expr) (*table.Table, error) {
	return Options{}.Filter(t, pred)
}

// Filter keeps, in order, the rows whose predicate is true. A null result
// drops the row; any other non-boolean result is an evaluation error.
func (o Options) Filter(t *table.Table, pred ast.Expr) (*table.Table, error) {
	keep := make([]bool, len(t.Rows))
	err := o.forEachRow(len(t.Rows), func(r int) error {
		val, err := Eval(pred, RowContext(t, r))
		if err != nil {
			return err
		}
		switch val.Type {
		case table.TypeNull:
		case table.TypeBool:
			keep[r] = val.Bool
		default:
			return etlerr.Evalf("filter: expression did not return boolean, got %s %s", val.Type, val.AsString())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := table.NewTable(copyStrings(t.Columns))
	for r, ok := range keep {
		if ok {
			result.AddRow(copyValues(t.Rows[r].Values))
		}
	}
	return result, nil
}

// DropDuplicates keeps the first row for each distinct combination of keys,
// in first-occurrence order. No keys means whole-row comparison.
func DropDuplicates(t *table.Table, keys ...string) (*table.Table, error) {
	var indices []int
	if len(keys) > 0 {
		var err error
		if indices, err = columnIndices(t, "dedup", keys); err != nil {
			return nil, err
		}
	} else {
		indices = make([]int, len(t.Columns))
		for i := range indices {
			indices[i] = i
		}
	}

	seen := newKeyIndex(len(t.Rows))
	result := table.NewTable(copyStrings(t.Columns))
	for r, row := range t.Rows {
		if _, fresh := seen.insert(groupKey(row, indices), r); fresh {
			result.AddRow(copyValues(row.Values))
		}
	}
	return result, nil
}

// Drop removes columns. Columns the table does not have are ignored.
func Drop(t *table.Table, cols ...string) *table.Table {
	removeSet := make(map[string]bool, len(cols))
	for _, c := range cols {
		removeSet[c] = true
	}

	var keepCols []string
	var keepIndices []int
	for i, c := range t.Columns {
		if !removeSet[c] {
			keepCols = append(keepCols, c)
			keepIndices = append(keepIndices, i)
		}
	}
	if keepCols == nil {
		keepCols = []string{}
	}
	return project(t, keepCols, keepIndices)
}

// Rename renames column from to to.
func Rename(t *table.Table, from, to string) (*table.Table, error) {
	return renamePairs(t, []ast.RenamePair{{Old: from, New: to}})
}

func renamePairs(t *table.Table, pairs []ast.RenamePair) (*table.Table, error) {
	result := t.Clone()
	for _, pair := range pairs {
		if pair.New == "" {
			return nil, etlerr.Configf("rename: empty target name for %q", pair.Old)
		}
		idx := result.ColIndex(pair.Old)
		if idx < 0 {
			return nil, etlerr.WithColumn(pair.Old, etlerr.Schemaf("rename: column %q not found", pair.Old))
		}
		if pair.New == pair.Old {
			continue
		}
		if result.HasColumn(pair.New) {
			return nil, etlerr.WithColumn(pair.New, etlerr.Schemaf("rename: column %q already exists", pair.New))
		}
		result.Columns[idx] = pair.New
	}
	return result, nil
}

// Select projects and orders columns.
func Select(t *table.Table, cols ...string) (*table.Table, error) {
	indices, err := columnIndices(t, "select", cols)
	if err != nil {
		return nil, err
	}
	return project(t, copyStrings(cols), indices), nil
}

// Head returns the first n rows.
func Head(t *table.Table, n int) (*table.Table, error) {
	if n < 0 {
		return nil, etlerr.Configf("head: negative row count %d", n)
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	result := table.NewTable(copyStrings(t.Columns))
	for _, row := range t.Rows[:n] {
		result.AddRow(copyValues(row.Values))
	}
	return result, nil
}

// Sort orders rows stably by cols; nulls sort last in both directions.
func Sort(t *table.Table, desc bool, cols ...string) (*table.Table, error) {
	indices, err := columnIndices(t, "sort", cols)
	if err != nil {
		return nil, err
	}

	result := t.Clone()
	sort.SliceStable(result.Rows, func(i, j int) bool {
		for _, idx := range indices {
			a := result.Rows[i].Values[idx]
			b := result.Rows[j].Values[idx]
			if a.IsNull() || b.IsNull() {
				if a.IsNull() != b.IsNull() {
					return b.IsNull()
				}
				continue
			}
			cmp := compareValues(a, b)
			if cmp != 0 {
				if desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return false
	})
	return result, nil
}

func compareValues(a, b table.Value) int {
	// Numeric comparison
	af, aok := a.Numeric()
	bf, bok := b.Numeric()
	if aok && bok {
		if af < bf {
			return -1
		}
		if af > bf {
			return 1
		}
		return 0
	}

	// String comparison
	return strings.Compare(a.Text(), b.Text())
}

// Aggregate emits one row per distinct combination of by, in first
// occurrence order, followed by the aggregate assignments.
func Aggregate(t *table.Table, by []string, assignments []ast.Assignment) (*table.Table, error) {
	if len(by) == 0 {
		return nil, etlerr.Configf("aggregate: no group columns")
	}
	indices, err := columnIndices(t, "aggregate", by)
	if err != nil {
		return nil, err
	}

	resultCols := copyStrings(by)
	for _, a := range assignments {
		for _, c := range resultCols {
			if c == a.Column {
				return nil, etlerr.WithColumn(a.Column, etlerr.Schemaf("aggregate: duplicate output column %q", a.Column))
			}
		}
		resultCols = append(resultCols, a.Column)
	}

	// Build groups preserving order
	var groups []*table.Table
	index := newKeyIndex(len(t.Rows))
	for _, row := range t.Rows {
		gi, fresh := index.insert(groupKey(row, indices), len(groups))
		if fresh {
			groups = append(groups, table.NewTable(t.Columns))
		}
		groups[gi].AddRow(copyValues(row.Values))
	}

	result := table.NewTable(resultCols)
	for _, g := range groups {
		vals := make([]table.Value, len(resultCols))
		for i, idx := range indices {
			vals[i] = g.Rows[0].Values[idx]
		}
		for i, a := range assignments {
			v, err := EvalAggregate(a.Expr, g)
			if err != nil {
				return nil, etlerr.WithColumn(a.Column, err)
			}
			vals[len(by)+i] = v
		}
		result.AddRow(vals)
	}
	return result, nil
}

// --- Helpers ---

func columnIndices(t *table.Table, stage string, cols []string) ([]int, error) {
	indices := make([]int, len(cols))
	for i, c := range cols {
		idx := t.ColIndex(c)
		if idx < 0 {
			return nil, etlerr.WithColumn(c, etlerr.Schemaf("%s: column %q not found", stage, c))
		}
		indices[i] = idx
	}
	return indices, nil
}

func project(t *table.Table, cols []string, indices []int) *table.Table {
	result := table.NewTable(cols)
	for _, row := range t.Rows {
		vals := make([]table.Value, len(indices))
		for i, idx := range indices {
			vals[i] = cell(row, idx)
		}
		result.AddRow(vals)
	}
	return result
}

func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func copyValues(v []table.Value) []table.Value {
	out := make([]table.Value, len(v))
	copy(out, v)
	return out
}
