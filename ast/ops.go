package ast

// --- Operations (pipeline stages) ---

// Op represents a single stage in the pipeline.
type Op interface {
	opNode()
	// Name is the stage kind as shown in logs and errors.
	Name() string
}

// SourceOp represents the input file reference of a query.
type SourceOp struct {
	Filename string
}

// WithEntriesOp derives columns; entries run in order and later entries
// see the values of earlier ones.
type WithEntriesOp struct {
	Assignments []Assignment
}

func (o *WithEntriesOp) opNode()      {}
func (o *WithEntriesOp) Name() string { return "with" }

// FilterOp keeps the rows where Expr is true. Label names the filter in
// run statistics.
type FilterOp struct {
	Expr  Expr
	Label string
}

func (o *FilterOp) opNode()      {}
func (o *FilterOp) Name() string { return "filter" }

// DropDuplicatesOp keeps the first row for each distinct key.
type DropDuplicatesOp struct {
	Columns []string
}

func (o *DropDuplicatesOp) opNode()      {}
func (o *DropDuplicatesOp) Name() string { return "dedup" }

// DropOp removes columns; unknown columns are ignored.
type DropOp struct {
	Columns []string
}

func (o *DropOp) opNode()      {}
func (o *DropOp) Name() string { return "drop" }

// RenameOp renames columns.
type RenameOp struct {
	Pairs []RenamePair
}

type RenamePair struct {
	Old string
	New string
}

func (o *RenameOp) opNode()      {}
func (o *RenameOp) Name() string { return "rename" }

// SelectOp projects and orders columns.
type SelectOp struct {
	Columns []string
}

func (o *SelectOp) opNode()      {}
func (o *SelectOp) Name() string { return "select" }

// HeadOp returns the first N rows.
type HeadOp struct {
	N int
}

func (o *HeadOp) opNode()      {}
func (o *HeadOp) Name() string { return "head" }

// SortOp stably sorts rows by columns; nulls sort last.
type SortOp struct {
	Columns []string
	Desc    bool
}

func (o *SortOp) opNode()      {}
func (o *SortOp) Name() string { return "sort" }

// AggregateOp groups rows by columns and computes aggregate assignments
// over each group.
type AggregateOp struct {
	By          []string
	Assignments []Assignment
}

func (o *AggregateOp) opNode()      {}
func (o *AggregateOp) Name() string { return "aggregate" }

// JoinKey pairs a left column with the right column it must equal.
type JoinKey struct {
	Left  string
	Right string
}

// JoinOp left-joins a reference table resolved by name. Right-hand columns
// are added with Prefix (empty means the default "joined_").
type JoinOp struct {
	Table  string
	Keys   []JoinKey
	Prefix string
}

func (o *JoinOp) opNode()      {}
func (o *JoinOp) Name() string { return "join" }

// Query represents a full parsed query: source + pipeline of operations.
type Query struct {
	Source *SourceOp
	Ops    []Op
}
