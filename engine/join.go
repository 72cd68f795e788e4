package engine

import (
	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
)

// DefaultJoinPrefix is prepended to right-hand column names.
const DefaultJoinPrefix = "joined_"

// JoinKey pairs a left column with the right column it must equal.
type JoinKey = ast.JoinKey

// LeftJoin enriches every left row with the first right row whose key
// columns all match by string form. Unmatched left rows get null right-hand
// columns, so the result always has exactly left.Len() rows. Right-hand
// columns are the right schema plus any right key column it lacks, each
// named prefix+column.
func LeftJoin(left, right *table.Table, keys []JoinKey, prefix string) (*table.Table, error) {
	if len(keys) == 0 {
		return nil, etlerr.Configf("join: no key columns")
	}
	if prefix == "" {
		prefix = DefaultJoinPrefix
	}

	leftIdx := make([]int, len(keys))
	rightIdx := make([]int, len(keys))
	rightCols := copyStrings(right.Columns)
	for i, k := range keys {
		if leftIdx[i] = left.ColIndex(k.Left); leftIdx[i] < 0 {
			return nil, etlerr.WithColumn(k.Left, etlerr.Schemaf("join: left key column %q not found", k.Left))
		}
		rightIdx[i] = right.ColIndex(k.Right)
		if rightIdx[i] < 0 {
			if len(right.Columns) > 0 {
				return nil, etlerr.WithColumn(k.Right, etlerr.Schemaf("join: right key column %q not found", k.Right))
			}
			// An empty reference table still contributes its key columns.
			rightCols = appendUnique(rightCols, k.Right)
		}
	}

	outCols := copyStrings(left.Columns)
	for _, c := range rightCols {
		name := prefix + c
		for _, existing := range outCols {
			if existing == name {
				return nil, etlerr.WithColumn(name, etlerr.Schemaf("join: column %q already exists", name))
			}
		}
		outCols = append(outCols, name)
	}

	index := newKeyIndex(len(right.Rows))
	for r, row := range right.Rows {
		if key, ok := joinKey(row, rightIdx); ok {
			index.insert(key, r) // first match wins
		}
	}

	result := table.NewTable(outCols)
	for _, row := range left.Rows {
		vals := make([]table.Value, len(outCols))
		copy(vals, row.Values)
		for i := len(row.Values); i < len(outCols); i++ {
			vals[i] = table.Null()
		}
		if key, ok := joinKey(row, leftIdx); ok {
			if r, found := index.lookup(key); found {
				match := right.Rows[r]
				for i := range rightCols {
					vals[len(left.Columns)+i] = cell(match, i)
				}
			}
		}
		result.AddRow(vals)
	}
	return result, nil
}

func appendUnique(cols []string, name string) []string {
	for _, c := range cols {
		if c == name {
			return cols
		}
	}
	return append(cols, name)
}
