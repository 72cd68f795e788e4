package sink

import (
	"context"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/razeghi71/feedflow/table"
)

// Pretty renders the table as an aligned text grid. Nulls print as "null"
// so they can be told apart from empty strings.
type Pretty struct {
	W     io.Writer
	Limit int // 0 prints every row
}

// Write implements the pipeline sink contract.
func (p Pretty) Write(_ context.Context, t *table.Table) error {
	if len(t.Columns) == 0 {
		return nil
	}
	tw := tablewriter.NewWriter(p.W)
	tw.SetHeader(t.Columns)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetBorder(false)

	n := len(t.Rows)
	if p.Limit > 0 && p.Limit < n {
		n = p.Limit
	}
	for _, row := range t.Rows[:n] {
		cells := make([]string, len(t.Columns))
		for j := range t.Columns {
			cells[j] = "null"
			if j < len(row.Values) {
				cells[j] = row.Values[j].AsString()
			}
		}
		tw.Append(cells)
	}
	tw.Render()
	return nil
}
