package engine

import (
	"errors"
	"testing"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/parser"
	"github.com/razeghi71/feedflow/table"
)

// variantsTable is a small feed: six variants of three products.
func variantsTable() *table.Table {
	t := table.NewTable([]string{"SKU", "GROUPING_KEY", "PRICE", "SIZE", "STOCK"})
	add := func(sku, group string, price int64, size, stock string) {
		t.AddRow([]table.Value{table.StrVal(sku), table.StrVal(group), table.IntVal(price), table.StrVal(size), table.StrVal(stock)})
	}
	add("V1", "P1", 20, "S", "Y")
	add("V2", "P1", 20, "M", "N")
	add("V3", "P2", 35, "M", "Y")
	add("V4", "P3", 15, "L", "Y")
	add("V5", "P2", 35, "L", "1")
	add("V6", "P3", 50, "S", "Y")
	return t
}

func runQuery(t *testing.T, input *table.Table, query string) *table.Table {
	t.Helper()
	q, err := parser.Parse("feed.csv | " + query)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	result, err := Execute(q, input)
	if err != nil {
		t.Fatalf("exec error: %v", err)
	}
	return result
}

func runQueryExpectErr(t *testing.T, input *table.Table, query string) error {
	t.Helper()
	q, err := parser.Parse("feed.csv | " + query)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	_, err = Execute(q, input)
	return err
}

func skus(t *table.Table) []string {
	out := make([]string, t.Len())
	for i := range t.Rows {
		out[i] = t.Get(i, "SKU").Text()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHead(t *testing.T) {
	result := runQuery(t, variantsTable(), "head 3")
	if got := skus(result); !equalStrings(got, []string{"V1", "V2", "V3"}) {
		t.Errorf("expected first three variants, got %v", got)
	}
}

func TestSort(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		// ties keep feed order
		{"sorta PRICE", []string{"V4", "V1", "V2", "V3", "V5", "V6"}},
		{"sortd PRICE", []string{"V6", "V3", "V5", "V1", "V2", "V4"}},
		{"sorta GROUPING_KEY SIZE", []string{"V2", "V1", "V5", "V3", "V4", "V6"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := skus(runQuery(t, variantsTable(), tt.query)); !equalStrings(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	result := runQuery(t, variantsTable(), "select SKU SIZE")
	if !equalStrings(result.Columns, []string{"SKU", "SIZE"}) {
		t.Errorf("unexpected columns: %v", result.Columns)
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		pred string
		want []string
	}{
		{`PRICE > 30`, []string{"V3", "V5", "V6"}},
		{`PRICE > 15 and SIZE == "M"`, []string{"V2", "V3"}},
		{`STOCK in ["Y", "1"]`, []string{"V1", "V3", "V4", "V5", "V6"}},
		{`not (SIZE == "S") or PRICE >= 50`, []string{"V2", "V3", "V4", "V5", "V6"}},
	}
	for _, tt := range tests {
		t.Run(tt.pred, func(t *testing.T) {
			got := skus(runQuery(t, variantsTable(), "filter { "+tt.pred+" }"))
			if !equalStrings(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDistinct(t *testing.T) {
	result := runQuery(t, variantsTable(), "distinct GROUPING_KEY")
	if got := skus(result); !equalStrings(got, []string{"V1", "V3", "V4"}) {
		t.Errorf("expected first variant per product, got %v", got)
	}
}

func TestWithEntries(t *testing.T) {
	result := runQuery(t, variantsTable(), "with GROSS = PRICE * 2")
	if len(result.Columns) != 6 || result.Columns[5] != "GROSS" {
		t.Fatalf("expected GROSS appended, got %v", result.Columns)
	}
	if v := result.Get(0, "GROSS"); v.Int != 40 {
		t.Errorf("expected 40, got %s", v.AsString())
	}
}

func TestAggregate(t *testing.T) {
	result := runQuery(t, variantsTable(), "aggregate GROUPING_KEY { total = sum(PRICE), n = count() }")
	if !equalStrings(result.Columns, []string{"GROUPING_KEY", "total", "n"}) {
		t.Fatalf("unexpected columns: %v", result.Columns)
	}
	if result.Len() != 3 {
		t.Fatalf("expected one row per product, got %d", result.Len())
	}
	// P2 is the second product to appear: V3 + V5
	if result.Get(1, "GROUPING_KEY").Str != "P2" {
		t.Fatalf("expected P2 second, got %s", result.Get(1, "GROUPING_KEY").AsString())
	}
	if v := result.Get(1, "total"); v.Int != 70 {
		t.Errorf("expected P2 total=70, got %s", v.AsString())
	}
	if v := result.Get(1, "n"); v.Int != 2 {
		t.Errorf("expected P2 count=2, got %s", v.AsString())
	}
}

func TestRename(t *testing.T) {
	result := runQuery(t, variantsTable(), "rename SKU EXTERNAL_ID")
	if result.Columns[0] != "EXTERNAL_ID" {
		t.Errorf("expected 'EXTERNAL_ID', got %q", result.Columns[0])
	}
}

func TestRenameCollision(t *testing.T) {
	err := runQueryExpectErr(t, variantsTable(), "rename SKU SIZE")
	if !errors.Is(err, etlerr.ErrSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
	var se *etlerr.StageError
	if !errors.As(err, &se) || se.Stage != "rename" || se.Column != "SIZE" {
		t.Errorf("expected stage error for rename on column SIZE, got %v", err)
	}
}

func TestRenameMissing(t *testing.T) {
	err := runQueryExpectErr(t, variantsTable(), "rename joined_ID PRODUCT_ID")
	if !errors.Is(err, etlerr.ErrSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestDrop(t *testing.T) {
	result := runQuery(t, variantsTable(), "drop STOCK")
	if !equalStrings(result.Columns, []string{"SKU", "GROUPING_KEY", "PRICE", "SIZE"}) {
		t.Errorf("unexpected columns after drop: %v", result.Columns)
	}
}

func TestNullArithmetic(t *testing.T) {
	tbl := table.NewTable([]string{"PRICE", "DISCOUNT"})
	tbl.AddRow([]table.Value{table.IntVal(10), table.Null()})

	result := runQuery(t, tbl, "with NET = PRICE - DISCOUNT")
	if v := result.Get(0, "NET"); !v.IsNull() {
		t.Errorf("expected null from 10 - null, got %s", v.AsString())
	}
}

func TestCoalesce(t *testing.T) {
	tbl := table.NewTable([]string{"SALE_PRICE", "PRICE"})
	tbl.AddRow([]table.Value{table.Null(), table.IntVal(42)})

	result := runQuery(t, tbl, "with FINAL = coalesce(SALE_PRICE, PRICE)")
	if v := result.Get(0, "FINAL"); v.Int != 42 {
		t.Errorf("expected 42, got %s", v.AsString())
	}
}

func TestEvalPrecedence(t *testing.T) {
	tbl := table.NewTable([]string{"x"})
	tbl.AddRow([]table.Value{table.IntVal(5)})
	ctx := &EvalContext{Table: tbl, Row: &tbl.Rows[0]}

	// x + 3 * 2 built by hand: 11, not 16
	expr := &ast.BinaryExpr{
		Op:    "+",
		Left:  ast.Ref("x"),
		Right: &ast.BinaryExpr{Op: "*", Left: ast.Lit(3), Right: ast.Lit(2)},
	}
	val, err := Eval(expr, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if val.Int != 11 {
		t.Errorf("expected 11, got %d", val.Int)
	}
}

func TestIsNull(t *testing.T) {
	tbl := table.NewTable([]string{"joined_ID"})
	tbl.AddRow([]table.Value{table.Null()})
	tbl.AddRow([]table.Value{table.IntVal(1)})

	for _, q := range []string{"filter { joined_ID is null }", "filter { joined_ID is not null }"} {
		if n := runQuery(t, tbl, q).Len(); n != 1 {
			t.Errorf("%s: expected 1 row, got %d", q, n)
		}
	}
}

func TestIfFunction(t *testing.T) {
	result := runQuery(t, variantsTable(), `with TIER = if(PRICE > 30, "premium", "basic") | select SKU TIER`)
	if v := result.Get(0, "TIER").Str; v != "basic" {
		t.Errorf("expected 'basic' for V1, got %q", v)
	}
	if v := result.Get(2, "TIER").Str; v != "premium" {
		t.Errorf("expected 'premium' for V3, got %q", v)
	}
}

func TestUpperLower(t *testing.T) {
	result := runQuery(t, variantsTable(), `with up = lower(SIZE), lo = lower(SKU) | with up = upper(up) | select up lo | head 1`)
	if v := result.Get(0, "up").Str; v != "S" {
		t.Errorf("expected 'S', got %q", v)
	}
	if v := result.Get(0, "lo").Str; v != "v1" {
		t.Errorf("expected 'v1', got %q", v)
	}
}

func TestStringFuncsCoerceInt(t *testing.T) {
	result := runQuery(t, variantsTable(), "with x = upper(PRICE) | head 1")
	if v := result.Get(0, "x").Str; v != "20" {
		t.Errorf("expected '20', got %q", v)
	}
}

func TestOperandErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		kind  error
	}{
		{"string times int", "with x = SIZE * 2", nil},
		{"int plus string", "with x = PRICE + SIZE", nil},
		{"and on non-bool", "filter { PRICE and SIZE }", nil},
		{"ordering int against string", "filter { PRICE > SIZE }", etlerr.ErrType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runQueryExpectErr(t, variantsTable(), tt.query)
			if err == nil {
				t.Fatalf("expected error for %s", tt.query)
			}
			if tt.kind != nil && !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}
}
