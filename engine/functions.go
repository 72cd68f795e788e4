package engine

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
)

// evalFunc dispatches function calls to the appropriate implementation.
func evalFunc(e *ast.FuncCallExpr, ctx *EvalContext) (table.Value, error) {
	switch e.Name {
	// Transform functions
	case "upper":
		return callUpper(e.Args, ctx)
	case "lower":
		return callLower(e.Args, ctx)
	case "len":
		return callLen(e.Args, ctx)
	case "substr":
		return callSubstr(e.Args, ctx)
	case "trim":
		return callTrim(e.Args, ctx)
	case "coalesce":
		return callCoalesce(e.Args, ctx)
	case "if":
		return callIf(e.Args, ctx)
	case "unaccent":
		return callUnaccent(e.Args, ctx)
	case "concat":
		return callConcat(e.Args, ctx)
	case "string":
		return callString(e.Args, ctx)

	default:
		if aggregateFuncs[e.Name] {
			return table.Null(), etlerr.Configf("aggregate function %q can only be used inside 'aggregate'", e.Name)
		}
		return table.Null(), etlerr.Configf("unknown function %q", e.Name)
	}
}

var scalarFuncs = map[string]bool{
	"upper": true, "lower": true, "len": true, "substr": true, "trim": true,
	"coalesce": true, "if": true,
	"unaccent": true, "concat": true, "string": true,
}

var aggregateFuncs = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"first": true, "last": true, "collect": true, "collect_distinct": true,
}

// Check walks expr and reports unknown functions, and aggregate functions
// used where only row expressions are allowed. It lets a job fail at build
// time instead of on its first row.
func Check(expr ast.Expr, aggregate bool) error {
	var err error
	walk(expr, func(e ast.Expr) bool {
		call, ok := e.(*ast.FuncCallExpr)
		if !ok {
			return true
		}
		switch {
		case scalarFuncs[call.Name]:
		case aggregateFuncs[call.Name]:
			if !aggregate {
				err = etlerr.Configf("aggregate function %q can only be used inside 'aggregate'", call.Name)
				return false
			}
			// arguments of an aggregate are row expressions
			for _, a := range call.Args {
				if err = Check(a, false); err != nil {
					return false
				}
			}
			return false
		default:
			err = etlerr.Configf("unknown function %q", call.Name)
			return false
		}
		return true
	})
	return err
}

// walk visits e depth-first until fn returns false for a node's subtree.
func walk(e ast.Expr, fn func(ast.Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *ast.PathExpr:
		walk(n.Source, fn)
	case *ast.BinaryExpr:
		walk(n.Left, fn)
		walk(n.Right, fn)
	case *ast.UnaryExpr:
		walk(n.Operand, fn)
	case *ast.InExpr:
		walk(n.Operand, fn)
	case *ast.IsTrueExpr:
		walk(n.Operand, fn)
	case *ast.WhenExpr:
		walk(n.Cond, fn)
		walk(n.Then, fn)
		walk(n.Else, fn)
	case *ast.ImplodeExpr:
		walk(n.Operand, fn)
	case *ast.IsNullExpr:
		walk(n.Operand, fn)
	case *ast.FuncCallExpr:
		for _, a := range n.Args {
			walk(a, fn)
		}
	}
}

func callUpper(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) != 1 {
		return table.Null(), etlerr.Configf("upper() takes 1 argument, got %d", len(args))
	}
	v, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	if v.IsNull() {
		return table.Null(), nil
	}
	return table.StrVal(strings.ToUpper(v.Text())), nil
}

func callLower(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) != 1 {
		return table.Null(), etlerr.Configf("lower() takes 1 argument, got %d", len(args))
	}
	v, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	if v.IsNull() {
		return table.Null(), nil
	}
	return table.StrVal(strings.ToLower(v.Text())), nil
}

func callLen(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) != 1 {
		return table.Null(), etlerr.Configf("len() takes 1 argument, got %d", len(args))
	}
	v, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	if v.IsNull() {
		return table.Null(), nil
	}
	if v.Type == table.TypeList {
		return table.IntVal(int64(len(v.List))), nil
	}
	return table.IntVal(int64(utf8.RuneCountInString(v.Text()))), nil
}

func callSubstr(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) != 3 {
		return table.Null(), etlerr.Configf("substr() takes 3 arguments (string, start, length), got %d", len(args))
	}
	sv, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	if sv.IsNull() {
		return table.Null(), nil
	}
	s := sv.Text()

	startV, err := Eval(args[1], ctx)
	if err != nil {
		return table.Null(), err
	}
	lenV, err := Eval(args[2], ctx)
	if err != nil {
		return table.Null(), err
	}

	startF, ok := startV.AsFloat()
	if !ok {
		return table.Null(), etlerr.Typef("substr: start must be a number")
	}
	lenF, ok := lenV.AsFloat()
	if !ok {
		return table.Null(), etlerr.Typef("substr: length must be a number")
	}

	start := int(startF)
	length := int(lenF)
	if start < 0 {
		start = 0
	}
	if start >= len(s) {
		return table.StrVal(""), nil
	}
	end := start + length
	if end > len(s) {
		end = len(s)
	}
	return table.StrVal(s[start:end]), nil
}

func callTrim(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) != 1 {
		return table.Null(), etlerr.Configf("trim() takes 1 argument, got %d", len(args))
	}
	v, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	if v.IsNull() {
		return table.Null(), nil
	}
	return table.StrVal(strings.TrimSpace(v.Text())), nil
}

func callCoalesce(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) == 0 {
		return table.Null(), etlerr.Configf("coalesce() requires at least 1 argument")
	}
	for _, arg := range args {
		v, err := Eval(arg, ctx)
		if err != nil {
			return table.Null(), err
		}
		if !v.IsNull() {
			return v, nil
		}
	}
	return table.Null(), nil
}

func callIf(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) != 3 {
		return table.Null(), etlerr.Configf("if() takes 3 arguments (condition, then, else), got %d", len(args))
	}
	cond, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	b, ok := cond.AsBool()
	if !ok {
		return table.Null(), etlerr.Typef("if: condition must be boolean")
	}
	if b {
		return Eval(args[1], ctx)
	}
	return Eval(args[2], ctx)
}

var unaccenter = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// callUnaccent strips combining marks: "Crème brûlée" becomes "Creme brulee".
func callUnaccent(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) != 1 {
		return table.Null(), etlerr.Configf("unaccent() takes 1 argument, got %d", len(args))
	}
	v, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	if v.IsNull() {
		return table.Null(), nil
	}
	out, _, err := transform.String(unaccenter, v.Text())
	if err != nil {
		return table.Null(), etlerr.Evalf("unaccent: %v", err)
	}
	return table.StrVal(out), nil
}

// callConcat joins the string forms of its arguments; nulls are skipped.
func callConcat(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	var sb strings.Builder
	for _, arg := range args {
		v, err := Eval(arg, ctx)
		if err != nil {
			return table.Null(), err
		}
		sb.WriteString(v.Text())
	}
	return table.StrVal(sb.String()), nil
}

func callString(args []ast.Expr, ctx *EvalContext) (table.Value, error) {
	if len(args) != 1 {
		return table.Null(), etlerr.Configf("string() takes 1 argument, got %d", len(args))
	}
	v, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	if v.IsNull() {
		return table.Null(), nil
	}
	return table.StrVal(v.Text()), nil
}

// --- Aggregate evaluation (used by aggregate) ---

// EvalAggregate evaluates an aggregate expression over the rows of one group.
// A bare column reference yields the group's first value for that column.
func EvalAggregate(expr ast.Expr, group *table.Table) (table.Value, error) {
	switch e := expr.(type) {
	case *ast.FuncCallExpr:
		switch e.Name {
		case "count":
			return aggCount(e, group)
		case "sum":
			return aggSum(e, group)
		case "avg":
			return aggAvg(e, group)
		case "min":
			return aggExtreme(e, group, -1)
		case "max":
			return aggExtreme(e, group, 1)
		case "first":
			return aggFirst(e, group)
		case "last":
			return aggLast(e, group)
		case "collect":
			return aggCollect(e, group, false)
		case "collect_distinct":
			return aggCollect(e, group, true)
		default:
			return table.Null(), etlerr.Configf("non-aggregate function %q in aggregate context", e.Name)
		}
	case *ast.BinaryExpr:
		left, err := EvalAggregate(e.Left, group)
		if err != nil {
			return table.Null(), err
		}
		right, err := EvalAggregate(e.Right, group)
		if err != nil {
			return table.Null(), err
		}
		if left.IsNull() || right.IsNull() {
			return table.Null(), nil
		}
		switch e.Op {
		case "+", "-", "*", "/":
			return evalArith(e.Op, left, right)
		}
		return table.Null(), etlerr.Configf("operator %q is not supported in aggregate context", e.Op)
	case *ast.ImplodeExpr:
		v, err := EvalAggregate(e.Operand, group)
		if err != nil {
			return table.Null(), err
		}
		return implode(v, e.Separator), nil
	case *ast.ColumnExpr:
		if group.Len() == 0 {
			return table.Null(), nil
		}
		return group.Get(0, e.Name), nil
	case *ast.LiteralExpr:
		return e.Value, nil
	default:
		return table.Null(), etlerr.Configf("unsupported expression type %T in aggregate", expr)
	}
}

// groupValues evaluates the single argument of an aggregate for every row.
func groupValues(e *ast.FuncCallExpr, group *table.Table) ([]table.Value, error) {
	if len(e.Args) != 1 {
		return nil, etlerr.Configf("%s() takes 1 argument, got %d", e.Name, len(e.Args))
	}
	vals := make([]table.Value, group.Len())
	for i := range group.Rows {
		v, err := Eval(e.Args[0], RowContext(group, i))
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// aggCount counts rows, or non-null values when given an argument.
func aggCount(e *ast.FuncCallExpr, group *table.Table) (table.Value, error) {
	if len(e.Args) == 0 {
		return table.IntVal(int64(group.Len())), nil
	}
	vals, err := groupValues(e, group)
	if err != nil {
		return table.Null(), err
	}
	var n int64
	for _, v := range vals {
		if !v.IsNull() {
			n++
		}
	}
	return table.IntVal(n), nil
}

func aggSum(e *ast.FuncCallExpr, group *table.Table) (table.Value, error) {
	vals, err := groupValues(e, group)
	if err != nil {
		return table.Null(), err
	}
	var sum float64
	allInt := true
	var intSum int64
	seen := false
	for _, v := range vals {
		if v.IsNull() {
			continue
		}
		f, ok := v.Numeric()
		if !ok {
			return table.Null(), etlerr.Typef("sum: non-numeric value %v", v.AsString())
		}
		sum += f
		seen = true
		if v.Type == table.TypeInt {
			intSum += v.Int
		} else {
			allInt = false
		}
	}
	if !seen {
		return table.Null(), nil
	}
	if allInt {
		return table.IntVal(intSum), nil
	}
	return table.FloatVal(sum), nil
}

func aggAvg(e *ast.FuncCallExpr, group *table.Table) (table.Value, error) {
	vals, err := groupValues(e, group)
	if err != nil {
		return table.Null(), err
	}
	var sum float64
	count := 0
	for _, v := range vals {
		if v.IsNull() {
			continue
		}
		f, ok := v.Numeric()
		if !ok {
			return table.Null(), etlerr.Typef("avg: non-numeric value %v", v.AsString())
		}
		sum += f
		count++
	}
	if count == 0 {
		return table.Null(), nil
	}
	return table.FloatVal(sum / float64(count)), nil
}

// aggExtreme returns the minimum (dir < 0) or maximum (dir > 0) value,
// keeping the original value so ints stay ints.
func aggExtreme(e *ast.FuncCallExpr, group *table.Table, dir int) (table.Value, error) {
	vals, err := groupValues(e, group)
	if err != nil {
		return table.Null(), err
	}
	best := table.Null()
	bestF := math.Inf(-dir)
	for _, v := range vals {
		if v.IsNull() {
			continue
		}
		f, ok := v.Numeric()
		if !ok {
			return table.Null(), etlerr.Typef("%s: non-numeric value %v", e.Name, v.AsString())
		}
		if best.IsNull() || (dir < 0 && f < bestF) || (dir > 0 && f > bestF) {
			best, bestF = v, f
		}
	}
	return best, nil
}

func aggFirst(e *ast.FuncCallExpr, group *table.Table) (table.Value, error) {
	vals, err := groupValues(e, group)
	if err != nil {
		return table.Null(), err
	}
	if len(vals) == 0 {
		return table.Null(), nil
	}
	return vals[0], nil
}

func aggLast(e *ast.FuncCallExpr, group *table.Table) (table.Value, error) {
	vals, err := groupValues(e, group)
	if err != nil {
		return table.Null(), err
	}
	if len(vals) == 0 {
		return table.Null(), nil
	}
	return vals[len(vals)-1], nil
}

// aggCollect gathers non-null values into a list in row order.
func aggCollect(e *ast.FuncCallExpr, group *table.Table, distinct bool) (table.Value, error) {
	vals, err := groupValues(e, group)
	if err != nil {
		return table.Null(), err
	}
	out := make([]table.Value, 0, len(vals))
	seen := make(map[string]bool)
	for _, v := range vals {
		if v.IsNull() {
			continue
		}
		if distinct {
			k := v.Text()
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, v)
	}
	return table.ListVal(out...), nil
}
