package engine

import (
	"math"
	"strings"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
)

// EvalContext provides column lookup for expression evaluation.
type EvalContext struct {
	Table *table.Table
	Row   *table.Row
}

// RowContext returns the context for row i of t.
func RowContext(t *table.Table, i int) *EvalContext {
	return &EvalContext{Table: t, Row: &t.Rows[i]}
}

// Eval evaluates an expression against a row context. It never mutates the
// row and is safe to call from several goroutines on distinct rows.
func Eval(expr ast.Expr, ctx *EvalContext) (table.Value, error) {
	switch e := expr.(type) {
	case *ast.LiteralExpr:
		return e.Value, nil
	case *ast.ColumnExpr:
		return evalColumn(e, ctx), nil
	case *ast.PathExpr:
		return evalPath(e, ctx)
	case *ast.BinaryExpr:
		return evalBinary(e, ctx)
	case *ast.UnaryExpr:
		return evalUnary(e, ctx)
	case *ast.InExpr:
		return evalIn(e, ctx)
	case *ast.IsTrueExpr:
		v, err := Eval(e.Operand, ctx)
		if err != nil {
			return table.Null(), err
		}
		return table.BoolVal(IsTrue(v)), nil
	case *ast.WhenExpr:
		return evalWhen(e, ctx)
	case *ast.ImplodeExpr:
		v, err := Eval(e.Operand, ctx)
		if err != nil {
			return table.Null(), err
		}
		return implode(v, e.Separator), nil
	case *ast.FuncCallExpr:
		return evalFunc(e, ctx)
	case *ast.IsNullExpr:
		return evalIsNull(e, ctx)
	case nil:
		return table.Null(), etlerr.Configf("nil expression")
	default:
		return table.Null(), etlerr.Configf("unknown expression type %T", expr)
	}
}

// evalColumn returns null for a column the row does not carry.
func evalColumn(e *ast.ColumnExpr, ctx *EvalContext) table.Value {
	idx := ctx.Table.ColIndex(e.Name)
	if idx < 0 || idx >= len(ctx.Row.Values) {
		return table.Null()
	}
	return ctx.Row.Values[idx]
}

func evalPath(e *ast.PathExpr, ctx *EvalContext) (table.Value, error) {
	src, err := Eval(e.Source, ctx)
	if err != nil {
		return table.Null(), err
	}
	if src.IsNull() {
		return table.Null(), nil
	}
	if src.Type != table.TypeNode {
		return table.Null(), etlerr.Evalf("path %q: input is %s, not a structured node", e.Path, src.Type)
	}
	if e.All {
		return table.StrList(src.Node.FindAll(e.Path)...), nil
	}
	s, ok := src.Node.Find(e.Path)
	if !ok {
		return table.Null(), nil
	}
	return table.StrVal(s), nil
}

func evalBinary(e *ast.BinaryExpr, ctx *EvalContext) (table.Value, error) {
	left, err := Eval(e.Left, ctx)
	if err != nil {
		return table.Null(), err
	}

	// and/or short-circuit so guards like "x is not null and x > 1" work
	switch e.Op {
	case "and", "or":
		lb, ok := left.AsBool()
		if !ok {
			return table.Null(), etlerr.Typef("'%s' requires boolean operands, got %s", e.Op, left.Type)
		}
		if e.Op == "and" && !lb {
			return table.BoolVal(false), nil
		}
		if e.Op == "or" && lb {
			return table.BoolVal(true), nil
		}
		right, err := Eval(e.Right, ctx)
		if err != nil {
			return table.Null(), err
		}
		rb, ok := right.AsBool()
		if !ok {
			return table.Null(), etlerr.Typef("'%s' requires boolean operands, got %s", e.Op, right.Type)
		}
		return table.BoolVal(rb), nil
	}

	right, err := Eval(e.Right, ctx)
	if err != nil {
		return table.Null(), err
	}

	switch e.Op {
	case "+", "-", "*", "/":
		// Null propagation for arithmetic
		if left.IsNull() || right.IsNull() {
			return table.Null(), nil
		}
		return evalArith(e.Op, left, right)
	case "==", "!=":
		eq := Equal(left, right)
		if e.Op == "!=" {
			eq = !eq
		}
		return table.BoolVal(eq), nil
	case "<", ">", "<=", ">=":
		return evalOrdering(e.Op, left, right)
	default:
		return table.Null(), etlerr.Configf("unknown operator %q", e.Op)
	}
}

func evalArith(op string, left, right table.Value) (table.Value, error) {
	// String concatenation with +
	if op == "+" && left.Type == table.TypeString && right.Type == table.TypeString {
		return table.StrVal(left.Str + right.Str), nil
	}

	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if !lok || !rok {
		return table.Null(), etlerr.Typef("cannot perform %s on %s and %s", op, left.AsString(), right.AsString())
	}

	var result float64
	switch op {
	case "+":
		result = lf + rf
	case "-":
		result = lf - rf
	case "*":
		result = lf * rf
	case "/":
		if rf == 0 {
			return table.Null(), nil // division by zero returns null
		}
		result = lf / rf
	}

	// If both inputs were ints and result is whole, return int
	if left.Type == table.TypeInt && right.Type == table.TypeInt && result == math.Trunc(result) && op != "/" {
		return table.IntVal(int64(result)), nil
	}
	// Integer division that results in whole number
	if left.Type == table.TypeInt && right.Type == table.TypeInt && op == "/" {
		if left.Int%right.Int == 0 {
			return table.IntVal(left.Int / right.Int), nil
		}
	}
	return table.FloatVal(result), nil
}

// Equal compares two values the way the == operator does: numerically when
// both look like numbers, otherwise by string form. Null compares as "".
func Equal(a, b table.Value) bool {
	if !a.IsNull() && !b.IsNull() {
		if af, ok := a.Numeric(); ok {
			if bf, ok := b.Numeric(); ok {
				return af == bf
			}
		}
	}
	return a.Text() == b.Text()
}

// evalOrdering is numeric only. A null or blank operand makes the
// comparison false; other non-numeric text is a type error.
func evalOrdering(op string, left, right table.Value) (table.Value, error) {
	if isBlank(left) || isBlank(right) {
		return table.BoolVal(false), nil
	}
	lf, lok := left.Numeric()
	rf, rok := right.Numeric()
	if !lok || !rok {
		return table.Null(), etlerr.Typef("cannot order %q and %q: operands must be numeric", left.Text(), right.Text())
	}
	var cmp int
	switch {
	case lf < rf:
		cmp = -1
	case lf > rf:
		cmp = 1
	}
	return table.BoolVal(cmpResult(op, cmp)), nil
}

// isBlank reports null and strings holding only whitespace, which is what
// an empty feed element evaluates to.
func isBlank(v table.Value) bool {
	return v.IsNull() || (v.Type == table.TypeString && strings.TrimSpace(v.Str) == "")
}

func cmpResult(op string, cmp int) bool {
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func evalUnary(e *ast.UnaryExpr, ctx *EvalContext) (table.Value, error) {
	operand, err := Eval(e.Operand, ctx)
	if err != nil {
		return table.Null(), err
	}

	switch e.Op {
	case "not":
		b, ok := operand.AsBool()
		if !ok {
			return table.Null(), etlerr.Typef("'not' requires boolean operand, got %s", operand.Type)
		}
		return table.BoolVal(!b), nil
	case "-":
		if operand.IsNull() {
			return table.Null(), nil
		}
		switch operand.Type {
		case table.TypeInt:
			return table.IntVal(-operand.Int), nil
		case table.TypeFloat:
			return table.FloatVal(-operand.Float), nil
		default:
			return table.Null(), etlerr.Typef("cannot negate %s", operand.AsString())
		}
	default:
		return table.Null(), etlerr.Configf("unknown unary operator %q", e.Op)
	}
}

func evalIn(e *ast.InExpr, ctx *EvalContext) (table.Value, error) {
	v, err := Eval(e.Operand, ctx)
	if err != nil {
		return table.Null(), err
	}
	s := v.Text()
	for _, item := range e.List {
		if s == item {
			return table.BoolVal(true), nil
		}
	}
	return table.BoolVal(false), nil
}

// IsTrue reports whether v is a canonical true value: boolean true, the
// integer 1, or the strings "true" (any case) and "1".
func IsTrue(v table.Value) bool {
	switch v.Type {
	case table.TypeBool:
		return v.Bool
	case table.TypeInt:
		return v.Int == 1
	case table.TypeFloat:
		return v.Float == 1
	case table.TypeString:
		s := strings.TrimSpace(v.Str)
		return s == "1" || strings.EqualFold(s, "true")
	}
	return false
}

// evalWhen evaluates only the chosen branch. A null condition selects Else.
func evalWhen(e *ast.WhenExpr, ctx *EvalContext) (table.Value, error) {
	cond, err := Eval(e.Cond, ctx)
	if err != nil {
		return table.Null(), err
	}
	b, ok := cond.AsBool()
	if !ok {
		return table.Null(), etlerr.Typef("when: condition must be boolean, got %s", cond.Type)
	}
	if b {
		return Eval(e.Then, ctx)
	}
	return Eval(e.Else, ctx)
}

func implode(v table.Value, sep string) table.Value {
	if v.Type != table.TypeList {
		return v
	}
	parts := make([]string, len(v.List))
	for i, item := range v.List {
		parts[i] = item.Text()
	}
	return table.StrVal(strings.Join(parts, sep))
}

func evalIsNull(e *ast.IsNullExpr, ctx *EvalContext) (table.Value, error) {
	operand, err := Eval(e.Operand, ctx)
	if err != nil {
		return table.Null(), err
	}
	isNull := operand.IsNull()
	if e.Negated {
		isNull = !isNull
	}
	return table.BoolVal(isNull), nil
}
