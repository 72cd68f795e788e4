package ast

import (
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
	"github.com/razeghi71/feedflow/xmlnode"
)

// Lit wraps a Go value as a literal.
func Lit(v any) *LiteralExpr {
	return &LiteralExpr{Value: table.FromAny(v)}
}

// LitList is a literal list of strings.
func LitList(items ...string) *LiteralExpr {
	return &LiteralExpr{Value: table.StrList(items...)}
}

// Null is the null literal.
func Null() *LiteralExpr {
	return &LiteralExpr{Value: table.Null()}
}

// Ref references a column.
func Ref(name string) *ColumnExpr {
	return &ColumnExpr{Name: name}
}

// Path looks up the first value at path inside the node produced by src.
func Path(src Expr, path string) (*PathExpr, error) {
	p, err := xmlnode.CompilePath(path)
	if err != nil {
		return nil, etlerr.Configf("path %q: %v", path, err)
	}
	return &PathExpr{Source: src, Path: p}, nil
}

// PathAll is Path returning every match as a list.
func PathAll(src Expr, path string) (*PathExpr, error) {
	e, err := Path(src, path)
	if err != nil {
		return nil, err
	}
	e.All = true
	return e, nil
}

// MustPath is Path for static definitions; it panics on a bad path.
func MustPath(src Expr, path string) *PathExpr {
	e, err := Path(src, path)
	if err != nil {
		panic(err)
	}
	return e
}

// Eq compares for equality.
func Eq(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "==", Left: l, Right: r} }

// Neq compares for inequality.
func Neq(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "!=", Left: l, Right: r} }

// Gt is the numeric greater-than comparison.
func Gt(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: ">", Left: l, Right: r} }

// Lt is the numeric less-than comparison.
func Lt(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "<", Left: l, Right: r} }

// Gte is the numeric greater-or-equal comparison.
func Gte(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: ">=", Left: l, Right: r} }

// Lte is the numeric less-or-equal comparison.
func Lte(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "<=", Left: l, Right: r} }

// And is the boolean conjunction.
func And(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "and", Left: l, Right: r} }

// Or is the boolean disjunction.
func Or(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "or", Left: l, Right: r} }

// Not negates a boolean.
func Not(e Expr) *UnaryExpr { return &UnaryExpr{Op: "not", Operand: e} }

// In tests membership in a literal list of strings.
func In(e Expr, list ...string) *InExpr {
	cp := make([]string, len(list))
	copy(cp, list)
	return &InExpr{Operand: e, List: cp}
}

// IsTrue tests for the canonical true value.
func IsTrue(e Expr) *IsTrueExpr { return &IsTrueExpr{Operand: e} }

// When selects then or els depending on cond.
func When(cond, then, els Expr) *WhenExpr {
	return &WhenExpr{Cond: cond, Then: then, Else: els}
}

// Implode joins list values with sep. The separator must not be empty.
func Implode(e Expr, sep string) (*ImplodeExpr, error) {
	if sep == "" {
		return nil, etlerr.Configf("implode: separator must not be empty")
	}
	return &ImplodeExpr{Operand: e, Separator: sep}, nil
}

// Call builds a function call expression.
func Call(name string, args ...Expr) *FuncCallExpr {
	return &FuncCallExpr{Name: name, Args: args}
}
