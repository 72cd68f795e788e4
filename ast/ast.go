// Package ast holds the expression tree and the stage descriptors a
// pipeline is built from. Nodes are immutable once constructed.
package ast

import (
	"github.com/razeghi71/feedflow/table"
	"github.com/razeghi71/feedflow/xmlnode"
)

// Expr represents an expression tree used in filters, derived columns and
// aggregates.
type Expr interface {
	exprNode()
}

// LiteralExpr is a constant value, independent of the row.
type LiteralExpr struct {
	Value table.Value
}

func (e *LiteralExpr) exprNode() {}

// ColumnExpr references a column by name.
type ColumnExpr struct {
	Name string
}

func (e *ColumnExpr) exprNode() {}

// PathExpr looks up a path inside a structured node value.
// All selects every match as a list instead of the first one.
type PathExpr struct {
	Source Expr
	Path   xmlnode.Path
	All    bool
}

func (e *PathExpr) exprNode() {}

// BinaryExpr represents a binary operation: a op b.
type BinaryExpr struct {
	Op    string // +, -, *, /, ==, !=, <, >, <=, >=, and, or
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) exprNode() {}

// UnaryExpr represents a unary operation (e.g. not, unary minus).
type UnaryExpr struct {
	Op      string // "not", "-"
	Operand Expr
}

func (e *UnaryExpr) exprNode() {}

// InExpr tests membership of the operand's string form in a fixed list.
type InExpr struct {
	Operand Expr
	List    []string
}

func (e *InExpr) exprNode() {}

// IsTrueExpr reports whether the operand is the canonical true value.
type IsTrueExpr struct {
	Operand Expr
}

func (e *IsTrueExpr) exprNode() {}

// WhenExpr evaluates Cond and then exactly one of Then or Else.
type WhenExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

func (e *WhenExpr) exprNode() {}

// ImplodeExpr joins a list value with Separator; other values pass through.
type ImplodeExpr struct {
	Operand   Expr
	Separator string
}

func (e *ImplodeExpr) exprNode() {}

// FuncCallExpr represents a function call: func(arg1, arg2, ...).
type FuncCallExpr struct {
	Name string
	Args []Expr
}

func (e *FuncCallExpr) exprNode() {}

// IsNullExpr represents "col is null" or "col is not null".
type IsNullExpr struct {
	Operand Expr
	Negated bool // true = "is not null"
}

func (e *IsNullExpr) exprNode() {}

// Assignment represents "col = expr" in a derive or aggregate stage.
type Assignment struct {
	Column string
	Expr   Expr
}
