// Package calc provides a small arithmetic expression language used by the
// calculate tool. The grammar only admits numbers, the four binary operators
// + - * /, unary minus and parentheses; anything else is a syntax error.
// Expressions are stateless and side-effect-free.
package calc

import (
	"fmt"
	"strconv"
)

// Expr is the interface implemented by all AST nodes.
type Expr interface {
	expr() // marker method
	String() string
}

// BinaryExpr represents a binary arithmetic operation (e.g. a + b).
type BinaryExpr struct {
	Left  Expr
	Op    TokenKind
	Right Expr
}

func (e *BinaryExpr) expr() {}
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

// UnaryExpr represents a negation (e.g. -a).
type UnaryExpr struct {
	Op      TokenKind
	Operand Expr
}

func (e *UnaryExpr) expr() {}
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("(%s%s)", e.Op, e.Operand)
}

// NumberExpr represents a numeric literal.
type NumberExpr struct {
	Value float64
}

func (e *NumberExpr) expr() {}
func (e *NumberExpr) String() string {
	return strconv.FormatFloat(e.Value, 'g', -1, 64)
}
