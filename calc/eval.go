package calc

import (
	"errors"
	"fmt"
	"math"
)

// ErrDivisionByZero is returned when a divisor evaluates to zero.
var ErrDivisionByZero = errors.New("division by zero")

// Eval evaluates a parsed expression.
func Eval(e Expr) (float64, error) {
	switch n := e.(type) {
	case *NumberExpr:
		return n.Value, nil

	case *UnaryExpr:
		val, err := Eval(n.Operand)
		if err != nil {
			return 0, err
		}
		if n.Op != TokenMinus {
			return 0, fmt.Errorf("unsupported unary operator %s", n.Op)
		}
		return -val, nil

	case *BinaryExpr:
		return evalBinary(n)

	default:
		return 0, fmt.Errorf("unknown expression type %T", e)
	}
}

func evalBinary(n *BinaryExpr) (float64, error) {
	left, err := Eval(n.Left)
	if err != nil {
		return 0, err
	}
	right, err := Eval(n.Right)
	if err != nil {
		return 0, err
	}

	var result float64
	switch n.Op {
	case TokenPlus:
		result = left + right
	case TokenMinus:
		result = left - right
	case TokenStar:
		result = left * right
	case TokenSlash:
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		result = left / right
	default:
		return 0, fmt.Errorf("unsupported operator %s", n.Op)
	}

	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, fmt.Errorf("result of %s is not a finite number", n)
	}
	return result, nil
}

// Evaluate parses and evaluates an expression string in one step.
func Evaluate(input string) (float64, error) {
	ast, err := Parse(input)
	if err != nil {
		return 0, err
	}
	return Eval(ast)
}
