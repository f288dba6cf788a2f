// Package function evaluates the scalar expressions that turn per-document
// span match counts into statistic values.
//
// An expression combines the argument counts $q0..$qK, the number of
// positions $n of the document and the document count $d with numbers,
// + - * / and parentheses. Evaluated for a single document $d is 1.
package function

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"harshagw/spanstats/internal/apperr"
)

// ErrDivisionByZero is returned by Compute when a divisor evaluates to 0.
var ErrDivisionByZero = errors.New("division by zero")

// Function is a parsed expression with a fixed number of arguments.
type Function struct {
	expr           string
	arity          int
	root           node
	sumRule        bool
	needsPositions bool
}

// Parse parses expr for arity arguments. An empty expression is the sum of
// all arguments, or $n when there are none.
func Parse(expr string, arity int) (*Function, error) {
	if arity < 0 {
		return nil, apperr.Invalidf("negative arity %d", arity)
	}
	source := strings.TrimSpace(expr)
	if source == "" {
		source = defaultExpression(arity)
	}
	tokens, err := tokenize(source)
	if err != nil {
		return nil, apperr.Invalidf("function %q: %v", expr, err)
	}
	p := &parser{tokens: tokens, arity: arity}
	root, err := p.expr()
	if err != nil {
		return nil, apperr.Invalidf("function %q: %v", expr, err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, apperr.Invalidf("function %q: unexpected %q at %d", expr, t.text, t.pos)
	}

	f := &Function{expr: source, arity: arity, root: root}
	lin := root.linear()
	f.needsPositions = usesPositions(root)
	f.sumRule = lin.ok && lin.constant == 0 && !f.needsPositions
	return f, nil
}

func defaultExpression(arity int) string {
	if arity == 0 {
		return "$n"
	}
	parts := make([]string, arity)
	for i := range parts {
		parts[i] = "$q" + strconv.Itoa(i)
	}
	return strings.Join(parts, "+")
}

// String returns the expression, with the default filled in.
func (f *Function) String() string { return f.expr }

// Arity returns the number of arguments.
func (f *Function) Arity() int { return f.arity }

// NeedsPositions reports whether the expression reads $n.
func (f *Function) NeedsPositions() bool { return f.needsPositions }

// SumRule reports whether the expression is a linear combination of $q and
// $d without constant term. For such a function the sum of per-document
// values equals one evaluation over the summed arguments with $d set to the
// number of documents.
func (f *Function) SumRule() bool { return f.sumRule }

// Compute evaluates the expression for argument counts args, positions n
// and document count d.
func (f *Function) Compute(args []int64, n, d int64) (float64, error) {
	if len(args) != f.arity {
		return 0, fmt.Errorf("function %s: got %d arguments, want %d", f.expr, len(args), f.arity)
	}
	return f.root.eval(&env{args: args, n: n, d: d})
}

type env struct {
	args []int64
	n    int64
	d    int64
}

// linearForm describes a node as Σ c·var + constant when ok is set.
type linearForm struct {
	ok       bool
	constant float64
	vars     bool
}

type node interface {
	eval(e *env) (float64, error)
	linear() linearForm
}

type constant struct{ value float64 }

func (c *constant) eval(*env) (float64, error) { return c.value, nil }
func (c *constant) linear() linearForm         { return linearForm{ok: true, constant: c.value} }

type argument struct{ index int }

func (a *argument) eval(e *env) (float64, error) { return float64(e.args[a.index]), nil }
func (a *argument) linear() linearForm           { return linearForm{ok: true, vars: true} }

type positions struct{}

func (positions) eval(e *env) (float64, error) { return float64(e.n), nil }
func (positions) linear() linearForm           { return linearForm{ok: true, vars: true} }

type documents struct{}

func (documents) eval(e *env) (float64, error) { return float64(e.d), nil }
func (documents) linear() linearForm           { return linearForm{ok: true, vars: true} }

type negate struct{ inner node }

func (n *negate) eval(e *env) (float64, error) {
	v, err := n.inner.eval(e)
	return -v, err
}

func (n *negate) linear() linearForm {
	l := n.inner.linear()
	l.constant = -l.constant
	return l
}

type binary struct {
	op          byte
	left, right node
}

func (b *binary) eval(e *env) (float64, error) {
	l, err := b.left.eval(e)
	if err != nil {
		return 0, err
	}
	r, err := b.right.eval(e)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		return l / r, nil
	}
	return 0, fmt.Errorf("unknown operator %q", b.op)
}

func (b *binary) linear() linearForm {
	l, r := b.left.linear(), b.right.linear()
	if !l.ok || !r.ok {
		return linearForm{}
	}
	switch b.op {
	case '+':
		return linearForm{ok: true, constant: l.constant + r.constant, vars: l.vars || r.vars}
	case '-':
		return linearForm{ok: true, constant: l.constant - r.constant, vars: l.vars || r.vars}
	case '*':
		switch {
		case !l.vars:
			return linearForm{ok: true, constant: l.constant * r.constant, vars: r.vars}
		case !r.vars:
			return linearForm{ok: true, constant: l.constant * r.constant, vars: l.vars}
		}
	case '/':
		if !r.vars && r.constant != 0 {
			return linearForm{ok: true, constant: l.constant / r.constant, vars: l.vars}
		}
	}
	return linearForm{}
}

func usesPositions(n node) bool {
	switch v := n.(type) {
	case positions, *positions:
		return true
	case *negate:
		return usesPositions(v.inner)
	case *binary:
		return usesPositions(v.left) || usesPositions(v.right)
	}
	return false
}
