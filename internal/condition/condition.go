// Package condition parses and evaluates the small boolean language that gates
// threshold events:
//
//	expr   := clause ("OR" clause)*
//	clause := atom ("AND" atom)*
//	atom   := metric op number      op in < <= > >= = ==
//
// Keywords are case-insensitive. Parsing never fails as a whole: an atom that
// does not parse marks its clause invalid and that clause evaluates false.
package condition

import (
	"regexp"
	"strconv"
	"strings"
)

type Op string

const (
	Less         Op = "<"
	LessEqual    Op = "<="
	Greater      Op = ">"
	GreaterEqual Op = ">="
	Equal        Op = "=="
)

type Atom struct {
	Metric string
	Op     Op
	Value  float64
}

type Clause struct {
	Atoms   []Atom
	Invalid bool
}

// Expr is a parsed OR-of-ANDs expression.
type Expr struct {
	Source  string
	Clauses []Clause
}

// Lookup resolves a metric name; ok is false for unknown metrics.
type Lookup func(name string) (value float64, ok bool)

var (
	orSplit  = regexp.MustCompile(`(?i)\s+or\s+`)
	andSplit = regexp.MustCompile(`(?i)\s+and\s+`)
	atomRe   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(<=|>=|==|=|<|>)\s*(-?\d+(?:\.\d+)?)$`)
)

// Parse builds an Expr. An empty expression has no clauses.
func Parse(src string) Expr {
	expr := Expr{Source: src}
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return expr
	}
	for _, part := range orSplit.Split(" "+trimmed+" ", -1) {
		expr.Clauses = append(expr.Clauses, parseClause(part))
	}
	return expr
}

func parseClause(src string) Clause {
	var c Clause
	src = strings.TrimSpace(src)
	if src == "" {
		c.Invalid = true
		return c
	}
	for _, part := range andSplit.Split(" "+src+" ", -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			c.Invalid = true
			continue
		}
		atom, ok := parseAtom(part)
		if !ok {
			c.Invalid = true
			continue
		}
		c.Atoms = append(c.Atoms, atom)
	}
	return c
}

func parseAtom(src string) (Atom, bool) {
	m := atomRe.FindStringSubmatch(src)
	if m == nil {
		return Atom{}, false
	}
	v, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Atom{}, false
	}
	op := Op(m[2])
	if op == "=" {
		op = Equal
	}
	return Atom{Metric: strings.ToLower(m[1]), Op: op, Value: v}, true
}

// Eval reports whether any clause holds. Unknown metrics make their clause
// false.
func (e Expr) Eval(lookup Lookup) bool {
	for _, c := range e.Clauses {
		if c.eval(lookup) {
			return true
		}
	}
	return false
}

// Valid reports whether every clause parsed cleanly.
func (e Expr) Valid() bool {
	if len(e.Clauses) == 0 {
		return false
	}
	for _, c := range e.Clauses {
		if c.Invalid {
			return false
		}
	}
	return true
}

func (c Clause) eval(lookup Lookup) bool {
	if c.Invalid || len(c.Atoms) == 0 {
		return false
	}
	for _, a := range c.Atoms {
		if !a.eval(lookup) {
			return false
		}
	}
	return true
}

func (a Atom) eval(lookup Lookup) bool {
	v, ok := lookup(a.Metric)
	if !ok {
		return false
	}
	switch a.Op {
	case Less:
		return v < a.Value
	case LessEqual:
		return v <= a.Value
	case Greater:
		return v > a.Value
	case GreaterEqual:
		return v >= a.Value
	case Equal:
		return v == a.Value
	}
	return false
}

// Evaluate parses and evaluates src in one step.
func Evaluate(src string, lookup Lookup) bool {
	return Parse(src).Eval(lookup)
}
