// Package predicate evaluates JSON predicate hints against partition values
// so that whole files can be skipped. Evaluation is conservative: a file is
// pruned only when the predicate is definitely false for its partition.
package predicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxDepth = 64

// Operators.
const (
	OpColumn             = "column"
	OpLiteral            = "literal"
	OpIsNull             = "isNull"
	OpEqual              = "equal"
	OpLessThan           = "lessThan"
	OpLessThanOrEqual    = "lessThanOrEqual"
	OpGreaterThan        = "greaterThan"
	OpGreaterThanOrEqual = "greaterThanOrEqual"
	OpAnd                = "and"
	OpOr                 = "or"
	OpNot                = "not"
)

// Expr is one node of a predicate tree.
type Expr struct {
	Op        string  `json:"op"`
	Children  []*Expr `json:"children,omitempty"`
	Name      string  `json:"name,omitempty"`
	Value     string  `json:"value,omitempty"`
	ValueType string  `json:"valueType,omitempty"`
}

// Parse decodes and validates a predicate.
func Parse(s string) (*Expr, error) {
	var e Expr
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, fmt.Errorf("decode predicate: %w", err)
	}
	if err := e.validate(0); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Expr) validate(depth int) error {
	if depth > maxDepth {
		return errors.New("predicate nested too deeply")
	}
	if e == nil {
		return errors.New("null predicate node")
	}
	// "null" is accepted as an alias some clients send for isNull.
	if e.Op == "null" {
		e.Op = OpIsNull
	}
	switch e.Op {
	case OpColumn:
		if e.Name == "" {
			return errors.New("column without name")
		}
		return checkType(e.ValueType)
	case OpLiteral:
		return checkType(e.ValueType)
	case OpIsNull:
		if len(e.Children) != 1 || e.Children[0] == nil || e.Children[0].Op != OpColumn {
			return fmt.Errorf("%s takes exactly one column", e.Op)
		}
	case OpEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		if len(e.Children) != 2 {
			return fmt.Errorf("%s takes two operands, got %d", e.Op, len(e.Children))
		}
		for _, c := range e.Children {
			if c == nil || (c.Op != OpColumn && c.Op != OpLiteral) {
				return fmt.Errorf("%s operands must be columns or literals", e.Op)
			}
		}
		if a, b := e.Children[0].ValueType, e.Children[1].ValueType; !strings.EqualFold(a, b) {
			return fmt.Errorf("%s compares %s with %s", e.Op, a, b)
		}
	case OpAnd, OpOr:
		if len(e.Children) < 2 {
			return fmt.Errorf("%s takes at least two children, got %d", e.Op, len(e.Children))
		}
	case OpNot:
		if len(e.Children) != 1 {
			return fmt.Errorf("not takes one child, got %d", len(e.Children))
		}
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	for _, c := range e.Children {
		if err := c.validate(depth + 1); err != nil {
			return err
		}
	}
	return nil
}

// Columns returns the column names the predicate references.
func (e *Expr) Columns() []string {
	var out []string
	var walk func(*Expr)
	walk = func(n *Expr) {
		if n.Op == OpColumn {
			out = append(out, n.Name)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(e)
	return out
}

type truth int8

const (
	unknown truth = iota
	isFalse
	isTrue
)

func boolean(b bool) truth {
	if b {
		return isTrue
	}
	return isFalse
}

func (t truth) not() truth {
	switch t {
	case isTrue:
		return isFalse
	case isFalse:
		return isTrue
	}
	return unknown
}

// Keep reports whether a file with the given partition values may contain
// matching rows. partitionColumns lists the table's partition columns;
// references to any other column evaluate as unknown, which keeps the file.
func (e *Expr) Keep(partitionValues map[string]string, partitionColumns []string) bool {
	cols := make(map[string]bool, len(partitionColumns))
	for _, c := range partitionColumns {
		cols[c] = true
	}
	return e.eval(partitionValues, cols) != isFalse
}

func (e *Expr) eval(pv map[string]string, cols map[string]bool) truth {
	switch e.Op {
	case OpAnd:
		out := isTrue
		for _, c := range e.Children {
			switch c.eval(pv, cols) {
			case isFalse:
				return isFalse
			case unknown:
				out = unknown
			}
		}
		return out
	case OpOr:
		out := isFalse
		for _, c := range e.Children {
			switch c.eval(pv, cols) {
			case isTrue:
				return isTrue
			case unknown:
				out = unknown
			}
		}
		return out
	case OpNot:
		return e.Children[0].eval(pv, cols).not()
	case OpIsNull:
		col := e.Children[0]
		if !cols[col.Name] {
			return unknown
		}
		return boolean(pv[col.Name] == "")
	case OpEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		a, okA := operand(e.Children[0], pv, cols)
		b, okB := operand(e.Children[1], pv, cols)
		if !okA || !okB {
			return unknown
		}
		c, ok := compare(e.Children[0].ValueType, a, b)
		if !ok {
			return unknown
		}
		switch e.Op {
		case OpEqual:
			return boolean(c == 0)
		case OpLessThan:
			return boolean(c < 0)
		case OpLessThanOrEqual:
			return boolean(c <= 0)
		case OpGreaterThan:
			return boolean(c > 0)
		default:
			return boolean(c >= 0)
		}
	}
	return unknown
}

// operand resolves a leaf to its raw value. Null and non-partition columns
// are not comparable.
func operand(n *Expr, pv map[string]string, cols map[string]bool) (string, bool) {
	if n.Op == OpLiteral {
		return n.Value, true
	}
	if !cols[n.Name] {
		return "", false
	}
	v := pv[n.Name]
	return v, v != ""
}
