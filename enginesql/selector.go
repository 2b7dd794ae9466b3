package enginesql

import (
	"fmt"
	"strings"

	"github.com/juleafs/julea"
)

// Mode is the boolean connective of an internal selector node.
type Mode uint8

const (
	ModeAnd Mode = iota
	ModeOr
)

// Comparator is the relational operator carried by a selector leaf.
type Comparator uint8

const (
	CmpLT Comparator = iota
	CmpLE
	CmpGT
	CmpGE
	CmpEQ
	CmpNE
)

func (c Comparator) sql() (string, error) {
	switch c {
	case CmpLT:
		return "<", nil
	case CmpLE:
		return "<=", nil
	case CmpGT:
		return ">", nil
	case CmpGE:
		return ">=", nil
	case CmpEQ:
		return "=", nil
	case CmpNE:
		return "<>", nil
	default:
		return "", julea.ErrComparatorInvalid
	}
}

// Selector is a tree expression over schema fields (§3). A node is a leaf
// when Field is non-empty; otherwise it is an internal node whose Children
// are combined with Mode.
type Selector struct {
	Mode       Mode
	Children   []*Selector
	Field      string
	Comparator Comparator
	Value      any
}

// And returns an internal AND node over children.
func And(children ...*Selector) *Selector {
	return &Selector{Mode: ModeAnd, Children: children}
}

// Or returns an internal OR node over children.
func Or(children ...*Selector) *Selector {
	return &Selector{Mode: ModeOr, Children: children}
}

// Leaf returns a comparison leaf over a single schema field.
func Leaf(field string, cmp Comparator, value any) *Selector {
	return &Selector{Field: field, Comparator: cmp, Value: value}
}

func (s *Selector) isLeaf() bool { return s != nil && s.Field != "" }

// validateFields checks every leaf's field name exists in schema (§3's
// selector invariant), failing with VariableNotFound otherwise.
func validateFields(schema *Schema, s *Selector) error {
	if s == nil {
		return nil
	}
	if s.isLeaf() {
		if _, ok := schema.Field(s.Field); !ok {
			return fmt.Errorf("enginesql: selector field %q: %w", s.Field, julea.ErrVariableNotFound)
		}
		return nil
	}
	for _, c := range s.Children {
		if err := validateFields(schema, c); err != nil {
			return err
		}
	}
	return nil
}

// buildSelectorSQL performs the first of the two post-order walks §4.3
// describes: it emits parenthesised SQL text for s, one "?" placeholder
// per leaf in left-to-right tree order, and appends each leaf's declared
// field type to paramTypes (used by the statement cache's
// in_param_types). A nil s produces no text and is the caller's signal to
// omit the WHERE clause entirely (an explicit "match everything" query,
// distinct from an empty-but-present selector node, which is always
// SelectorEmpty — see DESIGN.md's resolution of the Open Question).
func buildSelectorSQL(quote string, schema *Schema, s *Selector) (string, []FieldType, error) {
	if s == nil {
		return "", nil, nil
	}
	var paramTypes []FieldType
	text, err := buildNode(quote, schema, s, &paramTypes)
	return text, paramTypes, err
}

func buildNode(quote string, schema *Schema, s *Selector, paramTypes *[]FieldType) (string, error) {
	if s.isLeaf() {
		op, err := s.Comparator.sql()
		if err != nil {
			return "", err
		}
		ft, ok := schema.Field(s.Field)
		if !ok {
			return "", fmt.Errorf("enginesql: selector field %q: %w", s.Field, julea.ErrVariableNotFound)
		}
		*paramTypes = append(*paramTypes, ft)
		return fmt.Sprintf("%s%s%s %s ?", quote, s.Field, quote, op), nil
	}
	if len(s.Children) == 0 {
		return "", julea.ErrSelectorEmpty
	}
	op := "AND"
	if s.Mode == ModeOr {
		op = "OR"
	}
	parts := make([]string, len(s.Children))
	for i, c := range s.Children {
		part, err := buildNode(quote, schema, c, paramTypes)
		if err != nil {
			return "", err
		}
		parts[i] = part
	}
	return "( " + strings.Join(parts, " "+op+" ") + " )", nil
}

// bindSelectorValues performs the second post-order walk: it collects each
// leaf's bound value in the same left-to-right order buildSelectorSQL
// walked its fields, so the Nth value here binds the Nth "?" there.
func bindSelectorValues(s *Selector) ([]any, error) {
	if s == nil {
		return nil, nil
	}
	return bindNode(s)
}

func bindNode(s *Selector) ([]any, error) {
	if s.isLeaf() {
		return []any{s.Value}, nil
	}
	if len(s.Children) == 0 {
		return nil, julea.ErrSelectorEmpty
	}
	var out []any
	for _, c := range s.Children {
		vs, err := bindNode(c)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}
