// Package store is the thin table client the library services persist through.
// Records are untyped column maps; callers map them to their own types.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrConflict   = errors.New("guarded update lost: record changed")
	ErrDuplicate  = errors.New("duplicate key")
	ErrReferenced = errors.New("record is referenced")
	ErrCheck      = errors.New("check constraint violated")
	ErrMalformed  = errors.New("malformed record")
)

// Table names.
const (
	TableBooks        = "books"
	TableMembers      = "members"
	TableTransactions = "transactions"
)

// Store is the generic table contract.
type Store interface {
	Find(ctx context.Context, table, id string) (Record, error)
	Insert(ctx context.Context, table string, fields Record) (Record, error)
	// Update applies fields to the row with id. When guards are given the row is
	// only written if every guard holds; otherwise ErrConflict is returned.
	// Delta and SignCase values are computed from the row being written.
	Update(ctx context.Context, table, id string, fields Record, guards ...Condition) (Record, error)
	Delete(ctx context.Context, table, id string) error
	Query(ctx context.Context, table string, q Query) ([]Record, error)
	QueryJoined(ctx context.Context, table string, q Query, joins ...Join) ([]Record, error)
	Count(ctx context.Context, table string, q Query) (int, error)
}

type op int

const (
	opEq op = iota
	opGt
	opLt
	opContains
)

// Condition is a single column filter.
type Condition struct {
	Column string
	Value  any
	op     op
}

func Eq(column string, value any) Condition { return Condition{Column: column, Value: value, op: opEq} }
func Gt(column string, value any) Condition { return Condition{Column: column, Value: value, op: opGt} }
func Lt(column string, value any) Condition { return Condition{Column: column, Value: value, op: opLt} }

// Contains matches rows whose column contains s, ignoring case.
func Contains(column, s string) Condition {
	return Condition{Column: column, Value: s, op: opContains}
}

// Ref names another column of the same row when used as a Condition value.
type Ref string

// Delta is an update value that adds to the column's current value.
type Delta int

// SignCase is an update value picked from the row's current state: Positive
// when Column + Offset > 0, Otherwise when not.
type SignCase struct {
	Column    string
	Offset    int
	Positive  any
	Otherwise any
}

func (c Condition) expression(qualifier string) exp.Expression {
	col := ident(qualifier, c.Column)
	value := c.Value
	if ref, ok := value.(Ref); ok {
		value = ident(qualifier, string(ref))
	}
	switch c.op {
	case opGt:
		return col.Gt(value)
	case opLt:
		return col.Lt(value)
	case opContains:
		needle, _ := value.(string)
		return goqu.Func("LOWER", col).Like("%" + strings.ToLower(needle) + "%")
	default:
		return col.Eq(value)
	}
}

// setValue turns relative update values into SQL evaluated against the row.
func setValue(column string, v any) any {
	switch v := v.(type) {
	case Delta:
		return goqu.L("? + ?", goqu.C(column), int(v))
	case SignCase:
		return goqu.Case().
			When(goqu.L("? + ? > 0", goqu.C(v.Column), v.Offset), v.Positive).
			Else(v.Otherwise)
	default:
		return v
	}
}

func ident(qualifier, column string) exp.IdentifierExpression {
	if qualifier == "" {
		return goqu.C(column)
	}
	return goqu.T(qualifier).Col(column)
}

// Query selects rows from a single table.
type Query struct {
	Where   []Condition // all must hold
	AnyOf   []Condition // at least one must hold, when set
	OrderBy string
	Desc    bool
	Limit   int
}

// Join pulls columns of a referenced row into each result record under Prefix.
type Join struct {
	Table      string
	ForeignKey string
	Columns    []string
	Prefix     string
}
