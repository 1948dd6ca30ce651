// Package plan defines the host-side plan fragment representation and its
// translation into the embedded engine's logical plan.
//
// A fragment is a read-only operator tree over host catalog objects, owned by
// the caller for the duration of one Translate call. The operator and
// expression sets are closed tagged variants with an explicit unsupported
// case; translation of anything outside the supported subset fails cheaply
// and without side effects, so the caller can fall back to host execution.
package plan

import "github.com/hupe1980/colbridge/column"

// Node is one operator of a plan fragment.
type Node interface {
	operatorKind() string
}

// Scan reads a host table.
type Scan struct {
	Table string
}

// Filter keeps input rows for which Pred evaluates to true under the host's
// three-valued logic (false and unknown both drop the row).
type Filter struct {
	Input Node
	Pred  Expr
}

// Project computes one output column per expression.
type Project struct {
	Input Node
	Names []string
	Exprs []Expr
}

// Aggregate groups by the given column references and computes aggregates.
// With no group-by columns it produces exactly one row.
type Aggregate struct {
	Input   Node
	GroupBy []Expr
	Names   []string
	Aggs    []AggExpr
}

// AggFunc identifies an aggregate function.
type AggFunc uint8

const (
	// AggCountStar counts rows.
	AggCountStar AggFunc = iota
	// AggCount counts non-null argument values.
	AggCount
	// AggSum sums argument values.
	AggSum
	// AggMin takes the minimum argument value.
	AggMin
	// AggMax takes the maximum argument value.
	AggMax
	// AggAvg averages argument values.
	AggAvg
)

func (f AggFunc) String() string {
	switch f {
	case AggCountStar:
		return "count(*)"
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	default:
		return "unknown"
	}
}

// AggExpr is one aggregate computation. Arg is nil for count(*).
type AggExpr struct {
	Fn  AggFunc
	Arg Expr
}

// SortKey orders by one output column of the input.
type SortKey struct {
	Column string
	Desc   bool
}

// Sort orders its input by the given keys. Ascending order places nulls
// last, descending places them first, matching the host's default.
type Sort struct {
	Input Node
	Keys  []SortKey
}

// Limit passes through at most Count rows.
type Limit struct {
	Input Node
	Count int64
}

// Join is part of the host operator vocabulary but has no engine translation
// yet; translating a fragment containing one fails with TranslationError.
type Join struct {
	Left, Right Node
	On          Expr
}

func (*Scan) operatorKind() string      { return "scan" }
func (*Filter) operatorKind() string    { return "filter" }
func (*Project) operatorKind() string   { return "project" }
func (*Aggregate) operatorKind() string { return "aggregate" }
func (*Sort) operatorKind() string      { return "sort" }
func (*Limit) operatorKind() string     { return "limit" }
func (*Join) operatorKind() string      { return "join" }

// Expr is one expression of a plan fragment.
type Expr interface {
	exprKind() string
}

// ColumnRef references an input column by name.
type ColumnRef struct {
	Name string
}

// Const is a literal value.
type Const struct {
	Value column.Datum
}

// CmpOp identifies a comparison operator.
type CmpOp uint8

const (
	// CmpEq is "=".
	CmpEq CmpOp = iota
	// CmpNe is "<>".
	CmpNe
	// CmpLt is "<".
	CmpLt
	// CmpLe is "<=".
	CmpLe
	// CmpGt is ">".
	CmpGt
	// CmpGe is ">=".
	CmpGe
)

func (op CmpOp) String() string {
	switch op {
	case CmpEq:
		return "="
	case CmpNe:
		return "<>"
	case CmpLt:
		return "<"
	case CmpLe:
		return "<="
	case CmpGt:
		return ">"
	case CmpGe:
		return ">="
	default:
		return "?"
	}
}

// Compare compares two operands; comparing against null yields unknown.
type Compare struct {
	Op   CmpOp
	L, R Expr
}

// LogicOp identifies a boolean connective.
type LogicOp uint8

const (
	// LogicAnd is three-valued AND.
	LogicAnd LogicOp = iota
	// LogicOr is three-valued OR.
	LogicOr
)

// Logic connects two boolean operands with three-valued AND/OR.
type Logic struct {
	Op   LogicOp
	L, R Expr
}

// Not negates a boolean operand; NOT unknown stays unknown.
type Not struct {
	E Expr
}

// ArithOp identifies an arithmetic operator.
type ArithOp uint8

const (
	// ArithAdd is "+".
	ArithAdd ArithOp = iota
	// ArithSub is "-".
	ArithSub
	// ArithMul is "*".
	ArithMul
	// ArithDiv is "/".
	ArithDiv
)

func (op ArithOp) String() string {
	switch op {
	case ArithAdd:
		return "+"
	case ArithSub:
		return "-"
	case ArithMul:
		return "*"
	case ArithDiv:
		return "/"
	default:
		return "?"
	}
}

// Arith applies integer or floating point arithmetic; null propagates.
type Arith struct {
	Op   ArithOp
	L, R Expr
}

// IsNull tests a cell for null (or not null when Negate is set). It always
// yields a non-null boolean.
type IsNull struct {
	E      Expr
	Negate bool
}

// FuncCall represents a host function invocation. Host functions may depend
// on host-only runtime state, so translating one always fails rather than
// approximating its semantics.
type FuncCall struct {
	Name string
	Args []Expr
}

func (*ColumnRef) exprKind() string { return "column" }
func (*Const) exprKind() string     { return "const" }
func (*Compare) exprKind() string   { return "compare" }
func (*Logic) exprKind() string     { return "logic" }
func (*Not) exprKind() string       { return "not" }
func (*Arith) exprKind() string     { return "arith" }
func (*IsNull) exprKind() string    { return "isnull" }
func (*FuncCall) exprKind() string  { return "funccall" }
