package engine

import (
	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/schema"
)

// Plan is the engine-neutral physical plan produced by translation.
// It carries no allocated resources; execution state is created only when a
// context is opened and the plan is started.
type Plan struct {
	Root Node
	// Schema is the output schema, validated against the host fragment's
	// declared row type during translation.
	Schema schema.LogicalSchema
	// Ordered marks plans whose output order is semantically fixed (an
	// explicit sort). Unordered plans may be produced in any stable order.
	Ordered bool
}

// Node is one physical operator.
type Node interface {
	// OutSchema is the operator's output schema.
	OutSchema() schema.LogicalSchema
}

// ScanNode reads all columns of one table.
type ScanNode struct {
	Table string
	Out   schema.LogicalSchema
}

// FilterNode keeps rows whose predicate evaluates to true; false and unknown
// both drop the row.
type FilterNode struct {
	Input Node
	Pred  Expr
}

// ProjectNode computes one output vector per expression.
type ProjectNode struct {
	Input Node
	Exprs []Expr
	Out   schema.LogicalSchema
}

// AggFunc identifies a physical aggregate.
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

// AggSpec is one aggregate computation. Arg is nil for AggCountStar.
type AggSpec struct {
	Fn  AggFunc
	Arg Expr
	// Type is the aggregate's output type.
	Type  column.Type
	Scale int
}

// AggregateNode groups by the given expressions and computes aggregates.
// Grouped aggregation is order-insensitive; its output order is unspecified.
type AggregateNode struct {
	Input   Node
	GroupBy []Expr
	Aggs    []AggSpec
	Out     schema.LogicalSchema
}

// SortKey orders by one input column ordinal. Ascending places nulls last,
// descending places them first.
type SortKey struct {
	Col  int
	Desc bool
}

// SortNode fully orders its input. It materializes all input batches before
// emitting output.
type SortNode struct {
	Input Node
	Keys  []SortKey
}

// LimitNode passes through at most Count rows.
type LimitNode struct {
	Input Node
	Count int64
}

func (n *ScanNode) OutSchema() schema.LogicalSchema      { return n.Out }
func (n *FilterNode) OutSchema() schema.LogicalSchema    { return n.Input.OutSchema() }
func (n *ProjectNode) OutSchema() schema.LogicalSchema   { return n.Out }
func (n *AggregateNode) OutSchema() schema.LogicalSchema { return n.Out }
func (n *SortNode) OutSchema() schema.LogicalSchema      { return n.Input.OutSchema() }
func (n *LimitNode) OutSchema() schema.LogicalSchema     { return n.Input.OutSchema() }

// CmpOp identifies a physical comparison.
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

// LogicOp identifies a physical boolean connective.
type LogicOp uint8

const (
	// LogicAnd is three-valued AND.
	LogicAnd LogicOp = iota
	// LogicOr is three-valued OR.
	LogicOr
)

// ArithOp identifies a physical arithmetic operator.
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

// Expr is a compiled expression over input column ordinals.
//
// Boolean expressions follow the host's three-valued logic: the result
// vector's null bitmap marks "unknown".
type Expr interface {
	// Type is the expression's output type.
	Type() column.Type
	// Scale is the decimal scale of the output (0 otherwise).
	Scale() int
	// Nullable reports whether the expression can yield null.
	Nullable() bool
}

// ColExpr reads input column Idx.
type ColExpr struct {
	Idx  int
	Typ  column.Type
	Sc   int
	Null bool
}

func (e *ColExpr) Type() column.Type { return e.Typ }
func (e *ColExpr) Scale() int        { return e.Sc }
func (e *ColExpr) Nullable() bool    { return e.Null }

// ConstExpr yields a literal for every row.
type ConstExpr struct {
	Val column.Datum
}

func (e *ConstExpr) Type() column.Type { return e.Val.Type }
func (e *ConstExpr) Scale() int        { return e.Val.Scale }
func (e *ConstExpr) Nullable() bool    { return e.Val.Null }

// CastExpr widens Int64 to Float64. It is the only cast the engine performs;
// anything narrower is a mapping defect, not a runtime case.
type CastExpr struct {
	E Expr
}

func (e *CastExpr) Type() column.Type { return column.TypeFloat64 }
func (e *CastExpr) Scale() int        { return 0 }
func (e *CastExpr) Nullable() bool    { return e.E.Nullable() }

// CmpExpr compares two operands of identical physical type.
type CmpExpr struct {
	Op   CmpOp
	L, R Expr
}

func (e *CmpExpr) Type() column.Type { return column.TypeBool }
func (e *CmpExpr) Scale() int        { return 0 }
func (e *CmpExpr) Nullable() bool    { return e.L.Nullable() || e.R.Nullable() }

// LogicExpr connects two boolean operands.
type LogicExpr struct {
	Op   LogicOp
	L, R Expr
}

func (e *LogicExpr) Type() column.Type { return column.TypeBool }
func (e *LogicExpr) Scale() int        { return 0 }
func (e *LogicExpr) Nullable() bool    { return e.L.Nullable() || e.R.Nullable() }

// NotExpr negates a boolean operand.
type NotExpr struct {
	E Expr
}

func (e *NotExpr) Type() column.Type { return column.TypeBool }
func (e *NotExpr) Scale() int        { return 0 }
func (e *NotExpr) Nullable() bool    { return e.E.Nullable() }

// ArithExpr applies arithmetic over Int64, Float64 or equal-scale Decimal
// operands.
type ArithExpr struct {
	Op   ArithOp
	L, R Expr
	Typ  column.Type
	Sc   int
}

func (e *ArithExpr) Type() column.Type { return e.Typ }
func (e *ArithExpr) Scale() int        { return e.Sc }
func (e *ArithExpr) Nullable() bool    { return e.L.Nullable() || e.R.Nullable() }

// IsNullExpr tests for null; it never yields null itself.
type IsNullExpr struct {
	E      Expr
	Negate bool
}

func (e *IsNullExpr) Type() column.Type { return column.TypeBool }
func (e *IsNullExpr) Scale() int        { return 0 }
func (e *IsNullExpr) Nullable() bool    { return false }
