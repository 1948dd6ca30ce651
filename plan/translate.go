package plan

import (
	"fmt"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/engine"
	"github.com/hupe1980/colbridge/schema"
)

// Catalog resolves table names to host row types. The host integration
// layer implements it over the host catalog; tests implement it over a map.
type Catalog interface {
	RowType(table string) (schema.RowType, bool)
}

// TranslationError reports a fragment the engine cannot run. It carries the
// offending construct so the host can log why it fell back, and nothing
// else: translation failure allocates no engine resources.
type TranslationError struct {
	Construct string
	Reason    string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("cannot translate %s: %s", e.Construct, e.Reason)
}

func translationErrorf(construct, format string, args ...any) *TranslationError {
	return &TranslationError{Construct: construct, Reason: fmt.Sprintf(format, args...)}
}

// Translate compiles a host plan fragment into an engine plan. The declared
// row type is the host's view of the fragment output; the translated plan's
// schema is validated against it so a bridge defect surfaces here, not as a
// corrupt row downstream.
//
// Translation is pure: on error nothing is allocated from any engine
// resource and the host falls back to executing the fragment itself.
func Translate(root Node, declared schema.RowType, mapper *schema.Mapper, cat Catalog) (*engine.Plan, error) {
	tr := &translator{mapper: mapper, cat: cat}

	node, out, err := tr.node(root)
	if err != nil {
		return nil, err
	}

	want, err := mapper.Map(declared)
	if err != nil {
		return nil, err
	}
	if err := validateOutput(out, want); err != nil {
		return nil, err
	}

	return &engine.Plan{
		Root:    node,
		Schema:  want,
		Ordered: isOrdered(root),
	}, nil
}

// isOrdered reports whether the fragment's output order is semantically
// fixed: a sort at the top, possibly under a limit.
func isOrdered(n Node) bool {
	for {
		switch t := n.(type) {
		case *Sort:
			return true
		case *Limit:
			n = t.Input
		default:
			return false
		}
	}
}

type translator struct {
	mapper *schema.Mapper
	cat    Catalog
}

func (tr *translator) node(n Node) (engine.Node, schema.LogicalSchema, error) {
	switch t := n.(type) {
	case *Scan:
		rt, ok := tr.cat.RowType(t.Table)
		if !ok {
			return nil, nil, translationErrorf("scan", "unknown table %q", t.Table)
		}
		out, err := tr.mapper.Map(rt)
		if err != nil {
			return nil, nil, err
		}
		return &engine.ScanNode{Table: t.Table, Out: out}, out, nil

	case *Filter:
		input, in, err := tr.node(t.Input)
		if err != nil {
			return nil, nil, err
		}
		pred, err := tr.expr(t.Pred, in)
		if err != nil {
			return nil, nil, err
		}
		if pred.Type() != column.TypeBool {
			return nil, nil, translationErrorf("filter", "predicate yields %s, want bool", pred.Type())
		}
		return &engine.FilterNode{Input: input, Pred: pred}, in, nil

	case *Project:
		if len(t.Names) != len(t.Exprs) {
			return nil, nil, translationErrorf("project", "%d names for %d expressions", len(t.Names), len(t.Exprs))
		}
		input, in, err := tr.node(t.Input)
		if err != nil {
			return nil, nil, err
		}
		exprs := make([]engine.Expr, len(t.Exprs))
		out := make(schema.LogicalSchema, len(t.Exprs))
		for i, e := range t.Exprs {
			ce, err := tr.expr(e, in)
			if err != nil {
				return nil, nil, err
			}
			exprs[i] = ce
			out[i] = schema.ColumnDescriptor{
				Name:     t.Names[i],
				Type:     ce.Type(),
				Scale:    ce.Scale(),
				Nullable: ce.Nullable(),
			}
		}
		return &engine.ProjectNode{Input: input, Exprs: exprs, Out: out}, out, nil

	case *Aggregate:
		return tr.aggregate(t)

	case *Sort:
		input, in, err := tr.node(t.Input)
		if err != nil {
			return nil, nil, err
		}
		keys := make([]engine.SortKey, len(t.Keys))
		for i, k := range t.Keys {
			ord := columnOrdinal(in, k.Column)
			if ord < 0 {
				return nil, nil, translationErrorf("sort", "unknown column %q", k.Column)
			}
			keys[i] = engine.SortKey{Col: ord, Desc: k.Desc}
		}
		return &engine.SortNode{Input: input, Keys: keys}, in, nil

	case *Limit:
		if t.Count < 0 {
			return nil, nil, translationErrorf("limit", "negative count %d", t.Count)
		}
		input, in, err := tr.node(t.Input)
		if err != nil {
			return nil, nil, err
		}
		return &engine.LimitNode{Input: input, Count: t.Count}, in, nil

	case *Join:
		return nil, nil, translationErrorf("join", "joins are not supported")

	default:
		return nil, nil, translationErrorf(n.operatorKind(), "unsupported operator")
	}
}

func (tr *translator) aggregate(t *Aggregate) (engine.Node, schema.LogicalSchema, error) {
	if len(t.Names) != len(t.Aggs) {
		return nil, nil, translationErrorf("aggregate", "%d names for %d aggregates", len(t.Names), len(t.Aggs))
	}
	input, in, err := tr.node(t.Input)
	if err != nil {
		return nil, nil, err
	}

	groupBy := make([]engine.Expr, len(t.GroupBy))
	out := make(schema.LogicalSchema, 0, len(t.GroupBy)+len(t.Aggs))
	for i, g := range t.GroupBy {
		ce, err := tr.expr(g, in)
		if err != nil {
			return nil, nil, err
		}
		groupBy[i] = ce

		name := fmt.Sprintf("group%d", i)
		if ref, ok := g.(*ColumnRef); ok {
			name = ref.Name
		}
		out = append(out, schema.ColumnDescriptor{
			Name:     name,
			Type:     ce.Type(),
			Scale:    ce.Scale(),
			Nullable: ce.Nullable(),
		})
	}

	aggs := make([]engine.AggSpec, len(t.Aggs))
	for i, a := range t.Aggs {
		spec, desc, err := tr.aggSpec(a, t.Names[i], in)
		if err != nil {
			return nil, nil, err
		}
		aggs[i] = spec
		out = append(out, desc)
	}

	return &engine.AggregateNode{Input: input, GroupBy: groupBy, Aggs: aggs, Out: out}, out, nil
}

func (tr *translator) aggSpec(a AggExpr, name string, in schema.LogicalSchema) (engine.AggSpec, schema.ColumnDescriptor, error) {
	var zero engine.AggSpec

	if a.Fn == AggCountStar {
		return engine.AggSpec{Fn: engine.AggCountStar, Type: column.TypeInt64},
			schema.ColumnDescriptor{Name: name, Type: column.TypeInt64}, nil
	}

	if a.Arg == nil {
		return zero, schema.ColumnDescriptor{}, translationErrorf("aggregate", "%s without argument", a.Fn)
	}
	arg, err := tr.expr(a.Arg, in)
	if err != nil {
		return zero, schema.ColumnDescriptor{}, err
	}

	switch a.Fn {
	case AggCount:
		return engine.AggSpec{Fn: engine.AggCount, Arg: arg, Type: column.TypeInt64},
			schema.ColumnDescriptor{Name: name, Type: column.TypeInt64}, nil

	case AggSum:
		switch arg.Type() {
		case column.TypeInt64, column.TypeFloat64, column.TypeDecimal:
			spec := engine.AggSpec{Fn: engine.AggSum, Arg: arg, Type: arg.Type(), Scale: arg.Scale()}
			return spec, schema.ColumnDescriptor{Name: name, Type: arg.Type(), Scale: arg.Scale(), Nullable: true}, nil
		default:
			return zero, schema.ColumnDescriptor{}, translationErrorf("aggregate", "sum over %s", arg.Type())
		}

	case AggMin, AggMax:
		fn := engine.AggMin
		if a.Fn == AggMax {
			fn = engine.AggMax
		}
		spec := engine.AggSpec{Fn: fn, Arg: arg, Type: arg.Type(), Scale: arg.Scale()}
		return spec, schema.ColumnDescriptor{Name: name, Type: arg.Type(), Scale: arg.Scale(), Nullable: true}, nil

	case AggAvg:
		switch arg.Type() {
		case column.TypeInt64, column.TypeFloat64, column.TypeDecimal:
			spec := engine.AggSpec{Fn: engine.AggAvg, Arg: arg, Type: column.TypeFloat64}
			return spec, schema.ColumnDescriptor{Name: name, Type: column.TypeFloat64, Nullable: true}, nil
		default:
			return zero, schema.ColumnDescriptor{}, translationErrorf("aggregate", "avg over %s", arg.Type())
		}

	default:
		return zero, schema.ColumnDescriptor{}, translationErrorf("aggregate", "unknown function")
	}
}

func (tr *translator) expr(e Expr, in schema.LogicalSchema) (engine.Expr, error) {
	switch t := e.(type) {
	case *ColumnRef:
		ord := columnOrdinal(in, t.Name)
		if ord < 0 {
			return nil, translationErrorf("column", "unknown column %q", t.Name)
		}
		desc := in[ord]
		return &engine.ColExpr{Idx: ord, Typ: desc.Type, Sc: desc.Scale, Null: desc.Nullable}, nil

	case *Const:
		return &engine.ConstExpr{Val: t.Value}, nil

	case *Compare:
		l, r, _, err := tr.operands(t.L, t.R, in, t.Op.String())
		if err != nil {
			return nil, err
		}
		return &engine.CmpExpr{Op: engine.CmpOp(t.Op), L: l, R: r}, nil

	case *Logic:
		l, err := tr.boolOperand(t.L, in, "logic")
		if err != nil {
			return nil, err
		}
		r, err := tr.boolOperand(t.R, in, "logic")
		if err != nil {
			return nil, err
		}
		return &engine.LogicExpr{Op: engine.LogicOp(t.Op), L: l, R: r}, nil

	case *Not:
		op, err := tr.boolOperand(t.E, in, "not")
		if err != nil {
			return nil, err
		}
		return &engine.NotExpr{E: op}, nil

	case *Arith:
		l, r, typ, err := tr.operands(t.L, t.R, in, t.Op.String())
		if err != nil {
			return nil, err
		}
		switch typ {
		case column.TypeInt64, column.TypeFloat64:
			return &engine.ArithExpr{Op: engine.ArithOp(t.Op), L: l, R: r, Typ: typ}, nil
		case column.TypeDecimal:
			if t.Op != ArithAdd && t.Op != ArithSub {
				return nil, translationErrorf("arith", "decimal %s is not supported", t.Op)
			}
			return &engine.ArithExpr{Op: engine.ArithOp(t.Op), L: l, R: r, Typ: typ, Sc: l.Scale()}, nil
		default:
			return nil, translationErrorf("arith", "%s over %s", t.Op, typ)
		}

	case *IsNull:
		op, err := tr.expr(t.E, in)
		if err != nil {
			return nil, err
		}
		return &engine.IsNullExpr{E: op, Negate: t.Negate}, nil

	case *FuncCall:
		return nil, translationErrorf("function", "host function %q is not supported", t.Name)

	default:
		return nil, translationErrorf(e.exprKind(), "unsupported expression")
	}
}

// operands compiles both sides of a binary operator and unifies their types.
// The only implicit conversion is widening Int64 to Float64; decimal
// operands must agree on scale exactly.
func (tr *translator) operands(le, re Expr, in schema.LogicalSchema, construct string) (engine.Expr, engine.Expr, column.Type, error) {
	l, err := tr.expr(le, in)
	if err != nil {
		return nil, nil, 0, err
	}
	r, err := tr.expr(re, in)
	if err != nil {
		return nil, nil, 0, err
	}

	lt, rt := l.Type(), r.Type()
	switch {
	case lt == rt:
		if lt == column.TypeDecimal && l.Scale() != r.Scale() {
			return nil, nil, 0, translationErrorf(construct, "decimal scales %d and %d differ", l.Scale(), r.Scale())
		}
		return l, r, lt, nil
	case lt == column.TypeInt64 && rt == column.TypeFloat64:
		return &engine.CastExpr{E: l}, r, column.TypeFloat64, nil
	case lt == column.TypeFloat64 && rt == column.TypeInt64:
		return l, &engine.CastExpr{E: r}, column.TypeFloat64, nil
	default:
		return nil, nil, 0, translationErrorf(construct, "operand types %s and %s are incompatible", lt, rt)
	}
}

func (tr *translator) boolOperand(e Expr, in schema.LogicalSchema, construct string) (engine.Expr, error) {
	op, err := tr.expr(e, in)
	if err != nil {
		return nil, err
	}
	if op.Type() != column.TypeBool {
		return nil, translationErrorf(construct, "operand yields %s, want bool", op.Type())
	}
	return op, nil
}

func columnOrdinal(in schema.LogicalSchema, name string) int {
	for i, desc := range in {
		if desc.Name == name {
			return i
		}
	}
	return -1
}

// validateOutput checks the translated output shape against the host's
// declared row type.
func validateOutput(got, want schema.LogicalSchema) error {
	if len(got) != len(want) {
		return translationErrorf("output", "%d columns, host declared %d", len(got), len(want))
	}
	for i := range got {
		if got[i].Type != want[i].Type || got[i].Scale != want[i].Scale {
			return translationErrorf("output",
				"column %d is %s(scale %d), host declared %s(scale %d)",
				i, got[i].Type, got[i].Scale, want[i].Type, want[i].Scale)
		}
		if got[i].Nullable && !want[i].Nullable {
			return translationErrorf("output",
				"column %d is nullable, host declared it not null", i)
		}
	}
	return nil
}
