// Package sqlfront parses a small SQL subset into plan fragments.
//
// It exists for tests and tooling: instead of constructing fragment trees
// by hand, a single-table SELECT can be written as text. The host
// integration path does not go through this package; it hands the bridge
// fragments built from the host's own plan representation.
package sqlfront

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/plan"
	"github.com/hupe1980/colbridge/schema"
)

// ParseError reports SQL outside the supported subset.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "sqlfront: " + e.Reason
}

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Parse compiles a single-table SELECT into a plan fragment plus the row
// type the fragment declares for its output.
func Parse(query string, cat plan.Catalog) (plan.Node, schema.RowType, error) {
	stmt, err := sqlparser.Parse(query)
	if err != nil {
		return nil, nil, parseErrorf("parse: %v", err)
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, nil, parseErrorf("only SELECT is supported, got %T", stmt)
	}
	if sel.Distinct != "" {
		return nil, nil, parseErrorf("DISTINCT is not supported")
	}
	if sel.Having != nil {
		return nil, nil, parseErrorf("HAVING is not supported")
	}

	table, err := singleTable(sel.From)
	if err != nil {
		return nil, nil, err
	}
	rt, ok := cat.RowType(table)
	if !ok {
		return nil, nil, parseErrorf("unknown table %q", table)
	}

	p := &parser{table: rt}

	var root plan.Node = &plan.Scan{Table: table}

	if sel.Where != nil {
		pred, _, err := p.expr(sel.Where.Expr)
		if err != nil {
			return nil, nil, err
		}
		root = &plan.Filter{Input: root, Pred: pred}
	}

	if isAggregateQuery(sel) {
		// Aggregation first; ORDER BY then sees the aggregate output.
		root, out, err := p.aggregate(root, sel)
		if err != nil {
			return nil, nil, err
		}
		root, err = p.orderAndLimit(root, sel)
		if err != nil {
			return nil, nil, err
		}
		return root, out, nil
	}

	// Projection preserves row count, so sorting and limiting below it lets
	// ORDER BY reference table columns the projection drops.
	root, err = p.orderAndLimit(root, sel)
	if err != nil {
		return nil, nil, err
	}
	return p.selectList(root, sel)
}

func isAggregateQuery(sel *sqlparser.Select) bool {
	if len(sel.GroupBy) > 0 {
		return true
	}
	for _, se := range sel.SelectExprs {
		if ae, ok := se.(*sqlparser.AliasedExpr); ok {
			if fn, ok := ae.Expr.(*sqlparser.FuncExpr); ok && aggregateFuncs[strings.ToLower(fn.Name.String())] {
				return true
			}
		}
	}
	return false
}

var aggregateFuncs = map[string]bool{
	"count": true,
	"sum":   true,
	"avg":   true,
	"min":   true,
	"max":   true,
}

func (p *parser) orderAndLimit(root plan.Node, sel *sqlparser.Select) (plan.Node, error) {
	if len(sel.OrderBy) > 0 {
		keys := make([]plan.SortKey, len(sel.OrderBy))
		for i, o := range sel.OrderBy {
			col, ok := o.Expr.(*sqlparser.ColName)
			if !ok {
				return nil, parseErrorf("ORDER BY supports column names only")
			}
			keys[i] = plan.SortKey{
				Column: col.Name.String(),
				Desc:   strings.EqualFold(o.Direction, "desc"),
			}
		}
		root = &plan.Sort{Input: root, Keys: keys}
	}

	if sel.Limit != nil {
		if sel.Limit.Offset != nil {
			return nil, parseErrorf("OFFSET is not supported")
		}
		n, err := intLiteral(sel.Limit.Rowcount)
		if err != nil {
			return nil, err
		}
		root = &plan.Limit{Input: root, Count: n}
	}
	return root, nil
}

func singleTable(from sqlparser.TableExprs) (string, error) {
	if len(from) != 1 {
		return "", parseErrorf("exactly one table expected in FROM")
	}
	aliased, ok := from[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", parseErrorf("joins are not supported")
	}
	name, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return "", parseErrorf("subqueries are not supported")
	}
	return name.Name.String(), nil
}

type parser struct {
	table schema.RowType
}

// selectList compiles a plain (non-aggregate) projection.
func (p *parser) selectList(input plan.Node, sel *sqlparser.Select) (plan.Node, schema.RowType, error) {
	if len(sel.SelectExprs) == 1 {
		if _, ok := sel.SelectExprs[0].(*sqlparser.StarExpr); ok {
			return input, p.table, nil
		}
	}

	names := make([]string, 0, len(sel.SelectExprs))
	exprs := make([]plan.Expr, 0, len(sel.SelectExprs))
	out := make(schema.RowType, 0, len(sel.SelectExprs))
	for _, se := range sel.SelectExprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, nil, parseErrorf("unsupported select expression %T", se)
		}
		e, ht, err := p.expr(ae.Expr)
		if err != nil {
			return nil, nil, err
		}
		name := outputName(ae)
		names = append(names, name)
		exprs = append(exprs, e)
		out = append(out, schema.HostColumn{Name: name, Type: ht.Type, Nullable: ht.Nullable})
	}
	return &plan.Project{Input: input, Names: names, Exprs: exprs}, out, nil
}

func (p *parser) aggregate(input plan.Node, sel *sqlparser.Select) (plan.Node, schema.RowType, error) {
	groupBy := make([]plan.Expr, 0, len(sel.GroupBy))
	groupNames := make(map[string]schema.HostColumn, len(sel.GroupBy))
	out := make(schema.RowType, 0, len(sel.SelectExprs))
	for _, g := range sel.GroupBy {
		col, ok := g.(*sqlparser.ColName)
		if !ok {
			return nil, nil, parseErrorf("GROUP BY supports column names only")
		}
		name := col.Name.String()
		hc, err := p.column(name)
		if err != nil {
			return nil, nil, err
		}
		groupBy = append(groupBy, &plan.ColumnRef{Name: name})
		groupNames[name] = hc
	}

	// Group columns come first in the output, in group-by order.
	for _, g := range groupBy {
		out = append(out, groupNames[g.(*plan.ColumnRef).Name])
	}

	var names []string
	var aggs []plan.AggExpr
	for _, se := range sel.SelectExprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, nil, parseErrorf("SELECT * cannot be combined with GROUP BY")
		}

		if col, ok := ae.Expr.(*sqlparser.ColName); ok {
			if _, grouped := groupNames[col.Name.String()]; !grouped {
				return nil, nil, parseErrorf("column %q is neither aggregated nor grouped", col.Name.String())
			}
			continue
		}

		fn, ok := ae.Expr.(*sqlparser.FuncExpr)
		if !ok || !fn.IsAggregate() {
			return nil, nil, parseErrorf("select expression must be a group column or an aggregate")
		}
		agg, ht, err := p.aggExpr(fn)
		if err != nil {
			return nil, nil, err
		}
		name := outputName(ae)
		names = append(names, name)
		aggs = append(aggs, agg)
		out = append(out, schema.HostColumn{Name: name, Type: ht.Type, Nullable: ht.Nullable})
	}

	node := &plan.Aggregate{Input: input, GroupBy: groupBy, Names: names, Aggs: aggs}
	return node, out, nil
}

func (p *parser) aggExpr(fn *sqlparser.FuncExpr) (plan.AggExpr, hostTyped, error) {
	name := strings.ToLower(fn.Name.String())

	if name == "count" {
		if len(fn.Exprs) == 1 {
			if _, star := fn.Exprs[0].(*sqlparser.StarExpr); star {
				return plan.AggExpr{Fn: plan.AggCountStar},
					hostTyped{Type: schema.HostType{Kind: schema.HostInt64}}, nil
			}
		}
	}

	if len(fn.Exprs) != 1 {
		return plan.AggExpr{}, hostTyped{}, parseErrorf("%s takes one argument", name)
	}
	ae, ok := fn.Exprs[0].(*sqlparser.AliasedExpr)
	if !ok {
		return plan.AggExpr{}, hostTyped{}, parseErrorf("unsupported %s argument", name)
	}
	arg, ht, err := p.expr(ae.Expr)
	if err != nil {
		return plan.AggExpr{}, hostTyped{}, err
	}

	switch name {
	case "count":
		return plan.AggExpr{Fn: plan.AggCount, Arg: arg},
			hostTyped{Type: schema.HostType{Kind: schema.HostInt64}}, nil
	case "sum":
		return plan.AggExpr{Fn: plan.AggSum, Arg: arg},
			hostTyped{Type: sumType(ht.Type), Nullable: true}, nil
	case "min":
		return plan.AggExpr{Fn: plan.AggMin, Arg: arg}, hostTyped{Type: ht.Type, Nullable: true}, nil
	case "max":
		return plan.AggExpr{Fn: plan.AggMax, Arg: arg}, hostTyped{Type: ht.Type, Nullable: true}, nil
	case "avg":
		return plan.AggExpr{Fn: plan.AggAvg, Arg: arg},
			hostTyped{Type: schema.HostType{Kind: schema.HostFloat64}, Nullable: true}, nil
	default:
		return plan.AggExpr{}, hostTyped{}, parseErrorf("aggregate %q is not supported", name)
	}
}

// sumType widens narrow integer sums to int8, matching how the engine sums.
func sumType(t schema.HostType) schema.HostType {
	switch t.Kind {
	case schema.HostInt16, schema.HostInt32, schema.HostInt64:
		return schema.HostType{Kind: schema.HostInt64}
	default:
		return t
	}
}

// hostTyped pairs an inferred host type with nullability, mirroring the
// typing the translator performs so the declared row type validates.
type hostTyped struct {
	Type     schema.HostType
	Nullable bool
}

func (p *parser) column(name string) (schema.HostColumn, error) {
	for _, hc := range p.table {
		if hc.Name == name {
			return hc, nil
		}
	}
	return schema.HostColumn{}, parseErrorf("unknown column %q", name)
}

func (p *parser) expr(e sqlparser.Expr) (plan.Expr, hostTyped, error) {
	switch t := e.(type) {
	case *sqlparser.ColName:
		hc, err := p.column(t.Name.String())
		if err != nil {
			return nil, hostTyped{}, err
		}
		return &plan.ColumnRef{Name: hc.Name}, hostTyped{Type: hc.Type, Nullable: hc.Nullable}, nil

	case *sqlparser.SQLVal:
		return literal(t)

	case sqlparser.BoolVal:
		return &plan.Const{Value: column.BoolDatum(bool(t))},
			hostTyped{Type: schema.HostType{Kind: schema.HostBool}}, nil

	case *sqlparser.NullVal:
		return nil, hostTyped{}, parseErrorf("bare NULL literals are not supported; use IS NULL")

	case *sqlparser.ParenExpr:
		return p.expr(t.Expr)

	case *sqlparser.ComparisonExpr:
		op, err := cmpOp(t.Operator)
		if err != nil {
			return nil, hostTyped{}, err
		}
		l, _, err := p.expr(t.Left)
		if err != nil {
			return nil, hostTyped{}, err
		}
		r, _, err := p.expr(t.Right)
		if err != nil {
			return nil, hostTyped{}, err
		}
		return &plan.Compare{Op: op, L: l, R: r},
			hostTyped{Type: schema.HostType{Kind: schema.HostBool}, Nullable: true}, nil

	case *sqlparser.AndExpr:
		l, _, err := p.expr(t.Left)
		if err != nil {
			return nil, hostTyped{}, err
		}
		r, _, err := p.expr(t.Right)
		if err != nil {
			return nil, hostTyped{}, err
		}
		return &plan.Logic{Op: plan.LogicAnd, L: l, R: r},
			hostTyped{Type: schema.HostType{Kind: schema.HostBool}, Nullable: true}, nil

	case *sqlparser.OrExpr:
		l, _, err := p.expr(t.Left)
		if err != nil {
			return nil, hostTyped{}, err
		}
		r, _, err := p.expr(t.Right)
		if err != nil {
			return nil, hostTyped{}, err
		}
		return &plan.Logic{Op: plan.LogicOr, L: l, R: r},
			hostTyped{Type: schema.HostType{Kind: schema.HostBool}, Nullable: true}, nil

	case *sqlparser.NotExpr:
		op, _, err := p.expr(t.Expr)
		if err != nil {
			return nil, hostTyped{}, err
		}
		return &plan.Not{E: op},
			hostTyped{Type: schema.HostType{Kind: schema.HostBool}, Nullable: true}, nil

	case *sqlparser.IsExpr:
		op, _, err := p.expr(t.Expr)
		if err != nil {
			return nil, hostTyped{}, err
		}
		switch t.Operator {
		case sqlparser.IsNullStr:
			return &plan.IsNull{E: op}, hostTyped{Type: schema.HostType{Kind: schema.HostBool}}, nil
		case sqlparser.IsNotNullStr:
			return &plan.IsNull{E: op, Negate: true}, hostTyped{Type: schema.HostType{Kind: schema.HostBool}}, nil
		default:
			return nil, hostTyped{}, parseErrorf("IS %s is not supported", t.Operator)
		}

	case *sqlparser.BinaryExpr:
		op, err := arithOp(t.Operator)
		if err != nil {
			return nil, hostTyped{}, err
		}
		l, lt, err := p.expr(t.Left)
		if err != nil {
			return nil, hostTyped{}, err
		}
		r, rt, err := p.expr(t.Right)
		if err != nil {
			return nil, hostTyped{}, err
		}
		return &plan.Arith{Op: op, L: l, R: r},
			hostTyped{Type: arithType(lt.Type, rt.Type), Nullable: lt.Nullable || rt.Nullable}, nil

	case *sqlparser.FuncExpr:
		return nil, hostTyped{}, parseErrorf("function %q is not supported here", t.Name.String())

	default:
		return nil, hostTyped{}, parseErrorf("unsupported expression %T", e)
	}
}

func literal(v *sqlparser.SQLVal) (plan.Expr, hostTyped, error) {
	switch v.Type {
	case sqlparser.IntVal:
		n, err := strconv.ParseInt(string(v.Val), 10, 64)
		if err != nil {
			return nil, hostTyped{}, parseErrorf("integer literal %q: %v", v.Val, err)
		}
		return &plan.Const{Value: column.Int64Datum(n)},
			hostTyped{Type: schema.HostType{Kind: schema.HostInt64}}, nil
	case sqlparser.FloatVal:
		f, err := strconv.ParseFloat(string(v.Val), 64)
		if err != nil {
			return nil, hostTyped{}, parseErrorf("float literal %q: %v", v.Val, err)
		}
		return &plan.Const{Value: column.Float64Datum(f)},
			hostTyped{Type: schema.HostType{Kind: schema.HostFloat64}}, nil
	case sqlparser.StrVal:
		return &plan.Const{Value: column.StringDatum(string(v.Val))},
			hostTyped{Type: schema.HostType{Kind: schema.HostText}}, nil
	default:
		return nil, hostTyped{}, parseErrorf("unsupported literal type")
	}
}

func cmpOp(op string) (plan.CmpOp, error) {
	switch op {
	case sqlparser.EqualStr:
		return plan.CmpEq, nil
	case sqlparser.NotEqualStr:
		return plan.CmpNe, nil
	case sqlparser.LessThanStr:
		return plan.CmpLt, nil
	case sqlparser.LessEqualStr:
		return plan.CmpLe, nil
	case sqlparser.GreaterThanStr:
		return plan.CmpGt, nil
	case sqlparser.GreaterEqualStr:
		return plan.CmpGe, nil
	default:
		return 0, parseErrorf("comparison %q is not supported", op)
	}
}

func arithOp(op string) (plan.ArithOp, error) {
	switch op {
	case sqlparser.PlusStr:
		return plan.ArithAdd, nil
	case sqlparser.MinusStr:
		return plan.ArithSub, nil
	case sqlparser.MultStr:
		return plan.ArithMul, nil
	case sqlparser.DivStr:
		return plan.ArithDiv, nil
	default:
		return 0, parseErrorf("operator %q is not supported", op)
	}
}

// arithType mirrors the translator's numeric promotion in host terms.
func arithType(l, r schema.HostType) schema.HostType {
	isFloat := func(t schema.HostType) bool {
		return t.Kind == schema.HostFloat32 || t.Kind == schema.HostFloat64
	}
	if isFloat(l) || isFloat(r) {
		return schema.HostType{Kind: schema.HostFloat64}
	}
	if l.Kind == schema.HostNumeric {
		return l
	}
	if r.Kind == schema.HostNumeric {
		return r
	}
	return schema.HostType{Kind: schema.HostInt64}
}

func intLiteral(e sqlparser.Expr) (int64, error) {
	v, ok := e.(*sqlparser.SQLVal)
	if !ok || v.Type != sqlparser.IntVal {
		return 0, parseErrorf("integer literal expected")
	}
	return strconv.ParseInt(string(v.Val), 10, 64)
}

func outputName(ae *sqlparser.AliasedExpr) string {
	if as := ae.As.String(); as != "" {
		return as
	}
	if col, ok := ae.Expr.(*sqlparser.ColName); ok {
		return col.Name.String()
	}
	return strings.ToLower(sqlparser.String(ae.Expr))
}
