package engine

import (
	"bytes"
	"math"
	"strings"

	"github.com/hupe1980/colbridge/column"
)

// evalStride bounds how many rows an evaluation loop processes between
// cancellation checkpoints, so a long single-batch computation stays
// cancellable mid-batch.
const evalStride = 512

// evalExpr evaluates a compiled expression over rows [lo,hi) of a batch,
// producing a vector of hi-lo cells from the context arena.
func evalExpr(ec *Context, e Expr, b *column.Batch, lo, hi int) (*column.Vector, error) {
	switch ex := e.(type) {
	case *ColExpr:
		return evalColumn(ec, ex, b, lo, hi)
	case *ConstExpr:
		return evalConst(ec, ex, hi-lo)
	case *CastExpr:
		return evalCast(ec, ex, b, lo, hi)
	case *CmpExpr:
		return evalCompare(ec, ex, b, lo, hi)
	case *LogicExpr:
		return evalLogic(ec, ex, b, lo, hi)
	case *NotExpr:
		return evalNot(ec, ex, b, lo, hi)
	case *ArithExpr:
		return evalArith(ec, ex, b, lo, hi)
	case *IsNullExpr:
		return evalIsNull(ec, ex, b, lo, hi)
	default:
		return nil, execErrorf("eval", "unknown expression %T", e)
	}
}

func evalColumn(ec *Context, e *ColExpr, b *column.Batch, lo, hi int) (*column.Vector, error) {
	src := b.Col(e.Idx)
	out, err := column.NewVector(ec.hostCtx, e.Typ, e.Sc, hi-lo, ec.Allocator())
	if err != nil {
		return nil, err
	}
	for i := lo; i < hi; i++ {
		if (i-lo)%evalStride == 0 {
			if err := ec.checkpoint(evalStride); err != nil {
				return nil, err
			}
		}
		out.AppendFrom(src, i)
	}
	return out, nil
}

func evalConst(ec *Context, e *ConstExpr, n int) (*column.Vector, error) {
	out, err := column.NewVector(ec.hostCtx, e.Val.Type, e.Val.Scale, n, ec.Allocator())
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if err := out.AppendDatum(e.Val); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func evalCast(ec *Context, e *CastExpr, b *column.Batch, lo, hi int) (*column.Vector, error) {
	in, err := evalExpr(ec, e.E, b, lo, hi)
	if err != nil {
		return nil, err
	}
	out, err := column.NewVector(ec.hostCtx, column.TypeFloat64, 0, in.Len(), ec.Allocator())
	if err != nil {
		return nil, err
	}
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			out.AppendNull()
			continue
		}
		out.AppendFloat64(float64(in.Int64(i)))
	}
	return out, nil
}

func evalCompare(ec *Context, e *CmpExpr, b *column.Batch, lo, hi int) (*column.Vector, error) {
	l, err := evalExpr(ec, e.L, b, lo, hi)
	if err != nil {
		return nil, err
	}
	r, err := evalExpr(ec, e.R, b, lo, hi)
	if err != nil {
		return nil, err
	}

	out, err := column.NewVector(ec.hostCtx, column.TypeBool, 0, l.Len(), ec.Allocator())
	if err != nil {
		return nil, err
	}
	for i := 0; i < l.Len(); i++ {
		if i%evalStride == 0 {
			if err := ec.checkpoint(evalStride); err != nil {
				return nil, err
			}
		}
		// Comparing against null yields unknown.
		if l.IsNull(i) || r.IsNull(i) {
			out.AppendNull()
			continue
		}
		c := compareCells(l, i, r, i)
		var v bool
		switch e.Op {
		case CmpEq:
			v = c == 0
		case CmpNe:
			v = c != 0
		case CmpLt:
			v = c < 0
		case CmpLe:
			v = c <= 0
		case CmpGt:
			v = c > 0
		case CmpGe:
			v = c >= 0
		}
		out.AppendBool(v)
	}
	return out, nil
}

// compareCells compares cell li of l against cell ri of r. Both cells must
// be non-null and of identical type. False sorts before true.
func compareCells(l *column.Vector, li int, r *column.Vector, ri int) int {
	switch l.Type() {
	case column.TypeBool:
		lb, rb := l.Bool(li), r.Bool(ri)
		switch {
		case lb == rb:
			return 0
		case rb:
			return -1
		default:
			return 1
		}
	case column.TypeInt64, column.TypeDecimal, column.TypeTimestamp:
		lv, rv := l.Int64(li), r.Int64(ri)
		switch {
		case lv < rv:
			return -1
		case lv > rv:
			return 1
		default:
			return 0
		}
	case column.TypeFloat64:
		lf, rf := l.Float64(li), r.Float64(ri)
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		default:
			return 0
		}
	case column.TypeString:
		return strings.Compare(l.StringAt(li), r.StringAt(ri))
	case column.TypeBytes:
		return bytes.Compare(l.BytesAt(li), r.BytesAt(ri))
	default:
		return 0
	}
}

func evalLogic(ec *Context, e *LogicExpr, b *column.Batch, lo, hi int) (*column.Vector, error) {
	l, err := evalExpr(ec, e.L, b, lo, hi)
	if err != nil {
		return nil, err
	}
	r, err := evalExpr(ec, e.R, b, lo, hi)
	if err != nil {
		return nil, err
	}

	out, err := column.NewVector(ec.hostCtx, column.TypeBool, 0, l.Len(), ec.Allocator())
	if err != nil {
		return nil, err
	}
	for i := 0; i < l.Len(); i++ {
		ln, rn := l.IsNull(i), r.IsNull(i)
		var lv, rv bool
		if !ln {
			lv = l.Bool(i)
		}
		if !rn {
			rv = r.Bool(i)
		}
		// Kleene logic: a definite false (AND) or true (OR) dominates an
		// unknown operand.
		switch e.Op {
		case LogicAnd:
			switch {
			case !ln && !lv, !rn && !rv:
				out.AppendBool(false)
			case ln || rn:
				out.AppendNull()
			default:
				out.AppendBool(true)
			}
		case LogicOr:
			switch {
			case !ln && lv, !rn && rv:
				out.AppendBool(true)
			case ln || rn:
				out.AppendNull()
			default:
				out.AppendBool(false)
			}
		}
	}
	return out, nil
}

func evalNot(ec *Context, e *NotExpr, b *column.Batch, lo, hi int) (*column.Vector, error) {
	in, err := evalExpr(ec, e.E, b, lo, hi)
	if err != nil {
		return nil, err
	}
	out, err := column.NewVector(ec.hostCtx, column.TypeBool, 0, in.Len(), ec.Allocator())
	if err != nil {
		return nil, err
	}
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			out.AppendNull()
			continue
		}
		out.AppendBool(!in.Bool(i))
	}
	return out, nil
}

func evalArith(ec *Context, e *ArithExpr, b *column.Batch, lo, hi int) (*column.Vector, error) {
	l, err := evalExpr(ec, e.L, b, lo, hi)
	if err != nil {
		return nil, err
	}
	r, err := evalExpr(ec, e.R, b, lo, hi)
	if err != nil {
		return nil, err
	}

	out, err := column.NewVector(ec.hostCtx, e.Typ, e.Sc, l.Len(), ec.Allocator())
	if err != nil {
		return nil, err
	}
	for i := 0; i < l.Len(); i++ {
		if i%evalStride == 0 {
			if err := ec.checkpoint(evalStride); err != nil {
				return nil, err
			}
		}
		if l.IsNull(i) || r.IsNull(i) {
			out.AppendNull()
			continue
		}
		switch e.Typ {
		case column.TypeInt64, column.TypeDecimal:
			v, err := intArith(e.Op, l.Int64(i), r.Int64(i))
			if err != nil {
				return nil, err
			}
			out.AppendInt64(v)
		case column.TypeFloat64:
			v, err := floatArith(e.Op, l.Float64(i), r.Float64(i))
			if err != nil {
				return nil, err
			}
			out.AppendFloat64(v)
		default:
			return nil, execErrorf("arith", "unsupported operand type %s", e.Typ)
		}
	}
	return out, nil
}

func intArith(op ArithOp, a, b int64) (int64, error) {
	switch op {
	case ArithAdd:
		v := a + b
		if (a > 0 && b > 0 && v < 0) || (a < 0 && b < 0 && v >= 0) {
			return 0, execErrorf("arith", "integer overflow: %d + %d", a, b)
		}
		return v, nil
	case ArithSub:
		v := a - b
		if (a >= 0 && b < 0 && v < 0) || (a < 0 && b > 0 && v >= 0) {
			return 0, execErrorf("arith", "integer overflow: %d - %d", a, b)
		}
		return v, nil
	case ArithMul:
		if a == 0 || b == 0 {
			return 0, nil
		}
		// v/b == a holds for MinInt64 * -1 because the division wraps too.
		if (a == math.MinInt64 && b == -1) || (a == -1 && b == math.MinInt64) {
			return 0, execErrorf("arith", "integer overflow: %d * %d", a, b)
		}
		v := a * b
		if v/b != a {
			return 0, execErrorf("arith", "integer overflow: %d * %d", a, b)
		}
		return v, nil
	case ArithDiv:
		if b == 0 {
			return 0, execErrorf("arith", "division by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return 0, execErrorf("arith", "integer overflow: %d / %d", a, b)
		}
		return a / b, nil
	default:
		return 0, execErrorf("arith", "unknown operator")
	}
}

func floatArith(op ArithOp, a, b float64) (float64, error) {
	switch op {
	case ArithAdd:
		return a + b, nil
	case ArithSub:
		return a - b, nil
	case ArithMul:
		return a * b, nil
	case ArithDiv:
		if b == 0 {
			return 0, execErrorf("arith", "division by zero")
		}
		return a / b, nil
	default:
		return 0, execErrorf("arith", "unknown operator")
	}
}

func evalIsNull(ec *Context, e *IsNullExpr, b *column.Batch, lo, hi int) (*column.Vector, error) {
	in, err := evalExpr(ec, e.E, b, lo, hi)
	if err != nil {
		return nil, err
	}
	out, err := column.NewVector(ec.hostCtx, column.TypeBool, 0, in.Len(), ec.Allocator())
	if err != nil {
		return nil, err
	}
	for i := 0; i < in.Len(); i++ {
		v := in.IsNull(i)
		if e.Negate {
			v = !v
		}
		out.AppendBool(v)
	}
	return out, nil
}
