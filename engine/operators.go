package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/schema"
)

// operator is one node of a running pipeline. next returns (nil, nil) when
// the operator is exhausted; after that it must not be called again.
//
// Operators are single-consumer: only the producer goroutine calls next.
// Intra-batch parallelism stays inside an operator (worker pool fan-out),
// it never leaks into the pull protocol.
type operator interface {
	open(ec *Context) error
	next(ec *Context) (*column.Batch, error)
	close()
}

// newVectorsLike allocates empty arena vectors shaped like the columns of a
// prototype batch.
func newVectorsLike(ec *Context, proto *column.Batch, capacity int) ([]*column.Vector, error) {
	out := make([]*column.Vector, proto.NumCols())
	for c := 0; c < proto.NumCols(); c++ {
		src := proto.Col(c)
		v, err := column.NewVector(ec.hostCtx, src.Type(), src.Scale(), capacity, ec.Allocator())
		if err != nil {
			return nil, err
		}
		out[c] = v
	}
	return out, nil
}

// scanOp reads one table in batch-sized slices, converting the provider's
// heap columns into arena vectors so downstream operators only ever touch
// context-owned memory.
type scanOp struct {
	table *Table
	out   schema.LogicalSchema
	pos   int
}

func newScanOp(table *Table, out schema.LogicalSchema) *scanOp {
	return &scanOp{table: table, out: out}
}

func (s *scanOp) open(_ *Context) error { return nil }

func (s *scanOp) next(ec *Context) (*column.Batch, error) {
	if s.pos >= s.table.NumRows() {
		return nil, nil
	}

	n := ec.rt.cfg.BatchSize
	if rest := s.table.NumRows() - s.pos; rest < n {
		n = rest
	}

	cols := make([]*column.Vector, len(s.out))
	for c, desc := range s.out {
		v, err := column.NewVector(ec.hostCtx, desc.Type, desc.Scale, n, ec.Allocator())
		if err != nil {
			return nil, err
		}
		src := s.table.Col(c)
		for i := 0; i < n; i++ {
			if i%evalStride == 0 {
				if err := ec.checkpoint(evalStride); err != nil {
					return nil, err
				}
			}
			v.AppendFrom(src, s.pos+i)
		}
		cols[c] = v
	}
	s.pos += n

	return column.NewBatch(cols)
}

func (s *scanOp) close() {}

// filterOp keeps the rows of each input batch whose predicate is true.
// Unknown (null) drops the row, same as false. Empty results are skipped so
// downstream operators never see zero-row batches.
type filterOp struct {
	input operator
	pred  Expr
	rt    *Runtime
}

func newFilterOp(input operator, pred Expr, rt *Runtime) *filterOp {
	return &filterOp{input: input, pred: pred, rt: rt}
}

func (f *filterOp) open(ec *Context) error { return f.input.open(ec) }

func (f *filterOp) next(ec *Context) (*column.Batch, error) {
	for {
		in, err := f.input.next(ec)
		if err != nil {
			return nil, err
		}
		if in == nil {
			return nil, nil
		}

		segs, err := f.evalMask(ec, in)
		if err != nil {
			return nil, err
		}

		selected := 0
		for _, seg := range segs {
			for i := 0; i < seg.mask.Len(); i++ {
				if !seg.mask.IsNull(i) && seg.mask.Bool(i) {
					selected++
				}
			}
		}
		if selected == 0 {
			continue
		}
		if selected == in.Len() {
			return in, nil
		}

		cols, err := newVectorsLike(ec, in, selected)
		if err != nil {
			return nil, err
		}
		for _, seg := range segs {
			for i := 0; i < seg.mask.Len(); i++ {
				if seg.mask.IsNull(i) || !seg.mask.Bool(i) {
					continue
				}
				for c := range cols {
					cols[c].AppendFrom(in.Col(c), seg.lo+i)
				}
			}
		}
		return column.NewBatch(cols)
	}
}

// maskSeg is one evaluated predicate segment: mask cell i decides input row
// lo+i.
type maskSeg struct {
	lo   int
	mask *column.Vector
}

// evalMask evaluates the predicate over the batch, fanning out to the worker
// pool when the batch is large enough to pay for it.
func (f *filterOp) evalMask(ec *Context, in *column.Batch) ([]maskSeg, error) {
	n := in.Len()
	workers := f.rt.pool.Size()
	if n < f.rt.cfg.ParallelThreshold || workers < 2 {
		mask, err := evalExpr(ec, f.pred, in, 0, n)
		if err != nil {
			return nil, err
		}
		return []maskSeg{{lo: 0, mask: mask}}, nil
	}

	segSize := (n + workers - 1) / workers
	segs := make([]maskSeg, 0, workers)
	for lo := 0; lo < n; lo += segSize {
		segs = append(segs, maskSeg{lo: lo})
	}

	f.rt.logger.Debug("predicate fan-out",
		invocationAttr(ec.id),
		"rows", n,
		"segments", len(segs),
	)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for i := range segs {
		i := i
		lo := segs[i].lo
		hi := lo + segSize
		if hi > n {
			hi = n
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			mask, err := evalExpr(ec, f.pred, in, lo, hi)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			segs[i].mask = mask
		}
		if err := f.rt.pool.Submit(ec.hostCtx, task); err != nil {
			wg.Done()
			wg.Wait()
			return nil, err
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return segs, nil
}

func (f *filterOp) close() { f.input.close() }

// projectOp computes one output vector per expression.
type projectOp struct {
	input operator
	exprs []Expr
	out   schema.LogicalSchema
}

func newProjectOp(input operator, exprs []Expr, out schema.LogicalSchema) *projectOp {
	return &projectOp{input: input, exprs: exprs, out: out}
}

func (p *projectOp) open(ec *Context) error { return p.input.open(ec) }

func (p *projectOp) next(ec *Context) (*column.Batch, error) {
	in, err := p.input.next(ec)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, nil
	}

	cols := make([]*column.Vector, len(p.exprs))
	for i, e := range p.exprs {
		v, err := evalExpr(ec, e, in, 0, in.Len())
		if err != nil {
			return nil, err
		}
		cols[i] = v
	}
	return column.NewBatch(cols)
}

func (p *projectOp) close() { p.input.close() }

// accum is the running state of one aggregate within one group.
type accum struct {
	count int64
	sumI  int64
	sumF  float64
	have  bool
	best  column.Datum // current min/max
}

type aggGroup struct {
	key  []column.Datum
	accs []accum
}

// aggOp is a hash aggregate. It consumes its whole input on the first next
// call, then emits groups in insertion order, chunked to the batch size.
// Without grouping expressions it emits exactly one row, even over empty
// input.
type aggOp struct {
	input   operator
	groupBy []Expr
	aggs    []AggSpec
	out     schema.LogicalSchema

	groups map[string]*aggGroup
	order  []*aggGroup
	built  bool
	pos    int
}

func newAggOp(input operator, groupBy []Expr, aggs []AggSpec, out schema.LogicalSchema) *aggOp {
	return &aggOp{
		input:   input,
		groupBy: groupBy,
		aggs:    aggs,
		out:     out,
		groups:  make(map[string]*aggGroup),
	}
}

func (a *aggOp) open(ec *Context) error { return a.input.open(ec) }

func (a *aggOp) next(ec *Context) (*column.Batch, error) {
	if !a.built {
		if err := a.consume(ec); err != nil {
			return nil, err
		}
		a.built = true
	}

	if a.pos >= len(a.order) {
		return nil, nil
	}

	n := ec.rt.cfg.BatchSize
	if rest := len(a.order) - a.pos; rest < n {
		n = rest
	}

	cols := make([]*column.Vector, len(a.out))
	for c, desc := range a.out {
		v, err := column.NewVector(ec.hostCtx, desc.Type, desc.Scale, n, ec.Allocator())
		if err != nil {
			return nil, err
		}
		cols[c] = v
	}

	for i := 0; i < n; i++ {
		g := a.order[a.pos+i]
		for k, d := range g.key {
			if err := cols[k].AppendDatum(d); err != nil {
				return nil, err
			}
		}
		for j := range a.aggs {
			d, err := a.finalize(&g.accs[j], a.aggs[j])
			if err != nil {
				return nil, err
			}
			if err := cols[len(g.key)+j].AppendDatum(d); err != nil {
				return nil, err
			}
		}
	}
	a.pos += n

	return column.NewBatch(cols)
}

func (a *aggOp) consume(ec *Context) error {
	for {
		in, err := a.input.next(ec)
		if err != nil {
			return err
		}
		if in == nil {
			break
		}
		if err := a.consumeBatch(ec, in); err != nil {
			return err
		}
	}

	// A global aggregate over empty input still yields one row.
	if len(a.groupBy) == 0 && len(a.order) == 0 {
		g := &aggGroup{accs: make([]accum, len(a.aggs))}
		a.order = append(a.order, g)
	}
	return nil
}

func (a *aggOp) consumeBatch(ec *Context, in *column.Batch) error {
	n := in.Len()

	keys := make([]*column.Vector, len(a.groupBy))
	for i, e := range a.groupBy {
		v, err := evalExpr(ec, e, in, 0, n)
		if err != nil {
			return err
		}
		keys[i] = v
	}
	args := make([]*column.Vector, len(a.aggs))
	for i, spec := range a.aggs {
		if spec.Arg == nil {
			continue
		}
		v, err := evalExpr(ec, spec.Arg, in, 0, n)
		if err != nil {
			return err
		}
		args[i] = v
	}

	var kb strings.Builder
	for r := 0; r < n; r++ {
		if r%evalStride == 0 {
			if err := ec.checkpoint(evalStride); err != nil {
				return err
			}
		}

		kb.Reset()
		for _, kv := range keys {
			encodeKeyCell(&kb, kv, r)
		}
		key := kb.String()

		g, ok := a.groups[key]
		if !ok {
			g = &aggGroup{
				key:  make([]column.Datum, len(keys)),
				accs: make([]accum, len(a.aggs)),
			}
			for i, kv := range keys {
				g.key[i] = kv.Datum(r)
			}
			a.groups[key] = g
			a.order = append(a.order, g)
		}

		for j := range a.aggs {
			if err := a.update(&g.accs[j], a.aggs[j], args[j], r); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeKeyCell writes a collision-free encoding of one group key cell.
// Every value is length-prefixed so adjacent cells cannot merge.
func encodeKeyCell(b *strings.Builder, v *column.Vector, i int) {
	if v.IsNull(i) {
		b.WriteString("n;")
		return
	}
	var s string
	switch v.Type() {
	case column.TypeBool:
		if v.Bool(i) {
			s = "t"
		} else {
			s = "f"
		}
	case column.TypeInt64, column.TypeDecimal, column.TypeTimestamp:
		s = strconv.FormatInt(v.Int64(i), 10)
	case column.TypeFloat64:
		s = strconv.FormatFloat(v.Float64(i), 'g', -1, 64)
	case column.TypeString:
		s = v.StringAt(i)
	case column.TypeBytes:
		s = string(v.BytesAt(i))
	}
	fmt.Fprintf(b, "%d:%s;", len(s), s)
}

func (a *aggOp) update(acc *accum, spec AggSpec, arg *column.Vector, r int) error {
	if spec.Fn == AggCountStar {
		acc.count++
		return nil
	}
	if arg.IsNull(r) {
		return nil
	}

	switch spec.Fn {
	case AggCount:
		acc.count++
	case AggSum:
		acc.have = true
		switch spec.Type {
		case column.TypeInt64, column.TypeDecimal:
			v, err := intArith(ArithAdd, acc.sumI, arg.Int64(r))
			if err != nil {
				return err
			}
			acc.sumI = v
		case column.TypeFloat64:
			acc.sumF += arg.Float64(r)
		}
	case AggAvg:
		acc.count++
		switch arg.Type() {
		case column.TypeInt64:
			acc.sumF += float64(arg.Int64(r))
		case column.TypeDecimal:
			acc.sumF += float64(arg.Int64(r)) / pow10(arg.Scale())
		case column.TypeFloat64:
			acc.sumF += arg.Float64(r)
		}
	case AggMin:
		d := arg.Datum(r)
		if !acc.have || compareDatums(d, acc.best) < 0 {
			acc.best = d
		}
		acc.have = true
	case AggMax:
		d := arg.Datum(r)
		if !acc.have || compareDatums(d, acc.best) > 0 {
			acc.best = d
		}
		acc.have = true
	}
	return nil
}

func (a *aggOp) finalize(acc *accum, spec AggSpec) (column.Datum, error) {
	switch spec.Fn {
	case AggCountStar, AggCount:
		return column.Int64Datum(acc.count), nil
	case AggSum:
		if !acc.have {
			return column.NullDatum(spec.Type), nil
		}
		switch spec.Type {
		case column.TypeInt64:
			return column.Int64Datum(acc.sumI), nil
		case column.TypeDecimal:
			return column.DecimalDatum(acc.sumI, spec.Scale), nil
		case column.TypeFloat64:
			return column.Float64Datum(acc.sumF), nil
		}
	case AggAvg:
		if acc.count == 0 {
			return column.NullDatum(column.TypeFloat64), nil
		}
		return column.Float64Datum(acc.sumF / float64(acc.count)), nil
	case AggMin, AggMax:
		if !acc.have {
			return column.NullDatum(spec.Type), nil
		}
		return acc.best, nil
	}
	return column.Datum{}, execErrorf("aggregate", "unknown aggregate function")
}

func (a *aggOp) close() { a.input.close() }

// pow10 returns 10^scale as a float, for decimal-to-float conversion.
func pow10(scale int) float64 {
	v := 1.0
	for i := 0; i < scale; i++ {
		v *= 10
	}
	return v
}

// compareDatums compares two non-null datums of identical type.
func compareDatums(a, b column.Datum) int {
	switch a.Type {
	case column.TypeBool:
		switch {
		case a.Bool == b.Bool:
			return 0
		case b.Bool:
			return -1
		default:
			return 1
		}
	case column.TypeInt64, column.TypeDecimal, column.TypeTimestamp:
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	case column.TypeFloat64:
		switch {
		case a.F64 < b.F64:
			return -1
		case a.F64 > b.F64:
			return 1
		default:
			return 0
		}
	case column.TypeString:
		return strings.Compare(a.S, b.S)
	case column.TypeBytes:
		return strings.Compare(string(a.B), string(b.B))
	default:
		return 0
	}
}

// sortOp fully materializes its input, orders an index permutation and
// emits batch-sized slices of the sorted order. Sorting is stable, so rows
// equal under all keys keep their input order.
type sortOp struct {
	input operator
	keys  []SortKey

	data *column.Batch
	perm []int
	pos  int
	done bool
}

func newSortOp(input operator, keys []SortKey) *sortOp {
	return &sortOp{input: input, keys: keys}
}

func (s *sortOp) open(ec *Context) error { return s.input.open(ec) }

func (s *sortOp) next(ec *Context) (*column.Batch, error) {
	if !s.done {
		if err := s.materialize(ec); err != nil {
			return nil, err
		}
		s.done = true
	}
	if s.data == nil || s.pos >= s.data.Len() {
		return nil, nil
	}

	n := ec.rt.cfg.BatchSize
	if rest := s.data.Len() - s.pos; rest < n {
		n = rest
	}

	cols, err := newVectorsLike(ec, s.data, n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		row := s.perm[s.pos+i]
		for c := range cols {
			cols[c].AppendFrom(s.data.Col(c), row)
		}
	}
	s.pos += n

	return column.NewBatch(cols)
}

func (s *sortOp) materialize(ec *Context) error {
	var all []*column.Vector
	total := 0
	for {
		in, err := s.input.next(ec)
		if err != nil {
			return err
		}
		if in == nil {
			break
		}
		if all == nil {
			cols, err := newVectorsLike(ec, in, in.Len())
			if err != nil {
				return err
			}
			all = cols
		}
		for i := 0; i < in.Len(); i++ {
			if i%evalStride == 0 {
				if err := ec.checkpoint(evalStride); err != nil {
					return err
				}
			}
			for c := range all {
				all[c].AppendFrom(in.Col(c), i)
			}
		}
		total += in.Len()
	}
	if all == nil {
		return nil
	}

	data, err := column.NewBatch(all)
	if err != nil {
		return err
	}
	s.data = data

	s.perm = make([]int, total)
	for i := range s.perm {
		s.perm[i] = i
	}
	sort.SliceStable(s.perm, func(x, y int) bool {
		return s.less(s.perm[x], s.perm[y])
	})
	return nil
}

// less orders rows i and j. Ascending keys place nulls last, descending
// keys place them first.
func (s *sortOp) less(i, j int) bool {
	for _, k := range s.keys {
		v := s.data.Col(k.Col)
		ni, nj := v.IsNull(i), v.IsNull(j)
		if ni || nj {
			if ni && nj {
				continue
			}
			if k.Desc {
				return ni
			}
			return nj
		}
		c := compareCells(v, i, v, j)
		if c == 0 {
			continue
		}
		if k.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func (s *sortOp) close() { s.input.close() }

// limitOp passes through at most count rows, truncating the batch that
// crosses the boundary.
type limitOp struct {
	input     operator
	remaining int64
}

func newLimitOp(input operator, count int64) *limitOp {
	return &limitOp{input: input, remaining: count}
}

func (l *limitOp) open(ec *Context) error { return l.input.open(ec) }

func (l *limitOp) next(ec *Context) (*column.Batch, error) {
	if l.remaining <= 0 {
		return nil, nil
	}

	in, err := l.input.next(ec)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, nil
	}

	if int64(in.Len()) <= l.remaining {
		l.remaining -= int64(in.Len())
		return in, nil
	}

	n := int(l.remaining)
	l.remaining = 0

	cols, err := newVectorsLike(ec, in, n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		for c := range cols {
			cols[c].AppendFrom(in.Col(c), i)
		}
	}
	return column.NewBatch(cols)
}

func (l *limitOp) close() { l.input.close() }
