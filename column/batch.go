// Package column holds the columnar batch representation exchanged between
// the embedded engine and the host's row pipeline, plus the lazy batch-to-row
// projection.
//
// Ownership: a batch is written exclusively by the producing operator and is
// never mutated after it is handed to a consumer; the consumer borrows it
// read-only for the batch's lifetime. Batches allocated from an execution
// arena become invalid when the owning context is torn down.
package column

import "fmt"

// Batch is a columnar buffer holding up to the configured batch size of rows
// across all output columns.
type Batch struct {
	cols   []*Vector
	length int
}

// NewBatch assembles a batch from finished vectors of equal length.
func NewBatch(cols []*Vector) (*Batch, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("column: batch needs at least one column")
	}
	length := cols[0].Len()
	for i, c := range cols[1:] {
		if c.Len() != length {
			return nil, fmt.Errorf("column: column %d has %d rows, want %d", i+1, c.Len(), length)
		}
	}
	return &Batch{cols: cols, length: length}, nil
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int { return b.length }

// NumCols returns the number of columns.
func (b *Batch) NumCols() int { return len(b.cols) }

// Col returns column i.
func (b *Batch) Col(i int) *Vector { return b.cols[i] }

// Row projects row i into the host representation, reusing buf when it has
// capacity. The projection is performed one row at a time so peak memory
// stays bounded by one batch of columnar data plus one row.
func (b *Batch) Row(i int, buf Row) Row {
	if cap(buf) < len(b.cols) {
		buf = make(Row, len(b.cols))
	}
	buf = buf[:len(b.cols)]
	for c, col := range b.cols {
		buf[c] = col.Datum(i)
	}
	return buf
}
