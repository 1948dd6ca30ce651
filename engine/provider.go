package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/schema"
)

// Table is the engine-side view of one host table: the host row type plus
// columnar data in engine representation.
//
// A table is immutable once registered; scans borrow its vectors read-only.
type Table struct {
	ID      uint32
	Name    string
	RowType schema.RowType
	Mapped  schema.LogicalSchema
	cols    []*column.Vector
	numRows int
}

// NewTable builds a table from host rows, converting each cell into its
// engine representation via the schema mapper.
func NewTable(name string, rt schema.RowType, rows []column.Row, mapper *schema.Mapper) (*Table, error) {
	ls, err := mapper.Map(rt)
	if err != nil {
		return nil, err
	}

	cols := make([]*column.Vector, len(ls))
	for i, desc := range ls {
		v, err := column.NewVector(context.Background(), desc.Type, desc.Scale, len(rows), column.HeapAllocator{})
		if err != nil {
			return nil, err
		}
		cols[i] = v
	}

	for r, row := range rows {
		if len(row) != len(ls) {
			return nil, fmt.Errorf("engine: row %d has %d cells, want %d", r, len(row), len(ls))
		}
		for c, d := range row {
			if err := cols[c].AppendDatum(d); err != nil {
				return nil, fmt.Errorf("engine: row %d column %q: %w", r, ls[c].Name, err)
			}
		}
	}

	return &Table{
		Name:    name,
		RowType: rt,
		Mapped:  ls,
		cols:    cols,
		numRows: len(rows),
	}, nil
}

// NumRows returns the number of rows in the table.
func (t *Table) NumRows() int { return t.numRows }

// Col returns column i.
func (t *Table) Col(i int) *column.Vector { return t.cols[i] }

// TableProvider resolves table names to engine tables. It is the data
// gateway the host integration layer plugs in; the bridge itself owns no
// catalog.
type TableProvider interface {
	Table(name string) (*Table, error)
}

// MemProvider is an in-memory TableProvider.
type MemProvider struct {
	mu     sync.RWMutex
	tables map[string]*Table
	nextID uint32
}

// NewMemProvider creates an empty MemProvider.
func NewMemProvider() *MemProvider {
	return &MemProvider{tables: make(map[string]*Table)}
}

// Register adds a table, assigning it a provider-local ID.
func (p *MemProvider) Register(t *Table) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	t.ID = p.nextID
	p.tables[t.Name] = t
}

// Table implements TableProvider.
func (p *MemProvider) Table(name string) (*Table, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// RowType returns the host row type of a registered table, for catalog use.
func (p *MemProvider) RowType(name string) (schema.RowType, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tables[name]
	if !ok {
		return nil, false
	}
	return t.RowType, true
}
