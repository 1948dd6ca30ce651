package ipc

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/hupe1980/colbridge/column"
	"github.com/hupe1980/colbridge/schema"
)

// MarshalSchema encodes a result schema for a Metadata packet.
func MarshalSchema(ls schema.LogicalSchema) []byte {
	b := msgp.AppendArrayHeader(nil, uint32(len(ls)))
	for _, desc := range ls {
		b = msgp.AppendArrayHeader(b, 4)
		b = msgp.AppendString(b, desc.Name)
		b = msgp.AppendUint8(b, uint8(desc.Type))
		b = msgp.AppendInt(b, desc.Scale)
		b = msgp.AppendBool(b, desc.Nullable)
	}
	return b
}

// UnmarshalSchema decodes a Metadata payload.
func UnmarshalSchema(payload []byte) (schema.LogicalSchema, error) {
	n, rest, err := msgp.ReadArrayHeaderBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bad schema", ErrProtocol)
	}
	ls := make(schema.LogicalSchema, 0, n)
	for i := uint32(0); i < n; i++ {
		var sz uint32
		if sz, rest, err = msgp.ReadArrayHeaderBytes(rest); err != nil || sz != 4 {
			return nil, fmt.Errorf("%w: bad schema column", ErrProtocol)
		}
		var desc schema.ColumnDescriptor
		if desc.Name, rest, err = msgp.ReadStringBytes(rest); err != nil {
			return nil, fmt.Errorf("%w: bad column name", ErrProtocol)
		}
		var typ uint8
		if typ, rest, err = msgp.ReadUint8Bytes(rest); err != nil {
			return nil, fmt.Errorf("%w: bad column type", ErrProtocol)
		}
		desc.Type = column.Type(typ)
		if desc.Scale, rest, err = msgp.ReadIntBytes(rest); err != nil {
			return nil, fmt.Errorf("%w: bad column scale", ErrProtocol)
		}
		if desc.Nullable, rest, err = msgp.ReadBoolBytes(rest); err != nil {
			return nil, fmt.Errorf("%w: bad column nullability", ErrProtocol)
		}
		ls = append(ls, desc)
	}
	return ls, nil
}

// MarshalRows encodes rows for a Batch packet. Cells are typed by the
// schema negotiated in the Metadata packet; only null markers appear on the
// wire beyond the raw values.
func MarshalRows(rows []column.Row) []byte {
	b := msgp.AppendArrayHeader(nil, uint32(len(rows)))
	for _, row := range rows {
		b = msgp.AppendArrayHeader(b, uint32(len(row)))
		for _, d := range row {
			b = appendDatum(b, d)
		}
	}
	return b
}

func appendDatum(b []byte, d column.Datum) []byte {
	if d.Null {
		return msgp.AppendNil(b)
	}
	switch d.Type {
	case column.TypeBool:
		return msgp.AppendBool(b, d.Bool)
	case column.TypeInt64, column.TypeDecimal, column.TypeTimestamp:
		return msgp.AppendInt64(b, d.I64)
	case column.TypeFloat64:
		return msgp.AppendFloat64(b, d.F64)
	case column.TypeString:
		return msgp.AppendString(b, d.S)
	case column.TypeBytes:
		return msgp.AppendBytes(b, d.B)
	default:
		return msgp.AppendNil(b)
	}
}

// UnmarshalRows decodes a Batch payload against the negotiated schema.
func UnmarshalRows(payload []byte, ls schema.LogicalSchema) ([]column.Row, error) {
	n, rest, err := msgp.ReadArrayHeaderBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bad batch", ErrProtocol)
	}
	rows := make([]column.Row, 0, n)
	for i := uint32(0); i < n; i++ {
		var sz uint32
		if sz, rest, err = msgp.ReadArrayHeaderBytes(rest); err != nil {
			return nil, fmt.Errorf("%w: bad row", ErrProtocol)
		}
		if int(sz) != len(ls) {
			return nil, fmt.Errorf("%w: row has %d cells, schema has %d", ErrProtocol, sz, len(ls))
		}
		row := make(column.Row, len(ls))
		for c, desc := range ls {
			if row[c], rest, err = readDatum(rest, desc); err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readDatum(b []byte, desc schema.ColumnDescriptor) (column.Datum, []byte, error) {
	if msgp.IsNil(b) {
		rest, err := msgp.ReadNilBytes(b)
		if err != nil {
			return column.Datum{}, nil, fmt.Errorf("%w: bad null cell", ErrProtocol)
		}
		d := column.NullDatum(desc.Type)
		d.Scale = desc.Scale
		return d, rest, nil
	}

	switch desc.Type {
	case column.TypeBool:
		v, rest, err := msgp.ReadBoolBytes(b)
		if err != nil {
			return column.Datum{}, nil, fmt.Errorf("%w: bad bool cell", ErrProtocol)
		}
		return column.BoolDatum(v), rest, nil
	case column.TypeInt64:
		v, rest, err := msgp.ReadInt64Bytes(b)
		if err != nil {
			return column.Datum{}, nil, fmt.Errorf("%w: bad int cell", ErrProtocol)
		}
		return column.Int64Datum(v), rest, nil
	case column.TypeDecimal:
		v, rest, err := msgp.ReadInt64Bytes(b)
		if err != nil {
			return column.Datum{}, nil, fmt.Errorf("%w: bad decimal cell", ErrProtocol)
		}
		return column.DecimalDatum(v, desc.Scale), rest, nil
	case column.TypeTimestamp:
		v, rest, err := msgp.ReadInt64Bytes(b)
		if err != nil {
			return column.Datum{}, nil, fmt.Errorf("%w: bad timestamp cell", ErrProtocol)
		}
		return column.Datum{Type: column.TypeTimestamp, I64: v}, rest, nil
	case column.TypeFloat64:
		v, rest, err := msgp.ReadFloat64Bytes(b)
		if err != nil {
			return column.Datum{}, nil, fmt.Errorf("%w: bad float cell", ErrProtocol)
		}
		return column.Float64Datum(v), rest, nil
	case column.TypeString:
		v, rest, err := msgp.ReadStringBytes(b)
		if err != nil {
			return column.Datum{}, nil, fmt.Errorf("%w: bad string cell", ErrProtocol)
		}
		return column.StringDatum(v), rest, nil
	case column.TypeBytes:
		v, rest, err := msgp.ReadBytesBytes(b, nil)
		if err != nil {
			return column.Datum{}, nil, fmt.Errorf("%w: bad bytes cell", ErrProtocol)
		}
		return column.BytesDatum(v), rest, nil
	default:
		return column.Datum{}, nil, fmt.Errorf("%w: unknown cell type %d", ErrProtocol, desc.Type)
	}
}
