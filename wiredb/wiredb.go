// Package wiredb converts between enginesql's in-memory db types (Schema,
// Row, Selector) and the BSON-compatible wire documents package
// wire/bsondoc carries them as (§6: "the db subsystem carries schemas,
// entries, selectors, and query results as a bson-compatible nested
// document"). It is the shared codec juleaserver (encoding replies,
// decoding requests) and batchclient (the mirror image) both call, so the
// two sides never drift.
package wiredb

import (
	"fmt"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/enginesql"
	"github.com/juleafs/julea/wire/bsondoc"
)

// Schema document keys.
const (
	keyIndex = "_index" // §3: "the `_index` meta-key"
)

// EncodeSchema renders schema's field_map (in declared order) and indices
// as a bson document: one key per field mapped to its FieldType tag
// (int32), plus an "_index" array-of-arrays-of-strings for the index
// list.
func EncodeSchema(schema *enginesql.Schema) *bsondoc.Document {
	d := bsondoc.NewDocument()
	for _, field := range schema.FieldOrder {
		d.SetInt32(field, int32(schema.Fields[field]))
	}
	idxArr := make([]bsondoc.Value, len(schema.Indices))
	for i, idx := range schema.Indices {
		cols := make([]bsondoc.Value, len(idx))
		for j, c := range idx {
			cols[j] = bsondoc.String(c)
		}
		idxArr[i] = bsondoc.ArrayOf(cols...)
	}
	d.SetArray(keyIndex, idxArr...)
	return d
}

// DecodeSchema parses a bson document produced by EncodeSchema back into
// an *enginesql.Schema for (namespace, name). Fails with
// ErrSchemaEmpty if no fields remain once "_index" is excluded (§3).
func DecodeSchema(namespace, name string, d *bsondoc.Document) (*enginesql.Schema, error) {
	schema := &enginesql.Schema{
		Namespace: namespace,
		Name:      name,
		Fields:    make(map[string]enginesql.FieldType),
	}
	for _, key := range d.Keys() {
		if key == keyIndex {
			continue
		}
		v, _ := d.Get(key)
		if v.Type != bsondoc.TypeInt32 {
			return nil, fmt.Errorf("wiredb: schema field %q: %w", key, julea.ErrDbTypeInvalid)
		}
		ft := enginesql.FieldType(v.Int32)
		schema.FieldOrder = append(schema.FieldOrder, key)
		schema.Fields[key] = ft
	}
	if len(schema.FieldOrder) == 0 {
		return nil, julea.ErrSchemaEmpty
	}
	if idxVal, ok := d.Get(keyIndex); ok && idxVal.Type == bsondoc.TypeArray {
		for _, idxEntry := range idxVal.Array {
			if idxEntry.Type != bsondoc.TypeArray {
				continue
			}
			cols := make([]string, len(idxEntry.Array))
			for i, c := range idxEntry.Array {
				cols[i] = c.UTF8
			}
			schema.Indices = append(schema.Indices, cols)
		}
	}
	return schema, nil
}

// encodeFieldValue renders one schema field's value as a typed bson Value,
// per the §4.3 type-mapping table. uint32/uint64/id values widen to
// Int64 (bson has no unsigned integer tag) and narrow back on decode via
// the field's own declared FieldType, so no precision is lost for any
// value that started out as one of those Go types.
func encodeFieldValue(ft enginesql.FieldType, v any) (bsondoc.Value, error) {
	if v == nil {
		return bsondoc.Value{}, nil
	}
	switch ft {
	case enginesql.TypeSInt32:
		n, ok := v.(int32)
		if !ok {
			return bsondoc.Value{}, julea.ErrDbTypeInvalid
		}
		return bsondoc.Int32(n), nil
	case enginesql.TypeUInt32:
		n, ok := v.(uint32)
		if !ok {
			return bsondoc.Value{}, julea.ErrDbTypeInvalid
		}
		return bsondoc.Int64(int64(n)), nil
	case enginesql.TypeSInt64:
		n, ok := v.(int64)
		if !ok {
			return bsondoc.Value{}, julea.ErrDbTypeInvalid
		}
		return bsondoc.Int64(n), nil
	case enginesql.TypeUInt64, enginesql.TypeID:
		n, ok := v.(uint64)
		if !ok {
			return bsondoc.Value{}, julea.ErrDbTypeInvalid
		}
		return bsondoc.Int64(int64(n)), nil
	case enginesql.TypeFloat32:
		f, ok := v.(float32)
		if !ok {
			return bsondoc.Value{}, julea.ErrDbTypeInvalid
		}
		return bsondoc.Double(float64(f)), nil
	case enginesql.TypeFloat64:
		f, ok := v.(float64)
		if !ok {
			return bsondoc.Value{}, julea.ErrDbTypeInvalid
		}
		return bsondoc.Double(f), nil
	case enginesql.TypeString:
		s, ok := v.(string)
		if !ok {
			return bsondoc.Value{}, julea.ErrDbTypeInvalid
		}
		return bsondoc.String(s), nil
	case enginesql.TypeBlob:
		b, ok := v.([]byte)
		if !ok {
			return bsondoc.Value{}, julea.ErrDbTypeInvalid
		}
		return bsondoc.Binary(b), nil
	default:
		return bsondoc.Value{}, julea.ErrDbTypeInvalid
	}
}

func decodeFieldValue(ft enginesql.FieldType, v bsondoc.Value) (any, error) {
	switch ft {
	case enginesql.TypeSInt32:
		if v.Type != bsondoc.TypeInt32 {
			return nil, julea.ErrDbTypeInvalid
		}
		return v.Int32, nil
	case enginesql.TypeUInt32:
		if v.Type != bsondoc.TypeInt64 {
			return nil, julea.ErrDbTypeInvalid
		}
		return uint32(v.Int64), nil
	case enginesql.TypeSInt64:
		if v.Type != bsondoc.TypeInt64 {
			return nil, julea.ErrDbTypeInvalid
		}
		return v.Int64, nil
	case enginesql.TypeUInt64, enginesql.TypeID:
		if v.Type != bsondoc.TypeInt64 {
			return nil, julea.ErrDbTypeInvalid
		}
		return uint64(v.Int64), nil
	case enginesql.TypeFloat32:
		if v.Type != bsondoc.TypeDouble {
			return nil, julea.ErrDbTypeInvalid
		}
		return float32(v.Double), nil
	case enginesql.TypeFloat64:
		if v.Type != bsondoc.TypeDouble {
			return nil, julea.ErrDbTypeInvalid
		}
		return v.Double, nil
	case enginesql.TypeString:
		if v.Type != bsondoc.TypeUTF8 {
			return nil, julea.ErrDbTypeInvalid
		}
		return v.UTF8, nil
	case enginesql.TypeBlob:
		if v.Type != bsondoc.TypeBinary {
			return nil, julea.ErrDbTypeInvalid
		}
		return v.Binary, nil
	default:
		return nil, julea.ErrDbTypeInvalid
	}
}

// EncodeRow renders entry as a bson document, consulting schema for each
// set field's declared type.
func EncodeRow(schema *enginesql.Schema, entry enginesql.Row) (*bsondoc.Document, error) {
	d := bsondoc.NewDocument()
	for _, field := range schema.FieldOrder {
		v, ok := entry[field]
		if !ok {
			continue
		}
		ft := schema.Fields[field]
		val, err := encodeFieldValue(ft, v)
		if err != nil {
			return nil, fmt.Errorf("wiredb: field %q: %w", field, err)
		}
		d.Set(field, val)
	}
	return d, nil
}

// DecodeRow parses a bson document produced by EncodeRow (or a query
// result row, which additionally carries "_id") back into a Row plus the
// row's id if present.
func DecodeRow(schema *enginesql.Schema, d *bsondoc.Document) (enginesql.Row, uint64, error) {
	row := make(enginesql.Row, d.Len())
	var id uint64
	for _, key := range d.Keys() {
		v, _ := d.Get(key)
		if key == "_id" {
			if v.Type != bsondoc.TypeInt64 {
				return nil, 0, julea.ErrDbTypeInvalid
			}
			id = uint64(v.Int64)
			continue
		}
		ft, ok := schema.Field(key)
		if !ok {
			return nil, 0, fmt.Errorf("wiredb: field %q: %w", key, julea.ErrVariableNotFound)
		}
		val, err := decodeFieldValue(ft, v)
		if err != nil {
			return nil, 0, fmt.Errorf("wiredb: field %q: %w", key, err)
		}
		row[key] = val
	}
	return row, id, nil
}

// Selector document keys.
const (
	selKeyMode     = "mode"
	selKeyChildren = "children"
	selKeyField    = "field"
	selKeyCmp      = "cmp"
	selKeyValueTag = "value_type"
	selKeyValue    = "value"
)

// EncodeSelector renders sel (possibly nil) as a bson document. A nil sel
// encodes to nil: callers distinguish "no selector" (match everything)
// from an explicitly empty selector node the same way enginesql does.
func EncodeSelector(schema *enginesql.Schema, sel *enginesql.Selector) (*bsondoc.Document, error) {
	if sel == nil {
		return nil, nil
	}
	return encodeSelectorNode(schema, sel)
}

func encodeSelectorNode(schema *enginesql.Schema, s *enginesql.Selector) (*bsondoc.Document, error) {
	d := bsondoc.NewDocument()
	if s.Field != "" {
		ft, ok := schema.Field(s.Field)
		if !ok {
			return nil, fmt.Errorf("wiredb: selector field %q: %w", s.Field, julea.ErrVariableNotFound)
		}
		d.SetString(selKeyField, s.Field)
		d.SetInt32(selKeyCmp, int32(s.Comparator))
		d.SetInt32(selKeyValueTag, int32(ft))
		val, err := encodeFieldValue(ft, s.Value)
		if err != nil {
			return nil, fmt.Errorf("wiredb: selector field %q: %w", s.Field, err)
		}
		d.Set(selKeyValue, val)
		return d, nil
	}
	d.SetInt32(selKeyMode, int32(s.Mode))
	children := make([]bsondoc.Value, len(s.Children))
	for i, c := range s.Children {
		childDoc, err := encodeSelectorNode(schema, c)
		if err != nil {
			return nil, err
		}
		children[i] = bsondoc.Doc(childDoc)
	}
	d.SetArray(selKeyChildren, children...)
	return d, nil
}

// DecodeSelector is the mirror of EncodeSelector; a nil d decodes to a
// nil *enginesql.Selector.
func DecodeSelector(schema *enginesql.Schema, d *bsondoc.Document) (*enginesql.Selector, error) {
	if d == nil {
		return nil, nil
	}
	return decodeSelectorNode(schema, d)
}

func decodeSelectorNode(schema *enginesql.Schema, d *bsondoc.Document) (*enginesql.Selector, error) {
	if fieldVal, ok := d.Get(selKeyField); ok {
		field := fieldVal.UTF8
		ft, ok := schema.Field(field)
		if !ok {
			return nil, fmt.Errorf("wiredb: selector field %q: %w", field, julea.ErrVariableNotFound)
		}
		cmpVal, _ := d.Get(selKeyCmp)
		valVal, _ := d.Get(selKeyValue)
		v, err := decodeFieldValue(ft, valVal)
		if err != nil {
			return nil, fmt.Errorf("wiredb: selector field %q: %w", field, err)
		}
		return enginesql.Leaf(field, enginesql.Comparator(cmpVal.Int32), v), nil
	}

	modeVal, _ := d.Get(selKeyMode)
	childrenVal, ok := d.Get(selKeyChildren)
	var children []*enginesql.Selector
	if ok {
		for _, cv := range childrenVal.Array {
			if cv.Doc == nil {
				return nil, julea.ErrMalformedBson
			}
			child, err := decodeSelectorNode(schema, cv.Doc)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
	}
	return &enginesql.Selector{Mode: enginesql.Mode(modeVal.Int32), Children: children}, nil
}
