package enginesql

import (
	"fmt"

	"github.com/juleafs/julea"
)

// FieldType is one of the closed set of column types a schema field may
// declare (§3 "Schema").
type FieldType uint8

const (
	TypeSInt32 FieldType = iota
	TypeUInt32
	TypeSInt64
	TypeUInt64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeBlob
	TypeID
)

func (t FieldType) String() string {
	switch t {
	case TypeSInt32:
		return "sint32"
	case TypeUInt32:
		return "uint32"
	case TypeSInt64:
		return "sint64"
	case TypeUInt64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBlob:
		return "blob"
	case TypeID:
		return "id"
	default:
		return "unknown"
	}
}

// Schema is the tuple (namespace, name, field_map, indices) of §3. FieldOrder
// preserves the order fields were declared in, which becomes the column
// order of the generated CREATE TABLE and the cached insert statement.
type Schema struct {
	Namespace  string
	Name       string
	FieldOrder []string
	Fields     map[string]FieldType
	Indices    [][]string
}

// Field returns the declared type of name and whether it exists.
func (s *Schema) Field(name string) (FieldType, bool) {
	t, ok := s.Fields[name]
	return t, ok
}

// Row is a schema row: a mapping from field name to a value whose Go type
// matches the field's declared FieldType (int32, uint32, int64, uint64,
// float32, float64, string, or []byte). Rows passed to Insert and Update
// never carry "_id"; Insert returns the id out-of-band, and a Row read
// from a Query Iterator holds it under the "_id" key.
type Row map[string]any

// validateValue reports whether v's dynamic type matches ft, per the §4.3
// type mapping. A mismatch is DbTypeInvalid (scenario 4 of §8).
func validateValue(ft FieldType, v any) error {
	if v == nil {
		return nil
	}
	ok := false
	switch ft {
	case TypeSInt32:
		_, ok = v.(int32)
	case TypeUInt32:
		_, ok = v.(uint32)
	case TypeSInt64:
		_, ok = v.(int64)
	case TypeUInt64, TypeID:
		_, ok = v.(uint64)
	case TypeFloat32:
		_, ok = v.(float32)
	case TypeFloat64:
		_, ok = v.(float64)
	case TypeString:
		_, ok = v.(string)
	case TypeBlob:
		_, ok = v.([]byte)
	}
	if !ok {
		return fmt.Errorf("enginesql: value %v is not a valid %s: %w", v, ft, julea.ErrDbTypeInvalid)
	}
	return nil
}

// validateRow checks every field entry sets against schema's field_map.
func validateRow(schema *Schema, entry Row) error {
	for field, v := range entry {
		ft, ok := schema.Field(field)
		if !ok {
			return fmt.Errorf("enginesql: field %q: %w", field, julea.ErrVariableNotFound)
		}
		if err := validateValue(ft, v); err != nil {
			return err
		}
	}
	return nil
}
