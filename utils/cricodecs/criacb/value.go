package criacb

import (
	"fmt"
	"math"
	"sync"
)

// UTFValue is one cell of a UTF table. It carries the column's declared
// kind and is absent when the column stores nothing for the row (storage
// mode 0, unknown kind, or a column the row does not have).
type UTFValue struct {
	name    string
	kind    UTFKind
	present bool

	bits uint64
	str  string
	data []byte

	nested *nestedTable
}

// nestedTable memoises the reinterpretation of a DATA value as a table.
// It is shared by every copy of the value.
type nestedTable struct {
	once  sync.Once
	opts  parseOptions
	table *UTFTable
	err   error
}

func absentValue(name string, kind UTFKind) *UTFValue {
	return &UTFValue{name: name, kind: kind}
}

func (v *UTFValue) Name() string {
	return v.name
}

// Kind returns the declared kind of the column, which is set even when
// the value is absent.
func (v *UTFValue) Kind() UTFKind {
	return v.kind
}

func (v *UTFValue) IsAbsent() bool {
	return !v.present
}

func (v *UTFValue) actual() string {
	if v.kind == 0 {
		return "missing column"
	}
	if !v.present {
		return "absent " + v.kind.String()
	}
	return v.kind.String()
}

func (v *UTFValue) mismatch(expected string) error {
	return &TypeMismatchError{Column: v.name, Expected: expected, Actual: v.actual()}
}

// AsInt64 returns any integer kind as int64. U64 values above MaxInt64
// wrap.
func (v *UTFValue) AsInt64() (int64, error) {
	if !v.present || !v.kind.isInteger() {
		return 0, v.mismatch("integer type")
	}
	return int64(v.bits), nil
}

// AsUint64 returns any integer kind as uint64. Negative signed values are
// rejected.
func (v *UTFValue) AsUint64() (uint64, error) {
	if !v.present || !v.kind.isInteger() {
		return 0, v.mismatch("integer type")
	}
	if v.kind.isSigned() && int64(v.bits) < 0 {
		return 0, fmt.Errorf("column %q holds negative value %d", v.name, int64(v.bits))
	}
	return v.bits, nil
}

// AsInt is AsInt64 narrowed to int.
func (v *UTFValue) AsInt() (int, error) {
	i, err := v.AsInt64()
	return int(i), err
}

func (v *UTFValue) AsFloat64() (float64, error) {
	if !v.present || !v.kind.isFloat() {
		return 0, v.mismatch("floating point type")
	}
	if v.kind == KindFloat32 {
		return float64(math.Float32frombits(uint32(v.bits))), nil
	}
	return math.Float64frombits(v.bits), nil
}

func (v *UTFValue) AsString() (string, error) {
	if !v.present || v.kind != KindString {
		return "", v.mismatch(KindString.String())
	}
	return v.str, nil
}

// AsData returns a view into the buffer the table was parsed from.
func (v *UTFValue) AsData() ([]byte, error) {
	if !v.present || v.kind != KindData {
		return nil, v.mismatch(KindData.String())
	}
	return v.data, nil
}

// AsTable parses a DATA value as a nested UTF table. The result (or the
// error) is computed once and returned on every later call.
func (v *UTFValue) AsTable() (*UTFTable, error) {
	data, err := v.AsData()
	if err != nil {
		return nil, err
	}
	if v.nested == nil {
		return nil, fmt.Errorf("column %q: value not attached to a table", v.name)
	}
	v.nested.once.Do(func() {
		v.nested.table, v.nested.err = parseUTFTable(data, v.nested.opts)
		if v.nested.err != nil {
			v.nested.err = fmt.Errorf("column %q: %w", v.name, v.nested.err)
		}
	})
	return v.nested.table, v.nested.err
}

// Interface returns the value as a plain Go value: int64, uint64, float64,
// string, []byte, or nil when absent.
func (v *UTFValue) Interface() any {
	if !v.present {
		return nil
	}
	switch {
	case v.kind.isInteger() && v.kind.isSigned():
		return int64(v.bits)
	case v.kind.isInteger():
		return v.bits
	case v.kind.isFloat():
		f, _ := v.AsFloat64()
		return f
	case v.kind == KindString:
		return v.str
	case v.kind == KindData:
		return v.data
	}
	return nil
}

func (v *UTFValue) String() string {
	if !v.present {
		return "<absent>"
	}
	if v.kind == KindData {
		return fmt.Sprintf("<%d bytes>", len(v.data))
	}
	return fmt.Sprint(v.Interface())
}
