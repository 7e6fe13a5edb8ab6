package codec

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Column describes one stored column of a row type.
type Column struct {
	Name string
	Kind Kind
	Key  bool
}

// RowCodec is the type-erased view of a Schema used by code that handles
// every table uniformly (the master, the catalog). Rows are passed as the
// schema's row pointer type.
type RowCodec interface {
	Table() types.TableID
	KeyColumn() string
	KeyKind() Kind
	Columns() []string
	ColumnInfo() []Column
	WireFields(v protocol.Version) []string
	New() any
	KeyAny(row any) (any, error)
	EncodeAny(w *Writer, row any, v protocol.Version) error
	DecodeAny(r *Reader, v protocol.Version) (any, error)
	EncodeKey(w *Writer, key any) error
	DecodeKey(r *Reader) any
	ParseKey(s string) (any, error)
	ScanTargets(row any) ([]any, error)
	Values(row any) ([]any, error)
}

// Schema is the ordered field list of one row type. It drives one generic
// encode/decode loop for every protocol version instead of per-type code.
type Schema[R any] struct {
	table  types.TableID
	key    int
	fields []Field[R]
	stored []int
	byName map[string]int
}

var _ RowCodec = (*Schema[struct{}])(nil)

// NewSchema validates fields and returns the schema of table R keyed by the
// field named key. Every problem found is reported in the returned error.
func NewSchema[R any](table types.TableID, key string, fields ...Field[R]) (*Schema[R], error) {
	s := &Schema[R]{
		table:  table,
		key:    -1,
		fields: fields,
		byName: make(map[string]int, len(fields)),
	}

	var errs *multierror.Error
	var sample R
	for i := range fields {
		f := &fields[i]
		if f.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("field %d has no name", i))
			continue
		}
		if _, dup := s.byName[f.Name]; dup {
			errs = multierror.Append(errs, fmt.Errorf("field %q declared twice", f.Name))
			continue
		}
		s.byName[f.Name] = i
		if _, ok := kindNames[f.Kind]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("field %q has unknown kind %d", f.Name, f.Kind))
			continue
		}
		if f.Since != 0 && f.Until != 0 && f.Since > f.Until {
			errs = multierror.Append(errs, fmt.Errorf("field %q introduced at %s after its removal at %s", f.Name, f.Since, f.Until))
		}
		if f.Ptr == nil {
			if f.Since == 0 && f.Until == 0 {
				errs = multierror.Append(errs, fmt.Errorf("retired field %q has no version bound", f.Name))
			}
			if !f.Kind.acceptsValue(f.Legacy) {
				errs = multierror.Append(errs, fmt.Errorf("retired field %q legacy value %T is not a %s", f.Name, f.Legacy, f.Kind))
			}
			continue
		}
		if !f.Kind.acceptsPointer(f.Ptr(&sample)) {
			errs = multierror.Append(errs, fmt.Errorf("field %q accessor returns %T, not a %s pointer", f.Name, f.Ptr(&sample), f.Kind))
			continue
		}
		if f.Default != nil && !f.Kind.acceptsValue(f.Default) {
			errs = multierror.Append(errs, fmt.Errorf("field %q default %T is not a %s", f.Name, f.Default, f.Kind))
		}
		s.stored = append(s.stored, i)
		if f.Name == key {
			s.key = i
		}
	}

	if s.key < 0 {
		errs = multierror.Append(errs, fmt.Errorf("key field %q is not a stored field", key))
	} else {
		kf := &fields[s.key]
		switch kf.Kind {
		case KindInt, KindShort, KindString:
		default:
			errs = multierror.Append(errs, fmt.Errorf("key field %q has unsupported kind %s", key, kf.Kind))
		}
		if kf.Since != 0 || kf.Until != 0 {
			errs = multierror.Append(errs, fmt.Errorf("key field %q must be present in every version", key))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("schema for %s: %w", table, err)
	}
	return s, nil
}

// MustSchema is NewSchema for package-level declarations. An invalid schema
// is a programming error and panics.
func MustSchema[R any](table types.TableID, key string, fields ...Field[R]) *Schema[R] {
	s, err := NewSchema(table, key, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Table returns the table the schema describes.
func (s *Schema[R]) Table() types.TableID { return s.table }

// KeyColumn returns the name of the primary key field.
func (s *Schema[R]) KeyColumn() string { return s.fields[s.key].Name }

// KeyKind returns the kind of the primary key field.
func (s *Schema[R]) KeyKind() Kind { return s.fields[s.key].Kind }

// Columns returns the stored field names in wire order.
func (s *Schema[R]) Columns() []string {
	cols := make([]string, len(s.stored))
	for i, idx := range s.stored {
		cols[i] = s.fields[idx].Name
	}
	return cols
}

// ColumnInfo returns the stored columns with their kinds.
func (s *Schema[R]) ColumnInfo() []Column {
	cols := make([]Column, len(s.stored))
	for i, idx := range s.stored {
		cols[i] = Column{Name: s.fields[idx].Name, Kind: s.fields[idx].Kind, Key: idx == s.key}
	}
	return cols
}

// WireFields returns the names of the fields on the wire at v, including
// retired fields.
func (s *Schema[R]) WireFields(v protocol.Version) []string {
	var names []string
	for i := range s.fields {
		if s.fields[i].present(v) {
			names = append(names, s.fields[i].Name)
		}
	}
	return names
}

// Column returns a value accessor for the stored field named name.
func (s *Schema[R]) Column(name string) (func(*R) any, bool) {
	idx, ok := s.byName[name]
	if !ok || s.fields[idx].Ptr == nil {
		return nil, false
	}
	ptr := s.fields[idx].Ptr
	return func(row *R) any { return load(ptr(row)) }, true
}

// Key returns the primary key of row.
func (s *Schema[R]) Key(row *R) any {
	return load(s.fields[s.key].Ptr(row))
}

// Encode writes row as seen by a peer speaking v.
func (s *Schema[R]) Encode(w *Writer, row *R, v protocol.Version) error {
	for i := range s.fields {
		f := &s.fields[i]
		if !f.present(v) {
			continue
		}
		val := f.Legacy
		if f.Ptr != nil {
			val = load(f.Ptr(row))
		}
		if err := writeValue(w, f.Kind, val); err != nil {
			return fmt.Errorf("%s.%s: %w", s.table, f.Name, err)
		}
	}
	return nil
}

// Decode reads one row sent by a peer speaking v. On any failure it returns
// the reader's error and no row.
func (s *Schema[R]) Decode(r *Reader, v protocol.Version) (*R, error) {
	row := new(R)
	for i := range s.fields {
		f := &s.fields[i]
		if !f.present(v) {
			if f.Ptr != nil && f.Default != nil {
				if err := store(f.Ptr(row), f.Default); err != nil {
					return nil, err
				}
			}
			continue
		}
		val := readValue(r, f.Kind, f.Intern)
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", s.table, f.Name, err)
		}
		if f.Ptr == nil {
			continue
		}
		if err := store(f.Ptr(row), val); err != nil {
			return nil, fmt.Errorf("%s.%s: %w: %w", s.table, f.Name, types.ErrDecode, err)
		}
	}
	return row, nil
}

// New returns a zero row as *R.
func (s *Schema[R]) New() any { return new(R) }

func (s *Schema[R]) cast(row any) (*R, error) {
	r, ok := row.(*R)
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: %T is not a %s row", types.ErrInvalidData, row, s.table)
	}
	return r, nil
}

// KeyAny is Key for a row passed as any.
func (s *Schema[R]) KeyAny(row any) (any, error) {
	r, err := s.cast(row)
	if err != nil {
		return nil, err
	}
	return s.Key(r), nil
}

// EncodeAny is Encode for a row passed as any.
func (s *Schema[R]) EncodeAny(w *Writer, row any, v protocol.Version) error {
	r, err := s.cast(row)
	if err != nil {
		return err
	}
	return s.Encode(w, r, v)
}

// DecodeAny is Decode returning the row as any.
func (s *Schema[R]) DecodeAny(r *Reader, v protocol.Version) (any, error) {
	row, err := s.Decode(r, v)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// EncodeKey writes a primary key value.
func (s *Schema[R]) EncodeKey(w *Writer, key any) error {
	return writeValue(w, s.KeyKind(), key)
}

// DecodeKey reads a primary key value. Callers check r.Err.
func (s *Schema[R]) DecodeKey(r *Reader) any {
	return readValue(r, s.KeyKind(), false)
}

// ParseKey converts the text form of a primary key.
func (s *Schema[R]) ParseKey(text string) (any, error) {
	switch s.KeyKind() {
	case KindInt:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", types.ErrInvalidKey, text, err)
		}
		return int32(n), nil
	case KindShort:
		n, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", types.ErrInvalidKey, text, err)
		}
		return int16(n), nil
	default:
		if text == "" {
			return nil, types.ErrInvalidKey
		}
		return text, nil
	}
}
