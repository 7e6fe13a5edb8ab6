package codec

import (
	"fmt"
	"time"

	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Kind selects the wire encoding of a field and the Go type behind it.
type Kind uint8

// Field kinds with the pointer type their accessor must return.
const (
	KindInt        Kind = iota + 1 // *int32, compressed
	KindShort                      // *int16
	KindLong                       // *int64
	KindFloat                      // *float32
	KindBool                       // *bool
	KindString                     // *string
	KindNullString                 // **string, presence flag first
	KindEnum                       // *string, constant name
	KindTime                       // *time.Time, presence flag then millis
)

var kindNames = map[Kind]string{
	KindInt:        "int",
	KindShort:      "short",
	KindLong:       "long",
	KindFloat:      "float",
	KindBool:       "bool",
	KindString:     "string",
	KindNullString: "nullable string",
	KindEnum:       "enum",
	KindTime:       "time",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind#%d", uint8(k))
}

// Field declares one column of a row type and the protocol versions in
// which it is on the wire.
//
// A field with a nil Ptr is retired: the current model no longer stores it,
// but versions inside [Since, Until] still carry it, so Encode writes the
// literal Legacy value and Decode reads and drops it. A stored field that
// is absent at the negotiated version decodes to Default (zero when nil).
type Field[R any] struct {
	Name    string
	Kind    Kind
	Since   protocol.Version // first version carrying the field; 0 = oldest
	Until   protocol.Version // last version carrying the field; 0 = newest
	Legacy  any              // literal written for retired fields
	Default any              // value stored when the field is absent
	Ptr     func(*R) any     // pointer into the row; nil for retired fields
	Intern  bool             // canonicalise decoded strings
}

// present reports whether the field is on the wire at v.
func (f *Field[R]) present(v protocol.Version) bool {
	return v.InRange(f.Since, f.Until)
}

// acceptsPointer reports whether p is the pointer type the kind expects.
func (k Kind) acceptsPointer(p any) bool {
	switch k {
	case KindInt:
		_, ok := p.(*int32)
		return ok
	case KindShort:
		_, ok := p.(*int16)
		return ok
	case KindLong:
		_, ok := p.(*int64)
		return ok
	case KindFloat:
		_, ok := p.(*float32)
		return ok
	case KindBool:
		_, ok := p.(*bool)
		return ok
	case KindString, KindEnum:
		_, ok := p.(*string)
		return ok
	case KindNullString:
		_, ok := p.(**string)
		return ok
	case KindTime:
		_, ok := p.(*time.Time)
		return ok
	}
	return false
}

// acceptsValue reports whether v is a valid plain value of the kind.
func (k Kind) acceptsValue(v any) bool {
	switch k {
	case KindInt:
		_, ok := v.(int32)
		return ok
	case KindShort:
		_, ok := v.(int16)
		return ok
	case KindLong:
		_, ok := v.(int64)
		return ok
	case KindFloat:
		_, ok := v.(float32)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindString, KindEnum:
		_, ok := v.(string)
		return ok
	case KindNullString:
		if v == nil {
			return true
		}
		_, ok := v.(string)
		return ok
	case KindTime:
		_, ok := v.(time.Time)
		return ok
	}
	return false
}

// load dereferences a field pointer into its plain value. Nullable strings
// load as nil or string.
func load(p any) any {
	switch p := p.(type) {
	case *int32:
		return *p
	case *int16:
		return *p
	case *int64:
		return *p
	case *float32:
		return *p
	case *bool:
		return *p
	case *string:
		return *p
	case **string:
		if *p == nil {
			return nil
		}
		return **p
	case *time.Time:
		return *p
	}
	return nil
}

// store assigns a plain value through a field pointer.
func store(p any, v any) error {
	switch p := p.(type) {
	case *int32:
		if x, ok := v.(int32); ok {
			*p = x
			return nil
		}
	case *int16:
		if x, ok := v.(int16); ok {
			*p = x
			return nil
		}
	case *int64:
		if x, ok := v.(int64); ok {
			*p = x
			return nil
		}
	case *float32:
		if x, ok := v.(float32); ok {
			*p = x
			return nil
		}
	case *bool:
		if x, ok := v.(bool); ok {
			*p = x
			return nil
		}
	case *string:
		if x, ok := v.(string); ok {
			*p = x
			return nil
		}
	case **string:
		switch x := v.(type) {
		case nil:
			*p = nil
			return nil
		case string:
			*p = &x
			return nil
		case *string:
			*p = x
			return nil
		}
	case *time.Time:
		if x, ok := v.(time.Time); ok {
			*p = x
			return nil
		}
	}
	return fmt.Errorf("%w: cannot store %T into %T", types.ErrInvalidData, v, p)
}

// writeValue encodes a plain value of the given kind.
func writeValue(w *Writer, k Kind, v any) error {
	if !k.acceptsValue(v) {
		return fmt.Errorf("%w: %T is not a %s value", types.ErrEncode, v, k)
	}
	switch k {
	case KindInt:
		w.WriteCompressedInt(v.(int32))
	case KindShort:
		w.WriteShort(v.(int16))
	case KindLong:
		w.WriteLong(v.(int64))
	case KindFloat:
		w.WriteFloat(v.(float32))
	case KindBool:
		w.WriteBool(v.(bool))
	case KindString:
		w.WriteUTF(v.(string))
	case KindEnum:
		w.WriteEnum(v.(string))
	case KindNullString:
		if v == nil {
			w.WriteNullUTF(nil)
		} else {
			s := v.(string)
			w.WriteNullUTF(&s)
		}
	case KindTime:
		w.WriteTime(v.(time.Time))
	}
	return nil
}

// readValue decodes a plain value of the given kind. Callers check r.Err.
func readValue(r *Reader, k Kind, intern bool) any {
	switch k {
	case KindInt:
		return r.ReadCompressedInt()
	case KindShort:
		return r.ReadShort()
	case KindLong:
		return r.ReadLong()
	case KindFloat:
		return r.ReadFloat()
	case KindBool:
		return r.ReadBool()
	case KindString:
		s := r.ReadUTF()
		if intern {
			s = r.intern(s)
		}
		return s
	case KindEnum:
		return r.intern(r.ReadEnum())
	case KindNullString:
		s := r.ReadNullUTF()
		if s == nil {
			return nil
		}
		if intern {
			return r.intern(*s)
		}
		return *s
	case KindTime:
		return r.ReadTime()
	}
	r.fail("value", fmt.Errorf("unknown kind %s", k))
	return nil
}
