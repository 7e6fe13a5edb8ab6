package codec

import (
	"database/sql"
	"fmt"
	"time"
)

// timeColumn scans a nullable millisecond column into a time.Time.
type timeColumn struct {
	p *time.Time
}

var _ sql.Scanner = timeColumn{}

func (c timeColumn) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c.p = time.Time{}
	case int64:
		*c.p = time.UnixMilli(v).UTC()
	case float64:
		*c.p = time.UnixMilli(int64(v)).UTC()
	default:
		return fmt.Errorf("cannot scan %T into a timestamp", src)
	}
	return nil
}

// SQLType returns the SQLite column type used to store kind.
func SQLType(k Kind) string {
	switch k {
	case KindInt, KindShort, KindLong, KindBool, KindTime:
		return "INTEGER"
	case KindFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// ScanTargets returns scan destinations for the stored columns of row, in
// Columns order.
func (s *Schema[R]) ScanTargets(row any) ([]any, error) {
	r, err := s.cast(row)
	if err != nil {
		return nil, err
	}
	targets := make([]any, len(s.stored))
	for i, idx := range s.stored {
		p := s.fields[idx].Ptr(r)
		if tp, ok := p.(*time.Time); ok {
			targets[i] = timeColumn{p: tp}
			continue
		}
		targets[i] = p
	}
	return targets, nil
}

// Values returns the stored column values of row as SQL arguments, in
// Columns order.
func (s *Schema[R]) Values(row any) ([]any, error) {
	r, err := s.cast(row)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(s.stored))
	for i, idx := range s.stored {
		switch v := load(s.fields[idx].Ptr(r)).(type) {
		case int32:
			values[i] = int64(v)
		case int16:
			values[i] = int64(v)
		case float32:
			values[i] = float64(v)
		case bool:
			if v {
				values[i] = int64(1)
			} else {
				values[i] = int64(0)
			}
		case time.Time:
			if v.IsZero() {
				values[i] = nil
			} else {
				values[i] = v.UnixMilli()
			}
		default:
			values[i] = v
		}
	}
	return values, nil
}
