package codec

import "sync"

// Interner canonicalises repeated strings (package names, farms) so rows
// decoded from many responses share one copy. It has no behavioral effect.
type Interner struct {
	m sync.Map
}

// NewInterner returns an empty Interner. It is safe for concurrent use.
func NewInterner() *Interner {
	return &Interner{}
}

// Intern returns the canonical instance equal to s.
func (i *Interner) Intern(s string) string {
	if v, ok := i.m.Load(s); ok {
		return v.(string)
	}
	v, _ := i.m.LoadOrStore(s, s)
	return v.(string)
}
