// Package protocol holds the ordered registry of wire protocol versions.
// Versions are only ever compared; a field's presence on the wire is decided
// by where the negotiated version falls relative to named milestones.
package protocol

import (
	"errors"
	"fmt"
)

// Version is the ordinal of a registered protocol version. The zero value is
// not a version; field gates use it to mean "no bound".
type Version uint16

// Registered versions, oldest first. Never reorder or remove entries: the
// ordinal order must follow release history.
const (
	_ Version = iota
	V1_0A100
	V1_0A104
	V1_0A105
	V1_0A108
	V1_0A117
	V1_0A122
	V1_0A123
	V1_0A126
	V1_0A130
	V1_30
	V1_31
	V1_46
	V1_62
	V1_63
	V1_69
	V1_80
	V1_81_0
	V1_81_6
	V1_81_22
	V1_82_0
	V1_83_0
	V1_83_2
	V1_84_0
	numVersions
)

// Oldest and Current bound the versions this build speaks.
const (
	Oldest  = V1_0A100
	Current = numVersions - 1
)

var names = [numVersions]string{
	V1_0A100: "1.0a100",
	V1_0A104: "1.0a104",
	V1_0A105: "1.0a105",
	V1_0A108: "1.0a108",
	V1_0A117: "1.0a117",
	V1_0A122: "1.0a122",
	V1_0A123: "1.0a123",
	V1_0A126: "1.0a126",
	V1_0A130: "1.0a130",
	V1_30:    "1.30",
	V1_31:    "1.31",
	V1_46:    "1.46",
	V1_62:    "1.62",
	V1_63:    "1.63",
	V1_69:    "1.69",
	V1_80:    "1.80",
	V1_81_0:  "1.81.0",
	V1_81_6:  "1.81.6",
	V1_81_22: "1.81.22",
	V1_82_0:  "1.82.0",
	V1_83_0:  "1.83.0",
	V1_83_2:  "1.83.2",
	V1_84_0:  "1.84.0",
}

// ErrUnknownVersion is returned by Parse for names outside the registry.
var ErrUnknownVersion = errors.New("unknown protocol version")

// Parse returns the version registered under name.
func Parse(name string) (Version, error) {
	for v := Oldest; v <= Current; v++ {
		if names[v] == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVersion, name)
}

// All returns every registered version, oldest first.
func All() []Version {
	all := make([]Version, 0, int(Current))
	for v := Oldest; v <= Current; v++ {
		all = append(all, v)
	}
	return all
}

// Valid reports whether v is a registered version.
func (v Version) Valid() bool {
	return v >= Oldest && v <= Current
}

func (v Version) String() string {
	if !v.Valid() {
		return fmt.Sprintf("version#%d", uint16(v))
	}
	return names[v]
}

// Compare returns -1, 0 or +1 as v is older than, equal to, or newer than o.
func (v Version) Compare(o Version) int {
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	default:
		return 0
	}
}

// AtLeast reports v >= o.
func (v Version) AtLeast(o Version) bool { return v >= o }

// AtMost reports v <= o.
func (v Version) AtMost(o Version) bool { return v <= o }

// InRange reports since <= v <= until. A zero bound is open.
func (v Version) InRange(since, until Version) bool {
	if since != 0 && v < since {
		return false
	}
	if until != 0 && v > until {
		return false
	}
	return true
}
